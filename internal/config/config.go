// Package config loads process configuration from the environment,
// following the teacher's flat env()-default idiom, extended with
// joho/godotenv so a local .env file can seed development environments
// the way the teacher's own deployment scripts expect.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr    string
	BaseURL string

	DatabasePath string
	BlobStoreDir string
	TemplatesDir string
	ICCDir       string

	CacheMaxSlotSize int
	CacheMaxSlots    int

	TaskMutexAddr  string
	TaskWorkers    int
	WaitBudgetMin  time.Duration
	WaitBudgetMax  time.Duration

	DefaultFormat      string
	DefaultColorspace  string
	DefaultStripMeta   bool
	DefaultDPI         int

	PyramidMinBytes  int64
	PyramidMinPixels int64

	PermPublicCacheSize int

	LogLevel string

	// CodecBackend selects the imaging adapter: "vips" (default, full
	// operation set) or "stdimage" (pure Go fallback for builds that
	// cannot link libvips).
	CodecBackend string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:    env("IMS_ADDR", ":8080"),
		BaseURL: strings.TrimRight(env("IMS_BASE_URL", ""), "/"),

		DatabasePath: env("IMS_DB_PATH", "data/imageserver.sqlite"),
		BlobStoreDir: env("IMS_BLOB_DIR", "data/images"),
		TemplatesDir: env("IMS_TEMPLATES_DIR", "data/templates"),
		ICCDir:       env("IMS_ICC_DIR", "data/icc"),

		CacheMaxSlotSize: envInt("IMS_CACHE_MAX_SLOT_SIZE", 32*1024*1024),
		CacheMaxSlots:    envInt("IMS_CACHE_MAX_SLOTS", 10000),

		TaskMutexAddr: env("IMS_TASK_MUTEX_ADDR", "127.0.0.1:44490"),
		TaskWorkers:   envInt("IMS_TASK_WORKERS", 4),
		WaitBudgetMin: envDuration("IMS_WAIT_BUDGET_MIN", 10*time.Second),
		WaitBudgetMax: envDuration("IMS_WAIT_BUDGET_MAX", 120*time.Second),

		DefaultFormat:     env("IMS_DEFAULT_FORMAT", "jpg"),
		DefaultColorspace: env("IMS_DEFAULT_COLORSPACE", "srgb"),
		DefaultStripMeta:  envBool("IMS_DEFAULT_STRIP_META", true),
		DefaultDPI:        envInt("IMS_DEFAULT_DPI", 72),

		PyramidMinBytes:  envInt64("IMS_PYRAMID_MIN_BYTES", 2*1024*1024),
		PyramidMinPixels: envInt64("IMS_PYRAMID_MIN_PIXELS", 4_000_000),

		PermPublicCacheSize: envInt("IMS_PERM_CACHE_SIZE", 4096),

		LogLevel: env("IMS_LOG_LEVEL", "info"),

		CodecBackend: env("IMS_CODEC_BACKEND", "vips"),
	}

	if cfg.BaseURL == "" {
		return Config{}, errors.New("missing IMS_BASE_URL (public base url of this server)")
	}
	if cfg.WaitBudgetMax < cfg.WaitBudgetMin {
		return Config{}, errors.New("IMS_WAIT_BUDGET_MAX must be >= IMS_WAIT_BUDGET_MIN")
	}
	return cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
