package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quru/imageserver/internal/api"
	"github.com/quru/imageserver/internal/blobstore"
	"github.com/quru/imageserver/internal/cache"
	"github.com/quru/imageserver/internal/codec"
	"github.com/quru/imageserver/internal/codec/stdimage"
	"github.com/quru/imageserver/internal/codec/vips"
	"github.com/quru/imageserver/internal/config"
	"github.com/quru/imageserver/internal/icc"
	"github.com/quru/imageserver/internal/imagemanager"
	"github.com/quru/imageserver/internal/imagespec"
	"github.com/quru/imageserver/internal/logging"
	"github.com/quru/imageserver/internal/permissions"
	"github.com/quru/imageserver/internal/stats"
	"github.com/quru/imageserver/internal/store"
	"github.com/quru/imageserver/internal/tasks"
	"github.com/quru/imageserver/internal/templates"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	log := logging.New("imageserver", cfg.LogLevel, os.Stdout)
	if err != nil {
		log.WithError(err).Fatal("config")
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("db")
	}
	defer st.Close()

	blobs, err := blobstore.New(cfg.BlobStoreDir)
	if err != nil {
		log.WithError(err).Fatal("blobstore")
	}

	derivCache := cache.New(cache.Config{MaxSlotSize: cfg.CacheMaxSlotSize, MaxSlots: cfg.CacheMaxSlots})

	tpls, err := templates.New(cfg.TemplatesDir, log)
	if err != nil {
		log.WithError(err).Fatal("templates")
	}
	stop := make(chan struct{})
	go tpls.Watch(stop)
	defer close(stop)

	iccReg, err := icc.Load(cfg.ICCDir)
	if err != nil {
		log.WithError(err).Fatal("icc profiles")
	}

	perms, err := permissions.New(st, derivCache, cfg.PermPublicCacheSize)
	if err != nil {
		log.WithError(err).Fatal("permissions")
	}

	statsSink := stats.New(prometheus.DefaultRegisterer, st, log)

	codecAdapter := selectCodec(cfg.CodecBackend)

	queue := tasks.NewQueue(st)

	mgr := imagemanager.New(imagemanager.Config{
		Defaults: imagespec.Defaults{
			Format:        cfg.DefaultFormat,
			Colorspace:    cfg.DefaultColorspace,
			StripMetadata: cfg.DefaultStripMeta,
			DPI:           cfg.DefaultDPI,
		},
		WaitBudget:           cfg.WaitBudgetMax,
		MaxBaseCandidates:    8,
		PyramidMinPixels:     cfg.PyramidMinPixels,
		DefaultExpirySeconds: 3600,
	}, codecAdapter, derivCache, blobs, tpls, iccReg, perms, statsSink, st, queue, log)

	housekeeper := tasks.NewHousekeeper(queue, log)
	if err := housekeeper.Start("0 3 * * *"); err != nil {
		log.WithError(err).Warn("housekeeping: scheduling failed")
	}
	defer housekeeper.Stop()

	srv := api.New(cfg, mgr, blobs, perms, st, queue, log)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server")
		}
	}()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	<-sig
	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
}

// selectCodec honors IMS_CODEC_BACKEND: "vips" (default, full operation
// set, §2 C1's high-capability backend) or "stdimage" (pure Go
// fallback, §4.7's capability-discovery downgrade path for builds that
// cannot link libvips).
func selectCodec(backend string) codec.Adapter {
	if backend == "stdimage" {
		return stdimage.New()
	}
	return vips.New()
}
