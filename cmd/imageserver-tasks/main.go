// Command imageserver-tasks runs the background worker pool (C10) that
// drains the durable task queue: pyramid builds, folder moves, folder
// purges, PDF bursts and periodic temp-file cleanup (§4.6).
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

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

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	log := logging.New("imageserver-tasks", cfg.LogLevel, os.Stdout)
	if err != nil {
		log.WithError(err).Fatal("config")
	}

	mutex, err := tasks.AcquireProcessMutex(cfg.TaskMutexAddr)
	if err != nil {
		log.WithError(err).Fatal("another task worker instance already holds the mutex")
	}
	defer mutex.Release()

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

	iccReg, err := icc.Load(cfg.ICCDir)
	if err != nil {
		log.WithError(err).Fatal("icc profiles")
	}

	perms, err := permissions.New(st, derivCache, cfg.PermPublicCacheSize)
	if err != nil {
		log.WithError(err).Fatal("permissions")
	}

	statsSink := stats.New(prometheus.DefaultRegisterer, st, log)

	var codecAdapter codec.Adapter
	if cfg.CodecBackend == "stdimage" {
		codecAdapter = stdimage.New()
	} else {
		codecAdapter = vips.New()
	}

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
	}, codecAdapter, derivCache, blobs, nil, iccReg, perms, statsSink, st, queue, log)

	pool := tasks.NewPool(st, cfg.TaskWorkers, log)
	registerHandlers(pool, mgr, blobs, st, codecAdapter)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sig
		log.Info("shutting down")
		cancel()
	}()

	log.WithField("workers", cfg.TaskWorkers).Info("task worker pool starting")
	if err := pool.Run(ctx); err != nil {
		log.WithError(err).Fatal("pool")
	}
}

func registerHandlers(pool *tasks.Pool, mgr *imagemanager.Manager, blobs *blobstore.Store, st *store.Store, codecAdapter codec.Adapter) {
	pool.Register(tasks.FuncBuildPyramid, func(ctx context.Context, paramsJSON string) (any, error) {
		var p tasks.BuildPyramidParams
		if err := json.Unmarshal([]byte(paramsJSON), &p); err != nil {
			return nil, &tasks.Failure{Kind: "bad_params", Message: err.Error()}
		}
		if err := mgr.BuildPyramid(ctx, p.SourceID, p.Source, p.Format); err != nil {
			return nil, &tasks.Failure{Kind: "pyramid_failed", Message: err.Error()}
		}
		return map[string]bool{"ok": true}, nil
	})

	pool.Register(tasks.FuncMoveFolder, func(ctx context.Context, paramsJSON string) (any, error) {
		var p tasks.MoveFolderParams
		if err := json.Unmarshal([]byte(paramsJSON), &p); err != nil {
			return nil, &tasks.Failure{Kind: "bad_params", Message: err.Error()}
		}
		if err := blobs.Rename(p.From, p.To); err != nil {
			return nil, &tasks.Failure{Kind: "move_failed", Message: err.Error()}
		}
		if err := st.RenameFolder(ctx, p.FolderID, p.To); err != nil {
			return nil, &tasks.Failure{Kind: "move_failed", Message: err.Error()}
		}
		return map[string]bool{"ok": true}, nil
	})

	pool.Register(tasks.FuncPurgeDeletedFolder, func(ctx context.Context, paramsJSON string) (any, error) {
		var p tasks.PurgeDeletedFolderParams
		if err := json.Unmarshal([]byte(paramsJSON), &p); err != nil {
			return nil, &tasks.Failure{Kind: "bad_params", Message: err.Error()}
		}
		folder, err := st.GetFolder(ctx, p.FolderID)
		if err != nil {
			return nil, &tasks.Failure{Kind: "purge_failed", Message: err.Error()}
		}
		images, err := st.ImagesInFolder(ctx, p.FolderID)
		if err != nil {
			return nil, &tasks.Failure{Kind: "purge_failed", Message: err.Error()}
		}
		for _, img := range images {
			if err := blobs.Delete(img.Src); err != nil && !os.IsNotExist(err) {
				return nil, &tasks.Failure{Kind: "purge_failed", Message: err.Error()}
			}
		}
		if err := blobs.Delete(folder.Path); err != nil && !os.IsNotExist(err) {
			return nil, &tasks.Failure{Kind: "purge_failed", Message: err.Error()}
		}
		if err := st.PurgeFolder(ctx, p.FolderID); err != nil {
			return nil, &tasks.Failure{Kind: "purge_failed", Message: err.Error()}
		}
		return map[string]bool{"ok": true}, nil
	})

	pool.Register(tasks.FuncDeleteTempFiles, func(ctx context.Context, _ string) (any, error) {
		const tmpDir = "_tmp"
		names, err := blobs.List(tmpDir)
		if err != nil {
			if os.IsNotExist(err) {
				return map[string]int{"deleted": 0}, nil
			}
			return nil, &tasks.Failure{Kind: "list_failed", Message: err.Error()}
		}
		deleted := 0
		for _, name := range names {
			p := tmpDir + "/" + name
			fi, err := blobs.StatPath(p)
			if err != nil || fi.IsDir {
				continue
			}
			if time.Since(fi.Modified) < 24*time.Hour {
				continue
			}
			if err := blobs.Delete(p); err == nil {
				deleted++
			}
		}
		return map[string]int{"deleted": deleted}, nil
	})

	pool.Register(tasks.FuncBurstPDF, func(ctx context.Context, paramsJSON string) (any, error) {
		var p tasks.BurstPDFParams
		if err := json.Unmarshal([]byte(paramsJSON), &p); err != nil {
			return nil, &tasks.Failure{Kind: "bad_params", Message: err.Error()}
		}
		raw, err := blobs.Read(p.Source)
		if err != nil {
			return nil, &tasks.Failure{Kind: "burst_failed", Message: err.Error()}
		}
		ok, err := codecAdapter.BurstPDF(ctx, raw, p.DestDir, p.DPI)
		if err != nil {
			return nil, &tasks.Failure{Kind: "burst_failed", Message: err.Error()}
		}
		if !ok {
			return nil, &tasks.Failure{Kind: "unsupported", Message: "active codec backend cannot burst PDFs"}
		}
		return map[string]bool{"ok": true}, nil
	})
}
