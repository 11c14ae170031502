// Command bhdird is bhdir's daemon: it loads the INI config of spec.md §6,
// wires Filer → Index → Cacher → State → Journal → Directory → Watcher →
// synclog.Tailer → Daemon in dependency order, and serves the control
// socket until an interrupt/terminate signal arrives. Grounded on
// petomalina-pot/cmd/pot/main.go's flag-parse-then-signal.NotifyContext
// shutdown shape.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bhdir/bhdir/internal/cacher"
	"github.com/bhdir/bhdir/internal/config"
	"github.com/bhdir/bhdir/internal/daemon"
	"github.com/bhdir/bhdir/internal/directory"
	"github.com/bhdir/bhdir/internal/filer"
	"github.com/bhdir/bhdir/internal/index"
	"github.com/bhdir/bhdir/internal/metrics"
	"github.com/bhdir/bhdir/internal/state"
	"github.com/bhdir/bhdir/internal/synclog"
	"github.com/bhdir/bhdir/internal/watcher"
)

var configFlag = flag.String("config", "/etc/bhdir/bhdir.ini", "path to bhdir's INI config file")
var syncLogFlag = flag.String("sync-log", "", "path to the file-synchronization engine's log, for cache invalidation on remote writes")

func main() {
	flag.Parse()

	log := slog.Default()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Error("failed to load config", "error", err.Error())
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("bhdird exited with error", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	dirMode, err := config.ParseMode(cfg.Directory.DirMode)
	if err != nil {
		return err
	}
	fileMode, err := config.ParseMode(cfg.Directory.FileMode)
	if err != nil {
		return err
	}

	m, err := metrics.New()
	if err != nil {
		return err
	}
	defer m.Shutdown(ctx)

	f := filer.New(log, m)

	dataDir := filepath.Join(cfg.Directory.Root, "data")

	idx := index.New(dataDir, f, log, m)
	if err := idx.Load(); err != nil {
		log.Info("index not loaded, rebuilding from data directory", "error", err.Error())
		if err := idx.Build(ctx); err != nil {
			log.Error("index build failed, starting with an empty index", "error", err.Error())
		}
	}
	idx.StartSaveTimer()
	defer idx.Stop()

	var cache *cacher.Cacher
	if cfg.Cache.Redis != "" {
		backend, err := cacher.NewRedisBackend(cfg.Cache.Redis)
		if err != nil {
			return err
		}
		cache = cacher.New(backend)
	} else {
		cache = cacher.New(nil)
	}

	st := state.New(f, filepath.Join(cfg.Directory.Root, ".state"), log)
	if err := st.Start(ctx); err != nil {
		return err
	}
	defer st.Stop()

	dirUID, dirGID, err := config.ResolveOwner(cfg.Directory.User, cfg.Directory.Group)
	if err != nil {
		return err
	}

	dirCfg := directory.Config{
		Root:     cfg.Directory.Root,
		DirMode:  dirMode,
		FileMode: fileMode,
		UID:      dirUID,
		GID:      dirGID,
	}

	journal := watcher.NewJournal(f, filepath.Join(dataDir, watcher.UpdatesDirName))

	dir := directory.New(dirCfg, f, cache, idx, st.SessionID(), journal, log, m)

	w := watcher.New(f, dir, cache, dataDir, log, m)
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	if *syncLogFlag != "" {
		tailer := synclog.New(*syncLogFlag, dataDir, dir, log)
		if err := tailer.Start(ctx); err != nil {
			return err
		}
		defer tailer.Stop()
	}

	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "error", err.Error())
			}
		}()
		defer srv.Shutdown(ctx)
	}

	socketMode, err := config.ParseMode(cfg.Socket.Mode)
	if err != nil {
		return err
	}
	socketUID, socketGID, err := config.ResolveOwner(cfg.Socket.User, cfg.Socket.Group)
	if err != nil {
		return err
	}
	d := daemon.New(daemon.Config{Path: cfg.Socket.Path, Mode: socketMode, UID: socketUID, GID: socketGID}, dir, log)
	if err := d.Start(); err != nil {
		return err
	}
	defer d.Stop()

	log.Info("bhdird ready", "socket", cfg.Socket.Path, "root", cfg.Directory.Root, "session", st.SessionID())
	<-ctx.Done()
	log.Info("bhdird shutting down")
	return nil
}
