package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"mailroom/internal/api"
	"mailroom/internal/conf"
	"mailroom/internal/db"
	"mailroom/internal/forward"
	"mailroom/internal/ingest"
	"mailroom/internal/logging"
	"mailroom/internal/mailbox"
	"mailroom/internal/postproc"
	"mailroom/internal/rules"
	"mailroom/internal/scheduler"
	"mailroom/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "mailroom:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := conf.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	log := logger.WithField("service", "mailroom")

	database, err := db.Open(cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.WithError(err).Warn("failed to close database")
		}
	}()

	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := database.CheckTables(startupCtx); err != nil {
		return err
	}
	log.Info("database connected")

	store, err := storage.New(cfg.Storage.AttachmentPath, log.WithField("module", "storage"))
	if err != nil {
		return err
	}

	engine := rules.New(log.WithField("module", "rules"))
	classifier := postproc.NewClassifier(log.WithField("module", "postproc"))
	registry := postproc.NewRegistry(log.WithField("module", "postproc"))

	dial := func() (ingest.Mailbox, error) {
		return mailbox.Dial(cfg.Mailbox, log.WithField("module", "mailbox"))
	}
	syncer := ingest.New(dial, database, store, engine, classifier, registry,
		log.WithField("module", "ingest"))

	forwarder := forward.New(database, store, cfg.Mailbox, log.WithField("module", "forward"))

	interval := time.Duration(cfg.Sync.MailCheckInterval) * time.Second
	sched := scheduler.New(interval, func(ctx context.Context) error {
		_, err := syncer.Run(ctx, ingest.Options{})
		return err
	}, log.WithField("module", "scheduler"))

	server := api.New(database, store, syncer, sched, forwarder, log.WithField("module", "api"))
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTP.Addr()).Info("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		sched.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
