package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/marginote/marginote/internal/config"
	"github.com/marginote/marginote/internal/digest"
	"github.com/marginote/marginote/internal/email"
	"github.com/marginote/marginote/internal/importer"
	"github.com/marginote/marginote/internal/jobs"
	"github.com/marginote/marginote/internal/logger"
	"github.com/marginote/marginote/internal/srs"
	"github.com/marginote/marginote/internal/storage"
	"github.com/marginote/marginote/internal/study"
	"github.com/marginote/marginote/internal/web"
)

func main() {
	flags := pflag.NewFlagSet("marginote", pflag.ExitOnError)
	configPath := flags.String("config", "marginote.yaml", "path to the YAML config file")
	defaults := config.Default()
	flags.String("server.addr", defaults.Server.Addr, "listen address")
	flags.String("database.path", defaults.Database.Path, "path to the SQLite database file")
	addSource := flags.String("add-source", "", "register a highlight source (local path or git URL) and exit")
	sourceUser := flags.String("user", "", "owner email for --add-source")
	syncOnce := flags.Bool("sync-once", false, "import all sources once and exit")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marginote: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marginote: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal("failed to open database", "path", cfg.Database.Path, "error", err)
	}
	defer db.Close()
	log.Info("database opened", "path", cfg.Database.Path)

	syncer := importer.NewSyncer(db, log, cfg.Import.ReposDir)

	if *addSource != "" {
		if err := registerSource(db, *addSource, *sourceUser); err != nil {
			log.Fatal("failed to add source", "path", *addSource, "error", err)
		}
		log.Info("source registered", "path", *addSource)
		return
	}
	if *syncOnce {
		if err := syncer.RunAll(time.Now().UTC()); err != nil {
			log.Fatal("import failed", "error", err)
		}
		return
	}

	scheduler, err := srs.NewScheduler(srs.DefaultParams())
	if err != nil {
		log.Fatal("failed to build scheduler", "error", err)
	}
	studySvc := study.NewService(db, scheduler, log)

	mailer := email.NewDigestMailer(db, log)
	digests := digest.NewRunner(db, mailer, log, cfg.Digest.TickInterval)

	worker := jobs.NewWorker(db, log, cfg.Jobs.PollInterval)
	worker.Register(email.JobKindDigestEmail, email.DeliveryHandler(email.NewLogSender(log)))

	server := web.NewServer(db, studySvc, digests, syncer, log, cfg.Server.Mode)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	digests.Start()
	worker.Start()

	go func() {
		log.Info("listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	digests.Stop()
	worker.Stop()
}

// registerSource records a source for the given user, inferring local vs git
// from the path's shape.
func registerSource(db *storage.DB, path, ownerEmail string) error {
	if ownerEmail == "" {
		return errors.New("--user is required with --add-source")
	}
	user, err := db.UpsertUser(ownerEmail)
	if err != nil {
		return err
	}

	sourceType := "local"
	if strings.HasSuffix(path, ".git") || strings.HasPrefix(path, "git@") ||
		strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://") {
		sourceType = "git"
	}

	existing, err := db.FindSourceByPath(path)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("source already registered: %s", path)
	}
	_, err = db.InsertSource(user.ID, path, sourceType)
	return err
}
