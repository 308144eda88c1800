package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-book-download/index"
	"go-book-download/internal/config"
	"go-book-download/internal/database"
	"go-book-download/internal/downloader"
	"go-book-download/internal/helpers"
	"go-book-download/internal/ingest"
	"go-book-download/internal/queue"
	"go-book-download/internal/server"
	"go-book-download/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the download workers",
	Long: `Starts the HTTP API (/api and /request/api), the websocket status feed
and the download workers that move queued books into the ingest directory.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (overrides config)")
	serveCmd.Flags().Int("workers", 0, "Number of concurrent download workers (overrides config)")
	serveCmd.Flags().Duration("poll-interval", 0, "How often idle workers poll the queue (overrides config)")
	serveCmd.Flags().Bool("no-history", false, "Do not record outcomes in the history database")
	serveCmd.Flags().Bool("no-library", false, "Do not index acquired books")

	viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("serve.workers", serveCmd.Flags().Lookup("workers"))
	viper.BindPFlag("serve.poll_interval", serveCmd.Flags().Lookup("poll-interval"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := globalConfig

	addr := cfg.ListenAddr
	if v := viper.GetString("serve.addr"); v != "" {
		addr = v
	}
	workers := cfg.Workers
	if v := viper.GetInt("serve.workers"); v > 0 {
		workers = v
	}
	pollInterval := config.PollInterval(cfg)
	if v := viper.GetDuration("serve.poll_interval"); v > 0 {
		pollInterval = v
	}

	for _, dir := range []string{cfg.TmpDir, cfg.IngestDir} {
		if !helpers.CheckAndMakeDir(dir) {
			return errors.New("cannot create directory " + dir)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher := ingest.NewWatcher(cfg.IngestDir)
	jobs := queue.New(config.StatusTimeout(cfg), watcher)
	fetcher := downloader.NewDownloader(newDownloadHTTPClient(), cfg.TmpDir, cfg.CatalogBaseURL, cfg.UserAgent)

	hub := server.NewHub()
	go hub.Run(ctx)

	opts := service.Options{
		Catalog:         newCatalogClient(),
		Queue:           jobs,
		Fetcher:         fetcher,
		Ingest:          watcher,
		Notifier:        hub,
		Workers:         workers,
		PollInterval:    pollInterval,
		DownloadTimeout: time.Duration(cfg.DownloadTimeoutSec) * time.Second,
	}

	if noHistory, _ := cmd.Flags().GetBool("no-history"); !noHistory && cfg.HistoryDatabasePath != "" {
		db, err := database.Open(cfg.HistoryDatabasePath)
		if err != nil {
			return err
		}
		defer db.Close()
		opts.History = db
	}
	if noLibrary, _ := cmd.Flags().GetBool("no-library"); !noLibrary && cfg.LibraryIndexPath != "" {
		lib, err := index.OpenLibrary(cfg.LibraryIndexPath)
		if err != nil {
			return err
		}
		defer lib.Close()
		opts.Library = lib
	}

	svc := service.New(opts)
	workersDone := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(workersDone)
	}()

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.NewRouter(svc, hub, cfg.CorsOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("Book downloader listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown requested")
	case runErr = <-serveErr:
		log.WithError(runErr).Error("HTTP server failed")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	<-workersDone
	return runErr
}
