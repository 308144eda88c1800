package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-book-download/internal/api"
	"go-book-download/internal/config"
	"go-book-download/internal/models"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// logApiFlag holds the value of the --log-api flag
var logApiFlag bool

// tmpDirFlag and ingestDirFlag override the staging and ingest directories
var tmpDirFlag, ingestDirFlag string

// baseURLFlag overrides the catalog base URL
var baseURLFlag string

// apiTimeoutFlag holds the value of the --api-timeout flag
var apiTimeoutFlag int

var logLevel string
var logFormat string

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport is the base transport, wrapped for logging when --log-api is set
var globalHttpTransport http.RoundTripper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "book-downloader",
	Short: "Search a book catalog and feed downloads into an ingest directory",
	Long: `Book Downloader searches an online book catalog, queues titles for download,
tries each mirror in turn and publishes finished files into an ingest
directory watched by a library manager.`,
	PersistentPreRunE: loadGlobalConfig,
	SilenceUsage:      true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	defer func() {
		if loggingTransport, ok := globalHttpTransport.(*api.LoggingTransport); ok && loggingTransport != nil {
			log.Debug("Closing API logging transport file.")
			if err := loggingTransport.Close(); err != nil {
				log.WithError(err).Error("Error closing API log file")
			}
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log catalog requests/responses to api.log (overrides config)")
	rootCmd.PersistentFlags().StringVar(&tmpDirFlag, "tmp-dir", "", "Staging directory for partial downloads (overrides config)")
	rootCmd.PersistentFlags().StringVar(&ingestDirFlag, "ingest-dir", "", "Directory finished books are published to (overrides config)")
	rootCmd.PersistentFlags().StringVar(&baseURLFlag, "base-url", "", "Catalog base URL (overrides config)")
	rootCmd.PersistentFlags().IntVar(&apiTimeoutFlag, "api-timeout", -1, "Timeout for catalog HTTP requests in seconds (overrides config, -1 uses config default)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Logging format (text, json)")

	cobra.OnInitialize(initLogging)
}

// initLogging configures logrus based on persistent flags
func initLogging() {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.WithError(err).Warnf("Invalid log level '%s', using default 'info'", logLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	switch logFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		log.Warnf("Invalid log format '%s', using default 'text'", logFormat)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.Debugf("Logging configured: Level=%s, Format=%s", log.GetLevel(), logFormat)
}

// loadGlobalConfig layers the config file, .env, environment and flags, validates
// the result and sets up the global HTTP transport.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}

	config.LoadDotEnv()
	config.ApplyEnv(&globalConfig, os.LookupEnv)
	applyFlagOverrides(cmd, &globalConfig)

	if err := config.Validate(globalConfig); err != nil {
		return err
	}

	globalHttpTransport = http.DefaultTransport
	if globalConfig.LogApiRequests {
		logFilePath := "api.log"
		if info, statErr := os.Stat(globalConfig.TmpDir); statErr == nil && info.IsDir() {
			logFilePath = filepath.Join(globalConfig.TmpDir, logFilePath)
		}
		log.Infof("API logging to file: %s", logFilePath)

		loggingTransport, err := api.NewLoggingTransport(http.DefaultTransport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			globalHttpTransport = loggingTransport
		}
	}
	return nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *models.Config) {
	flags := cmd.Flags()
	if flags.Changed("log-api") {
		cfg.LogApiRequests = logApiFlag
		log.Debugf("Overriding LogApiRequests based on --log-api flag: %t", logApiFlag)
	}
	if flags.Changed("tmp-dir") && tmpDirFlag != "" {
		cfg.TmpDir = tmpDirFlag
	}
	if flags.Changed("ingest-dir") && ingestDirFlag != "" {
		cfg.IngestDir = ingestDirFlag
	}
	if flags.Changed("base-url") && baseURLFlag != "" {
		cfg.CatalogBaseURL = baseURLFlag
	}
	if flags.Changed("api-timeout") {
		if apiTimeoutFlag > 0 {
			cfg.ApiClientTimeoutSec = apiTimeoutFlag
			log.Debugf("Overriding ApiClientTimeoutSec based on --api-timeout flag: %d sec", apiTimeoutFlag)
		} else {
			log.Warnf("--api-timeout flag provided with invalid value %d, using config value: %d sec", apiTimeoutFlag, cfg.ApiClientTimeoutSec)
		}
	}
}

// newCatalogClient builds the catalog client over the global transport.
func newCatalogClient() *api.Client {
	httpClient := &http.Client{
		Transport: globalHttpTransport,
		Timeout:   time.Duration(globalConfig.ApiClientTimeoutSec) * time.Second,
	}
	return api.NewClient(httpClient, globalConfig)
}

// newDownloadHTTPClient has no overall timeout; downloads are bounded by context.
func newDownloadHTTPClient() *http.Client {
	return &http.Client{Transport: globalHttpTransport}
}
