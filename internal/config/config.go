package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"go-book-download/internal/models"
)

// Default returns the configuration used when no file or override sets a key.
func Default() models.Config {
	return models.Config{
		CatalogBaseURL:      "https://annas-archive.org",
		SupportedFormats:    []string{"epub", "mobi", "azw3", "fb2", "djvu", "cbz", "cbr"},
		BookLanguages:       []string{"en"},
		UserAgent:           "book-downloader/1.0",
		TmpDir:              "tmp",
		IngestDir:           "ingest",
		HistoryDatabasePath: "data/history.db",
		LibraryIndexPath:    "data/library.bleve",
		StatusTimeoutHours:  1,
		Workers:             1,
		PollIntervalMs:      1000,
		ListenAddr:          "127.0.0.1:3000",
		ApiClientTimeoutSec: 60,
		DownloadTimeoutSec:  900,
		RequestsPerSecond:   2,
	}
}

// LoadConfig reads the TOML file at configFilePath (defaulting to "config.toml")
// over the defaults. A missing file is not an error.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = "config.toml"
	}
	cfg := Default()
	if _, err := toml.DecodeFile(configFilePath, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warnf("Config file %s not found, using defaults", configFilePath)
			return cfg, nil
		}
		return Default(), fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}
	log.Infof("Configuration loaded from %s", configFilePath)
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are skipped; variables already set win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			log.WithError(err).Warnf("Failed to load %s", f)
			continue
		}
		log.Debugf("Loaded environment from %s", f)
	}
}

// ApplyEnv overrides cfg from environment variables.
func ApplyEnv(cfg *models.Config, lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = splitList(v)
		}
	}

	str("AA_BASE_URL", &cfg.CatalogBaseURL)
	str("TMP_DIR", &cfg.TmpDir)
	str("INGEST_DIR", &cfg.IngestDir)
	str("LISTEN_ADDR", &cfg.ListenAddr)
	list("SUPPORTED_FORMATS", &cfg.SupportedFormats)
	list("BOOK_LANGUAGE", &cfg.BookLanguages)
	list("CORS_ORIGINS", &cfg.CorsOrigins)

	if v, ok := lookup("STATUS_TIMEOUT"); ok && v != "" {
		hours, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		switch {
		case err != nil:
			log.WithError(err).Warnf("Ignoring invalid STATUS_TIMEOUT %q", v)
		case math.IsNaN(hours) || math.IsInf(hours, 0):
			log.Warnf("Ignoring non-finite STATUS_TIMEOUT %q", v)
		default:
			cfg.StatusTimeoutHours = hours
		}
	}
}

// Validate checks the final configuration.
func Validate(cfg models.Config) error {
	if math.IsNaN(cfg.StatusTimeoutHours) || math.IsInf(cfg.StatusTimeoutHours, 0) {
		return fmt.Errorf("invalid configuration: StatusTimeoutHours must be finite, got %v", cfg.StatusTimeoutHours)
	}
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// StatusTimeout converts the configured hours into a duration. Values beyond
// the range of time.Duration saturate at the maximum duration.
func StatusTimeout(cfg models.Config) time.Duration {
	h := cfg.StatusTimeoutHours
	if math.IsNaN(h) || h <= 0 {
		return 0
	}
	d := h * float64(time.Hour)
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// PollInterval returns the worker polling interval.
func PollInterval(cfg models.Config) time.Duration {
	return time.Duration(cfg.PollIntervalMs) * time.Millisecond
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
