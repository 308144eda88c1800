package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-book-download/internal/models"
	"go-book-download/internal/queue"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, Validate(cfg))
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
CatalogBaseURL = "https://mirror.example"
SupportedFormats = ["epub"]
IngestDir = "/books/ingest"
StatusTimeoutHours = 0.5
Workers = 3
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example", cfg.CatalogBaseURL)
	assert.Equal(t, []string{"epub"}, cfg.SupportedFormats)
	assert.Equal(t, "/books/ingest", cfg.IngestDir)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 30*time.Minute, StatusTimeout(cfg))
	// Keys absent from the file keep their defaults.
	assert.Equal(t, Default().TmpDir, cfg.TmpDir)
}

func TestLoadConfigBadToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("Workers = ["), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"AA_BASE_URL":       "https://env.example",
		"SUPPORTED_FORMATS": "epub, pdf ,,",
		"BOOK_LANGUAGE":     "en,de",
		"STATUS_TIMEOUT":    "2",
		"INGEST_DIR":        "/cwa-book-ingest",
		"TMP_DIR":           "   ",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	ApplyEnv(&cfg, lookup)
	assert.Equal(t, "https://env.example", cfg.CatalogBaseURL)
	assert.Equal(t, []string{"epub", "pdf"}, cfg.SupportedFormats)
	assert.Equal(t, []string{"en", "de"}, cfg.BookLanguages)
	assert.Equal(t, 2*time.Hour, StatusTimeout(cfg))
	assert.Equal(t, "/cwa-book-ingest", cfg.IngestDir)
	assert.Equal(t, Default().TmpDir, cfg.TmpDir, "blank values are ignored")

	env["STATUS_TIMEOUT"] = "soon"
	ApplyEnv(&cfg, lookup)
	assert.Equal(t, 2.0, cfg.StatusTimeoutHours)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BOOKDL_TEST_DOTENV=from-file\n"), 0644))
	t.Setenv("BOOKDL_TEST_DOTENV", "")
	os.Unsetenv("BOOKDL_TEST_DOTENV")

	LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, "from-file", os.Getenv("BOOKDL_TEST_DOTENV"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *models.Config)
		wantErr bool
	}{
		{"defaults", func(c *models.Config) {}, false},
		{"bad url", func(c *models.Config) { c.CatalogBaseURL = "not a url" }, true},
		{"no formats", func(c *models.Config) { c.SupportedFormats = nil }, true},
		{"no ingest dir", func(c *models.Config) { c.IngestDir = "" }, true},
		{"negative ttl", func(c *models.Config) { c.StatusTimeoutHours = -1 }, true},
		{"zero ttl", func(c *models.Config) { c.StatusTimeoutHours = 0 }, false},
		{"infinite ttl", func(c *models.Config) { c.StatusTimeoutHours = math.Inf(1) }, true},
		{"nan ttl", func(c *models.Config) { c.StatusTimeoutHours = math.NaN() }, true},
		{"huge ttl", func(c *models.Config) { c.StatusTimeoutHours = 3000000 }, false},
		{"zero workers", func(c *models.Config) { c.Workers = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStatusTimeoutSaturates(t *testing.T) {
	tests := []struct {
		hours float64
		want  time.Duration
	}{
		{0, 0},
		{-3, 0},
		{1.5, 90 * time.Minute},
		{3000000, time.Duration(math.MaxInt64)},
		{math.MaxFloat64, time.Duration(math.MaxInt64)},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.StatusTimeoutHours = tt.hours
		assert.Equal(t, tt.want, StatusTimeout(cfg), "hours=%v", tt.hours)
	}
}

func TestApplyEnvIgnoresNonFiniteTimeout(t *testing.T) {
	for _, v := range []string{"Inf", "+Inf", "-inf", "NaN"} {
		cfg := Default()
		ApplyEnv(&cfg, func(k string) (string, bool) {
			if k == "STATUS_TIMEOUT" {
				return v, true
			}
			return "", false
		})
		assert.Equal(t, Default().StatusTimeoutHours, cfg.StatusTimeoutHours, "STATUS_TIMEOUT=%s", v)
		assert.NoError(t, Validate(cfg))
	}
}

func TestLongStatusTimeoutKeepsDoneJobs(t *testing.T) {
	cfg := Default()
	ApplyEnv(&cfg, func(k string) (string, bool) {
		if k == "STATUS_TIMEOUT" {
			return "3000000", true
		}
		return "", false
	})
	require.NoError(t, Validate(cfg))
	require.Positive(t, StatusTimeout(cfg))

	q := queue.New(StatusTimeout(cfg), nil)
	q.Add("abc", models.Record{ID: "abc", Title: "Dune"})
	require.True(t, q.UpdateStatus("abc", models.StatusDone))
	q.Refresh()
	assert.Equal(t, 1, q.Len())
}
