package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config holds all configuration for autodoc
type Config struct {
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Server    ServerConfig    `mapstructure:"server"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	Translate TranslateConfig `mapstructure:"translate"`
	Explain   ExplainConfig   `mapstructure:"explain"`
	Assist    AssistConfig    `mapstructure:"assist"`
	Watcher   WatcherConfig   `mapstructure:"watcher"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Security  SecurityConfig  `mapstructure:"security"`
	Log       LogConfig       `mapstructure:"log"`
}

// ArchiveConfig holds the archive tree and its stores
type ArchiveConfig struct {
	Root               string `mapstructure:"root"`
	InboxDir           string `mapstructure:"inbox_dir"`
	OriginalsDir       string `mapstructure:"originals_dir"`
	IndexFile          string `mapstructure:"index_file"`
	InstitutionsFile   string `mapstructure:"institutions_file"`
	InstitutionBackend string `mapstructure:"institution_backend"`
	BadgerDir          string `mapstructure:"badger_dir"`
	YearFromContent    bool   `mapstructure:"year_from_content"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	BodyLimitMB  int    `mapstructure:"body_limit_mb"`
	StaticDir    string `mapstructure:"static_dir"`
}

// OCRConfig holds the external text recognition tools
type OCRConfig struct {
	TesseractPath string `mapstructure:"tesseract_path"`
	PdftoppmPath  string `mapstructure:"pdftoppm_path"`
	PdftotextPath string `mapstructure:"pdftotext_path"`
	Languages     string `mapstructure:"languages"`
	DPI           int    `mapstructure:"dpi"`
	Timeout       int    `mapstructure:"timeout"`
}

// TranslateConfig holds translation service settings
type TranslateConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Timeout int    `mapstructure:"timeout"`
}

// ExplainConfig holds plain-language explanation service settings
type ExplainConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	Timeout int    `mapstructure:"timeout"`
}

// AssistConfig guards calls to external text services
type AssistConfig struct {
	RatePerMinute   int `mapstructure:"rate_per_minute"`
	Burst           int `mapstructure:"burst"`
	BreakerFailures int `mapstructure:"breaker_failures"`
	BreakerTimeout  int `mapstructure:"breaker_timeout"`
}

// WatcherConfig holds inbox watching settings
type WatcherConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	SettleDelay int  `mapstructure:"settle_delay_ms"`
}

// SchedulerConfig holds periodic job settings
type SchedulerConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	SweepSpec   string `mapstructure:"sweep_spec"`
	ReindexSpec string `mapstructure:"reindex_spec"`
	PruneSpec   string `mapstructure:"prune_spec"`

	// HistoryRetentionDays is how long run history is kept; 0 keeps it forever.
	HistoryRetentionDays int `mapstructure:"history_retention_days"`
}

// PipelineConfig holds archival pipeline settings
type PipelineConfig struct {
	Workers int `mapstructure:"workers"`
	Timeout int `mapstructure:"timeout"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir     string `mapstructure:"data_dir"`
	HistoryPath string `mapstructure:"history_path"`
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	JWTSecret     string   `mapstructure:"jwt_secret"`
	AdminPassword string   `mapstructure:"admin_password"`
	AllowOrigins  []string `mapstructure:"allow_origins"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}

	v.SetDefault("storage.data_dir", dataDir)
	v.SetDefault("storage.history_path", filepath.Join(dataDir, "history.db"))
	v.SetDefault("archive.institutions_file", filepath.Join(dataDir, "institutions.json"))
	v.SetDefault("archive.badger_dir", filepath.Join(dataDir, "institutions"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "autodoc.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Environment variables (AUTODOC_ARCHIVE_ROOT, AUTODOC_SERVER_PORT, etc.)
	v.SetEnvPrefix("AUTODOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Archive.Root = expandPath(cfg.Archive.Root)
	cfg.Archive.InboxDir = expandPath(cfg.Archive.InboxDir)
	cfg.Archive.OriginalsDir = expandPath(cfg.Archive.OriginalsDir)
	cfg.Archive.IndexFile = expandPath(cfg.Archive.IndexFile)

	// Paths under the archive root depend on the final root value.
	if cfg.Archive.InboxDir == "" {
		cfg.Archive.InboxDir = filepath.Join(cfg.Archive.Root, "ScansInbox")
	}
	if cfg.Archive.OriginalsDir == "" {
		cfg.Archive.OriginalsDir = filepath.Join(cfg.Archive.Root, "Originals")
	}
	if cfg.Archive.IndexFile == "" {
		cfg.Archive.IndexFile = filepath.Join(cfg.Archive.Root, "index.csv")
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("archive.root", getDefaultArchiveRoot())
	v.SetDefault("archive.institution_backend", "file")
	v.SetDefault("archive.year_from_content", false)
	// Empty defaults register the keys so AUTODOC_* env values reach Unmarshal.
	v.SetDefault("archive.inbox_dir", "")
	v.SetDefault("archive.originals_dir", "")
	v.SetDefault("archive.index_file", "")

	v.SetDefault("server.address", "127.0.0.1")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", 60)
	v.SetDefault("server.write_timeout", 120)
	v.SetDefault("server.body_limit_mb", 100)
	v.SetDefault("server.static_dir", "")

	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.pdftoppm_path", "pdftoppm")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.languages", "deu+eng")
	v.SetDefault("ocr.dpi", 300)
	v.SetDefault("ocr.timeout", 120)

	v.SetDefault("translate.base_url", "https://api-free.deepl.com/v2")
	v.SetDefault("translate.timeout", 30)
	v.SetDefault("translate.api_key", "")

	v.SetDefault("explain.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("explain.model", "gemini-flash-latest")
	v.SetDefault("explain.timeout", 60)
	v.SetDefault("explain.api_key", "")

	v.SetDefault("assist.rate_per_minute", 30)
	v.SetDefault("assist.burst", 3)
	v.SetDefault("assist.breaker_failures", 5)
	v.SetDefault("assist.breaker_timeout", 60)

	v.SetDefault("watcher.enabled", true)
	v.SetDefault("watcher.settle_delay_ms", 1500)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.sweep_spec", "@every 10m")
	v.SetDefault("scheduler.reindex_spec", "30 3 * * *")
	v.SetDefault("scheduler.prune_spec", "0 4 * * 0")
	v.SetDefault("scheduler.history_retention_days", 365)

	v.SetDefault("pipeline.workers", 2)
	v.SetDefault("pipeline.timeout", 300)

	v.SetDefault("security.allow_origins", []string{"*"})
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.admin_password", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "autodoc")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "autodoc")
}

func getDefaultArchiveRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./AutoDocOrganizer"
	}
	return filepath.Join(home, "Desktop", "AutoDocOrganizer")
}

// loadEnvOverrides applies the short variable names the desktop install uses
// alongside the AUTODOC_ prefixed ones.
func loadEnvOverrides(cfg *Config) {
	getEnv := func(key, fallback string) string {
		if val := ResolveEnvWithAliases(key); val != "" {
			return val
		}
		return fallback
	}

	cfg.Translate.APIKey = getEnv("AUTODOC_TRANSLATE_API_KEY", cfg.Translate.APIKey)
	cfg.Explain.APIKey = getEnv("AUTODOC_EXPLAIN_API_KEY", cfg.Explain.APIKey)
	cfg.OCR.TesseractPath = getEnv("AUTODOC_OCR_TESSERACT_PATH", cfg.OCR.TesseractPath)
	cfg.Archive.InboxDir = getEnv("AUTODOC_ARCHIVE_INBOX_DIR", cfg.Archive.InboxDir)

	if port := os.Getenv("AUTODOC_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	cfg.Security.JWTSecret = getEnv("AUTODOC_SECURITY_JWT_SECRET", cfg.Security.JWTSecret)
	cfg.Security.AdminPassword = getEnv("AUTODOC_SECURITY_ADMIN_PASSWORD", cfg.Security.AdminPassword)
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Archive.Root) == "" {
		return fmt.Errorf("archive.root is required")
	}

	root, err := filepath.Abs(cfg.Archive.Root)
	if err != nil {
		return fmt.Errorf("archive.root: %w", err)
	}
	cfg.Archive.Root = root

	switch cfg.Archive.InstitutionBackend {
	case "file", "badger":
	default:
		return fmt.Errorf("archive.institution_backend must be file or badger, got %q", cfg.Archive.InstitutionBackend)
	}

	if cfg.Pipeline.Workers < 1 {
		cfg.Pipeline.Workers = 1
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}

	if cfg.Security.AdminPassword != "" && cfg.Security.JWTSecret == "" {
		// Per-process secret: tokens do not survive a restart.
		cfg.Security.JWTSecret = strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	}

	return nil
}

// ServerAddr returns the host:port the HTTP server listens on.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
