package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const defaultConfigFile = "ethos.toml"

type Config struct {
	Addr       string
	CORSOrigin string

	DBDriver     string
	DatabaseURL  string
	DatabasePath string

	GroqAPIKey        string
	ModerationBaseURL string
	ModerationModel   string
	ModerationTimeout time.Duration

	SeedFile string

	// Empty RedisURL keeps the commit lock in-process.
	RedisURL string
	LockTTL  time.Duration

	// Empty MeiliURL disables Meilisearch; search falls back to the database.
	MeiliURL       string
	MeiliMasterKey string

	// Empty MirrorDir disables the git mirror.
	MirrorDir  string
	ChromePath string

	// Empty ArchiveEndpoint disables snapshots.
	ArchiveEndpoint  string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveBucket    string
	ArchiveRegion    string
	ArchiveSecure    bool
	ArchivePrefix    string

	LogLevel  string
	LogFormat string
}

// DSN returns the connection string for the selected driver.
func (c Config) DSN() string {
	switch strings.ToLower(c.DBDriver) {
	case "postgres", "postgresql", "pgx":
		return c.DatabaseURL
	default:
		return c.DatabasePath
	}
}

// fileConfig mirrors the optional TOML file.
type fileConfig struct {
	Addr       string `toml:"addr"`
	CORSOrigin string `toml:"cors_origin"`
	Database   struct {
		Driver string `toml:"driver"`
		URL    string `toml:"url"`
		Path   string `toml:"path"`
	} `toml:"database"`
	Moderation struct {
		APIKey         string `toml:"api_key"`
		BaseURL        string `toml:"base_url"`
		Model          string `toml:"model"`
		TimeoutSeconds int    `toml:"timeout_seconds"`
	} `toml:"moderation"`
	Seed struct {
		File string `toml:"file"`
	} `toml:"seed"`
	Lock struct {
		RedisURL   string `toml:"redis_url"`
		TTLSeconds int    `toml:"ttl_seconds"`
	} `toml:"lock"`
	Search struct {
		MeiliURL       string `toml:"meili_url"`
		MeiliMasterKey string `toml:"meili_master_key"`
	} `toml:"search"`
	Mirror struct {
		Dir string `toml:"dir"`
	} `toml:"mirror"`
	Export struct {
		ChromePath string `toml:"chrome_path"`
	} `toml:"export"`
	Archive struct {
		Endpoint  string `toml:"endpoint"`
		AccessKey string `toml:"access_key"`
		SecretKey string `toml:"secret_key"`
		Bucket    string `toml:"bucket"`
		Region    string `toml:"region"`
		Secure    *bool  `toml:"secure"`
		Prefix    string `toml:"prefix"`
	} `toml:"archive"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
}

func defaults() Config {
	return Config{
		Addr:              ":3001",
		CORSOrigin:        "*",
		DBDriver:          "sqlite",
		DatabasePath:      "./data/ethos.db",
		ModerationBaseURL: "https://api.groq.com/openai/v1",
		ModerationModel:   "llama-3.3-70b-versatile",
		ModerationTimeout: 30 * time.Second,
		LockTTL:           15 * time.Second,
		ArchiveBucket:     "ethos-archive",
		ArchiveSecure:     true,
		ArchivePrefix:     "snapshots",
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Load builds the configuration from defaults, then the TOML file named by
// ETHOS_CONFIG (or ./ethos.toml when present), then environment variables.
func Load() (Config, error) {
	cfg := defaults()

	path := os.Getenv("ETHOS_CONFIG")
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}
	if err := applyFile(&cfg, path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var file fileConfig
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}

	setString(&cfg.Addr, file.Addr)
	setString(&cfg.CORSOrigin, file.CORSOrigin)
	setString(&cfg.DBDriver, file.Database.Driver)
	setString(&cfg.DatabaseURL, file.Database.URL)
	setString(&cfg.DatabasePath, file.Database.Path)
	setString(&cfg.GroqAPIKey, file.Moderation.APIKey)
	setString(&cfg.ModerationBaseURL, file.Moderation.BaseURL)
	setString(&cfg.ModerationModel, file.Moderation.Model)
	if file.Moderation.TimeoutSeconds > 0 {
		cfg.ModerationTimeout = time.Duration(file.Moderation.TimeoutSeconds) * time.Second
	}
	setString(&cfg.SeedFile, file.Seed.File)
	setString(&cfg.RedisURL, file.Lock.RedisURL)
	if file.Lock.TTLSeconds > 0 {
		cfg.LockTTL = time.Duration(file.Lock.TTLSeconds) * time.Second
	}
	setString(&cfg.MeiliURL, file.Search.MeiliURL)
	setString(&cfg.MeiliMasterKey, file.Search.MeiliMasterKey)
	setString(&cfg.MirrorDir, file.Mirror.Dir)
	setString(&cfg.ChromePath, file.Export.ChromePath)
	setString(&cfg.ArchiveEndpoint, file.Archive.Endpoint)
	setString(&cfg.ArchiveAccessKey, file.Archive.AccessKey)
	setString(&cfg.ArchiveSecretKey, file.Archive.SecretKey)
	setString(&cfg.ArchiveBucket, file.Archive.Bucket)
	setString(&cfg.ArchiveRegion, file.Archive.Region)
	if file.Archive.Secure != nil {
		cfg.ArchiveSecure = *file.Archive.Secure
	}
	setString(&cfg.ArchivePrefix, file.Archive.Prefix)
	setString(&cfg.LogLevel, file.Log.Level)
	setString(&cfg.LogFormat, file.Log.Format)
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Addr = getenv("API_ADDR", cfg.Addr)
	cfg.CORSOrigin = getenv("ETHOS_CORS_ORIGIN", cfg.CORSOrigin)
	cfg.DBDriver = getenv("ETHOS_DB_DRIVER", cfg.DBDriver)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DatabasePath = getenv("DATABASE_PATH", cfg.DatabasePath)
	cfg.GroqAPIKey = getenv("GROQ_API_KEY", cfg.GroqAPIKey)
	cfg.ModerationBaseURL = getenv("ETHOS_MODERATION_BASE_URL", cfg.ModerationBaseURL)
	cfg.ModerationModel = getenv("ETHOS_MODERATION_MODEL", cfg.ModerationModel)
	cfg.ModerationTimeout = time.Duration(getenvInt("ETHOS_MODERATION_TIMEOUT_SECONDS", int(cfg.ModerationTimeout/time.Second))) * time.Second
	cfg.SeedFile = getenv("ETHOS_SEED_FILE", cfg.SeedFile)
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.LockTTL = time.Duration(getenvInt("ETHOS_LOCK_TTL_SECONDS", int(cfg.LockTTL/time.Second))) * time.Second
	cfg.MeiliURL = getenv("MEILI_URL", cfg.MeiliURL)
	cfg.MeiliMasterKey = getenv("MEILI_MASTER_KEY", cfg.MeiliMasterKey)
	cfg.MirrorDir = getenv("ETHOS_MIRROR_DIR", cfg.MirrorDir)
	cfg.ChromePath = getenv("ETHOS_CHROME_PATH", cfg.ChromePath)
	cfg.ArchiveEndpoint = getenv("ETHOS_ARCHIVE_ENDPOINT", cfg.ArchiveEndpoint)
	cfg.ArchiveAccessKey = getenv("ETHOS_ARCHIVE_ACCESS_KEY", cfg.ArchiveAccessKey)
	cfg.ArchiveSecretKey = getenv("ETHOS_ARCHIVE_SECRET_KEY", cfg.ArchiveSecretKey)
	cfg.ArchiveBucket = getenv("ETHOS_ARCHIVE_BUCKET", cfg.ArchiveBucket)
	cfg.ArchiveRegion = getenv("ETHOS_ARCHIVE_REGION", cfg.ArchiveRegion)
	cfg.ArchiveSecure = getenvBool("ETHOS_ARCHIVE_SECURE", cfg.ArchiveSecure)
	cfg.ArchivePrefix = getenv("ETHOS_ARCHIVE_PREFIX", cfg.ArchivePrefix)
	cfg.LogLevel = getenv("ETHOS_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("ETHOS_LOG_FORMAT", cfg.LogFormat)
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
