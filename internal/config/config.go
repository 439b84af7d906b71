package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Duration читается из JSON как "300ms"/"5m" или как число миллисекунд.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v) * time.Millisecond)
	case string:
		pd, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "duration %q", v)
		}
		*d = Duration(pd)
	default:
		return errors.Errorf("duration: unexpected %s", string(b))
	}
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Port              string `json:"port"`
	DSLDir            string `json:"dslDir"`
	LayoutsDir        string `json:"layoutsDir"`
	EnumsDir          string `json:"enumsDir"`
	DisplayFieldsFile string `json:"displayFieldsFile"`

	DBURL       string `json:"dbUrl"` // пусто: записи в памяти
	AutoMigrate bool   `json:"autoMigrate"`

	// Файлы галерей (локально)
	FilesRoot     string `json:"filesRoot"`
	PublicOrigin  string `json:"publicOrigin"`
	StoragePrefix string `json:"storagePrefix"`

	// Пикер ссылок
	SearchPageSize     int      `json:"searchPageSize"`
	SearchDebounce     Duration `json:"searchDebounce"`
	CreatePollInterval Duration `json:"createPollInterval"`
	CreatePollMax      Duration `json:"createPollMax"`
	SessionIdle        Duration `json:"sessionIdle"`

	LogLevel string `json:"logLevel"`
}

func Default() Config {
	return Config{
		Port:              "8080",
		DSLDir:            "dsl",
		LayoutsDir:        "layouts",
		EnumsDir:          "reference/enums",
		DisplayFieldsFile: "",

		DBURL:       "",
		AutoMigrate: false,

		FilesRoot:     "uploads",
		PublicOrigin:  "",
		StoragePrefix: "",

		SearchPageSize:     10,
		SearchDebounce:     Duration(300 * time.Millisecond),
		CreatePollInterval: Duration(time.Second),
		CreatePollMax:      Duration(5 * time.Minute),
		SessionIdle:        Duration(30 * time.Minute),

		LogLevel: "info",
	}
}

func loadJSON(path string, c *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config")
	}
	return errors.Wrapf(json.Unmarshal(b, c), "parse config %s", path)
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(k); ok {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "1" || v == "true" || v == "yes" {
			return true
		}
		if v == "0" || v == "false" || v == "no" {
			return false
		}
	}
	return fallback
}

func getenvInt(k string, fallback int) int {
	if v, ok := os.LookupEnv(k); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func getenvDuration(k string, fallback Duration) Duration {
	if v, ok := os.LookupEnv(k); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return Duration(d)
		}
	}
	return fallback
}

// BindFlags регистрирует флаги конфигурации. Значения по умолчанию
// только для справки: применяются лишь явно заданные флаги.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "config.json", "Path to config JSON")
	fs.String("port", d.Port, "HTTP port")
	fs.String("dsl", d.DSLDir, "Path to DSL directory")
	fs.String("layouts", d.LayoutsDir, "Path to form layouts directory")
	fs.String("enums", d.EnumsDir, "Path to enums directory")
	fs.String("display-fields", d.DisplayFieldsFile, "Path to display fields YAML")
	fs.String("db", d.DBURL, "Postgres URL (empty = in-memory)")
	fs.Bool("auto-migrate", d.AutoMigrate, "Create missing tables on start")
	fs.String("files-root", d.FilesRoot, "Local files root")
	fs.String("public-origin", d.PublicOrigin, "Origin for generated links")
	fs.String("storage-prefix", d.StoragePrefix, "Key prefix for stored images")
	fs.Int("search-page-size", d.SearchPageSize, "Reference search page size")
	fs.Duration("search-debounce", d.SearchDebounce.Std(), "Reference search debounce")
	fs.Duration("create-poll-interval", d.CreatePollInterval.Std(), "Create window poll interval")
	fs.Duration("create-poll-max", d.CreatePollMax.Std(), "Create window poll ceiling")
	fs.Duration("session-idle", d.SessionIdle.Std(), "Render session idle timeout")
	fs.String("log-level", d.LogLevel, "Log level (debug/info/warn/error)")
}

// Load: умолчания, затем JSON (если файл есть), ENV KALITA_* и явно
// заданные флаги.
func Load(fs *pflag.FlagSet) (Config, error) {
	cfg := Default()

	jsonPath := getenv("KALITA_CONFIG", "config.json")
	if fs != nil && fs.Changed("config") {
		jsonPath, _ = fs.GetString("config")
	}
	if st, err := os.Stat(jsonPath); err == nil && !st.IsDir() {
		if err := loadJSON(jsonPath, &cfg); err != nil {
			return cfg, err
		}
	} else if fs != nil && fs.Changed("config") {
		return cfg, errors.Errorf("config %s not found", jsonPath)
	}

	// ENV overrides
	cfg.Port = getenv("KALITA_PORT", cfg.Port)
	cfg.DSLDir = getenv("KALITA_DSL_DIR", cfg.DSLDir)
	cfg.LayoutsDir = getenv("KALITA_LAYOUTS_DIR", cfg.LayoutsDir)
	cfg.EnumsDir = getenv("KALITA_ENUMS_DIR", cfg.EnumsDir)
	cfg.DisplayFieldsFile = getenv("KALITA_DISPLAY_FIELDS", cfg.DisplayFieldsFile)
	cfg.DBURL = getenv("KALITA_DB_URL", cfg.DBURL)
	cfg.AutoMigrate = getenvBool("KALITA_AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.FilesRoot = getenv("KALITA_FILES_ROOT", cfg.FilesRoot)
	cfg.PublicOrigin = getenv("KALITA_PUBLIC_ORIGIN", cfg.PublicOrigin)
	cfg.StoragePrefix = getenv("KALITA_STORAGE_PREFIX", cfg.StoragePrefix)
	cfg.SearchPageSize = getenvInt("KALITA_SEARCH_PAGE_SIZE", cfg.SearchPageSize)
	cfg.SearchDebounce = getenvDuration("KALITA_SEARCH_DEBOUNCE", cfg.SearchDebounce)
	cfg.CreatePollInterval = getenvDuration("KALITA_CREATE_POLL_INTERVAL", cfg.CreatePollInterval)
	cfg.CreatePollMax = getenvDuration("KALITA_CREATE_POLL_MAX", cfg.CreatePollMax)
	cfg.SessionIdle = getenvDuration("KALITA_SESSION_IDLE", cfg.SessionIdle)
	cfg.LogLevel = getenv("KALITA_LOG_LEVEL", cfg.LogLevel)

	if fs == nil {
		return cfg, nil
	}

	// Flags overrides
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(name string, dst *Duration) {
		if fs.Changed(name) {
			v, _ := fs.GetDuration(name)
			*dst = Duration(v)
		}
	}
	str("port", &cfg.Port)
	str("dsl", &cfg.DSLDir)
	str("layouts", &cfg.LayoutsDir)
	str("enums", &cfg.EnumsDir)
	str("display-fields", &cfg.DisplayFieldsFile)
	str("db", &cfg.DBURL)
	if fs.Changed("auto-migrate") {
		cfg.AutoMigrate, _ = fs.GetBool("auto-migrate")
	}
	str("files-root", &cfg.FilesRoot)
	str("public-origin", &cfg.PublicOrigin)
	str("storage-prefix", &cfg.StoragePrefix)
	if fs.Changed("search-page-size") {
		cfg.SearchPageSize, _ = fs.GetInt("search-page-size")
	}
	dur("search-debounce", &cfg.SearchDebounce)
	dur("create-poll-interval", &cfg.CreatePollInterval)
	dur("create-poll-max", &cfg.CreatePollMax)
	dur("session-idle", &cfg.SessionIdle)
	str("log-level", &cfg.LogLevel)

	return cfg, nil
}
