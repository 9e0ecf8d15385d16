// Package config loads the daemon configuration from .env and the
// environment and validates it before anything else starts. A
// validation failure here is a setup problem, reported distinctly
// from runtime fetch failures.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	// TransportAPI (the metered source)
	TransportAPIBaseURL string `validate:"required,url"`
	TransportAPIAppID   string `validate:"required"`
	TransportAPIAppKey  string `validate:"required"`

	// Bus stops
	StopPrimary string `validate:"required"`
	StopBackup  string
	Routes      []string // allowlist; empty keeps all routes

	// Thresholds and baseline
	BaselineMinutes float64 `validate:"gt=0"`
	DelayThreshold  float64 `validate:"gte=0"`
	BusGapThreshold int     `validate:"gte=0"`

	// Daily call budget
	DailyQuota     int `validate:"gt=0"`
	ReservedManual int `validate:"gte=0,ltfield=DailyQuota"`
	MaxAuto        int `validate:"gte=0,ltefield=DailyQuota"`

	// Office-day classification
	OfficeKeywords   []string
	WFHKeywords      []string
	DefaultOfficeDay bool
	CalendarEntity   string

	// Home Assistant (traffic entity + calendar)
	HassURL    string `validate:"omitempty,url"`
	HassToken  string
	WazeEntity string

	// Scraper fallback
	ScraperURL string `validate:"required,url"`
	CacheTTL   time.Duration

	// Fetch timeouts
	MeteredTimeout time.Duration
	ScraperTimeout time.Duration
	HassTimeout    time.Duration

	// Scheduling
	RefreshInterval time.Duration
	WindowStart     int // minutes from local midnight, -1 when unset
	WindowEnd       int
	Location        *time.Location

	// Transports and listeners
	NATSURL     string
	NATSSubject string
	ControlAddr string
	MetricsAddr string // empty disables the metrics server

	// Optional persistence
	DatabaseURL string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		TransportAPIBaseURL: getenvDefault("TRANSPORTAPI_BASE_URL", "https://transportapi.com/v3/uk/bus/stop"),
		TransportAPIAppID:   os.Getenv("TRANSPORTAPI_APP_ID"),
		TransportAPIAppKey:  os.Getenv("TRANSPORTAPI_APP_KEY"),
		StopPrimary:         os.Getenv("BUS_STOP_PRIMARY"),
		StopBackup:          os.Getenv("BUS_STOP_BACKUP"),
		Routes:              splitCSV(os.Getenv("BUS_ROUTES")),
		OfficeKeywords:      splitCSV(getenvDefault("OFFICE_KEYWORDS", "Office,Edinburgh")),
		WFHKeywords:         splitCSV(getenvDefault("WFH_KEYWORDS", "WFH,Home,Remote")),
		CalendarEntity:      os.Getenv("CALENDAR_ENTITY"),
		HassURL:             os.Getenv("HASS_URL"),
		HassToken:           os.Getenv("HASS_TOKEN"),
		WazeEntity:          os.Getenv("WAZE_ENTITY"),
		ScraperURL:          getenvDefault("SCRAPER_URL", "http://localhost:8765"),
		NATSURL:             getenvDefault("NATS_URL", "nats://127.0.0.1:4222"),
		NATSSubject:         getenvDefault("NATS_SUBJECT", "commute.briefing"),
		ControlAddr:         getenvDefault("CONTROL_ADDR", ":8181"),
		MetricsAddr:         os.Getenv("METRICS_ADDR"),
	}

	var err error
	if cfg.BaselineMinutes, err = floatEnv("COMMUTE_BASELINE", 45); err != nil {
		return nil, err
	}
	if cfg.DelayThreshold, err = floatEnv("TRAFFIC_DELAY_THRESHOLD", 10); err != nil {
		return nil, err
	}
	if cfg.BusGapThreshold, err = intEnv("BUS_GAP_THRESHOLD", 20); err != nil {
		return nil, err
	}
	if cfg.DailyQuota, err = intEnv("DAILY_QUOTA", 30); err != nil {
		return nil, err
	}
	if cfg.ReservedManual, err = intEnv("RESERVED_FOR_MANUAL", 6); err != nil {
		return nil, err
	}
	if cfg.MaxAuto, err = intEnv("MAX_AUTO_CALLS", 10); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = secondsEnv("CACHE_TTL_SECONDS", 90*time.Second); err != nil {
		return nil, err
	}
	if cfg.MeteredTimeout, err = secondsEnv("METERED_TIMEOUT_SECONDS", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ScraperTimeout, err = secondsEnv("SCRAPER_TIMEOUT_SECONDS", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.HassTimeout, err = secondsEnv("HASS_TIMEOUT_SECONDS", 10*time.Second); err != nil {
		return nil, err
	}

	cfg.DefaultOfficeDay = boolEnv("DEFAULT_OFFICE_DAY")

	// Refresh interval (minutes)
	if v := os.Getenv("REFRESH_INTERVAL_MIN"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			return nil, fmt.Errorf("invalid REFRESH_INTERVAL_MIN: %q", v)
		}
		cfg.RefreshInterval = time.Duration(minutes) * time.Minute
	} else {
		cfg.RefreshInterval = 30 * time.Minute
	}

	// Commute window: automatic cycles only run inside it when set.
	cfg.WindowStart, cfg.WindowEnd = -1, -1
	if v := os.Getenv("COMMUTE_WINDOW_START"); v != "" {
		if cfg.WindowStart, err = parseClock(v); err != nil {
			return nil, fmt.Errorf("invalid COMMUTE_WINDOW_START: %q", v)
		}
	}
	if v := os.Getenv("COMMUTE_WINDOW_END"); v != "" {
		if cfg.WindowEnd, err = parseClock(v); err != nil {
			return nil, fmt.Errorf("invalid COMMUTE_WINDOW_END: %q", v)
		}
	}
	if (cfg.WindowStart >= 0) != (cfg.WindowEnd >= 0) {
		return nil, fmt.Errorf("COMMUTE_WINDOW_START and COMMUTE_WINDOW_END must be set together")
	}
	if cfg.WindowStart >= 0 && cfg.WindowEnd <= cfg.WindowStart {
		return nil, fmt.Errorf("commute window end %q not after start", os.Getenv("COMMUTE_WINDOW_END"))
	}

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	// Optional Postgres DSN: prefer DATABASE_URL / PG_DSN, else build
	// from PG* vars when PGDATABASE is set. Absent means no persistence.
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		if db := os.Getenv("PGDATABASE"); db != "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			pass := os.Getenv("PGPASSWORD")
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				dsn = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	}
	cfg.DatabaseURL = dsn

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	if (cfg.WazeEntity != "" || cfg.CalendarEntity != "") && (cfg.HassURL == "" || cfg.HassToken == "") {
		return nil, fmt.Errorf("HASS_URL and HASS_TOKEN are required when WAZE_ENTITY or CALENDAR_ENTITY is set")
	}

	return cfg, nil
}

// WindowSet reports whether a commute window is configured.
func (c *Config) WindowSet() bool { return c.WindowStart >= 0 }

// InWindow reports whether t falls inside the commute window.
// Always true when no window is configured.
func (c *Config) InWindow(t time.Time) bool {
	if !c.WindowSet() {
		return true
	}
	local := t.In(c.Location)
	m := local.Hour()*60 + local.Minute()
	return m >= c.WindowStart && m < c.WindowEnd
}

// parseClock parses "HH:MM" into minutes from midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func secondsEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(sec) * time.Second, nil
}

func boolEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
