/*
config.go - Server configuration

PURPOSE:
  Collects server settings from, in increasing precedence:
  1. Built-in defaults
  2. A .env file in the working directory (optional)
  3. Environment variables
  4. Command-line flags

KEYS:
  PORT               HTTP port (8080)
  DB_PATH            SQLite path, ":memory:" for in-memory (tuition.db)
  LOG_LEVEL          debug | info | warn | error (info)
  LOG_DEVELOPMENT    console encoder (false)
  BILLING_CRON       cron spec for the monthly cycle ("0 0 1 * *")
  BILLING_TIMEZONE   IANA zone the cycle runs in (Asia/Seoul)
  SCHEDULER_ENABLED  run the cron scheduler (true)
  SCHEDULER_CATCH_UP run the current month once on startup (false)
  DEFAULT_DUE_DAY    due day when neither student nor tenant sets one (5)
  CORS_ORIGINS       comma-separated allowed origins (all)

SEE ALSO:
  - cmd/server/main.go: consumer
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

// Config holds all server settings.
type Config struct {
	Port           int
	DBPath         string
	LogLevel       string
	LogDevelopment bool

	BillingCron      string
	BillingTimezone  string
	SchedulerEnabled bool
	SchedulerCatchUp bool
	DefaultDueDay    int

	CORSOrigins []string
}

// Location resolves BillingTimezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.BillingTimezone)
}

// Validate checks ranges and the time zone.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DefaultDueDay < 1 || c.DefaultDueDay > 31 {
		errs = append(errs, fmt.Errorf("default due day %d out of range 1-31", c.DefaultDueDay))
	}
	if strings.TrimSpace(c.BillingCron) == "" {
		errs = append(errs, errors.New("billing cron schedule is empty"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("billing timezone: %w", err))
	}
	return errors.Join(errs...)
}

// Load reads .env (if present), the environment and args, then validates.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return parse(os.LookupEnv, args)
}

func parse(lookup func(string) (string, bool), args []string) (Config, error) {
	env := envReader{lookup: lookup}
	cfg := Config{
		Port:             env.getInt("PORT", 8080),
		DBPath:           env.getString("DB_PATH", "tuition.db"),
		LogLevel:         env.getString("LOG_LEVEL", "info"),
		LogDevelopment:   env.getBool("LOG_DEVELOPMENT", false),
		BillingCron:      env.getString("BILLING_CRON", "0 0 1 * *"),
		BillingTimezone:  env.getString("BILLING_TIMEZONE", "Asia/Seoul"),
		SchedulerEnabled: env.getBool("SCHEDULER_ENABLED", true),
		SchedulerCatchUp: env.getBool("SCHEDULER_CATCH_UP", false),
		DefaultDueDay:    env.getInt("DEFAULT_DUE_DAY", 5),
		CORSOrigins:      splitList(env.getString("CORS_ORIGINS", "")),
	}
	if env.err != nil {
		return Config{}, env.err
	}

	fsFlags := flag.NewFlagSet("server", flag.ContinueOnError)
	fsFlags.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fsFlags.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fsFlags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	fsFlags.BoolVar(&cfg.LogDevelopment, "log-dev", cfg.LogDevelopment, "Development log encoder")
	fsFlags.StringVar(&cfg.BillingCron, "billing-cron", cfg.BillingCron, "Cron schedule for the monthly billing cycle")
	fsFlags.StringVar(&cfg.BillingTimezone, "billing-tz", cfg.BillingTimezone, "Time zone of the billing schedule")
	fsFlags.BoolVar(&cfg.SchedulerEnabled, "scheduler", cfg.SchedulerEnabled, "Run the billing scheduler")
	fsFlags.BoolVar(&cfg.SchedulerCatchUp, "catch-up", cfg.SchedulerCatchUp, "Bill the current month on startup")
	fsFlags.IntVar(&cfg.DefaultDueDay, "due-day", cfg.DefaultDueDay, "Default payment due day")
	if err := fsFlags.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envReader records the first malformed value it sees.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) getString(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *envReader) getInt(key string, def int) int {
	v := e.getString(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *envReader) getBool(key string, def bool) bool {
	v := e.getString(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (e *envReader) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func splitList(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(v string, _ int) string {
		return strings.TrimSpace(v)
	}))
}
