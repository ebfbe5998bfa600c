package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"daycap/internal/clock"
)

const (
	DefaultConfigFileName = "config.toml"
	DefaultDBName         = "daycap.db"
	EnvConfigPath         = "DAYCAP_CONFIG"

	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Keymap struct {
	Quit       string `toml:"quit"`
	Add        string `toml:"add"`
	AddBacklog string `toml:"add_backlog"`
	Up         string `toml:"up"`
	Down       string `toml:"down"`
	SwitchPane string `toml:"switch_pane"`
	Toggle     string `toml:"toggle"`
	Move       string `toml:"move"`
	Edit       string `toml:"edit"`
	Urgent     string `toml:"urgent"`
	Important  string `toml:"important"`
	Delete     string `toml:"delete"`
	Purge      string `toml:"purge"`
	Undo       string `toml:"undo"`
	Redo       string `toml:"redo"`
	Retry      string `toml:"retry"`
	Confirm    string `toml:"confirm"`
	Cancel     string `toml:"cancel"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

type PlannerConfig struct {
	DayCap     int      `toml:"day_cap"`
	WeekStart  string   `toml:"week_start"`
	UndoTTL    Duration `toml:"undo_ttl"`
	FlushDelay Duration `toml:"flush_delay"`
}

type RolloverConfig struct {
	Interval Duration `toml:"interval"`
	LockTTL  Duration `toml:"lock_ttl"`
}

type LogConfig struct {
	Level string `toml:"level"`
	// Path receives logs while the TUI owns the terminal. Empty means next
	// to the config file.
	Path string `toml:"path"`
}

type Config struct {
	DBPath   string         `toml:"db_path"`
	Backend  string         `toml:"backend"`
	Redis    RedisConfig    `toml:"redis"`
	Planner  PlannerConfig  `toml:"planner"`
	Rollover RolloverConfig `toml:"rollover"`
	Log      LogConfig      `toml:"log"`
	Keys     Keymap         `toml:"keys"`
}

// Duration is a time.Duration written as a Go duration string ("15s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// ResolveConfigPath picks the config file: $DAYCAP_CONFIG, then
// $XDG_CONFIG_HOME/daycap, then ~/.config/daycap.
func ResolveConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "daycap", DefaultConfigFileName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfigFileName
	}
	return filepath.Join(home, ".config", "daycap", DefaultConfigFileName)
}

// LoadOrCreate reads path, writing the defaults there first if it does not
// exist. Keys missing from the file keep their default values.
func LoadOrCreate(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := write(path, cfg); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBName
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendSQLite:
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.Planner.DayCap < 1 {
		errs = append(errs, fmt.Errorf("planner.day_cap must be at least 1, got %d", c.Planner.DayCap))
	}
	if _, err := clock.ParseWeekday(c.Planner.WeekStart); err != nil {
		errs = append(errs, fmt.Errorf("planner.week_start: %w", err))
	}
	for name, d := range map[string]Duration{
		"planner.undo_ttl":  c.Planner.UndoTTL,
		"rollover.interval": c.Rollover.Interval,
		"rollover.lock_ttl": c.Rollover.LockTTL,
	} {
		if d.Duration <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Planner.FlushDelay.Duration < 0 {
		errs = append(errs, errors.New("planner.flush_delay can't be negative"))
	}
	return errors.Join(errs...)
}

// WeekStart is the configured first day of the week. Call after Validate.
func (c Config) WeekStart() time.Weekday {
	wd, err := clock.ParseWeekday(c.Planner.WeekStart)
	if err != nil {
		return time.Monday
	}
	return wd
}

// ResolveDBPath returns DBPath, anchoring a relative path at the config
// file's directory.
func (c Config) ResolveDBPath(configPath string) string {
	if filepath.IsAbs(c.DBPath) {
		return c.DBPath
	}
	return filepath.Join(filepath.Dir(configPath), c.DBPath)
}

// ResolveLogPath is like ResolveDBPath for the TUI log file.
func (c Config) ResolveLogPath(configPath string) string {
	p := c.Log.Path
	if p == "" {
		p = "daycap.log"
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

func write(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func Default() Config {
	return Config{
		DBPath:  DefaultDBName,
		Backend: BackendSQLite,
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "daycap:",
		},
		Planner: PlannerConfig{
			DayCap:     3,
			WeekStart:  "monday",
			UndoTTL:    Duration{15 * time.Second},
			FlushDelay: Duration{250 * time.Millisecond},
		},
		Rollover: RolloverConfig{
			Interval: Duration{time.Minute},
			LockTTL:  Duration{30 * time.Second},
		},
		Log: LogConfig{Level: "info"},
		Keys: Keymap{
			Quit:       "q",
			Add:        "a",
			AddBacklog: "A",
			Up:         "k",
			Down:       "j",
			SwitchPane: "tab",
			Toggle:     " ",
			Move:       "m",
			Edit:       "e",
			Urgent:     "!",
			Important:  "*",
			Delete:     "d",
			Purge:      "D",
			Undo:       "u",
			Redo:       "ctrl+r",
			Retry:      "R",
			Confirm:    "enter",
			Cancel:     "esc",
		},
	}
}
