// Package config loads and validates the daemon configuration from a
// YAML file, environment variables and Docker secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const appName = "PlexAutoLanguages"

// DefaultHealthPort is the port the health server listens on when none
// is configured.
const DefaultHealthPort = 9880

var scheduleTimeRe = regexp.MustCompile(`^\d{2}:\d{2}$`)

// PlexConfig is the connection to the Plex server.
type PlexConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// SchedulerConfig controls the daily reconciliation sweep.
type SchedulerConfig struct {
	Enable       bool   `yaml:"enable"`
	ScheduleTime string `yaml:"schedule_time"`
}

// NotificationTarget is one notification destination.
type NotificationTarget struct {
	Type    string            `yaml:"type"` // "discord" or "webhook"
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method,omitempty"`
	Body    string            `yaml:"body,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Events  []string          `yaml:"events,omitempty"`
	Users   []string          `yaml:"users,omitempty"`
}

// NotificationsConfig enables notification delivery.
type NotificationsConfig struct {
	Enable  bool                 `yaml:"enable"`
	Targets []NotificationTarget `yaml:"targets"`
}

// Config is the full daemon configuration.
type Config struct {
	Plex                 PlexConfig          `yaml:"plex"`
	UpdateLevel          string              `yaml:"update_level"`
	UpdateStrategy       string              `yaml:"update_strategy"`
	TriggerOnPlay        bool                `yaml:"trigger_on_play"`
	TriggerOnScan        bool                `yaml:"trigger_on_scan"`
	TriggerOnActivity    bool                `yaml:"trigger_on_activity"`
	RefreshLibraryOnScan bool                `yaml:"refresh_library_on_scan"`
	IgnoreLabels         []string            `yaml:"ignore_labels"`
	Scheduler            SchedulerConfig     `yaml:"scheduler"`
	Notifications        NotificationsConfig `yaml:"notifications"`
	DataDir              string              `yaml:"data_dir"`
	HealthPort           int                 `yaml:"health_port"`
	LogFile              string              `yaml:"log_file"`
	Debug                bool                `yaml:"debug"`
}

// configFile is the YAML document layout: everything lives under a
// single plexautolanguages root key.
type configFile struct {
	PlexAutoLanguages Config `yaml:"plexautolanguages"`
}

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		UpdateLevel:       "show",
		UpdateStrategy:    "all",
		TriggerOnPlay:     true,
		TriggerOnScan:     true,
		TriggerOnActivity: false,
		IgnoreLabels:      []string{"PAL_IGNORE"},
		Scheduler: SchedulerConfig{
			Enable:       true,
			ScheduleTime: "02:00",
		},
		HealthPort: DefaultHealthPort,
	}
}

// Load builds the configuration from defaults, the optional YAML file
// at path, environment variables and the Docker secret token file, in
// that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			log.Info().Str("path", path).Msg("Parsing config file")
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			var file configFile
			file.PlexAutoLanguages = cfg
			if err := yaml.Unmarshal(data, &file); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			cfg = file.PlexAutoLanguages
		}
	}

	applyEnvOverrides(&cfg)
	applyTokenSecret(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.DataDir == "" {
		cfg.DataDir = dataDirectory()
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString := func(name string, dst *string) {
		if val, ok := os.LookupEnv(name); ok {
			log.Info().Str("parameter", name).Msg("Setting parameter from environment variable")
			*dst = val
		}
	}
	setBool := func(name string, dst *bool) {
		if val, ok := os.LookupEnv(name); ok {
			parsed, err := strconv.ParseBool(strings.ToLower(val))
			if err != nil {
				log.Warn().Str("parameter", name).Str("value", val).Msg("Ignoring invalid boolean environment variable")
				return
			}
			log.Info().Str("parameter", name).Msg("Setting parameter from environment variable")
			*dst = parsed
		}
	}
	setInt := func(name string, dst *int) {
		if val, ok := os.LookupEnv(name); ok {
			parsed, err := strconv.Atoi(val)
			if err != nil {
				log.Warn().Str("parameter", name).Str("value", val).Msg("Ignoring invalid integer environment variable")
				return
			}
			log.Info().Str("parameter", name).Msg("Setting parameter from environment variable")
			*dst = parsed
		}
	}

	setString("PLEX_URL", &cfg.Plex.URL)
	setString("PLEX_TOKEN", &cfg.Plex.Token)
	setString("UPDATE_LEVEL", &cfg.UpdateLevel)
	setString("UPDATE_STRATEGY", &cfg.UpdateStrategy)
	setBool("TRIGGER_ON_PLAY", &cfg.TriggerOnPlay)
	setBool("TRIGGER_ON_SCAN", &cfg.TriggerOnScan)
	setBool("TRIGGER_ON_ACTIVITY", &cfg.TriggerOnActivity)
	setBool("REFRESH_LIBRARY_ON_SCAN", &cfg.RefreshLibraryOnScan)
	setBool("SCHEDULER_ENABLE", &cfg.Scheduler.Enable)
	setString("SCHEDULER_SCHEDULE_TIME", &cfg.Scheduler.ScheduleTime)
	setBool("NOTIFICATIONS_ENABLE", &cfg.Notifications.Enable)
	setString("DATA_DIR", &cfg.DataDir)
	setInt("HEALTH_PORT", &cfg.HealthPort)
	setString("LOG_FILE", &cfg.LogFile)
	setBool("DEBUG", &cfg.Debug)

	if val, ok := os.LookupEnv("IGNORE_LABELS"); ok {
		log.Info().Str("parameter", "IGNORE_LABELS").Msg("Setting parameter from environment variable")
		labels := strings.Split(val, ",")
		for i := range labels {
			labels[i] = strings.TrimSpace(labels[i])
		}
		cfg.IgnoreLabels = labels
	}
}

// applyTokenSecret reads the Plex token from a Docker secret file when
// one is present.
func applyTokenSecret(cfg *Config) {
	path := os.Getenv("PLEX_TOKEN_FILE")
	if path == "" {
		path = "/run/secrets/plex_token"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Info().Msg("Getting Plex token from Docker secret")
	token, _, _ := strings.Cut(string(data), "\n")
	cfg.Plex.Token = strings.TrimSpace(token)
}

// Validate checks required parameters and enumerated values.
func (c *Config) Validate() error {
	if c.Plex.URL == "" {
		return fmt.Errorf("a Plex URL is required")
	}
	if c.Plex.Token == "" {
		return fmt.Errorf("a Plex token is required")
	}
	if c.UpdateLevel != "show" && c.UpdateLevel != "season" {
		return fmt.Errorf("the 'update_level' parameter must be either 'show' or 'season'")
	}
	if c.UpdateStrategy != "all" && c.UpdateStrategy != "next" {
		return fmt.Errorf("the 'update_strategy' parameter must be either 'all' or 'next'")
	}
	if c.Scheduler.Enable && !scheduleTimeRe.MatchString(c.Scheduler.ScheduleTime) {
		return fmt.Errorf("the 'scheduler.schedule_time' parameter must match the HH:MM format")
	}
	if c.HealthPort <= 0 || c.HealthPort > 65535 {
		return fmt.Errorf("the 'health_port' parameter must be a valid port number")
	}
	for _, target := range c.Notifications.Targets {
		if target.Type != "discord" && target.Type != "webhook" {
			return fmt.Errorf("unknown notification target type %q", target.Type)
		}
		if target.URL == "" {
			return fmt.Errorf("notification target of type %q has no URL", target.Type)
		}
	}
	return nil
}

// dataDirectory resolves the directory holding the cache database and
// logs: /config inside a container, a per-user data directory
// otherwise.
func dataDirectory() string {
	if isContainer() {
		return "/config"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", appName)
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

func isContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if data, err := os.ReadFile("/proc/self/cgroup"); err == nil && strings.Contains(string(data), "docker") {
		return true
	}
	return strings.EqualFold(os.Getenv("CONTAINERIZED"), "true")
}
