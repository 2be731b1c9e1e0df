package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/outreach/config.yaml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load reads .env (when present) into the environment and builds the layered config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return LoadFrom(findConfigFile())
}

// LoadFrom builds the config from defaults, the YAML file at path (skipped when
// empty) and the environment.
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// DATABASE_URL -> database.dsn, MAX_CONCURRENT_AGENTS -> campaign.max_concurrent_agents
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the settings the selected backends need.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := c.Triggers.Weekdays(); err != nil {
		return fmt.Errorf("triggers.cadence_weekdays: %w", err)
	}
	if _, err := c.Triggers.Location(); err != nil {
		return fmt.Errorf("triggers.timezone: %w", err)
	}
	if _, err := c.Campaign.SenderIdentities(); err != nil {
		return fmt.Errorf("campaign.identities: %w", err)
	}

	switch c.Progress.Store {
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("progress.store postgres requires database.dsn (DATABASE_URL)")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("progress.store redis requires redis.addr")
		}
	case "badger":
		if c.Badger.Dir == "" {
			return errors.New("progress.store badger requires badger.dir")
		}
	case "file":
		if c.Progress.File == "" {
			return errors.New("progress.store file requires progress.file")
		}
	}
	if c.Transport.Kind == "amqp" && c.AMQP.URL == "" {
		return errors.New("transport.kind amqp requires amqp.url")
	}
	return nil
}

var sliceConfigPaths = []string{
	"campaign.identities",
	"triggers.cadence_weekdays",
	"alert.smtp.to",
}

// processSliceFields splits comma-separated env values of slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(s, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"database_url":         "database.dsn",
	"db_max_open_conns":    "database.max_open_conns",
	"db_max_idle_conns":    "database.max_idle_conns",
	"db_conn_max_lifetime": "database.conn_max_lifetime",

	"amqp_url":   "amqp.url",
	"amqp_queue": "amqp.queue",

	"redis_addr":     "redis.addr",
	"redis_password": "redis.password",
	"redis_db":       "redis.db",
	"redis_ttl":      "redis.ttl",

	"badger_dir": "badger.dir",

	"transport":             "transport.kind",
	"mock_success_rate":     "transport.mock_success_rate",
	"transport_breaker":     "transport.breaker",
	"progress_store":        "progress.store",
	"progress_file":         "progress.file",
	"progress_key":          "progress.key",
	"metrics_capacity":      "metrics.capacity",
	"target_count":          "campaign.target_count",
	"max_concurrent_agents": "campaign.max_concurrent_agents",
	"delay_between_emails":  "campaign.delay_between_emails",
	"priority_order":        "campaign.priority_order",
	"save_progress":         "campaign.save_progress",
	"retry_ceiling":         "campaign.retry_ceiling",
	"campaign_run_key":      "campaign.run_key",
	"checkpoint_every":      "campaign.checkpoint_every",
	"checkpoint_interval":   "campaign.checkpoint_interval",
	"job_timeout":           "campaign.job_timeout",
	"campaign_template":     "campaign.template",
	"sender_identities":     "campaign.identities",
	"segment_industry":      "campaign.segment.industry",
	"segment_vertical":      "campaign.segment.vertical",
	"segment_city":          "campaign.segment.city",
	"segment_limit":         "campaign.segment.limit",
	"alert_channel":         "alert.channel",
	"alert_webhook_url":     "alert.webhook_url",
	"smtp_host":             "alert.smtp.host",
	"smtp_port":             "alert.smtp.port",
	"smtp_user":             "alert.smtp.user",
	"smtp_password":         "alert.smtp.password",
	"smtp_use_tls":          "alert.smtp.use_tls",
	"alert_from":            "alert.smtp.from",
	"alert_to":              "alert.smtp.to",
	"triggers_enabled":      "triggers.enabled",
	"trigger_interval":      "triggers.interval",
	"cadence_interval":      "triggers.cadence_interval",
	"cadence_weekdays":      "triggers.cadence_weekdays",
	"cadence_hour":          "triggers.cadence_hour",
	"cadence_timezone":      "triggers.timezone",
	"deadline_window":       "triggers.deadline_window",
	"bounce_threshold":      "triggers.bounce_threshold",
	"bounce_min_samples":    "triggers.bounce_min_samples",
	"dm_backlog_threshold":  "triggers.backlog_threshold",
	"teasers_file":          "triggers.teasers_file",
	"targets_cache_ttl":     "triggers.targets_cache_ttl",
	"http_addr":             "server.addr",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
}

// envTransformFunc maps known environment variables to config paths. Anything
// else returns "" and is ignored.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
