// Package config loads the service's environment-variable configuration
// contract (spec.md §6) using github.com/spf13/viper, replacing the
// teacher's JSON-file config.LoadConfig with the viper-based env binding
// used across the rest of the retrieved pack (cklxx-elephant.ai) for
// service configuration. Missing required SMTP variables are a fatal
// startup error, matching spec.md's "Missing required SMTP variables
// prevent startup."
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved process configuration.
type Config struct {
	SMTPHost        string
	SMTPPort        int
	SMTPUser        string
	SMTPPassword    string
	SMTPFromEmail   string
	SMTPUseTLS      bool
	JobStoragePath  string
	LogLevel        string
	LogFile         string
	ScriptTimeout   time.Duration
	APIFetchTimeout time.Duration
	ResultWebhook   string
	MetricsAddr     string
	ControlAddr     string
	RateLimit       int
	BurstLimit      int
}

// Load reads the environment per spec.md §6 and applies defaults. It
// returns an error (never calls os.Exit itself) when a required SMTP
// variable is absent, leaving the fatal-startup decision to the caller.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("smtp_use_tls", true)
	v.SetDefault("smtp_port", 587)
	v.SetDefault("job_storage_path", "./data/jobs.db")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("script_timeout", 300)
	v.SetDefault("api_fetch_timeout", 30)
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("control_addr", ":8080")
	v.SetDefault("rate_limit", 10)
	v.SetDefault("burst_limit", 20)

	for _, key := range []string{
		"smtp_host", "smtp_port", "smtp_user", "smtp_password", "smtp_from_email",
		"smtp_use_tls", "job_storage_path", "log_level", "log_file",
		"script_timeout", "api_fetch_timeout", "result_webhook_url",
		"metrics_addr", "control_addr", "rate_limit", "burst_limit",
	} {
		_ = v.BindEnv(key)
	}

	cfg := &Config{
		SMTPHost:        v.GetString("smtp_host"),
		SMTPPort:        v.GetInt("smtp_port"),
		SMTPUser:        v.GetString("smtp_user"),
		SMTPPassword:    v.GetString("smtp_password"),
		SMTPFromEmail:   v.GetString("smtp_from_email"),
		SMTPUseTLS:      v.GetBool("smtp_use_tls"),
		JobStoragePath:  v.GetString("job_storage_path"),
		LogLevel:        v.GetString("log_level"),
		LogFile:         v.GetString("log_file"),
		ScriptTimeout:   time.Duration(v.GetInt("script_timeout")) * time.Second,
		APIFetchTimeout: time.Duration(v.GetInt("api_fetch_timeout")) * time.Second,
		ResultWebhook:   v.GetString("result_webhook_url"),
		MetricsAddr:     v.GetString("metrics_addr"),
		ControlAddr:     v.GetString("control_addr"),
		RateLimit:       v.GetInt("rate_limit"),
		BurstLimit:      v.GetInt("burst_limit"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.SMTPHost == "" {
		missing = append(missing, "SMTP_HOST")
	}
	if c.SMTPUser == "" {
		missing = append(missing, "SMTP_USER")
	}
	if c.SMTPPassword == "" {
		missing = append(missing, "SMTP_PASSWORD")
	}
	if c.SMTPFromEmail == "" {
		missing = append(missing, "SMTP_FROM_EMAIL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required SMTP configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
