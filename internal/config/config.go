// Package config loads the codewatch daemon configuration from defaults, an
// optional YAML file, and CODEWATCH_* environment variables, in increasing
// order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MailConfig configures the IMAP transport session.
type MailConfig struct {
	// Host is the IMAP server hostname.
	Host string `mapstructure:"host"`

	// Port is the IMAP server port.
	Port int `mapstructure:"port"`

	// Username is the mailbox account name.
	Username string `mapstructure:"username"`

	// Password is the mailbox account password.
	Password string `mapstructure:"password"`

	// TLS enables implicit TLS for the IMAP connection. When false, the
	// client connects in cleartext and upgrades via STARTTLS.
	TLS bool `mapstructure:"tls"`

	// TLSSkipVerify disables certificate verification.
	TLSSkipVerify bool `mapstructure:"tls_skip_verify"`

	// Mailbox is the mailbox (folder) to watch.
	Mailbox string `mapstructure:"mailbox"`

	// ReconnectMaxAttempts bounds consecutive reconnection attempts
	// before the watcher gives up for good.
	ReconnectMaxAttempts int `mapstructure:"reconnect_max_attempts"`

	// ReconnectDelay is the fixed delay between reconnection attempts.
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`

	// CheckInterval is the cadence of the periodic unread-mail check.
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// ExtractConfig configures the verification code extractor.
type ExtractConfig struct {
	// MinCodeLength is the minimum accepted code token length.
	MinCodeLength int `mapstructure:"min_code_length"`

	// MaxCodeLength is the maximum accepted code token length.
	MaxCodeLength int `mapstructure:"max_code_length"`
}

// HTTPConfig configures the blocking HTTP entry point.
type HTTPConfig struct {
	// Addr is the listen address for the HTTP server.
	Addr string `mapstructure:"addr"`

	// DefaultWaitTimeout applies to wait-for-code requests that omit a
	// timeout.
	DefaultWaitTimeout time.Duration `mapstructure:"default_wait_timeout"`
}

// WSConfig configures the WebSocket entry point.
type WSConfig struct {
	// DefaultWaitTimeout applies to start-wait intents that omit a
	// timeout.
	DefaultWaitTimeout time.Duration `mapstructure:"default_wait_timeout"`

	// ClientCheckInterval is how often an outstanding WebSocket wait
	// nudges the watcher to re-check the mailbox.
	ClientCheckInterval time.Duration `mapstructure:"client_check_interval"`
}

// LogConfig configures daemon logging.
type LogConfig struct {
	// Level is the log level name (trace, debug, info, warn, error).
	Level string `mapstructure:"level"`

	// Dir is the directory for rotating log files. Empty disables file
	// logging.
	Dir string `mapstructure:"dir"`
}

// Config is the root daemon configuration.
type Config struct {
	Mail    MailConfig    `mapstructure:"mail"`
	Extract ExtractConfig `mapstructure:"extract"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	WS      WSConfig      `mapstructure:"ws"`
	Log     LogConfig     `mapstructure:"log"`
}

// setDefaults installs the default for every knob, so a bare environment
// still yields a fully usable configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 993)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.tls", true)
	v.SetDefault("mail.tls_skip_verify", false)
	v.SetDefault("mail.mailbox", "INBOX")
	v.SetDefault("mail.reconnect_max_attempts", 5)
	v.SetDefault("mail.reconnect_delay", 5*time.Second)
	v.SetDefault("mail.check_interval", 30*time.Second)

	v.SetDefault("extract.min_code_length", 4)
	v.SetDefault("extract.max_code_length", 8)

	v.SetDefault("http.addr", ":3000")
	v.SetDefault("http.default_wait_timeout", time.Minute)

	v.SetDefault("ws.default_wait_timeout", 5*time.Minute)
	v.SetDefault("ws.client_check_interval", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "")
}

// Load reads the configuration. If path is non-empty it must name a readable
// config file; otherwise only defaults and environment variables apply.
// Environment variables use the CODEWATCH_ prefix with underscores, e.g.
// CODEWATCH_MAIL_HOST.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CODEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Mail.Host == "" {
		return fmt.Errorf("mail.host is required")
	}
	if c.Mail.Port <= 0 || c.Mail.Port > 65535 {
		return fmt.Errorf("mail.port %d out of range", c.Mail.Port)
	}
	if c.Extract.MinCodeLength <= 0 {
		return fmt.Errorf("extract.min_code_length must be positive")
	}
	if c.Extract.MaxCodeLength < c.Extract.MinCodeLength {
		return fmt.Errorf("extract.max_code_length %d below min %d",
			c.Extract.MaxCodeLength, c.Extract.MinCodeLength)
	}
	if c.Mail.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("mail.reconnect_max_attempts must not be " +
			"negative")
	}
	if c.Mail.ReconnectDelay <= 0 {
		return fmt.Errorf("mail.reconnect_delay must be positive")
	}
	if c.Mail.CheckInterval <= 0 {
		return fmt.Errorf("mail.check_interval must be positive")
	}

	return nil
}

// Addr returns the host:port dial address of the IMAP server.
func (m *MailConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}
