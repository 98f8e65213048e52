package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Defaults applied before the config file and flags.
const (
	DefaultURL             = "http://localhost:58664/"
	DefaultPassword        = "admin"
	DefaultDelay           = 10 * time.Millisecond
	DefaultSize            = 100
	DefaultAvgCount        = 100
	DefaultHandshakeMethod = "Connected"
	DefaultCountersFile    = "Counters.txt"
	DefaultReconnectFile   = "DelayCounters.txt"
	DefaultConnectFile     = "ConnectCounters.txt"

	MinDelay         = 10 * time.Millisecond
	MinSize          = 1
	MaxSize          = 10000
	MinAvgCount      = 10
	MaxAvgCount      = 1000
	MaxUserPrefixLen = 40
)

type Config struct {
	URL        string `mapstructure:"url"`
	Password   string `mapstructure:"password"`
	HubURL     string `mapstructure:"hub_url"`
	Token      string `mapstructure:"token"`
	UserPrefix string `mapstructure:"user_prefix"`

	Threads      int           `mapstructure:"threads"`
	Delay        time.Duration `mapstructure:"delay"`
	MessageCount int           `mapstructure:"message_count"`
	Size         int           `mapstructure:"size"`
	AvgCount     int           `mapstructure:"avg_count"`
	UseCounter   bool          `mapstructure:"use_counter"`
	Duration     time.Duration `mapstructure:"duration"`
	ConnectRate  int           `mapstructure:"connect_rate"`

	StartupAttempts   int           `mapstructure:"startup_attempts"`
	StartupInterval   time.Duration `mapstructure:"startup_interval"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	FastReconnect     bool          `mapstructure:"fast_reconnect"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	LoginTimeout      time.Duration `mapstructure:"login_timeout"`
	HandshakeMethod   string        `mapstructure:"handshake_method"`

	Headers map[string]string `mapstructure:"headers"`

	CountersFile    string `mapstructure:"counters_file"`
	ReconnectFile   string `mapstructure:"reconnect_file"`
	ConnectFile     string `mapstructure:"connect_file"`
	VerboseCounters bool   `mapstructure:"verbose_counters"`

	JSONOutput  bool          `mapstructure:"json_output"`
	Progress    bool          `mapstructure:"progress"`
	LogLevel    string        `mapstructure:"log_level"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
	Thresholds  []string      `mapstructure:"thresholds"`
	Tracing     TracingConfig `mapstructure:"tracing"`
	ConfigFile  string        `mapstructure:"-"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // grpc or http
	ServiceName string  `mapstructure:"service_name"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether an exporter endpoint is configured, directly or
// through OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether W3C trace headers are injected. Defaults to
// Enabled unless set explicitly.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// DirectMode reports whether clients skip login and use HubURL and Token.
func (c Config) DirectMode() bool {
	return strings.TrimSpace(c.HubURL) != ""
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if c.DirectMode() {
		if !hasScheme(c.HubURL, "http", "https", "ws", "wss") {
			issues = append(issues, "hub-url must be an http(s) or ws(s) URL")
		}
		if strings.TrimSpace(c.Token) == "" {
			issues = append(issues, "token is required with hub-url")
		}
	} else if !hasScheme(c.URL, "http", "https") {
		issues = append(issues, "url must start with http")
	}

	if c.Threads < 1 {
		issues = append(issues, "threads must be at least 1")
	}
	if c.Delay < MinDelay {
		issues = append(issues, fmt.Sprintf("delay must be at least %dms", MinDelay.Milliseconds()))
	}
	if c.Size < MinSize || c.Size > MaxSize {
		issues = append(issues, fmt.Sprintf("size must be between %d and %d", MinSize, MaxSize))
	}
	if c.AvgCount < MinAvgCount || c.AvgCount > MaxAvgCount {
		issues = append(issues, fmt.Sprintf("avg-count must be between %d and %d", MinAvgCount, MaxAvgCount))
	}
	if len(c.UserPrefix) > MaxUserPrefixLen {
		issues = append(issues, fmt.Sprintf("user-prefix must be at most %d characters", MaxUserPrefixLen))
	}
	if c.Duration < 0 {
		issues = append(issues, "duration must be non-negative")
	}
	if c.ConnectRate < 0 {
		issues = append(issues, "connect-rate must be non-negative")
	}
	if c.StartupAttempts < 1 {
		issues = append(issues, "startup-attempts must be at least 1")
	}
	if c.StartupInterval <= 0 {
		issues = append(issues, "startup-interval must be positive")
	}
	if c.ReconnectAttempts < 1 {
		issues = append(issues, "reconnect-attempts must be at least 1")
	}
	if c.HandshakeTimeout <= 0 {
		issues = append(issues, "handshake-timeout must be positive")
	}
	if c.LoginTimeout <= 0 {
		issues = append(issues, "login-timeout must be positive")
	}
	if c.UseCounter {
		files := []struct{ flag, path string }{
			{"counters-file", c.CountersFile},
			{"reconnect-file", c.ReconnectFile},
			{"connect-file", c.ConnectFile},
		}
		for _, f := range files {
			if strings.TrimSpace(f.path) == "" {
				issues = append(issues, f.flag+" must not be empty")
			}
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log-level %q is not one of debug, info, warn, error", c.LogLevel))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing sample rate must be between 0.0 and 1.0")
	}
	switch strings.ToLower(c.Tracing.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol %q must be grpc or http", c.Tracing.Protocol))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func hasScheme(raw string, schemes ...string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return true
		}
	}
	return false
}
