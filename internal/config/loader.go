package config

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct {
	// prefixSuffix picks the random suffix of the default user prefix.
	prefixSuffix func() int
}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{prefixSuffix: func() int { return 1000 + rand.IntN(8999) }}
}

// Defaults returns the configuration used when neither file nor flags set a value.
func Defaults() *Config {
	return &Config{
		URL:               DefaultURL,
		Password:          DefaultPassword,
		Threads:           1,
		Delay:             DefaultDelay,
		Size:              DefaultSize,
		AvgCount:          DefaultAvgCount,
		StartupAttempts:   10,
		StartupInterval:   time.Second,
		ReconnectAttempts: 10,
		HandshakeTimeout:  15 * time.Second,
		LoginTimeout:      30 * time.Second,
		HandshakeMethod:   DefaultHandshakeMethod,
		Headers:           map[string]string{},
		CountersFile:      DefaultCountersFile,
		ReconnectFile:     DefaultReconnectFile,
		ConnectFile:       DefaultConnectFile,
		Progress:          true,
		LogLevel:          "info",
		Tracing:           TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

// Load parses command-line arguments and configuration files to produce a Config.
// Every option has a default, so no arguments at all is a valid invocation.
func (l Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(rest, " "))
	}

	configPath := flagSet.Lookup("config").Value.String()
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.URL = strings.TrimSpace(cfg.URL)
	cfg.HubURL = strings.TrimSpace(cfg.HubURL)
	if strings.TrimSpace(cfg.UserPrefix) == "" && l.prefixSuffix != nil {
		cfg.UserPrefix = fmt.Sprintf("user-%d", l.prefixSuffix())
	}
	if cfg.MessageCount < 0 {
		cfg.MessageCount = 0
	}

	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	stringSettings := []struct {
		keys []string
		dst  *string
	}{
		{[]string{"url"}, &cfg.URL},
		{[]string{"password"}, &cfg.Password},
		{[]string{"hub_url", "huburl", "hub-url"}, &cfg.HubURL},
		{[]string{"token"}, &cfg.Token},
		{[]string{"user_prefix", "userprefix", "user-prefix"}, &cfg.UserPrefix},
		{[]string{"handshake_method", "handshakemethod", "handshake-method"}, &cfg.HandshakeMethod},
		{[]string{"counters_file", "countersfile", "counters-file"}, &cfg.CountersFile},
		{[]string{"reconnect_file", "reconnectfile", "reconnect-file"}, &cfg.ReconnectFile},
		{[]string{"connect_file", "connectfile", "connect-file"}, &cfg.ConnectFile},
		{[]string{"log_level", "loglevel", "log-level"}, &cfg.LogLevel},
		{[]string{"metrics_addr", "metricsaddr", "metrics-addr"}, &cfg.MetricsAddr},
	}
	for _, s := range stringSettings {
		raw, ok := lookupSetting(settings, s.keys...)
		if !ok {
			continue
		}
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.keys[0], err)
		}
		*s.dst = strings.TrimSpace(val)
	}

	intSettings := []struct {
		keys []string
		dst  *int
	}{
		{[]string{"threads", "thread_count", "threadcount"}, &cfg.Threads},
		{[]string{"message_count", "messagecount", "message-count"}, &cfg.MessageCount},
		{[]string{"size"}, &cfg.Size},
		{[]string{"avg_count", "avgcount", "avg-count"}, &cfg.AvgCount},
		{[]string{"connect_rate", "connectrate", "connect-rate"}, &cfg.ConnectRate},
		{[]string{"startup_attempts", "startupattempts", "startup-attempts"}, &cfg.StartupAttempts},
		{[]string{"reconnect_attempts", "reconnectattempts", "reconnect-attempts"}, &cfg.ReconnectAttempts},
	}
	for _, s := range intSettings {
		raw, ok := lookupSetting(settings, s.keys...)
		if !ok {
			continue
		}
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.keys[0], err)
		}
		*s.dst = val
	}

	boolSettings := []struct {
		keys []string
		dst  *bool
	}{
		{[]string{"use_counter", "usecounter", "use-counter"}, &cfg.UseCounter},
		{[]string{"fast_reconnect", "fastreconnect", "fast-reconnect"}, &cfg.FastReconnect},
		{[]string{"verbose_counters", "verbosecounters", "verbose-counters"}, &cfg.VerboseCounters},
		{[]string{"json_output", "jsonoutput", "json-output"}, &cfg.JSONOutput},
		{[]string{"progress"}, &cfg.Progress},
	}
	for _, s := range boolSettings {
		raw, ok := lookupSetting(settings, s.keys...)
		if !ok {
			continue
		}
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.keys[0], err)
		}
		*s.dst = val
	}

	durationSettings := []struct {
		keys []string
		dst  *time.Duration
	}{
		{[]string{"duration"}, &cfg.Duration},
		{[]string{"startup_interval", "startupinterval", "startup-interval"}, &cfg.StartupInterval},
		{[]string{"handshake_timeout", "handshaketimeout", "handshake-timeout"}, &cfg.HandshakeTimeout},
		{[]string{"login_timeout", "logintimeout", "login-timeout"}, &cfg.LoginTimeout},
	}
	for _, s := range durationSettings {
		raw, ok := lookupSetting(settings, s.keys...)
		if !ok {
			continue
		}
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.keys[0], err)
		}
		*s.dst = val
	}

	if raw, ok := lookupSetting(settings, "delay", "delay_ms", "delaymilliseconds"); ok {
		val, err := asMillis(raw)
		if err != nil {
			return fmt.Errorf("delay: %w", err)
		}
		cfg.Delay = val
	}

	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, v := range hdrs {
			cfg.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tracing, err := parseTracing(raw, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tracing
	}

	return nil
}

func parseTracing(value interface{}, base TracingConfig) (TracingConfig, error) {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return base, err
	}
	out := base
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		if out.Endpoint, err = asString(raw); err != nil {
			return base, fmt.Errorf("endpoint: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		if out.Protocol, err = asString(raw); err != nil {
			return base, fmt.Errorf("protocol: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "service_name", "servicename", "service-name"); ok {
		if out.ServiceName, err = asString(raw); err != nil {
			return base, fmt.Errorf("service_name: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		if out.Insecure, err = asBool(raw); err != nil {
			return base, fmt.Errorf("insecure: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "sample_rate", "samplerate", "sample-rate"); ok {
		if out.SampleRate, err = asFloat64(raw); err != nil {
			return base, fmt.Errorf("sample_rate: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return base, fmt.Errorf("propagate: %w", err)
		}
		out.Propagate = &val
	}
	return out, nil
}
