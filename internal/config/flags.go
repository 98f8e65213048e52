package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pushload",
		Short:         "Load test a real-time message hub with many long-lived clients",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Target flags
	flags.StringP("url", "u", DefaultURL, "Login host; clients call <url>/auth/login")
	flags.String("password", DefaultPassword, "Password sent with every login")
	flags.String("hub-url", "", "Hub URL to connect to directly, skipping login")
	flags.String("token", "", "Access token used with --hub-url")
	flags.StringP("user-prefix", "U", "", "Client id prefix, at most 40 characters (default user-<random>)")

	// Load control flags
	flags.IntP("threads", "t", 1, "Number of virtual clients")
	flags.IntP("delay", "d", int(DefaultDelay/time.Millisecond), "Milliseconds between send cycles, at least 10")
	flags.IntP("message-count", "m", 0, "Send cycles to run (0 or less means unlimited)")
	flags.IntP("size", "s", DefaultSize, "Payload bytes per message, between 1 and 10000")
	flags.IntP("avg-count", "a", DefaultAvgCount, "Replies per logged average when counters are off, between 10 and 1000")
	flags.BoolP("use-counter", "c", false, "Aggregate latencies into counter files instead of per-client averages")
	flags.Duration("duration", 0, "How long to run the test (e.g. 30s, 1m; 0 means until interrupted)")
	flags.Int("connect-rate", 0, "Client creations per second during startup (0 means unlimited)")

	// Connection flags
	flags.Int("startup-attempts", 10, "Admission checks per client during startup")
	flags.Duration("startup-interval", time.Second, "Pause between admission checks")
	flags.Int("reconnect-attempts", 10, "Transport restarts per reconnect")
	flags.Bool("fast-reconnect", false, "Restart a dropped client's transport before logging in again")
	flags.Duration("handshake-timeout", 15*time.Second, "Hub handshake timeout")
	flags.Duration("login-timeout", 30*time.Second, "Login request timeout")
	flags.String("handshake-method", DefaultHandshakeMethod, "Hub method that marks a session connected (empty means on transport start)")
	flags.StringSlice("header", nil, "Additional hub request header in key=value form")

	// Counter flags
	flags.String("counters-file", DefaultCountersFile, "Latency distribution report file")
	flags.String("reconnect-file", DefaultReconnectFile, "Reconnect cost report file")
	flags.String("connect-file", DefaultConnectFile, "Connect cost report file")
	flags.Bool("verbose-counters", false, "Also write per-bucket JSON counters each report cycle")

	// Output flags
	flags.Bool("json-output", false, "Emit JSON formatted summary")
	flags.Bool("progress", true, "Show a live progress line on stderr")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Threshold flags
	flags.StringSlice("threshold", nil, "Pass/fail thresholds (repeatable, e.g. 'latency:p99 < 500')")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP endpoint for connect and login spans")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.String("tracing-service-name", "", "Service name reported with spans")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of spans to sample, 0.0 to 1.0")
	flags.Bool("tracing-propagate", true, "Inject W3C trace headers into login requests")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	stringFlags := []struct {
		name string
		dst  *string
	}{
		{"url", &cfg.URL},
		{"password", &cfg.Password},
		{"hub-url", &cfg.HubURL},
		{"token", &cfg.Token},
		{"user-prefix", &cfg.UserPrefix},
		{"handshake-method", &cfg.HandshakeMethod},
		{"counters-file", &cfg.CountersFile},
		{"reconnect-file", &cfg.ReconnectFile},
		{"connect-file", &cfg.ConnectFile},
		{"log-level", &cfg.LogLevel},
		{"metrics-addr", &cfg.MetricsAddr},
		{"tracing-endpoint", &cfg.Tracing.Endpoint},
		{"tracing-protocol", &cfg.Tracing.Protocol},
		{"tracing-service-name", &cfg.Tracing.ServiceName},
	}
	for _, f := range stringFlags {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetString(f.name)
		if err != nil {
			return err
		}
		*f.dst = strings.TrimSpace(val)
	}

	intFlags := []struct {
		name string
		dst  *int
	}{
		{"threads", &cfg.Threads},
		{"message-count", &cfg.MessageCount},
		{"size", &cfg.Size},
		{"avg-count", &cfg.AvgCount},
		{"connect-rate", &cfg.ConnectRate},
		{"startup-attempts", &cfg.StartupAttempts},
		{"reconnect-attempts", &cfg.ReconnectAttempts},
	}
	for _, f := range intFlags {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetInt(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	boolFlags := []struct {
		name string
		dst  *bool
	}{
		{"use-counter", &cfg.UseCounter},
		{"fast-reconnect", &cfg.FastReconnect},
		{"verbose-counters", &cfg.VerboseCounters},
		{"json-output", &cfg.JSONOutput},
		{"progress", &cfg.Progress},
		{"tracing-insecure", &cfg.Tracing.Insecure},
	}
	for _, f := range boolFlags {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetBool(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	durationFlags := []struct {
		name string
		dst  *time.Duration
	}{
		{"duration", &cfg.Duration},
		{"startup-interval", &cfg.StartupInterval},
		{"handshake-timeout", &cfg.HandshakeTimeout},
		{"login-timeout", &cfg.LoginTimeout},
	}
	for _, f := range durationFlags {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetDuration(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	if fs.Changed("delay") {
		val, err := fs.GetInt("delay")
		if err != nil {
			return err
		}
		cfg.Delay = time.Duration(val) * time.Millisecond
	}
	if fs.Changed("header") {
		values, err := fs.GetStringSlice("header")
		if err != nil {
			return err
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, raw := range values {
			key, val, ok := strings.Cut(raw, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return fmt.Errorf("invalid header %q, expected key=value", raw)
			}
			cfg.Headers[http.CanonicalHeaderKey(strings.TrimSpace(key))] = strings.TrimSpace(val)
		}
	}
	if fs.Changed("threshold") {
		values, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = values
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = &val
	}
	return nil
}
