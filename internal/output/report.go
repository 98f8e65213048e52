package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/torosent/pushload/internal/metrics"
)

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, s metrics.Summary) {
	fmt.Fprintln(w, "\n--- Push Load Results ---")
	if s.RunID != "" {
		fmt.Fprintf(w, "Run:               %s\n", s.RunID)
	}
	fmt.Fprintf(w, "Clients:           %d\n", s.Clients)
	fmt.Fprintf(w, "Admitted:          %d\n", s.Admitted)
	fmt.Fprintf(w, "Cycles:            %d\n", s.Cycles)
	fmt.Fprintf(w, "Duration:          %s\n", s.Duration)

	fmt.Fprintln(w, "\nMessages:")
	fmt.Fprintf(w, "  Sent:            %d (%d bytes)\n", s.Sent, s.SentBytes)
	fmt.Fprintf(w, "  Received:        %d (%d bytes)\n", s.Received, s.ReceivedBytes)

	fmt.Fprintln(w, "\nLatency:")
	if s.Latency.Count == 0 {
		fmt.Fprintln(w, "  None")
	} else {
		fmt.Fprintf(w, "  Min:             %dms\n", s.Latency.MinMs)
		fmt.Fprintf(w, "  Max:             %dms\n", s.Latency.MaxMs)
		fmt.Fprintf(w, "  Mean:            %.2fms\n", s.Latency.MeanMs)
		fmt.Fprintf(w, "  P50:             %dms\n", s.Latency.P50Ms)
		fmt.Fprintf(w, "  P90:             %dms\n", s.Latency.P90Ms)
		fmt.Fprintf(w, "  P99:             %dms\n", s.Latency.P99Ms)
		fmt.Fprintf(w, "  Fast/Slow:       %d/%d (%.1f%% slow)\n", s.Fast, s.Slow, s.SlowRate*100)
	}

	fmt.Fprintln(w, "\nConnections:")
	fmt.Fprintf(w, "  Successes:       %d\n", s.ConnectionSuccesses)
	fmt.Fprintf(w, "  Failures:        %d\n", s.ConnectionFailures)
	writePercentiles(w, "Connect", s.Connect)
	writePercentiles(w, "Reconnect", s.Reconnect)
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, s metrics.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func writePercentiles(w io.Writer, label string, p *metrics.Percentiles) {
	if p == nil {
		return
	}
	fmt.Fprintf(w, "  %-17sn=%d p90=%dms p95=%dms p99=%dms\n", label+":", p.Count, p.P90, p.P95, p.P99)
}
