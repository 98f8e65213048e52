package metrics

import "time"

// Summary is the end of run report.
type Summary struct {
	RunID    string        `json:"run_id"`
	Clients  int           `json:"clients"`
	Admitted int           `json:"admitted"`
	Cycles   int64         `json:"cycles"`
	Duration time.Duration `json:"-"`

	DurationMs float64 `json:"duration_ms"`

	Latency  LatencyStats `json:"latency"`
	Fast     int64        `json:"fast"`
	Slow     int64        `json:"slow"`
	SlowRate float64      `json:"slow_rate"`

	Sent          int64 `json:"sent"`
	SentBytes     int64 `json:"sent_bytes"`
	Received      int64 `json:"received"`
	ReceivedBytes int64 `json:"received_bytes"`

	ConnectionSuccesses int64 `json:"connection_successes"`
	ConnectionFailures  int64 `json:"connection_failures"`

	Reconnect *Percentiles `json:"reconnect,omitempty"`
	Connect   *Percentiles `json:"connect,omitempty"`
}

// Summarize builds a Summary from the run's counters. Any counter may be nil.
func Summarize(elapsed time.Duration, hist *HistogramCounter, reconnect, connect *PercentileCounter) Summary {
	s := Summary{
		Duration:   elapsed,
		DurationMs: float64(elapsed) / float64(time.Millisecond),
	}
	if hist != nil {
		snap := hist.Snapshot()
		s.Latency = hist.LatencyStats()
		s.Fast = snap.Fast()
		s.Slow = snap.Slow()
		if sum := snap.Sum(); sum > 0 {
			s.SlowRate = float64(s.Slow) / float64(sum)
		}
		s.Sent = snap.Sent
		s.SentBytes = snap.SentBytes
		s.Received = snap.Received
		s.ReceivedBytes = snap.ReceivedBytes
		s.ConnectionSuccesses = snap.ConnectionSuccess
		s.ConnectionFailures = snap.ConnectionFailure
	}
	if reconnect != nil {
		if p, ok := reconnect.Percentiles(); ok {
			s.Reconnect = &p
		}
	}
	if connect != nil {
		if p, ok := connect.Percentiles(); ok {
			s.Connect = &p
		}
	}
	return s
}
