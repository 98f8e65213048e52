package threshold

import (
	"strings"
	"testing"
	"time"

	"github.com/torosent/pushload/internal/metrics"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Threshold
		wantError bool
	}{
		{
			name:  "valid p95 latency threshold",
			input: "latency:p99 < 500",
			want: Threshold{
				Metric:    "latency",
				Aggregate: "p99",
				Operator:  "<",
				Value:     500,
				Raw:       "latency:p99 < 500",
			},
			wantError: false,
		},
		{
			name:  "valid failure rate threshold",
			input: "connect_failures:rate < 0.01",
			want: Threshold{
				Metric:    "connect_failures",
				Aggregate: "rate",
				Operator:  "<",
				Value:     0.01,
				Raw:       "connect_failures:rate < 0.01",
			},
			wantError: false,
		},
		{
			name:  "valid p95 reconnect with <=",
			input: "reconnect:p95 <= 1000",
			want: Threshold{
				Metric:    "reconnect",
				Aggregate: "p95",
				Operator:  "<=",
				Value:     1000,
				Raw:       "reconnect:p95 <= 1000",
			},
			wantError: false,
		},
		{
			name:  "valid received rate threshold with >",
			input: "messages_received:rate > 100",
			want: Threshold{
				Metric:    "messages_received",
				Aggregate: "rate",
				Operator:  ">",
				Value:     100,
				Raw:       "messages_received:rate > 100",
			},
			wantError: false,
		},
		{
			name:  "valid avg latency",
			input: "latency:avg < 200",
			want: Threshold{
				Metric:    "latency",
				Aggregate: "avg",
				Operator:  "<",
				Value:     200,
				Raw:       "latency:avg < 200",
			},
			wantError: false,
		},
		{
			name:  "valid admitted rate",
			input: "admitted:rate >= 0.99",
			want: Threshold{
				Metric:    "admitted",
				Aggregate: "rate",
				Operator:  ">=",
				Value:     0.99,
				Raw:       "admitted:rate >= 0.99",
			},
		},
		{
			name:      "empty string",
			input:     "",
			wantError: true,
		},
		{
			name:      "invalid format - missing operator",
			input:     "latency:p99 500",
			wantError: true,
		},
		{
			name:      "invalid metric",
			input:     "invalid_metric:p95 < 500",
			wantError: true,
		},
		{
			name:      "aggregate not offered by metric",
			input:     "latency:p95 < 500",
			wantError: true,
		},
		{
			name:      "invalid operator",
			input:     "latency:p99 << 500",
			wantError: true,
		},
		{
			name:      "invalid value - not a number",
			input:     "latency:p99 < abc",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("Parse() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError {
				if got.Metric != tt.want.Metric {
					t.Errorf("Parse() Metric = %v, want %v", got.Metric, tt.want.Metric)
				}
				if got.Aggregate != tt.want.Aggregate {
					t.Errorf("Parse() Aggregate = %v, want %v", got.Aggregate, tt.want.Aggregate)
				}
				if got.Operator != tt.want.Operator {
					t.Errorf("Parse() Operator = %v, want %v", got.Operator, tt.want.Operator)
				}
				if got.Value != tt.want.Value {
					t.Errorf("Parse() Value = %v, want %v", got.Value, tt.want.Value)
				}
				if got.Raw != tt.want.Raw {
					t.Errorf("Parse() Raw = %v, want %v", got.Raw, tt.want.Raw)
				}
			}
		})
	}
}

func TestParseMultiple(t *testing.T) {
	tests := []struct {
		name      string
		input     []string
		wantCount int
		wantError bool
	}{
		{
			name: "multiple valid thresholds",
			input: []string{
				"latency:p99 < 500",
				"connect_failures:rate < 0.01",
				"messages_received:rate > 100",
			},
			wantCount: 3,
			wantError: false,
		},
		{
			name:      "empty slice",
			input:     []string{},
			wantCount: 0,
			wantError: false,
		},
		{
			name: "one valid, one invalid",
			input: []string{
				"latency:p99 < 500",
				"invalid threshold",
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMultiple(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("ParseMultiple() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError && len(got) != tt.wantCount {
				t.Errorf("ParseMultiple() returned %d thresholds, want %d", len(got), tt.wantCount)
			}
		})
	}
}

func sampleSummary() metrics.Summary {
	return metrics.Summary{
		Clients:  100,
		Admitted: 98,
		Duration: 10 * time.Second,
		Latency: metrics.LatencyStats{
			Count:  1000,
			MinMs:  10,
			MaxMs:  500,
			MeanMs: 100.75,
			P50Ms:  80,
			P90Ms:  200,
			P99Ms:  400,
		},
		Fast:                990,
		Slow:                10,
		SlowRate:            0.01,
		Sent:                1000,
		Received:            1230,
		ConnectionSuccesses: 95,
		ConnectionFailures:  5,
		Connect:             &metrics.Percentiles{Count: 95, P90: 1200, P95: 1500, P99: 1900},
	}
}

func TestEvaluator(t *testing.T) {
	stats := sampleSummary()

	tests := []struct {
		name       string
		thresholds []string
		wantPass   []bool
	}{
		{
			name: "all thresholds pass",
			thresholds: []string{
				"latency:p99 < 500",
				"connect_failures:rate < 0.1",
				"messages_received:rate > 50",
			},
			wantPass: []bool{true, true, true},
		},
		{
			name: "some thresholds fail",
			thresholds: []string{
				"latency:p99 < 300",
				"connect_failures:rate < 0.01",
				"messages_received:rate > 50",
			},
			wantPass: []bool{false, false, true},
		},
		{
			name: "latency percentiles",
			thresholds: []string{
				"latency:p50 < 100",
				"latency:p90 < 250",
				"latency:p99 < 450",
			},
			wantPass: []bool{true, true, true},
		},
		{
			name: "avg and max latency",
			thresholds: []string{
				"latency:avg < 150",
				"latency:max < 600",
				"latency:min > 5",
			},
			wantPass: []bool{true, true, true},
		},
		{
			name: "slow replies",
			thresholds: []string{
				"slow:rate <= 0.01",
				"slow:count < 5",
			},
			wantPass: []bool{true, false},
		},
		{
			name: "connect cost and admission",
			thresholds: []string{
				"connect:p95 < 2000",
				"admitted:rate >= 0.99",
				"admitted:count == 98",
			},
			wantPass: []bool{true, false, true},
		},
		{
			name: "reconnect without samples reads zero",
			thresholds: []string{
				"reconnect:p99 < 1",
				"reconnect:count == 0",
			},
			wantPass: []bool{true, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thresholds, err := ParseMultiple(tt.thresholds)
			if err != nil {
				t.Fatalf("ParseMultiple() error = %v", err)
			}

			evaluator := NewEvaluator(thresholds)
			results := evaluator.Evaluate(stats)

			if len(results) != len(tt.wantPass) {
				t.Fatalf("got %d results, want %d", len(results), len(tt.wantPass))
			}

			for i, result := range results {
				if result.Pass != tt.wantPass[i] {
					t.Errorf("threshold[%d] %q: got pass=%v, want %v (actual=%.2f)",
						i, result.Threshold.Raw, result.Pass, tt.wantPass[i], result.Actual)
				}
			}
		})
	}
}

func TestEvaluatorNoThresholds(t *testing.T) {
	if got := NewEvaluator(nil).Evaluate(sampleSummary()); got != nil {
		t.Fatalf("Evaluate() = %v, want nil", got)
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name     string
		actual   float64
		operator string
		expected float64
		want     bool
	}{
		{"less than true", 50, "<", 100, true},
		{"less than false", 100, "<", 50, false},
		{"less than equal", 100, "<", 100, false},
		{"less than or equal true", 50, "<=", 100, true},
		{"less than or equal equal", 100, "<=", 100, true},
		{"less than or equal false", 150, "<=", 100, false},
		{"greater than true", 150, ">", 100, true},
		{"greater than false", 50, ">", 100, false},
		{"greater than equal", 100, ">", 100, false},
		{"greater than or equal true", 150, ">=", 100, true},
		{"greater than or equal equal", 100, ">=", 100, true},
		{"greater than or equal false", 50, ">=", 100, false},
		{"equal true", 100, "==", 100, true},
		{"equal false", 100, "==", 101, false},
		{"equal with floating point precision", 100.0000000001, "==", 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := compareValues(tt.actual, tt.operator, tt.expected)
			if got != tt.want {
				t.Errorf("compareValues(%.2f, %s, %.2f) = %v, want %v",
					tt.actual, tt.operator, tt.expected, got, tt.want)
			}
		})
	}
}

func TestExtractMetricValue(t *testing.T) {
	stats := sampleSummary()

	tests := []struct {
		name      string
		threshold Threshold
		want      float64
		wantError bool
	}{
		{"latency p50", Threshold{Metric: "latency", Aggregate: "p50"}, 80, false},
		{"latency p90", Threshold{Metric: "latency", Aggregate: "p90"}, 200, false},
		{"latency p99", Threshold{Metric: "latency", Aggregate: "p99"}, 400, false},
		{"latency avg", Threshold{Metric: "latency", Aggregate: "avg"}, 100.75, false},
		{"latency min", Threshold{Metric: "latency", Aggregate: "min"}, 10, false},
		{"latency max", Threshold{Metric: "latency", Aggregate: "max"}, 500, false},
		{"latency count", Threshold{Metric: "latency", Aggregate: "count"}, 1000, false},
		{"slow rate", Threshold{Metric: "slow", Aggregate: "rate"}, 0.01, false},
		{"connect p99", Threshold{Metric: "connect", Aggregate: "p99"}, 1900, false},
		{"connect count", Threshold{Metric: "connect", Aggregate: "count"}, 95, false},
		{"connect failures rate", Threshold{Metric: "connect_failures", Aggregate: "rate"}, 0.05, false},
		{"connect failures count", Threshold{Metric: "connect_failures", Aggregate: "count"}, 5, false},
		{"admitted rate", Threshold{Metric: "admitted", Aggregate: "rate"}, 0.98, false},
		{"messages sent rate", Threshold{Metric: "messages_sent", Aggregate: "rate"}, 100, false},
		{"messages received count", Threshold{Metric: "messages_received", Aggregate: "count"}, 1230, false},
		{"unsupported metric", Threshold{Metric: "invalid_metric", Aggregate: "p95"}, 0, true},
		{"unsupported aggregate for latency", Threshold{Metric: "latency", Aggregate: "rate"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractMetricValue(tt.threshold, stats)
			if (err != nil) != tt.wantError {
				t.Errorf("extractMetricValue() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError && got != tt.want {
				t.Errorf("extractMetricValue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateReportsExtractionErrors(t *testing.T) {
	results := NewEvaluator([]Threshold{{Metric: "latency", Aggregate: "rate", Operator: "<", Raw: "latency:rate < 1"}}).Evaluate(sampleSummary())
	if len(results) != 1 || results[0].Pass {
		t.Fatalf("expected a failing result, got %+v", results)
	}
	if !strings.Contains(results[0].Message, "error:") {
		t.Errorf("Message = %q, want an error message", results[0].Message)
	}
}
