package threshold

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/torosent/pushload/internal/metrics"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Metric    string  // e.g., "latency", "connect_failures"
	Aggregate string  // e.g., "p90", "p99", "avg", "max", "rate"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Evaluator evaluates thresholds against collected metrics.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the run summary.
func (e *Evaluator) Evaluate(stats metrics.Summary) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		result := e.evaluateOne(t, stats)
		results = append(results, result)
	}
	return results
}

func (e *Evaluator) evaluateOne(t Threshold, stats metrics.Summary) Result {
	actual, err := extractMetricValue(t, stats)
	if err != nil {
		return Result{
			Threshold: t,
			Actual:    0,
			Pass:      false,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	message := fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value)
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   message,
	}
}

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "latency:p99 < 500"              (round trip percentile in ms)
// - "latency:avg < 200"              (mean round trip in ms)
// - "slow:rate < 0.01"               (share of replies in the open ended bucket)
// - "connect:p95 < 2000"             (login plus handshake cost in ms)
// - "reconnect:p99 < 1000"           (transport restart cost in ms)
// - "connect_failures:count < 10"    (closed or failed connections)
// - "admitted:rate >= 0.99"          (share of clients admitted at startup)
// - "messages_received:rate > 100"   (replies per second)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	// Pattern: metric:aggregate operator value
	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'latency:p99 < 500')", s)
	}

	metric := matches[1]
	aggregate := matches[2]
	operator := matches[3]
	valueStr := matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	aggregates, ok := supported[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: %s)", metric, strings.Join(metricNames(), ", "))
	}
	if !contains(aggregates, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(aggregates, ", "))
	}
	if !contains(operators, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

var thresholdPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

var operators = []string{"<", "<=", ">", ">=", "=="}

var supported = map[string][]string{
	"latency":           {"p50", "p90", "p99", "avg", "mean", "min", "max", "count"},
	"slow":              {"count", "rate"},
	"connect":           {"p90", "p95", "p99", "count"},
	"reconnect":         {"p90", "p95", "p99", "count"},
	"connect_failures":  {"count", "rate"},
	"admitted":          {"count", "rate"},
	"messages_sent":     {"count", "rate"},
	"messages_received": {"count", "rate"},
}

func metricNames() []string {
	names := make([]string, 0, len(supported))
	for name := range supported {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func extractMetricValue(t Threshold, stats metrics.Summary) (float64, error) {
	switch t.Metric {
	case "latency":
		return extractLatencyMetric(t.Aggregate, stats.Latency)
	case "slow":
		if t.Aggregate == "rate" {
			return stats.SlowRate, nil
		}
		return float64(stats.Slow), nil
	case "connect":
		return extractPercentileMetric(t.Aggregate, stats.Connect), nil
	case "reconnect":
		return extractPercentileMetric(t.Aggregate, stats.Reconnect), nil
	case "connect_failures":
		if t.Aggregate == "rate" {
			total := stats.ConnectionSuccesses + stats.ConnectionFailures
			if total == 0 {
				return 0, nil
			}
			return float64(stats.ConnectionFailures) / float64(total), nil
		}
		return float64(stats.ConnectionFailures), nil
	case "admitted":
		if t.Aggregate == "rate" {
			if stats.Clients == 0 {
				return 0, nil
			}
			return float64(stats.Admitted) / float64(stats.Clients), nil
		}
		return float64(stats.Admitted), nil
	case "messages_sent":
		return countOrRate(t.Aggregate, stats.Sent, stats.Duration.Seconds()), nil
	case "messages_received":
		return countOrRate(t.Aggregate, stats.Received, stats.Duration.Seconds()), nil
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
}

func extractLatencyMetric(aggregate string, l metrics.LatencyStats) (float64, error) {
	switch aggregate {
	case "p50":
		return float64(l.P50Ms), nil
	case "p90":
		return float64(l.P90Ms), nil
	case "p99":
		return float64(l.P99Ms), nil
	case "avg", "mean":
		return l.MeanMs, nil
	case "min":
		return float64(l.MinMs), nil
	case "max":
		return float64(l.MaxMs), nil
	case "count":
		return float64(l.Count), nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for latency", aggregate)
	}
}

// extractPercentileMetric reads a connect cost aggregate. No samples reads as 0.
func extractPercentileMetric(aggregate string, p *metrics.Percentiles) float64 {
	if p == nil {
		return 0
	}
	switch aggregate {
	case "p90":
		return float64(p.P90)
	case "p95":
		return float64(p.P95)
	case "p99":
		return float64(p.P99)
	default:
		return float64(p.Count)
	}
}

func countOrRate(aggregate string, count int64, seconds float64) float64 {
	if aggregate != "rate" {
		return float64(count)
	}
	if seconds <= 0 {
		return 0
	}
	return float64(count) / seconds
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
