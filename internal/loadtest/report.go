package loadtest

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/montanaflynn/stats"
)

// Thresholds fail a run when exceeded. Zero values disable a threshold.
type Thresholds struct {
	P95              time.Duration `yaml:"p95"`
	MaxFailureRate   float64       `yaml:"max_failure_rate"`
	MaxCheckFailRate float64       `yaml:"max_check_fail_rate"`
}

// DefaultThresholds are p95 under 500ms, under 1% failed requests and under
// 10% failed checks.
var DefaultThresholds = Thresholds{
	P95:              500 * time.Millisecond,
	MaxFailureRate:   0.01,
	MaxCheckFailRate: 0.1,
}

// Latency summarises request durations.
type Latency struct {
	Avg time.Duration `yaml:"avg"`
	Med time.Duration `yaml:"med"`
	P90 time.Duration `yaml:"p90"`
	P95 time.Duration `yaml:"p95"`
	Max time.Duration `yaml:"max"`
}

// EndpointStats is the per-route breakdown.
type EndpointStats struct {
	Endpoint string  `yaml:"endpoint"`
	Requests int     `yaml:"requests"`
	Failed   int     `yaml:"failed"`
	Latency  Latency `yaml:"latency"`
}

// CheckResult counts one named assertion.
type CheckResult struct {
	Name   string `yaml:"name"`
	Passed int64  `yaml:"passed"`
	Failed int64  `yaml:"failed"`
}

// Report is the outcome of a run.
type Report struct {
	Duration    time.Duration   `yaml:"duration"`
	Iterations  int64           `yaml:"iterations"`
	MaxVUs      int             `yaml:"max_vus"`
	Requests    int             `yaml:"requests"`
	Failed      int             `yaml:"failed"`
	FailureRate float64         `yaml:"failure_rate"`
	Latency     Latency         `yaml:"latency"`
	Endpoints   []EndpointStats `yaml:"endpoints"`
	Checks      []CheckResult   `yaml:"checks"`
	Breaches    []string        `yaml:"breaches,omitempty"`
}

// Passed reports whether no threshold was breached.
func (r *Report) Passed() bool {
	return len(r.Breaches) == 0
}

// CheckFailRate is the share of failed checks.
func (r *Report) CheckFailRate() float64 {
	var passed, failed int64
	for _, c := range r.Checks {
		passed += c.Passed
		failed += c.Failed
	}
	if passed+failed == 0 {
		return 0
	}
	return float64(failed) / float64(passed+failed)
}

func buildReport(samples []sample, checkResults []CheckResult, th Thresholds) *Report {
	r := &Report{Requests: len(samples), Checks: checkResults}

	byEndpoint := map[string][]sample{}
	for _, s := range samples {
		if s.failed {
			r.Failed++
		}
		byEndpoint[s.endpoint] = append(byEndpoint[s.endpoint], s)
	}
	if r.Requests > 0 {
		r.FailureRate = float64(r.Failed) / float64(r.Requests)
	}
	r.Latency = summarise(samples)

	names := make([]string, 0, len(byEndpoint))
	for name := range byEndpoint {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		group := byEndpoint[name]
		es := EndpointStats{Endpoint: name, Requests: len(group), Latency: summarise(group)}
		for _, s := range group {
			if s.failed {
				es.Failed++
			}
		}
		r.Endpoints = append(r.Endpoints, es)
	}

	r.Breaches = evaluate(r, th)
	return r
}

func evaluate(r *Report, th Thresholds) []string {
	var breaches []string
	if r.Requests == 0 {
		return []string{"no requests were made"}
	}
	if th.P95 > 0 && r.Latency.P95 >= th.P95 {
		breaches = append(breaches, fmt.Sprintf("p(95) request duration %s >= %s", r.Latency.P95, th.P95))
	}
	if th.MaxFailureRate > 0 && r.FailureRate >= th.MaxFailureRate {
		breaches = append(breaches, fmt.Sprintf("failed request rate %.2f%% >= %.2f%%", 100*r.FailureRate, 100*th.MaxFailureRate))
	}
	if rate := r.CheckFailRate(); th.MaxCheckFailRate > 0 && rate >= th.MaxCheckFailRate {
		breaches = append(breaches, fmt.Sprintf("failed check rate %.2f%% >= %.2f%%", 100*rate, 100*th.MaxCheckFailRate))
	}
	return breaches
}

func summarise(samples []sample) Latency {
	if len(samples) == 0 {
		return Latency{}
	}
	data := make(stats.Float64Data, len(samples))
	for i, s := range samples {
		data[i] = float64(s.duration)
	}
	d := func(f float64, err error) time.Duration {
		if err != nil {
			return 0
		}
		return time.Duration(f)
	}
	return Latency{
		Avg: d(data.Mean()),
		Med: d(data.Median()),
		P90: d(data.Percentile(90)),
		P95: d(data.Percentile(95)),
		Max: d(data.Max()),
	}
}

// Write prints the report as tables.
func (r *Report) Write(w io.Writer) error {
	ms := func(d time.Duration) string { return d.Round(10 * time.Microsecond).String() }

	summary := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("metric", "value").
		Row("duration", r.Duration.Round(time.Millisecond).String()).
		Row("max vus", strconv.Itoa(r.MaxVUs)).
		Row("iterations", strconv.FormatInt(r.Iterations, 10)).
		Row("requests", strconv.Itoa(r.Requests)).
		Row("failed", fmt.Sprintf("%d (%.2f%%)", r.Failed, 100*r.FailureRate)).
		Row("avg", ms(r.Latency.Avg)).
		Row("p(95)", ms(r.Latency.P95)).
		Row("max", ms(r.Latency.Max))

	endpoints := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("endpoint", "reqs", "failed", "avg", "med", "p(90)", "p(95)", "max")
	for _, e := range r.Endpoints {
		endpoints.Row(e.Endpoint, strconv.Itoa(e.Requests), strconv.Itoa(e.Failed),
			ms(e.Latency.Avg), ms(e.Latency.Med), ms(e.Latency.P90), ms(e.Latency.P95), ms(e.Latency.Max))
	}

	checksTable := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("check", "passed", "failed")
	for _, c := range r.Checks {
		checksTable.Row(c.Name, strconv.FormatInt(c.Passed, 10), strconv.FormatInt(c.Failed, 10))
	}

	verdict := "thresholds passed"
	if !r.Passed() {
		verdict = "thresholds breached:"
		for _, b := range r.Breaches {
			verdict += "\n  - " + b
		}
	}

	_, err := fmt.Fprintf(w, "%s\n%s\n%s\n%s\n", summary.Render(), endpoints.Render(), checksTable.Render(), verdict)
	return err
}
