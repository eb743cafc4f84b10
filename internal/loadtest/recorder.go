package loadtest

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

type sample struct {
	endpoint string
	duration time.Duration
	failed   bool
}

// recorder is an http.RoundTripper that times every request passing through.
// Requests aborted by the end of the run are not recorded.
type recorder struct {
	next http.RoundTripper
	now  func() time.Time

	mu      sync.Mutex
	samples []sample
}

func newRecorder(next http.RoundTripper) *recorder {
	if next == nil {
		next = http.DefaultTransport
	}
	return &recorder{next: next, now: time.Now}
}

func (rec *recorder) RoundTrip(req *http.Request) (*http.Response, error) {
	start := rec.now()
	resp, err := rec.next.RoundTrip(req)
	elapsed := rec.now().Sub(start)

	if err != nil && req.Context().Err() != nil {
		return resp, err
	}
	failed := err != nil || resp.StatusCode >= 400
	rec.add(sample{endpoint: req.Method + " " + route(req.URL.Path), duration: elapsed, failed: failed})
	return resp, err
}

func (rec *recorder) add(s sample) {
	rec.mu.Lock()
	rec.samples = append(rec.samples, s)
	rec.mu.Unlock()
}

func (rec *recorder) snapshot() []sample {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]sample, len(rec.samples))
	copy(out, rec.samples)
	return out
}

// route replaces the id segment of /todos/{id} so samples group per endpoint.
func route(path string) string {
	segs := strings.Split(path, "/")
	if n := len(segs); n >= 2 && segs[n-2] == "todos" && segs[n-1] != "" {
		segs[n-1] = "{id}"
	}
	return strings.Join(segs, "/")
}

// checks counts named pass/fail assertions made by the scenario.
type checks struct {
	mu     sync.Mutex
	order  []string
	counts map[string]*[2]int64
}

func newChecks() *checks {
	return &checks{counts: map[string]*[2]int64{}}
}

func (c *checks) record(name string, ok bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, seen := c.counts[name]
	if !seen {
		n = new([2]int64)
		c.counts[name] = n
		c.order = append(c.order, name)
	}
	if ok {
		n[0]++
	} else {
		n[1]++
	}
	return ok
}

func (c *checks) results() []CheckResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CheckResult, 0, len(c.order))
	for _, name := range c.order {
		n := c.counts[name]
		out = append(out, CheckResult{Name: name, Passed: n[0], Failed: n[1]})
	}
	return out
}
