package loadtest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Paul-frank/bluegreen-todo-api/internal/client"
)

// Options configures a run.
type Options struct {
	BaseURL        string
	Schedule       Schedule
	ThinkTime      time.Duration
	RequestTimeout time.Duration
	GracefulStop   time.Duration
	Thresholds     Thresholds
	// Tick is how often the number of virtual users is adjusted.
	Tick      time.Duration
	Transport http.RoundTripper
	Logger    *log.Logger
}

func (o *Options) setDefaults() {
	if len(o.Schedule) == 0 {
		o.Schedule = DefaultSchedule
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.GracefulStop <= 0 {
		o.GracefulStop = 30 * time.Second
	}
	if o.Tick <= 0 {
		o.Tick = 100 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

type vu struct {
	id   int
	stop chan struct{}
}

// Run drives the schedule against opts.BaseURL and returns the report. The
// error is non-nil only when the run could not start; threshold breaches are
// reported through Report.Passed.
func Run(ctx context.Context, opts Options) (*Report, error) {
	opts.setDefaults()
	if err := opts.Schedule.Validate(); err != nil {
		return nil, err
	}

	rec := newRecorder(opts.Transport)
	c, err := client.New(opts.BaseURL, client.WithHTTPClient(&http.Client{
		Transport: rec,
		Timeout:   opts.RequestTimeout,
	}))
	if err != nil {
		return nil, err
	}
	sc := &scenario{client: c, think: opts.ThinkTime, checks: newChecks()}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg         sync.WaitGroup
		active     []*vu
		started    int
		iterations atomic.Int64
		maxVUs     int
	)
	spawn := func() {
		started++
		v := &vu{id: started, stop: make(chan struct{})}
		active = append(active, v)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-v.stop:
					return
				default:
				}
				if sc.iteration(runCtx, v.stop) {
					iterations.Add(1)
				}
			}
		}()
	}
	retire := func() {
		last := active[len(active)-1]
		close(last.stop)
		active = active[:len(active)-1]
	}

	opts.Logger.Info("load test starting",
		"base_url", opts.BaseURL,
		"stages", len(opts.Schedule),
		"duration", opts.Schedule.Duration(),
		"max_vus", opts.Schedule.MaxVUs(),
	)

	start := time.Now()
	ticker := time.NewTicker(opts.Tick)
	defer ticker.Stop()

	interrupted := false
loop:
	for {
		target, running := opts.Schedule.VUsAt(time.Since(start))
		if !running {
			break
		}
		if target != len(active) {
			opts.Logger.Debug("adjusting virtual users", "from", len(active), "to", target)
		}
		for len(active) < target {
			spawn()
		}
		for len(active) > target {
			retire()
		}
		if len(active) > maxVUs {
			maxVUs = len(active)
		}

		select {
		case <-ctx.Done():
			interrupted = true
			break loop
		case <-ticker.C:
		}
	}

	for len(active) > 0 {
		retire()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(opts.GracefulStop):
		opts.Logger.Warn("virtual users still running after graceful stop, aborting", "graceful_stop", opts.GracefulStop)
		cancel()
		<-done
	}

	report := buildReport(rec.snapshot(), sc.checks.results(), opts.Thresholds)
	report.Duration = time.Since(start)
	report.Iterations = iterations.Load()
	report.MaxVUs = maxVUs

	opts.Logger.Info("load test finished",
		"requests", report.Requests,
		"failed", report.Failed,
		"p95", report.Latency.P95,
		"passed", report.Passed(),
	)

	if interrupted {
		return report, fmt.Errorf("load test interrupted: %w", context.Cause(ctx))
	}
	return report, nil
}
