package cloudreport

import (
	"context"
	"net/http"
	"time"

	"github.com/hnakamur/errstack"
	"github.com/hnakamur/ltsvlog"
)

// Fetcher pulls raw metric samples from the monitoring provider for one
// bounded time window. Implementations return whatever they could retrieve,
// an error means the whole window yielded nothing.
type Fetcher interface {
	Fetch(ctx context.Context, window TimeWindow, period time.Duration) ([]MetricRecord, error)
}

// Sink receives one newline-delimited JSON batch per window and reports the
// downstream status code verbatim.
type Sink interface {
	Upload(ctx context.Context, data []byte) (status int, body []byte, err error)
}

// CycleResult is the tagged outcome of one fetch/transpose/upload cycle.
type CycleResult struct {
	Window  TimeWindow
	Records int
	Status  int
	Err     error
}

// Scheduler drives the ingestion pipeline, either as a finite historical
// replay or an endless realtime polling loop. It is strictly sequential: a
// window's upload finishes (or terminally fails) before the cursor advances,
// so no window is ever skipped or double counted.
type Scheduler struct {
	Fetcher Fetcher
	Sink    Sink

	// Period is the spacing between datapoints requested from the provider.
	Period time.Duration
	// UpdateInterval is the target cadence between realtime cycles.
	UpdateInterval time.Duration
	// Delay keeps realtime queries this far behind the wall clock so only
	// settled data is fetched.
	Delay time.Duration
	// MaxDatapoints bounds how many points a single provider query may
	// return, it caps the window length together with Period.
	MaxDatapoints int

	// Results, when set, receives one CycleResult per cycle. Sends never
	// block, a slow receiver loses results rather than stalling the loop.
	Results chan<- CycleResult

	nowFunc func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) bool
}

// NewScheduler returns a scheduler with the default intervals.
func NewScheduler(fetcher Fetcher, sink Sink) *Scheduler {
	return &Scheduler{
		Fetcher:        fetcher,
		Sink:           sink,
		Period:         DefaultReportingIntervalSeconds * time.Second,
		UpdateInterval: DefaultUpdateIntervalSeconds * time.Second,
		Delay:          DefaultDelaySeconds * time.Second,
		MaxDatapoints:  MaxDatapointsPerQuery,
		nowFunc:        time.Now,
		sleepFn:        sleepContext,
	}
}

// RunHistorical replays [start, end) window by window. A zero end means up
// to now. Fetch and upload failures are reported and the cursor advances
// anyway, delivery is best effort and never retried. Cancellation is
// observed between windows.
func (s *Scheduler) RunHistorical(ctx context.Context, start, end time.Time) {
	if end.IsZero() {
		end = s.nowFunc().UTC()
	}
	span := QuerySpan(s.MaxDatapoints, s.Period)
	for _, w := range SplitRange(start, end, span) {
		if ctx.Err() != nil {
			return
		}
		ltsvlog.Logger.Info().Fmt("msg", "querying metrics starting at %s", w.Start.Format(TimestampFormat)).Log()
		s.report(s.runWindow(ctx, w))
	}
}

// RunRealtime polls forever, each cycle covering the span since the last one
// up to now minus Delay. A cycle that overruns UpdateInterval is followed
// immediately by the next one instead of stacking delay. Cancelling ctx
// stops the loop at the next cycle boundary, an in-flight upload is never
// torn down.
func (s *Scheduler) RunRealtime(ctx context.Context) {
	last := s.nowFunc().UTC().Add(-s.Delay).Add(-s.UpdateInterval)
	for {
		if ctx.Err() != nil {
			ltsvlog.Logger.Info().String("msg", "terminating realtime queries").Log()
			return
		}
		began := s.nowFunc()
		end := began.UTC().Add(-s.Delay)
		w := TimeWindow{Start: last, End: end}
		if !w.Empty() {
			ltsvlog.Logger.Info().Fmt("msg", "querying metrics from %s to %s",
				w.Start.Format(TimestampFormat), w.End.Format(TimestampFormat)).Log()
			s.report(s.runWindow(ctx, w))
			last = end
		}

		d := s.UpdateInterval - s.nowFunc().Sub(began)
		if d < 0 {
			d = 0
		}
		if !s.sleepFn(ctx, d) {
			ltsvlog.Logger.Info().String("msg", "terminating realtime queries").Log()
			return
		}
	}
}

// runWindow executes one full cycle for the window: fetch, transpose,
// upload. It never returns early on a rejected upload, the outcome is
// carried in the result.
func (s *Scheduler) runWindow(ctx context.Context, w TimeWindow) CycleResult {
	res := CycleResult{Window: w}

	records, err := s.Fetcher.Fetch(ctx, w, s.Period)
	if err != nil {
		res.Err = errstack.WithLV(errstack.Errorf("fetch window %s err=%+v", w, err))
		return res
	}

	// the fetcher already sorts, kept here so the transpose precondition
	// holds no matter which Fetcher is wired in
	SortRecords(records)
	transposed := Transpose(records)
	res.Records = len(transposed)
	if len(transposed) == 0 {
		return res
	}

	data, err := EncodeNDJSON(transposed)
	if err != nil {
		res.Err = errstack.WithLV(errstack.Errorf("encode window %s err=%+v", w, err))
		return res
	}

	status, body, err := s.Sink.Upload(ctx, data)
	res.Status = status
	if err != nil {
		res.Err = errstack.WithLV(errstack.Errorf("upload window %s err=%+v", w, err))
		return res
	}
	if status != http.StatusAccepted {
		res.Err = errstack.WithLV(errstack.Errorf("upload window %s rejected status=%d body=%s", w, status, body))
	}
	return res
}

func (s *Scheduler) report(res CycleResult) {
	if res.Err != nil {
		ltsvlog.Logger.Err(res.Err)
	} else {
		ltsvlog.Logger.Info().Fmt("msg", "window %s records=%d status=%d", res.Window, res.Records, res.Status).Log()
	}
	if s.Results != nil {
		select {
		case s.Results <- res:
		default:
		}
	}
}

// sleepContext waits for d or until ctx is cancelled, reporting whether the
// loop should keep running.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
