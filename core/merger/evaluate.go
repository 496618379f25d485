package merger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/fluxgo/core/events"
	"github.com/kilianp07/fluxgo/core/gateway"
	"github.com/kilianp07/fluxgo/core/logger"
	"github.com/kilianp07/fluxgo/core/metrics"
	"github.com/kilianp07/fluxgo/core/model"
	"github.com/kilianp07/fluxgo/core/monitoring"
	"github.com/kilianp07/fluxgo/core/strategy"
	infralogger "github.com/kilianp07/fluxgo/infra/logger"
)

// DefaultConcurrency bounds the number of strategy calls in flight.
const DefaultConcurrency = 16

// Evaluator asks every active strategy about every block and merges the answers.
type Evaluator struct {
	Registry    *gateway.Registry
	Metrics     metrics.MetricsSink
	Logger      logger.Logger
	Concurrency int
}

// Result is the outcome of one evaluation round.
type Result struct {
	Decisions  []model.StrategyDecision
	Candidates [][]Candidate
	Fallbacks  []events.FallbackEvent
	// Disabled lists the handles disabled at the end of this round.
	Disabled []string
}

// NewEvaluator returns an Evaluator bound to reg.
func NewEvaluator(reg *gateway.Registry, sink metrics.MetricsSink, log logger.Logger) *Evaluator {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = infralogger.NopLogger{}
	}
	return &Evaluator{Registry: reg, Metrics: sink, Logger: log, Concurrency: DefaultConcurrency}
}

type call struct {
	handle int
	block  int
}

// Evaluate runs one round for cycleID. base carries the cycle context; Block
// and Index are set per call. Every call runs under the registry timeout and
// a failing call only affects its own candidate. Health of each handle is
// updated once per round: a handle with any failed call records one failure.
func (e *Evaluator) Evaluate(ctx context.Context, cycleID string, base strategy.Input) (Result, error) {
	blocks := base.All
	handles := e.Registry.Active()
	res := Result{Candidates: make([][]Candidate, len(blocks))}
	for i := range res.Candidates {
		res.Candidates[i] = make([]Candidate, len(handles))
	}
	if len(handles) == 0 {
		res.Candidates = nil
		res.Decisions = Merge(blocks, nil)
		return res, nil
	}

	limit := e.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	timeout := e.Registry.Timeout()

	var (
		mu       sync.Mutex
		calls    = make([]metrics.StrategyCall, 0, len(blocks)*len(handles))
		failures = make([]error, len(handles))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for hi := range handles {
		for bi := range blocks {
			c := call{handle: hi, block: bi}
			g.Go(func() error {
				h := handles[c.handle]
				in := base
				in.Block = blocks[c.block]
				in.Index = c.block
				started := time.Now()
				d, err := e.call(gctx, h, in, timeout)
				outcome := metrics.OutcomeOK
				if err != nil {
					outcome = outcomeOf(err)
				}
				res.Candidates[c.block][c.handle] = Candidate{Decision: d, Order: h.Order, Err: err}

				mu.Lock()
				calls = append(calls, metrics.StrategyCall{Strategy: h.Name, Outcome: outcome, Latency: time.Since(started), Time: started})
				if err != nil && failures[c.handle] == nil {
					failures[c.handle] = err
				}
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if rec, ok := e.Metrics.(metrics.StrategyCallRecorder); ok {
		if err := rec.RecordStrategyCalls(calls); err != nil {
			e.Logger.Warnf("record strategy calls: %v", err)
		}
	}
	for hi, h := range handles {
		if failures[hi] == nil {
			e.Registry.RecordSuccess(h.Name)
			continue
		}
		if e.Registry.RecordFailure(h.Name, failures[hi]) {
			res.Disabled = append(res.Disabled, h.Name)
		}
	}
	for bi, set := range res.Candidates {
		for _, c := range set {
			if c.Err == nil {
				continue
			}
			var se *model.StrategyError
			timedOut := errors.As(c.Err, &se) && se.Timeout
			res.Fallbacks = append(res.Fallbacks, events.FallbackEvent{
				CycleID:  cycleID,
				Strategy: c.Decision.StrategyName,
				Block:    blocks[bi].Start,
				Reason:   c.Err.Error(),
				Timeout:  timedOut,
			})
		}
	}
	res.Decisions = Merge(blocks, res.Candidates)
	return res, nil
}

type reply struct {
	d   model.StrategyDecision
	err error
}

// call runs one strategy evaluation. The strategy runs in its own goroutine
// so that an implementation ignoring ctx cannot hold the round past timeout.
func (e *Evaluator) call(ctx context.Context, h gateway.Handle, in strategy.Input, timeout time.Duration) (model.StrategyDecision, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan reply, 1)
	go func() {
		var r reply
		err := monitoring.Guard("strategy:"+h.Name, func() error {
			var err error
			r.d, err = h.Strategy.Evaluate(cctx, in)
			return err
		})
		r.err = err
		ch <- r
	}()

	var r reply
	select {
	case r = <-ch:
	case <-cctx.Done():
		r.err = cctx.Err()
	}
	if r.err == nil {
		r.err = checkEcho(in.Block, r.d)
	}
	if r.err != nil {
		timedOut := errors.Is(r.err, context.DeadlineExceeded) || cctx.Err() == context.DeadlineExceeded
		e.Logger.Warnf("strategy %s failed for block %s: %v", h.Name, in.Block.Start.Format(time.RFC3339), r.err)
		return model.StrategyDecision{StrategyName: h.Name}, &model.StrategyError{
			Strategy: h.Name,
			Block:    in.Block.Start,
			Timeout:  timedOut,
			Err:      r.err,
		}
	}

	d := r.d
	if d.StrategyName == "" {
		d.StrategyName = h.Name
	}
	if h.PriorityOverride != nil {
		d.Priority = *h.PriorityOverride
	}
	return d, nil
}

func checkEcho(b model.ScheduleBlock, d model.StrategyDecision) error {
	if !d.BlockStart.IsZero() && !d.BlockStart.Equal(b.Start) {
		return fmt.Errorf("decision for %s returned for block %s",
			d.BlockStart.Format(time.RFC3339), b.Start.Format(time.RFC3339))
	}
	if !d.Mode.Valid() {
		return fmt.Errorf("invalid mode %d", int(d.Mode))
	}
	return nil
}

func outcomeOf(err error) string {
	var pe *monitoring.PanicError
	var se *model.StrategyError
	switch {
	case errors.As(err, &pe):
		return metrics.OutcomePanic
	case errors.As(err, &se) && se.Timeout:
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeError
	}
}
