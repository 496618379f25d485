package blocks

import (
	"fmt"
	"time"

	"github.com/kilianp07/fluxgo/core/logger"
	"github.com/kilianp07/fluxgo/core/model"
)

// DefaultDuration is the canonical block length.
const DefaultDuration = 15 * time.Minute

type options struct {
	gridFee float64
	now     time.Time
	log     logger.Logger
}

// Option customizes Build.
type Option func(*options)

// WithGridFee adds fee to every block's effective price.
func WithGridFee(fee float64) Option {
	return func(o *options) { o.gridFee = fee }
}

// WithNow drops blocks that ended before now.
func WithNow(now time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger reports deviating intervals to l.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// Build converts points into schedule blocks of the target duration. The
// output covers exactly the input span.
func Build(points []model.PricePoint, target time.Duration, opts ...Option) ([]model.ScheduleBlock, error) {
	if target <= 0 {
		return nil, &model.InputError{Reason: fmt.Sprintf("target block duration must be positive, got %s", target)}
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := validate(points); err != nil {
		return nil, err
	}
	span := points[len(points)-1].End().Sub(points[0].Start)
	if span < target {
		return nil, &model.InputError{
			Reason: fmt.Sprintf("series spans %s, shorter than one %s block", span, target),
			Err:    model.ErrInsufficientData,
		}
	}

	out := make([]model.ScheduleBlock, 0, int(span/target)+1)
	for _, p := range points {
		out = appendSplit(out, p, target, o)
	}

	if !o.now.IsZero() {
		kept := out[:0]
		for _, b := range out {
			if b.End().After(o.now) {
				kept = append(kept, b)
			}
		}
		out = kept
		if len(out) == 0 {
			return nil, &model.InputError{Reason: "no block ends after " + o.now.Format(time.RFC3339), Err: model.ErrInsufficientData}
		}
	}
	if !hasFull(out, target) {
		return nil, &model.InputError{
			Reason: fmt.Sprintf("no interval covers a full %s block", target),
			Err:    model.ErrInsufficientData,
		}
	}
	return out, nil
}

func hasFull(bs []model.ScheduleBlock, target time.Duration) bool {
	for _, b := range bs {
		if b.Duration == target {
			return true
		}
	}
	return false
}

func appendSplit(out []model.ScheduleBlock, p model.PricePoint, target time.Duration, o options) []model.ScheduleBlock {
	k := int(p.Duration / target)
	rest := p.Duration % target
	for i := 0; i < k; i++ {
		out = append(out, newBlock(p.Start.Add(time.Duration(i)*target), target, p.Price, o.gridFee))
	}
	if rest > 0 {
		b := newBlock(p.Start.Add(time.Duration(k)*target), rest, p.Price, o.gridFee)
		b.Note = fmt.Sprintf("interval of %s deviates from %s target", p.Duration, target)
		if o.log != nil {
			o.log.Warnf("price interval at %s: %s", p.Start.Format(time.RFC3339), b.Note)
		}
		out = append(out, b)
	}
	return out
}

func newBlock(start time.Time, d time.Duration, price, fee float64) model.ScheduleBlock {
	return model.ScheduleBlock{
		Start:          start,
		Duration:       d,
		Price:          price,
		EffectivePrice: price + fee,
	}
}

func validate(points []model.PricePoint) error {
	if len(points) == 0 {
		return &model.InputError{Reason: "empty price series", Err: model.ErrInsufficientData}
	}
	for i, p := range points {
		if p.Duration <= 0 {
			return &model.InputError{Reason: fmt.Sprintf("interval %d has non-positive duration", i)}
		}
		if i == 0 {
			continue
		}
		prev := points[i-1].End()
		switch {
		case p.Start.Before(prev):
			return &model.InputError{Reason: fmt.Sprintf("interval %d at %s overlaps or is out of order", i, p.Start.Format(time.RFC3339))}
		case p.Start.After(prev):
			return &model.InputError{Reason: fmt.Sprintf("gap before interval %d at %s", i, p.Start.Format(time.RFC3339))}
		}
	}
	return nil
}

// Current returns the index of the block containing t, or -1.
func Current(blocks []model.ScheduleBlock, t time.Time) int {
	for i, b := range blocks {
		if b.Contains(t) {
			return i
		}
	}
	return -1
}
