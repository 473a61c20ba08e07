package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spec-kit/courier-track/internal/domain"
)

// ErrSourceClosed is returned when pushing into a source with no active watch.
var ErrSourceClosed = errors.New("no active position watch")

// SampleSource models the device positioning sensor: a continuous
// subscription yielding samples or errors, cancelled via the context.
type SampleSource interface {
	Watch(ctx context.Context) (<-chan domain.PositionSample, <-chan error)
}

// PushSource adapts device-pushed samples (HTTP posts) into the
// SampleSource subscription model. A bounded acquisition timer reports a
// sensor error if no first fix arrives after the watch starts.
type PushSource struct {
	mu        sync.Mutex
	samples   chan domain.PositionSample
	errs      chan error
	active    bool
	gotFirst  bool
	timeout   time.Duration
	stopTimer func() bool
}

// NewPushSource creates a source with the given acquisition timeout.
func NewPushSource(timeout time.Duration) *PushSource {
	return &PushSource{timeout: timeout}
}

// Watch arms the subscription. Re-arming replaces the previous channels.
func (p *PushSource) Watch(ctx context.Context) (<-chan domain.PositionSample, <-chan error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closeLocked()
	p.samples = make(chan domain.PositionSample, 16)
	p.errs = make(chan error, 4)
	p.active = true
	p.gotFirst = false

	if p.timeout > 0 {
		timer := time.AfterFunc(p.timeout, func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.active && !p.gotFirst {
				select {
				case p.errs <- errors.New("position acquisition timed out"):
				default:
				}
			}
		})
		p.stopTimer = timer.Stop
	}

	samples, errs := p.samples, p.errs
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		// a re-armed watch owns fresh channels; only tear down our own
		if p.samples == samples {
			p.closeLocked()
		}
		p.mu.Unlock()
	}()
	return samples, errs
}

// Push delivers a raw sample into the active watch. Samples arriving
// faster than the consumer drains are dropped, mirroring sensor
// callback semantics.
func (p *PushSource) Push(sample domain.PositionSample) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return ErrSourceClosed
	}
	p.gotFirst = true
	select {
	case p.samples <- sample:
	default:
	}
	return nil
}

// Fail reports a device-side sensor error into the active watch.
func (p *PushSource) Fail(err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return ErrSourceClosed
	}
	select {
	case p.errs <- err:
	default:
	}
	return nil
}

func (p *PushSource) closeLocked() {
	if !p.active {
		return
	}
	p.active = false
	if p.stopTimer != nil {
		p.stopTimer()
		p.stopTimer = nil
	}
	close(p.samples)
	close(p.errs)
}
