package hal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"github.com/viam-modules/phobia/pm"
)

// batchPeriod is how often the runner wakes up. Each wake-up catches up on the
// carrier periods that elapsed since the last one.
const batchPeriod = time.Millisecond

// Runner owns the goroutine that calls Machine.Tick once per carrier period.
type Runner struct {
	machine *pm.Machine
	driver  Driver
	logger  logging.Logger

	mu     sync.Mutex
	cancel func()
	wg     sync.WaitGroup
	err    error

	ticks atomic.Uint64
}

// NewRunner returns a stopped runner.
func NewRunner(m *pm.Machine, d Driver, logger logging.Logger) *Runner {
	return &Runner{machine: m, driver: d, logger: logger}
}

// Step runs n carrier periods synchronously.
func (r *Runner) Step(n int) error {
	for i := 0; i < n; i++ {
		s := r.driver.Sample()
		out := r.machine.Tick(&s)
		if err := r.driver.Apply(out); err != nil {
			return errors.Wrapf(err, "apply at tick %d", s.Tick)
		}
		r.ticks.Add(1)
	}
	return nil
}

// Ticks returns the number of carrier periods run so far.
func (r *Runner) Ticks() uint64 {
	return r.ticks.Load()
}

// Start launches the tick goroutine. It is a no-op if already started.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	c := r.driver.Carrier()
	per := max(int(c.FreqHz*batchPeriod.Seconds()+0.5), 1)

	r.wg.Add(1)
	utils.PanicCapturingGo(func() {
		defer r.wg.Done()
		ticker := time.NewTicker(batchPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if err := r.Step(per); err != nil {
				r.mu.Lock()
				r.err = err
				r.mu.Unlock()
				r.logger.Errorf("runner stopped: %v", err)
				return
			}
		}
	})
}

// Err returns the error that stopped the tick goroutine, if any.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close stops the tick goroutine and waits for it to exit.
func (r *Runner) Close() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	return nil
}
