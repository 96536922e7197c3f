package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"github.com/viam-modules/phobia/pm"
	"github.com/viam-modules/phobia/regfile"
)

// Recorder samples the machine at a fixed period and sends the status and
// the linked registers to every sink.
type Recorder struct {
	machine *pm.Machine
	regs    *regfile.File
	sinks   []Sink
	period  time.Duration
	logger  logging.Logger

	mu      sync.Mutex
	cancel  func()
	wg      sync.WaitGroup
	lastErr string
}

// NewRecorder returns a stopped recorder.
func NewRecorder(m *pm.Machine, regs *regfile.File, period time.Duration, logger logging.Logger, sinks ...Sink) *Recorder {
	return &Recorder{machine: m, regs: regs, sinks: sinks, period: period, logger: logger}
}

// Collect builds a record from one snapshot.
func (r *Recorder) Collect() *Record {
	snap := r.machine.Snapshot()
	rec := &Record{
		Tick:    snap.Tick,
		State:   snap.State,
		Phase:   snap.Phase,
		Mode:    snap.Mode,
		Fail:    snap.Fail,
		Enable:  snap.Enable,
		ID:      snap.ID,
		IQ:      snap.IQ,
		WS:      snap.WS,
		U:       snap.LpfU,
		TempPCB: snap.TempPCB,
	}
	for _, i := range r.regs.Linked() {
		e, err := r.regs.Entry(i)
		if err != nil {
			continue
		}
		v, err := r.regs.Read(&snap, i)
		if err != nil {
			continue
		}
		rec.Values = append(rec.Values, Value{Index: i, Name: e.Name, V: v})
	}
	return rec
}

// Send collects one record and sends it to every sink.
func (r *Recorder) Send(ctx context.Context) error {
	rec := r.Collect()
	var err error
	for _, s := range r.sinks {
		err = multierr.Combine(err, s.Send(ctx, rec))
	}
	return err
}

// Start launches the sampling goroutine.
func (r *Recorder) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil || len(r.sinks) == 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	utils.PanicCapturingGo(func() {
		defer r.wg.Done()
		for utils.SelectContextOrWait(ctx, r.period) {
			r.report(r.Send(ctx))
		}
	})
}

// report logs a send error once until it changes.
func (r *Recorder) report(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.mu.Lock()
	changed := msg != r.lastErr
	r.lastErr = msg
	r.mu.Unlock()
	if changed && err != nil {
		r.logger.Warnf("telemetry send failed: %v", err)
	}
}

// Close stops sampling and closes every sink.
func (r *Recorder) Close() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	var err error
	for _, s := range r.sinks {
		err = multierr.Combine(err, s.Close())
	}
	return err
}
