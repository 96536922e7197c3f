// Package regfile is the named-parameter registry of the controller. Every
// entry maps a symbolic name onto a configuration field or a piece of
// read-only state, optionally presented in a derived unit.
package regfile

import (
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/phobia/pm"
)

// Kind is the numeric type of an entry.
type Kind int

// Entry kinds.
const (
	KindFloat Kind = iota
	KindInt
)

// Mode is the access mode of an entry.
type Mode int

// Access modes. Config entries are part of the persistent configuration,
// Writable entries are runtime setpoints and unit aliases.
const (
	ReadOnly Mode = iota
	Config
	Writable
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case Config:
		return "config"
	case Writable:
		return "writable"
	}
	return "unknown"
}

// LinkSlots is the number of registers the telemetry recorder can follow.
const LinkSlots = 10

// link reads an entry from a snapshot and writes it into a configuration,
// both in base units.
type link struct {
	kind Kind
	get  func(*pm.Snapshot) float64
	set  func(*pm.Config, float64)
}

// Entry describes one register.
type Entry struct {
	Name      string
	Unit      string
	Mode      Mode
	Transform Transform

	Min, Max float64
	ranged   bool

	// slot is the link slot of a Linked entry.
	slot int
	link link
}

// Kind reports whether the entry holds an integer or a float.
func (e *Entry) Kind() Kind {
	if e.Transform == Linked || e.Transform == Request {
		return KindInt
	}
	return e.link.kind
}

// Ranged reports whether writes are bounded by [Min, Max].
func (e *Entry) Ranged() bool {
	return e.ranged
}

// File is the registry bound to one machine.
type File struct {
	machine *pm.Machine
	logger  logging.Logger
	entries []Entry
	index   map[string]int

	mu    sync.Mutex
	links [LinkSlots]int
}

// New returns the registry of m.
func New(m *pm.Machine, logger logging.Logger) *File {
	f := &File{
		machine: m,
		logger:  logger,
		entries: table(),
		index:   map[string]int{},
	}
	for i := range f.entries {
		f.index[f.entries[i].Name] = i
	}
	for i := range f.links {
		f.links[i] = -1
	}
	return f
}

// Len returns the number of entries.
func (f *File) Len() int {
	return len(f.entries)
}

// Entry returns the entry at index i.
func (f *File) Entry(i int) (Entry, error) {
	if i < 0 || i >= len(f.entries) {
		return Entry{}, errors.Errorf("no register at index %d", i)
	}
	return f.entries[i], nil
}

// Index returns the index of the named entry.
func (f *File) Index(name string) (int, error) {
	i, ok := f.index[name]
	if !ok {
		return -1, errors.Errorf("no such register: %s", name)
	}
	return i, nil
}

// Names returns all register names in table order.
func (f *File) Names() []string {
	names := make([]string, len(f.entries))
	for i := range f.entries {
		names[i] = f.entries[i].Name
	}
	return names
}

// Get reads the named register from a fresh snapshot.
func (f *File) Get(name string) (float64, error) {
	i, err := f.Index(name)
	if err != nil {
		return 0, err
	}
	snap := f.machine.Snapshot()
	return f.Read(&snap, i)
}

// Read evaluates entry i against snap. Reading many entries from one snapshot
// gives a consistent set.
func (f *File) Read(snap *pm.Snapshot, i int) (float64, error) {
	if i < 0 || i >= len(f.entries) {
		return 0, errors.Errorf("no register at index %d", i)
	}
	e := &f.entries[i]
	if e.Transform == Linked {
		f.mu.Lock()
		defer f.mu.Unlock()
		return float64(f.links[e.slot]), nil
	}
	return e.Transform.toUser(e.link.get(snap), &snap.Config), nil
}

// Dump reads every Config entry from one snapshot.
func (f *File) Dump() map[string]float64 {
	snap := f.machine.Snapshot()
	out := map[string]float64{}
	for i := range f.entries {
		if f.entries[i].Mode != Config {
			continue
		}
		v, err := f.Read(&snap, i)
		if err == nil {
			out[f.entries[i].Name] = v
		}
	}
	return out
}

// Set writes v, given in the entry's unit, to the named register. Read-only,
// out of range and non-finite writes are rejected and nothing changes.
func (f *File) Set(name string, v float64) error {
	i, err := f.Index(name)
	if err != nil {
		return err
	}
	e := &f.entries[i]
	if e.Mode == ReadOnly {
		return errors.Errorf("register %s is read-only", name)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.Errorf("register %s: value must be finite", name)
	}
	if e.ranged && (v < e.Min || v > e.Max) {
		return errors.Errorf("register %s: %g out of range [%g, %g]", name, v, e.Min, e.Max)
	}

	switch e.Transform {
	case Request:
		s := pm.State(int(v))
		if !f.machine.Request(s) {
			return errors.Errorf("register %s: request %s rejected, another is pending", name, s)
		}
	case Linked:
		idx := int(v)
		if idx < -1 || idx >= len(f.entries) {
			return errors.Errorf("register %s: no register at index %d", name, idx)
		}
		f.mu.Lock()
		f.links[e.slot] = idx
		f.mu.Unlock()
	default:
		err := f.machine.Update(func(c *pm.Config) error {
			base := e.Transform.fromUser(v, c)
			if math.IsNaN(base) || math.IsInf(base, 0) {
				return errors.Errorf("register %s: %g has no finite value in %s", name, v, e.Transform)
			}
			e.link.set(c, base)
			return nil
		})
		if err != nil {
			return errors.Wrapf(err, "error writing register %s", name)
		}
	}
	f.logger.Debugf("register %s = %g", name, v)
	return nil
}

// SetMany writes several registers in name order. Every write is attempted;
// the failures are combined.
func (f *File) SetMany(values map[string]float64) error {
	names := make([]string, 0, len(values))
	for n := range values {
		names = append(names, n)
	}
	sort.Strings(names)
	var err error
	for _, n := range names {
		err = multierr.Combine(err, f.Set(n, values[n]))
	}
	return err
}

// Linked returns the register indices the link slots point at, skipping
// empty slots.
func (f *File) Linked() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, i := range f.links {
		if i >= 0 {
			out = append(out, i)
		}
	}
	return out
}
