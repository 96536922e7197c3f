package telemetry

import (
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"

	"github.com/viam-modules/phobia/pm"
)

// Value is one linked register in a record.
type Value struct {
	Index int
	Name  string
	V     float64
}

// Record is the telemetry of one snapshot.
type Record struct {
	Tick  uint32
	State pm.State
	Phase int
	Mode  pm.LUMode
	Fail  pm.FailReason

	Enable  bool
	ID, IQ  float64
	WS      float64
	U       float64
	TempPCB float64

	Values []Value
}

// Sink receives records.
type Sink interface {
	Send(ctx context.Context, r *Record) error
	Close() error
}

// Transmitter sends one CAN frame. socketcan.Transmitter satisfies it.
type Transmitter interface {
	TransmitFrame(ctx context.Context, f can.Frame) error
}

// Frame layouts relative to the base identifier.
func statusFrame(base uint32) *FrameDef {
	return &FrameDef{ID: base, Name: "status", DLC: 8, Signals: []Signal{
		{Name: "state", StartBit: 0, BitLength: 8, Factor: 1},
		{Name: "mode", StartBit: 8, BitLength: 4, Factor: 1},
		{Name: "enable", StartBit: 12, BitLength: 1, Factor: 1},
		{Name: "fail", StartBit: 16, BitLength: 8, Factor: 1},
		{Name: "phase", StartBit: 24, BitLength: 8, Factor: 1},
		{Name: "U", StartBit: 32, BitLength: 16, Factor: 0.01},
		{Name: "temp_PCB", StartBit: 48, BitLength: 16, Signed: true, Factor: 0.1},
	}}
}

func currentFrame(base uint32) *FrameDef {
	return &FrameDef{ID: base + 1, Name: "current", DLC: 8, Signals: []Signal{
		{Name: "iD", StartBit: 0, BitLength: 16, Signed: true, Factor: 0.01},
		{Name: "iQ", StartBit: 16, BitLength: 16, Signed: true, Factor: 0.01},
		{Name: "wS", StartBit: 32, BitLength: 32, Signed: true, Factor: 0.01},
	}}
}

func registerFrame(base uint32) *FrameDef {
	return &FrameDef{ID: base + 2, Name: "register", DLC: 8, Signals: []Signal{
		{Name: "index", StartBit: 0, BitLength: 16, Factor: 1},
		{Name: "value", StartBit: 32, BitLength: 32, Float: true},
	}}
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// CANSink sends each record as a status frame, a current frame and one
// register frame per linked value.
type CANSink struct {
	tx     Transmitter
	conn   net.Conn
	frames [3]*FrameDef
}

// NewCANSink returns a sink on tx using identifiers from base.
func NewCANSink(tx Transmitter, base uint32) *CANSink {
	return &CANSink{tx: tx, frames: [3]*FrameDef{statusFrame(base), currentFrame(base), registerFrame(base)}}
}

// DialCAN opens a socketcan interface such as can0.
func DialCAN(ctx context.Context, iface string, base uint32) (*CANSink, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, errors.Wrapf(err, "socketcan dial %s", iface)
	}
	s := NewCANSink(socketcan.NewTransmitter(conn), base)
	s.conn = conn
	return s, nil
}

// Send implements Sink.
func (s *CANSink) Send(ctx context.Context, r *Record) error {
	status, err := s.frames[0].Encode(map[string]float64{
		"state":    float64(r.State),
		"mode":     float64(r.Mode),
		"enable":   boolf(r.Enable),
		"fail":     float64(r.Fail),
		"phase":    float64(r.Phase),
		"U":        r.U,
		"temp_PCB": r.TempPCB,
	})
	if err != nil {
		return err
	}
	current, err := s.frames[1].Encode(map[string]float64{"iD": r.ID, "iQ": r.IQ, "wS": r.WS})
	if err != nil {
		return err
	}
	out := []can.Frame{status, current}
	for _, v := range r.Values {
		f, err := s.frames[2].Encode(map[string]float64{"index": float64(v.Index), "value": v.V})
		if err != nil {
			return err
		}
		out = append(out, f)
	}
	for _, f := range out {
		if err := s.tx.TransmitFrame(ctx, f); err != nil {
			return errors.Wrapf(err, "transmit frame 0x%X", f.ID)
		}
	}
	return nil
}

// Close implements Sink.
func (s *CANSink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// SerialSink writes each record as one text line.
type SerialSink struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewSerialSink returns a sink writing to w.
func NewSerialSink(w io.WriteCloser) *SerialSink {
	return &SerialSink{w: w}
}

// OpenSerial opens a serial device such as /dev/ttyUSB0.
func OpenSerial(device string, baud int) (*SerialSink, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", device)
	}
	return NewSerialSink(port), nil
}

// Format renders r the way SerialSink writes it, without the newline.
func Format(r *Record) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(uint64(r.Tick), 10))
	b.WriteString(" state=")
	b.WriteString(r.State.String())
	b.WriteString(" mode=")
	b.WriteString(r.Mode.String())
	if r.Fail != pm.FailOK {
		b.WriteString(" fail=")
		b.WriteString(strconv.Quote(r.Fail.String()))
	}
	for _, v := range r.Values {
		b.WriteByte(' ')
		b.WriteString(v.Name)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(v.V, 'g', 6, 64))
	}
	return b.String()
}

// Send implements Sink.
func (s *SerialSink) Send(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, Format(r)+"\n"); err != nil {
		return errors.Wrap(err, "serial write")
	}
	return nil
}

// Close implements Sink.
func (s *SerialSink) Close() error {
	return s.w.Close()
}
