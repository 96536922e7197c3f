// Package telemetry streams controller state and the linked registers to
// CAN and serial sinks.
package telemetry

import (
	"math"

	"github.com/pkg/errors"
	"go.einride.tech/can"
)

// Signal is one field of a frame payload, little endian.
type Signal struct {
	Name      string
	StartBit  int
	BitLength int
	Signed    bool
	// Float stores the value as IEEE-754 single precision. BitLength must
	// be 32 and Factor and Offset are ignored.
	Float    bool
	Factor   float64
	Offset   float64
	Min, Max float64
}

// FrameDef is the layout of one CAN frame.
type FrameDef struct {
	ID      uint32
	Name    string
	DLC     int
	Signals []Signal
}

// Encode packs values into a frame. Missing signals are sent as zero and
// values are clamped into the signal range.
func (fd *FrameDef) Encode(values map[string]float64) (can.Frame, error) {
	if fd.DLC <= 0 || fd.DLC > 8 {
		return can.Frame{}, errors.Errorf("frame %s has invalid DLC %d", fd.Name, fd.DLC)
	}
	f := can.Frame{ID: fd.ID, Length: uint8(fd.DLC)}
	for _, s := range fd.Signals {
		if err := s.check(fd); err != nil {
			return can.Frame{}, err
		}
		v := values[s.Name]
		start, length := uint8(s.StartBit), uint8(s.BitLength)
		switch {
		case s.Float:
			f.Data.SetUnsignedBitsLittleEndian(start, length, uint64(math.Float32bits(float32(v))))
		default:
			if s.Max > s.Min {
				v = math.Min(math.Max(v, s.Min), s.Max)
			}
			raw := clampRaw(int64(math.Round((v-s.Offset)/s.Factor)), s.BitLength, s.Signed)
			if s.Signed {
				f.Data.SetSignedBitsLittleEndian(start, length, raw)
			} else {
				f.Data.SetUnsignedBitsLittleEndian(start, length, uint64(raw))
			}
		}
	}
	return f, nil
}

// Decode unpacks a frame with this layout.
func (fd *FrameDef) Decode(f can.Frame) (map[string]float64, error) {
	if f.ID != fd.ID {
		return nil, errors.Errorf("frame 0x%X is not %s", f.ID, fd.Name)
	}
	if int(f.Length) < fd.DLC {
		return nil, errors.Errorf("frame %s expects DLC %d, got %d", fd.Name, fd.DLC, f.Length)
	}
	out := make(map[string]float64, len(fd.Signals))
	for _, s := range fd.Signals {
		if err := s.check(fd); err != nil {
			return nil, err
		}
		start, length := uint8(s.StartBit), uint8(s.BitLength)
		switch {
		case s.Float:
			u := f.Data.UnsignedBitsLittleEndian(start, length)
			out[s.Name] = float64(math.Float32frombits(uint32(u)))
		case s.Signed:
			out[s.Name] = float64(f.Data.SignedBitsLittleEndian(start, length))*s.Factor + s.Offset
		default:
			out[s.Name] = float64(f.Data.UnsignedBitsLittleEndian(start, length))*s.Factor + s.Offset
		}
	}
	return out, nil
}

// check reports a signal that does not fit the frame payload.
func (s *Signal) check(fd *FrameDef) error {
	if s.BitLength <= 0 || s.StartBit < 0 || s.StartBit+s.BitLength > 8*fd.DLC {
		return errors.Errorf("signal %s does not fit frame %s", s.Name, fd.Name)
	}
	if s.Float && s.BitLength != 32 {
		return errors.Errorf("float signal %s must be 32 bits", s.Name)
	}
	return nil
}

func clampRaw(raw int64, bitLen int, signed bool) int64 {
	if bitLen <= 0 || bitLen > 63 {
		return raw
	}
	if !signed {
		return min(max(raw, 0), int64(1)<<bitLen-1)
	}
	lim := int64(1) << (bitLen - 1)
	return min(max(raw, -lim), lim-1)
}
