package wire

import (
	"encoding/binary"
	"fmt"
)

// Order is the byte order of the peer.
var Order = binary.LittleEndian

// Encode packs r into exactly r.Layout().Size() bytes.
func Encode(r *Record) []byte {
	buf := make([]byte, r.layout.size)
	r.encodeInto(buf)
	return buf
}

// EncodeArray packs records of one layout back to back.
func EncodeArray(records []*Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, nil
	}
	l := records[0].layout
	buf := make([]byte, l.size*len(records))
	for i, r := range records {
		if r.layout != l {
			return nil, fmt.Errorf("%w: element %d is %s, want %s", ErrKindMismatch, i, r.layout.name, l.name)
		}
		r.encodeInto(buf[i*l.size : (i+1)*l.size])
	}
	return buf, nil
}

func (r *Record) encodeInto(buf []byte) {
	for _, p := range r.layout.fields {
		switch {
		case p.Kind == Struct:
			for i, e := range r.subs[p.Name] {
				start := p.offset + i*p.elemSize
				e.encodeInto(buf[start : start+p.elemSize])
			}
		case p.isArray():
			copy(buf[p.offset:], r.raw[p.Name])
		case p.Bits > 0:
			unit := getUnit(buf[p.offset:], p.elemSize)
			mask := (uint64(1)<<p.Bits - 1) << p.bitOffset
			if p.Bits == 64 {
				mask = ^uint64(0)
			}
			unit = unit&^mask | (r.ints[p.Name]<<p.bitOffset)&mask
			putUnit(buf[p.offset:], p.elemSize, unit)
		default:
			putUnit(buf[p.offset:], p.elemSize, r.ints[p.Name])
		}
	}
}

// Decode unpacks b into a record of l. The input must be exactly l.Size()
// bytes; nothing is truncated or padded.
func Decode(l *Layout, b []byte) (*Record, error) {
	if len(b) != l.size {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrSizeMismatch, l.name, l.size, len(b))
	}
	r := New(l)
	r.decodeFrom(b)
	return r, nil
}

// DecodeArray unpacks a dense array of fixed-size records.
func DecodeArray(l *Layout, b []byte) ([]*Record, error) {
	if l.size == 0 || len(b)%l.size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %s (%d)", ErrSizeMismatch, len(b), l.name, l.size)
	}
	out := make([]*Record, 0, len(b)/l.size)
	for off := 0; off < len(b); off += l.size {
		r := New(l)
		r.decodeFrom(b[off : off+l.size])
		out = append(out, r)
	}
	return out, nil
}

func (r *Record) decodeFrom(b []byte) {
	for _, p := range r.layout.fields {
		switch {
		case p.Kind == Struct:
			for i, e := range r.subs[p.Name] {
				start := p.offset + i*p.elemSize
				e.decodeFrom(b[start : start+p.elemSize])
			}
		case p.isArray():
			copy(r.raw[p.Name], b[p.offset:p.offset+p.elemSize*p.count()])
		case p.Bits > 0:
			unit := getUnit(b[p.offset:], p.elemSize)
			r.ints[p.Name] = truncate(unit>>p.bitOffset, p.Bits)
		default:
			r.ints[p.Name] = getUnit(b[p.offset:], p.elemSize)
		}
	}
}

func getUnit(b []byte, size int) uint64 {
	switch size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(Order.Uint16(b))
	case 4:
		return uint64(Order.Uint32(b))
	default:
		return Order.Uint64(b)
	}
}

func putUnit(b []byte, size int, v uint64) {
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		Order.PutUint16(b, uint16(v))
	case 4:
		Order.PutUint32(b, uint32(v))
	default:
		Order.PutUint64(b, v)
	}
}
