package wire

import (
	"fmt"
	"sort"
)

// Record holds the values of one layout instance.
type Record struct {
	layout *Layout
	ints   map[string]uint64
	raw    map[string][]byte
	subs   map[string][]*Record
}

// Values assigns several scalar fields at once. Signed fields accept negative values.
type Values map[string]int64

// New returns a record of l with every declared default applied.
func New(l *Layout) *Record {
	r := &Record{
		layout: l,
		ints:   make(map[string]uint64),
		raw:    make(map[string][]byte),
		subs:   make(map[string][]*Record),
	}
	for _, p := range l.fields {
		switch {
		case p.Kind == Struct:
			elems := make([]*Record, p.count())
			for i := range elems {
				elems[i] = New(p.Layout)
			}
			r.subs[p.Name] = elems
		case p.isArray():
			r.raw[p.Name] = make([]byte, p.elemSize*p.count())
		default:
			r.ints[p.Name] = truncate(uint64(p.Default), p.width())
		}
	}
	return r
}

// Layout returns the layout the record was built from.
func (r *Record) Layout() *Layout { return r.layout }

// Get returns the raw (unsigned) value of a scalar field.
func (r *Record) Get(name string) (uint64, error) {
	p, err := r.layout.lookup(name)
	if err != nil {
		return 0, err
	}
	if p.Kind == Struct || p.isArray() {
		return 0, fmt.Errorf("%w: %s.%s is not a scalar", ErrKindMismatch, r.layout.name, name)
	}
	return r.ints[name], nil
}

// Uint returns a scalar field value. It panics on an unknown field, which is a
// programming error against a fixed layout table.
func (r *Record) Uint(name string) uint64 {
	v, err := r.Get(name)
	if err != nil {
		panic(err)
	}
	return v
}

// Int returns a scalar field value, sign-extended for signed kinds.
func (r *Record) Int(name string) int64 {
	p, err := r.layout.lookup(name)
	if err != nil {
		panic(err)
	}
	v := r.Uint(name)
	if p.Kind.signed() {
		return signExtend(v, p.width())
	}
	return int64(v)
}

// Set assigns an unsigned value. Values wider than the field are rejected.
func (r *Record) Set(name string, v uint64) error {
	p, err := r.layout.lookup(name)
	if err != nil {
		return err
	}
	if p.Kind == Struct || p.isArray() {
		return fmt.Errorf("%w: %s.%s is not a scalar", ErrKindMismatch, r.layout.name, name)
	}
	if truncate(v, p.width()) != v {
		return fmt.Errorf("%w: %s.%s=%d exceeds %d bits", ErrOverflow, r.layout.name, name, v, p.width())
	}
	r.ints[name] = v
	return nil
}

// SetInt assigns a signed value. Negative values are only valid for signed kinds.
func (r *Record) SetInt(name string, v int64) error {
	p, err := r.layout.lookup(name)
	if err != nil {
		return err
	}
	if !p.Kind.signed() {
		if v < 0 {
			return fmt.Errorf("%w: %s.%s is unsigned, got %d", ErrOverflow, r.layout.name, name, v)
		}
		return r.Set(name, uint64(v))
	}
	bits := p.width()
	lo, hi := -(int64(1) << (bits - 1)), int64(1)<<(bits-1)-1
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s.%s=%d out of signed %d-bit range", ErrOverflow, r.layout.name, name, v, bits)
	}
	r.ints[name] = truncate(uint64(v), bits)
	return nil
}

// SetFields applies vals, stopping at the first invalid assignment.
func (r *Record) SetFields(vals Values) error {
	names := make([]string, 0, len(vals))
	for name := range vals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.SetInt(name, vals[name]); err != nil {
			return err
		}
	}
	return nil
}

// Bytes returns a copy of a character or scalar array field.
func (r *Record) Bytes(name string) []byte {
	p, err := r.layout.lookup(name)
	if err != nil {
		panic(err)
	}
	if p.Kind == Struct || !p.isArray() {
		panic(fmt.Errorf("%w: %s.%s is not an array", ErrKindMismatch, r.layout.name, name))
	}
	out := make([]byte, len(r.raw[name]))
	copy(out, r.raw[name])
	return out
}

// SetBytes copies b into an array field. Shorter input is zero padded; longer
// input is rejected.
func (r *Record) SetBytes(name string, b []byte) error {
	p, err := r.layout.lookup(name)
	if err != nil {
		return err
	}
	if p.Kind == Struct || !p.isArray() {
		return fmt.Errorf("%w: %s.%s is not an array", ErrKindMismatch, r.layout.name, name)
	}
	dst := r.raw[name]
	if len(b) > len(dst) {
		return fmt.Errorf("%w: %s.%s holds %d bytes, got %d", ErrOverflow, r.layout.name, name, len(dst), len(b))
	}
	clear(dst)
	copy(dst, b)
	return nil
}

// Sub returns the nested record of a struct field.
func (r *Record) Sub(name string) *Record {
	return r.Elem(name, 0)
}

// Elem returns element i of a nested record array.
func (r *Record) Elem(name string, i int) *Record {
	p, err := r.layout.lookup(name)
	if err != nil {
		panic(err)
	}
	if p.Kind != Struct {
		panic(fmt.Errorf("%w: %s.%s is not a struct", ErrKindMismatch, r.layout.name, name))
	}
	return r.subs[name][i]
}

// Len returns the element count of an array or nested array field.
func (r *Record) Len(name string) int {
	p, err := r.layout.lookup(name)
	if err != nil {
		panic(err)
	}
	return p.count()
}

// Flatten exports every value keyed by its dotted path. Scalars are uint64,
// arrays are []byte.
func (r *Record) Flatten() map[string]any {
	out := make(map[string]any)
	r.flatten("", out)
	return out
}

func (r *Record) flatten(prefix string, out map[string]any) {
	for _, p := range r.layout.fields {
		key := prefix + p.Name
		switch {
		case p.Kind == Struct:
			elems := r.subs[p.Name]
			if p.Count == 0 {
				elems[0].flatten(key+".", out)
				continue
			}
			for i, e := range elems {
				e.flatten(fmt.Sprintf("%s[%d].", key, i), out)
			}
		case p.isArray():
			out[key] = append([]byte(nil), r.raw[p.Name]...)
		default:
			out[key] = r.ints[p.Name]
		}
	}
}

func truncate(v uint64, bits int) uint64 {
	if bits >= 64 {
		return v
	}
	return v & (uint64(1)<<bits - 1)
}

func signExtend(v uint64, bits int) int64 {
	if bits >= 64 {
		return int64(v)
	}
	shift := 64 - bits
	return int64(v<<shift) >> shift
}
