package wire

import (
	"fmt"
	"strings"
)

// Kind is the storage type of one layout field.
type Kind uint8

const (
	U8 Kind = iota + 1
	U16
	U32
	U64
	I32
	Char
	Struct
)

func (k Kind) String() string {
	switch k {
	case U8:
		return "u8"
	case U16:
		return "u16"
	case U32:
		return "u32"
	case U64:
		return "u64"
	case I32:
		return "i32"
	case Char:
		return "char"
	case Struct:
		return "struct"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// size is the byte width of one element of k. Struct is resolved by the nested layout.
func (k Kind) size() int {
	switch k {
	case U8, Char:
		return 1
	case U16:
		return 2
	case U32, I32:
		return 4
	case U64:
		return 8
	default:
		return 0
	}
}

func (k Kind) signed() bool {
	return k == I32
}

// Field declares one member of a layout.
//
// Bits > 0 makes the field a bit-field packed into a storage unit of Kind.
// Count > 0 makes the field an array (Char fields are always arrays).
type Field struct {
	Name    string
	Kind    Kind
	Bits    int
	Count   int
	Layout  *Layout
	Default int64
}

// placed is a field with its resolved position.
type placed struct {
	Field
	offset    int
	bitOffset int
	elemSize  int
}

func (p placed) width() int {
	if p.Bits > 0 {
		return p.Bits
	}
	return p.elemSize * 8
}

func (p placed) isArray() bool {
	return p.Count > 0 || p.Kind == Char
}

func (p placed) count() int {
	if p.Count > 0 {
		return p.Count
	}
	return 1
}

// Layout is the immutable byte layout of one record type.
type Layout struct {
	name   string
	fields []placed
	index  map[string]int
	size   int
	align  int
}

// Scalar field constructors.
func Uint8(name string) Field  { return Field{Name: name, Kind: U8} }
func Uint16(name string) Field { return Field{Name: name, Kind: U16} }
func Uint32(name string) Field { return Field{Name: name, Kind: U32} }
func Uint64(name string) Field { return Field{Name: name, Kind: U64} }
func Int32(name string) Field  { return Field{Name: name, Kind: I32} }

// Bits declares a bit-field of width bits stored in a unit of kind.
func Bits(name string, kind Kind, bits int) Field {
	return Field{Name: name, Kind: kind, Bits: bits}
}

// Chars declares a fixed n-byte character array.
func Chars(name string, n int) Field {
	return Field{Name: name, Kind: Char, Count: n}
}

// Array declares n consecutive scalars of kind.
func Array(name string, kind Kind, n int) Field {
	return Field{Name: name, Kind: kind, Count: n}
}

// Nested embeds one record of layout l.
func Nested(name string, l *Layout) Field {
	return Field{Name: name, Kind: Struct, Layout: l}
}

// NestedArray embeds n consecutive records of layout l.
func NestedArray(name string, l *Layout, n int) Field {
	return Field{Name: name, Kind: Struct, Layout: l, Count: n}
}

// WithDefault returns f with a default applied when a record is created.
func (f Field) WithDefault(v int64) Field {
	f.Default = v
	return f
}

// NewLayout resolves offsets, padding and bit-field packing following the
// x86-64 C ABI. It panics on malformed declarations; layouts are package-level
// tables built once.
func NewLayout(name string, fields ...Field) *Layout {
	l := &Layout{
		name:  name,
		index: make(map[string]int, len(fields)),
		align: 1,
	}

	offset := 0
	unitOffset, unitSize, unitUsed := -1, 0, 0

	for _, f := range fields {
		if _, dup := l.index[f.Name]; dup {
			panic(fmt.Sprintf("wire: layout %s: duplicate field %q", name, f.Name))
		}
		p := placed{Field: f}
		switch f.Kind {
		case Struct:
			if f.Layout == nil {
				panic(fmt.Sprintf("wire: layout %s: field %q has no nested layout", name, f.Name))
			}
			p.elemSize = f.Layout.size
		case U8, U16, U32, U64, I32, Char:
			p.elemSize = f.Kind.size()
		default:
			panic(fmt.Sprintf("wire: layout %s: field %q has invalid kind", name, f.Name))
		}
		fieldAlign := p.elemSize
		if f.Kind == Struct {
			fieldAlign = f.Layout.align
		}

		if f.Bits > 0 {
			if f.Kind == Struct || f.Kind == Char || f.Count > 0 {
				panic(fmt.Sprintf("wire: layout %s: bit-field %q must be a scalar", name, f.Name))
			}
			if f.Bits > p.elemSize*8 {
				panic(fmt.Sprintf("wire: layout %s: bit-field %q wider than its unit", name, f.Name))
			}
			if unitOffset < 0 || unitSize != p.elemSize || unitUsed+f.Bits > unitSize*8 {
				offset = alignUp(offset, fieldAlign)
				unitOffset, unitSize, unitUsed = offset, p.elemSize, 0
				offset += p.elemSize
			}
			p.offset = unitOffset
			p.bitOffset = unitUsed
			unitUsed += f.Bits
		} else {
			unitOffset = -1
			offset = alignUp(offset, fieldAlign)
			p.offset = offset
			offset += p.elemSize * p.count()
		}
		if fieldAlign > l.align {
			l.align = fieldAlign
		}
		l.index[f.Name] = len(l.fields)
		l.fields = append(l.fields, p)
	}
	l.size = alignUp(offset, l.align)
	return l
}

func alignUp(v, a int) int {
	if a <= 1 {
		return v
	}
	return (v + a - 1) / a * a
}

// Name is the diagnostic name of the layout.
func (l *Layout) Name() string { return l.name }

// Size is the exact encoded size in bytes, trailing padding included.
func (l *Layout) Size() int { return l.size }

// Align is the alignment requirement used when the layout is nested.
func (l *Layout) Align() int { return l.align }

// Fields returns the declared fields in order.
func (l *Layout) Fields() []Field {
	out := make([]Field, len(l.fields))
	for i, p := range l.fields {
		out[i] = p.Field
	}
	return out
}

// Offset reports the byte offset of a field.
func (l *Layout) Offset(name string) (int, bool) {
	i, ok := l.index[name]
	if !ok {
		return 0, false
	}
	return l.fields[i].offset, true
}

func (l *Layout) lookup(name string) (placed, error) {
	i, ok := l.index[name]
	if !ok {
		return placed{}, fmt.Errorf("%w: %s.%s", ErrUnknownField, l.name, name)
	}
	return l.fields[i], nil
}

func (l *Layout) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s size=%d align=%d", l.name, l.size, l.align)
	for _, p := range l.fields {
		fmt.Fprintf(&b, "\n  %-28s %-6s off=%d", p.Name, p.Kind, p.offset)
		if p.Bits > 0 {
			fmt.Fprintf(&b, " bits=%d@%d", p.Bits, p.bitOffset)
		}
		if p.Count > 0 {
			fmt.Fprintf(&b, " count=%d", p.Count)
		}
	}
	return b.String()
}
