package wire

import (
	"bytes"
	"fmt"
	"strings"
)

// Dump renders the record recursively for diagnostics: the layout name on the
// first line, then one indented line per field.
func (r *Record) Dump() string {
	var b strings.Builder
	b.WriteString(r.layout.name)
	b.WriteByte('\n')
	for _, p := range r.layout.fields {
		switch {
		case p.Kind == Struct && p.Count == 0:
			writeNested(&b, p.Name, r.subs[p.Name][0].Dump())
		case p.Kind == Struct:
			elems := r.subs[p.Name]
			fmt.Fprintf(&b, "  %s : Array of %d elements\n", p.Name, len(elems))
			for i, e := range elems {
				lines := strings.Split(strings.TrimRight(e.Dump(), "\n"), "\n")
				fmt.Fprintf(&b, "    [%d] - %s\n", i, lines[0])
				for _, line := range lines[1:] {
					fmt.Fprintf(&b, "      %s\n", line)
				}
			}
		case p.Kind == Char:
			fmt.Fprintf(&b, "  %s : %q\n", p.Name, cString(r.raw[p.Name]))
		case p.isArray():
			fmt.Fprintf(&b, "  %s : Array of %d elements\n", p.Name, p.Count)
		case p.Kind.signed():
			fmt.Fprintf(&b, "  %s : %d\n", p.Name, r.Int(p.Name))
		default:
			fmt.Fprintf(&b, "  %s : %d\n", p.Name, r.ints[p.Name])
		}
	}
	return b.String()
}

func writeNested(b *strings.Builder, name, dump string) {
	lines := strings.Split(strings.TrimRight(dump, "\n"), "\n")
	fmt.Fprintf(b, "  %s : %s\n", name, lines[0])
	for _, line := range lines[1:] {
		fmt.Fprintf(b, "  %s\n", line)
	}
}

// cString returns the bytes up to the first NUL.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// CString returns a NUL-terminated character array field as a Go string.
func (r *Record) CString(name string) string {
	return cString(r.Bytes(name))
}
