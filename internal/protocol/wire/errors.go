// Package wire packs and unpacks fixed binary records whose byte layout
// follows the native C ABI of the peer driver.
package wire

import "errors"

var (
	ErrSizeMismatch = errors.New("wire: size mismatch")
	ErrUnknownField = errors.New("wire: unknown field")
	ErrKindMismatch = errors.New("wire: field kind mismatch")
	ErrOverflow     = errors.New("wire: value overflows field")
)
