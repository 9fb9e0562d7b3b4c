package analyzer

import (
	"fmt"
	"strings"

	"github.com/danmuck/sepprobe/internal/protocol"
	"github.com/danmuck/sepprobe/internal/protocol/schema"
	"github.com/danmuck/sepprobe/internal/protocol/wire"
)

// AddressRange is an inclusive [Lo, Hi] range of instruction addresses.
type AddressRange struct {
	Lo uint64
	Hi uint64
}

func (r AddressRange) Contains(ip uint64) bool {
	return ip >= r.Lo && ip <= r.Hi
}

// ModuleMap maps a module path to every range it was loaded at.
type ModuleMap map[string][]AddressRange

// Contains reports whether ip falls in any range of module name.
func (m ModuleMap) Contains(name string, ip uint64) bool {
	for _, r := range m[name] {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

// DecodeModules walks the variable-length module records of a module channel
// capture. Each record is a ModuleRecord header followed by its NUL
// terminated path; recLength covers both.
func DecodeModules(data []byte) (ModuleMap, error) {
	header := schema.ModuleRecord.Size()
	modules := make(ModuleMap)
	for cur := 0; cur < len(data); {
		if cur+header > len(data) {
			return nil, fmt.Errorf("%w: module record at %d cut after %d bytes", protocol.ErrValidation, cur, len(data)-cur)
		}
		rec, err := wire.Decode(schema.ModuleRecord, data[cur:cur+header])
		if err != nil {
			return nil, err
		}
		recLen := int(rec.Uint("recLength"))
		if recLen == 0 {
			return nil, fmt.Errorf("%w: module record at %d has zero length", protocol.ErrValidation, cur)
		}
		pathLen := int(rec.Uint("pathLength"))
		if cur+header+pathLen > len(data) {
			return nil, fmt.Errorf("%w: module path at %d overruns capture", protocol.ErrValidation, cur)
		}
		var name string
		if pathLen > 0 {
			name = strings.TrimSpace(string(data[cur+header : cur+header+pathLen-1]))
		}
		lo := rec.Uint("loadAddr64")
		modules[name] = append(modules[name], AddressRange{Lo: lo, Hi: lo + rec.Uint("length64")})
		cur += recLen
	}
	l := logger()
	l.Debug().Int("modules", len(modules)).Int("bytes", len(data)).Msg("module map decoded")
	return modules, nil
}
