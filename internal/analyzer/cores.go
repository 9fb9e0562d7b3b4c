package analyzer

import (
	"context"
	"fmt"
	"maps"

	"github.com/danmuck/sepprobe/internal/protocol"
	"github.com/danmuck/sepprobe/internal/protocol/schema"
	"github.com/danmuck/sepprobe/internal/protocol/wire"
	"golang.org/x/sync/errgroup"
)

// Thresholds applied to core captures.
const (
	// HotspotRatio must be exceeded by the share of samples near the hotspot.
	HotspotRatio = 0.95
	// ModuleRatio must be reached by the share of samples inside the module.
	ModuleRatio = 0.90
)

// CoreSummary tallies every sample of every core capture.
type CoreSummary struct {
	Total            int
	ByIP             map[uint64]int
	ByPID            map[uint32]int
	CoresWithSamples int
}

type coreTally struct {
	total int
	byIP  map[uint64]int
	byPID map[uint32]int
}

// AggregateCores decodes each core capture as a dense SampleRecordPC array
// and merges the tallies. A trailing partial record is dropped. Fewer than two
// cores with samples is a validation failure.
func AggregateCores(ctx context.Context, files [][]byte) (CoreSummary, error) {
	tallies := make([]coreTally, len(files))
	g, _ := errgroup.WithContext(ctx)
	for i, data := range files {
		g.Go(func() error {
			t, err := tallyCore(i, data)
			tallies[i] = t
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return CoreSummary{}, err
	}

	sum := CoreSummary{ByIP: make(map[uint64]int), ByPID: make(map[uint32]int)}
	for _, t := range tallies {
		if t.total == 0 {
			continue
		}
		sum.CoresWithSamples++
		sum.Total += t.total
		for ip, n := range t.byIP {
			sum.ByIP[ip] += n
		}
		for pid, n := range t.byPID {
			sum.ByPID[pid] += n
		}
	}
	l := logger()
	l.Debug().
		Int("cores", len(files)).
		Int("cores_with_samples", sum.CoresWithSamples).
		Int("samples", sum.Total).
		Int("distinct_ips", len(sum.ByIP)).
		Msg("core captures aggregated")

	switch sum.CoresWithSamples {
	case 0:
		return sum, fmt.Errorf("%w: no samples on any core", protocol.ErrValidation)
	case 1:
		return sum, fmt.Errorf("%w: all samples on one core", protocol.ErrValidation)
	}
	return sum, nil
}

func tallyCore(core int, data []byte) (coreTally, error) {
	size := schema.SampleRecordPC.Size()
	t := coreTally{byIP: make(map[uint64]int), byPID: make(map[uint32]int)}
	if rem := len(data) % size; rem != 0 {
		l := logger()
		l.Warn().Int("core", core).Int("bytes", rem).Msg("dropping partial sample record")
		data = data[:len(data)-rem]
	}
	records, err := wire.DecodeArray(schema.SampleRecordPC, data)
	if err != nil {
		return t, err
	}
	for _, r := range records {
		t.total++
		t.byIP[r.Uint("iip")]++
		t.byPID[uint32(r.Uint("pidRecIndex"))]++
	}
	return t, nil
}

// HotspotSamples counts the samples within tolerance of addr on either side.
func (s CoreSummary) HotspotSamples(addr, tolerance uint64) int {
	var n int
	for ip, count := range s.ByIP {
		if absDiff(ip, addr) <= tolerance {
			n += count
		}
	}
	return n
}

// CheckHotspot fails unless strictly more than HotspotRatio of all samples
// lie within tolerance of addr.
func (s CoreSummary) CheckHotspot(addr, tolerance uint64) error {
	if s.Total == 0 {
		return fmt.Errorf("%w: no samples", protocol.ErrValidation)
	}
	hits := s.HotspotSamples(addr, tolerance)
	ratio := float64(hits) / float64(s.Total)
	if ratio <= HotspotRatio {
		return fmt.Errorf("%w: %d of %d samples (%.3f) near hotspot %#x", protocol.ErrValidation, hits, s.Total, ratio, addr)
	}
	return nil
}

// ModuleSamples counts the samples whose address lies in any range of name.
// An address covered by overlapping ranges counts once.
func (s CoreSummary) ModuleSamples(modules ModuleMap, name string) int {
	var n int
	for ip, count := range s.ByIP {
		if modules.Contains(name, ip) {
			n += count
		}
	}
	return n
}

// CheckModule fails when name is absent from modules or fewer than
// ModuleRatio of all samples fall inside it.
func (s CoreSummary) CheckModule(modules ModuleMap, name string) error {
	if _, ok := modules[name]; !ok {
		return fmt.Errorf("%w: module %q not in module map", protocol.ErrValidation, name)
	}
	hits := s.ModuleSamples(modules, name)
	if float64(hits) < ModuleRatio*float64(s.Total) {
		return fmt.Errorf("%w: %d of %d samples in module %q", protocol.ErrValidation, hits, s.Total, name)
	}
	return nil
}

// TopIPs returns a copy of ByIP restricted to the n most sampled addresses.
func (s CoreSummary) TopIPs(n int) map[uint64]int {
	if n >= len(s.ByIP) {
		return maps.Clone(s.ByIP)
	}
	out := make(map[uint64]int, n)
	for range n {
		var best uint64
		bestCount := -1
		for ip, c := range s.ByIP {
			if _, taken := out[ip]; taken {
				continue
			}
			if c > bestCount || (c == bestCount && ip < best) {
				best, bestCount = ip, c
			}
		}
		out[best] = bestCount
	}
	return out
}

// CoreCheck names what a core collection is expected to show.
type CoreCheck struct {
	Hotspot   uint64
	Tolerance uint64
	Module    string
}

// CheckCoreData aggregates the core captures, checks hotspot concentration
// and then module attribution against the module channel capture.
func CheckCoreData(ctx context.Context, cores [][]byte, moduleData []byte, want CoreCheck) (CoreSummary, error) {
	sum, err := AggregateCores(ctx, cores)
	if err != nil {
		return sum, err
	}
	if err := sum.CheckHotspot(want.Hotspot, want.Tolerance); err != nil {
		return sum, err
	}
	modules, err := DecodeModules(moduleData)
	if err != nil {
		return sum, err
	}
	if err := sum.CheckModule(modules, want.Module); err != nil {
		return sum, err
	}
	l := logger()
	l.Info().
		Int("samples", sum.Total).
		Int("hotspot", sum.HotspotSamples(want.Hotspot, want.Tolerance)).
		Int("module", sum.ModuleSamples(modules, want.Module)).
		Str("module_name", want.Module).
		Msg("core data valid")
	return sum, nil
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
