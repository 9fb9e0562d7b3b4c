package analyzer

import (
	"fmt"

	"github.com/danmuck/sepprobe/internal/protocol"
	"github.com/danmuck/sepprobe/internal/protocol/schema"
	"github.com/danmuck/sepprobe/internal/protocol/wire"
	"gonum.org/v1/gonum/stat"
)

// Uncore capture constants.
const (
	// UncoreRecordLen is an UncoreSampleRecordPC followed by the counter tail.
	UncoreRecordLen = 48
	// UncoreMinDelta is the floor for the mean counter delta.
	UncoreMinDelta = 50000
	// UncoreBand is the relative window around the mean a delta must fall in.
	UncoreBand = 0.15
	// UncoreStableRatio of deltas must fall inside the band.
	UncoreStableRatio = 0.90
)

// UncoreSummary describes the counter deltas of an uncore capture.
type UncoreSummary struct {
	Records int
	// Deltas are the differences between consecutive summed counters,
	// starting with the second record.
	Deltas []float64
	Mean   float64
	Stable int
}

// CheckUncore decodes an uncore capture and checks that the summed counters
// grow at a steady rate. The first counter of each tail is excluded from the
// sum.
func CheckUncore(data []byte) (UncoreSummary, error) {
	sum, err := summarizeUncore(data, UncoreRecordLen)
	if err != nil {
		return sum, err
	}
	l := logger()
	l.Debug().
		Int("records", sum.Records).
		Float64("mean", sum.Mean).
		Int("stable", sum.Stable).
		Msg("uncore deltas")

	if sum.Mean < UncoreMinDelta {
		return sum, fmt.Errorf("%w: mean uncore delta %.0f below %d", protocol.ErrValidation, sum.Mean, UncoreMinDelta)
	}
	if float64(sum.Stable) < UncoreStableRatio*float64(len(sum.Deltas)) {
		return sum, fmt.Errorf("%w: %d of %d uncore deltas within %.0f%% of mean %.0f",
			protocol.ErrValidation, sum.Stable, len(sum.Deltas), UncoreBand*100, sum.Mean)
	}
	return sum, nil
}

func summarizeUncore(data []byte, recLen int) (UncoreSummary, error) {
	header := schema.UncoreSampleRecordPC.Size()
	if recLen <= header || (recLen-header)%8 != 0 {
		return UncoreSummary{}, fmt.Errorf("%w: uncore record length %d", protocol.ErrUsage, recLen)
	}
	if rem := len(data) % recLen; rem != 0 {
		l := logger()
		l.Warn().Int("bytes", rem).Msg("dropping partial uncore record")
		data = data[:len(data)-rem]
	}
	n := len(data) / recLen
	if n < 2 {
		return UncoreSummary{Records: n}, fmt.Errorf("%w: %d uncore records, need at least 2", protocol.ErrValidation, n)
	}

	counters := (recLen - header) / 8
	sums := make([]uint64, n)
	for i := range n {
		rec := data[i*recLen : (i+1)*recLen]
		if _, err := wire.Decode(schema.UncoreSampleRecordPC, rec[:header]); err != nil {
			return UncoreSummary{}, err
		}
		for c := 1; c < counters; c++ {
			off := header + c*8
			sums[i] += wire.Order.Uint64(rec[off : off+8])
		}
	}

	// A zero running sum restarts the baseline.
	deltas := make([]float64, 0, n-1)
	prev := sums[0]
	for i := 1; i < n; i++ {
		if prev == 0 {
			prev = sums[i]
		}
		deltas = append(deltas, float64(sums[i])-float64(prev))
		prev = sums[i]
	}

	mean := stat.Mean(deltas, nil)
	lo, hi := mean*(1-UncoreBand), mean*(1+UncoreBand)
	var stable int
	for _, d := range deltas {
		if d > lo && d < hi {
			stable++
		}
	}
	return UncoreSummary{Records: n, Deltas: deltas, Mean: mean, Stable: stable}, nil
}
