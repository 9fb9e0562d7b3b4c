package analyzer

import (
	"context"
	"testing"

	"github.com/danmuck/sepprobe/internal/protocol"
	"github.com/danmuck/sepprobe/internal/protocol/schema"
	"github.com/danmuck/sepprobe/internal/protocol/wire"
	"github.com/danmuck/sepprobe/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const hotspot = 0x804900F

func coreFile(t *testing.T, pid uint64, ips ...uint64) []byte {
	t.Helper()
	records := make([]*wire.Record, len(ips))
	for i, ip := range ips {
		r := wire.New(schema.SampleRecordPC)
		require.NoError(t, r.Set("iip", ip))
		require.NoError(t, r.Set("pidRecIndex", pid))
		records[i] = r
	}
	b, err := wire.EncodeArray(records)
	require.NoError(t, err)
	return b
}

// repeat returns n copies of ip.
func repeat(ip uint64, n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = ip
	}
	return out
}

func moduleRecord(t *testing.T, name string, load, length uint64) []byte {
	t.Helper()
	path := append([]byte(name), 0)
	recLen := schema.ModuleRecord.Size() + len(path)
	r := wire.New(schema.ModuleRecord)
	require.NoError(t, r.SetFields(wire.Values{
		"recLength":  int64(recLen),
		"pathLength": int64(len(path)),
	}))
	require.NoError(t, r.Set("loadAddr64", load))
	require.NoError(t, r.Set("length64", length))
	return append(wire.Encode(r), path...)
}

func uncoreFile(t *testing.T, deltas []uint64) []byte {
	t.Helper()
	var out []byte
	counter := uint64(1_000_000)
	for i := 0; i <= len(deltas); i++ {
		if i > 0 {
			counter += deltas[i-1]
		}
		out = append(out, wire.Encode(wire.New(schema.UncoreSampleRecordPC))...)
		out = wire.Order.AppendUint64(out, 0xdead)
		out = wire.Order.AppendUint64(out, counter)
	}
	return out
}

func TestHotspotConcentration(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		near int
		ok   bool
	}{
		{name: "96 percent passes", near: 96, ok: true},
		{name: "94 percent fails", near: 94, ok: false},
		{name: "exactly 95 percent fails", near: 95, ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ips := append(repeat(hotspot+5, tc.near/2), repeat(hotspot-3, tc.near-tc.near/2)...)
			ips = append(ips, repeat(0x400000, 100-tc.near)...)
			files := [][]byte{coreFile(t, 7, ips[:50]...), coreFile(t, 8, ips[50:]...)}

			sum, err := AggregateCores(context.Background(), files)
			require.NoError(t, err)
			require.Equal(t, 100, sum.Total)
			require.Equal(t, 2, sum.CoresWithSamples)

			err = sum.CheckHotspot(hotspot, 5)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, protocol.ErrValidation)
			}
		})
	}
}

func TestAggregateNeedsTwoCoresWithSamples(t *testing.T) {
	testlog.Start(t)
	_, err := AggregateCores(context.Background(), [][]byte{nil, {}})
	require.ErrorIs(t, err, protocol.ErrValidation)

	_, err = AggregateCores(context.Background(), [][]byte{coreFile(t, 1, hotspot), nil})
	require.ErrorIs(t, err, protocol.ErrValidation)
}

func TestAggregateTalliesAndDropsPartialRecord(t *testing.T) {
	testlog.Start(t)
	a := append(coreFile(t, 3, 0x10, 0x10, 0x20), 1, 2, 3)
	b := coreFile(t, 4, 0x20)

	sum, err := AggregateCores(context.Background(), [][]byte{a, nil, b})
	require.NoError(t, err)
	require.Equal(t, 4, sum.Total)
	if diff := cmp.Diff(map[uint64]int{0x10: 2, 0x20: 2}, sum.ByIP); diff != "" {
		t.Fatalf("by ip mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[uint32]int{3: 3, 4: 1}, sum.ByPID); diff != "" {
		t.Fatalf("by pid mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, map[uint64]int{0x10: 2}, sum.TopIPs(1))
}

func TestDecodeModules(t *testing.T) {
	testlog.Start(t)
	var data []byte
	data = append(data, moduleRecord(t, "/usr/user/test", 0x8048000, 0x2000)...)
	data = append(data, moduleRecord(t, "/lib/libc.so.6 ", 0x7f0000, 0x100)...)
	data = append(data, moduleRecord(t, "/usr/user/test", 0x9000000, 0x10)...)

	modules, err := DecodeModules(data)
	require.NoError(t, err)
	want := ModuleMap{
		"/usr/user/test": {{Lo: 0x8048000, Hi: 0x804A000}, {Lo: 0x9000000, Hi: 0x9000010}},
		"/lib/libc.so.6": {{Lo: 0x7f0000, Hi: 0x7f0100}},
	}
	if diff := cmp.Diff(want, modules); diff != "" {
		t.Fatalf("module map mismatch (-want +got):\n%s", diff)
	}
	require.True(t, modules.Contains("/usr/user/test", 0x804A000))
	require.False(t, modules.Contains("/usr/user/test", 0x804A001))

	empty, err := DecodeModules(nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestDecodeModulesRejectsBrokenRecords(t *testing.T) {
	testlog.Start(t)
	rec := moduleRecord(t, "/bin/x", 0x1000, 0x10)

	_, err := DecodeModules(rec[:40])
	require.ErrorIs(t, err, protocol.ErrValidation)

	_, err = DecodeModules(rec[:len(rec)-2])
	require.ErrorIs(t, err, protocol.ErrValidation)

	zero := append([]byte(nil), rec...)
	zero[0], zero[1] = 0, 0
	_, err = DecodeModules(zero)
	require.ErrorIs(t, err, protocol.ErrValidation)
}

func TestModuleAttribution(t *testing.T) {
	testlog.Start(t)
	modules := ModuleMap{"/usr/user/test": {{Lo: 0x1000, Hi: 0x2000}, {Lo: 0x1800, Hi: 0x3000}}}
	sum := CoreSummary{Total: 100, ByIP: map[uint64]int{0x1900: 90, 0x9000: 10}}
	require.NoError(t, sum.CheckModule(modules, "/usr/user/test"))
	require.Equal(t, 90, sum.ModuleSamples(modules, "/usr/user/test"))

	sum.ByIP = map[uint64]int{0x1900: 89, 0x9000: 11}
	require.ErrorIs(t, sum.CheckModule(modules, "/usr/user/test"), protocol.ErrValidation)
	require.ErrorIs(t, sum.CheckModule(modules, "/usr/user/other"), protocol.ErrValidation)
}

func TestCheckCoreData(t *testing.T) {
	testlog.Start(t)
	cores := [][]byte{
		coreFile(t, 1, repeat(hotspot, 30)...),
		coreFile(t, 1, repeat(hotspot+1, 30)...),
	}
	module := moduleRecord(t, "/usr/user/test", 0x8048000, 0x2000)
	want := CoreCheck{Hotspot: hotspot, Tolerance: 5, Module: "/usr/user/test"}

	sum, err := CheckCoreData(context.Background(), cores, module, want)
	require.NoError(t, err)
	require.Equal(t, 60, sum.Total)

	want.Module = "/usr/user/missing"
	_, err = CheckCoreData(context.Background(), cores, module, want)
	require.ErrorIs(t, err, protocol.ErrValidation)

	want.Module = "/usr/user/test"
	want.Hotspot = 0x1234
	_, err = CheckCoreData(context.Background(), cores, module, want)
	require.ErrorIs(t, err, protocol.ErrValidation)
}

func TestUncoreStability(t *testing.T) {
	testlog.Start(t)

	steady := make([]uint64, 100)
	for i := range steady {
		if i%2 == 0 {
			steady[i] = 90_000
		} else {
			steady[i] = 110_000
		}
	}
	sum, err := CheckUncore(uncoreFile(t, steady))
	require.NoError(t, err)
	require.Equal(t, 101, sum.Records)
	require.InDelta(t, 100_000, sum.Mean, 1e-6)
	require.Equal(t, 100, sum.Stable)

	noisy := make([]uint64, 100)
	for i := range noisy {
		switch {
		case i < 10:
			noisy[i] = 50_000
		case i < 20:
			noisy[i] = 150_000
		default:
			noisy[i] = 100_000
		}
	}
	sum, err = CheckUncore(uncoreFile(t, noisy))
	require.ErrorIs(t, err, protocol.ErrValidation)
	require.Equal(t, 80, sum.Stable)

	_, err = CheckUncore(uncoreFile(t, repeat(1_000, 10)))
	require.ErrorIs(t, err, protocol.ErrValidation)
}

func TestUncoreNeedsTwoRecords(t *testing.T) {
	testlog.Start(t)
	_, err := CheckUncore(uncoreFile(t, nil))
	require.ErrorIs(t, err, protocol.ErrValidation)

	_, err = CheckUncore(nil)
	require.ErrorIs(t, err, protocol.ErrValidation)
}

func TestUncoreZeroBaselineRestarts(t *testing.T) {
	testlog.Start(t)
	var data []byte
	for _, v := range []uint64{0, 0, 100_000, 200_000} {
		data = append(data, make([]byte, schema.UncoreSampleRecordPC.Size())...)
		data = wire.Order.AppendUint64(data, 0)
		data = wire.Order.AppendUint64(data, v)
	}
	sum, err := summarizeUncore(data, UncoreRecordLen)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0, 100_000}, sum.Deltas)
}
