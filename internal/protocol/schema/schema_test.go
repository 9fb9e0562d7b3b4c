package schema

import (
	"math/rand/v2"
	"testing"

	"github.com/danmuck/sepprobe/internal/protocol/wire"
	"github.com/danmuck/sepprobe/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

func TestLayoutSizesMatchDriverABI(t *testing.T) {
	testlog.Start(t)

	shared := map[string]int{
		"FirstDataMsg":          8,
		"RemoteOsInfo":          200,
		"RemoteSwitch":          8,
		"RemoteHardwareInfo":    40,
		"DriverVersionInfo":     4,
		"DimmInfo":              40,
		"PlatformInfo":          15440,
		"DriverControlLog":      296,
		"DrvConfig":             104,
		"DevConfig":             4080,
		"DevUncConfig":          4048,
		"DrvTopology":           72,
		"SampleDrop":            16,
		"SampleDropInfo":        324,
		"EventDesc":             112,
		"EventConfig":           144,
		"TaskInfo":              48,
		"SampleRecordPC":        48,
		"ModuleRecord":          80,
		"UncoreSampleRecordPC":  32,
		"SetupInfo":             32,
		"FirstCommunicationMsg": 24,
	}
	perVersion := map[Version]map[string]int{
		Version3: {"ControlMsg": 24, "TargetStatusMsg": 256},
		Version6: {"ControlMsg": 48, "TargetStatusMsg": 296},
	}

	for _, v := range Supported() {
		d, err := NewDialect(v)
		if err != nil {
			t.Fatalf("dialect %d: %v", v, err)
		}
		s := d.Schema()
		want := make(map[string]int, len(shared)+2)
		for k, n := range shared {
			want[k] = n
		}
		for k, n := range perVersion[v] {
			want[k] = n
		}
		for name, size := range want {
			l, ok := s.Lookup(name)
			if !ok {
				t.Fatalf("v%d: missing layout %s", v, name)
			}
			if l.Size() != size {
				t.Fatalf("v%d: %s size=%d want=%d", v, name, l.Size(), size)
			}
		}
		if len(s.Layouts()) != len(want) {
			t.Fatalf("v%d: layouts=%d want=%d", v, len(s.Layouts()), len(want))
		}
	}
}

func TestNestedOffsets(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		layout *wire.Layout
		field  string
		offset int
	}{
		{V3.TargetStatusMsg, "remote_hardware_info", 216},
		{V6.TargetStatusMsg, "remote_os_info", 48},
		{V6.TargetStatusMsg, "remote_hardware_info", 256},
		{ModuleRecord, "length64", 16},
		{ModuleRecord, "pathLength", 52},
		{SampleRecordPC, "tsc", 40},
		{UncoreSampleRecordPC, "tsc", 24},
		{DevConfig, "emon_unc_offset", 40},
		{V6.DrvConfig, "emon_timer_interval", 72},
		{EventDesc, "reserved3", 104},
	}
	for _, tc := range cases {
		got, ok := tc.layout.Offset(tc.field)
		if !ok || got != tc.offset {
			t.Fatalf("%s.%s offset=%d ok=%v want=%d", tc.layout.Name(), tc.field, got, ok, tc.offset)
		}
	}
}

func TestHelloCarriesVersionDefaults(t *testing.T) {
	testlog.Start(t)

	d3, _ := NewDialect(Version3)
	hello := d3.Hello(4096)
	if got := hello.Uint("proto_version"); got != 3 {
		t.Fatalf("v3 proto_version=%d", got)
	}
	if got := hello.Uint("per_cpu_buffer_size"); got != 4096 {
		t.Fatalf("v3 per_cpu_buffer_size=%d", got)
	}

	d6, _ := NewDialect(Version6)
	hello = d6.Hello(0)
	if hello.Uint("msg_size") != 24 || hello.Uint("proto_version") != 6 {
		t.Fatalf("unexpected v6 hello:\n%s", hello.Dump())
	}
	header := d6.ControlHeader(28, 0, 4)
	if header.Uint("header_size") != 48 || header.Uint("command_id") != 28 || header.Uint("from_target_data_size") != 4 {
		t.Fatalf("unexpected v6 control header:\n%s", header.Dump())
	}
}

func TestControlStatus(t *testing.T) {
	testlog.Start(t)

	d6, _ := NewDialect(Version6)
	reply := d6.ControlHeader(85, 0, 0)
	if err := reply.SetInt("status", 159); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if got := d6.ControlStatus(reply); got != 159 {
		t.Fatalf("v6 status=%d", got)
	}

	d3, _ := NewDialect(Version3)
	if got := d3.ControlStatus(d3.ControlHeader(85, 0, 0)); got != 0 {
		t.Fatalf("v3 status=%d", got)
	}
}

func TestNewDialectRejectsUnknownVersion(t *testing.T) {
	testlog.Start(t)
	if _, err := NewDialect(4); err == nil {
		t.Fatalf("expected error for version 4")
	}
}

func TestEveryLayoutRoundTrips(t *testing.T) {
	testlog.Start(t)
	rng := rand.New(rand.NewPCG(6, 3))
	for _, v := range Supported() {
		d, err := NewDialect(v)
		if err != nil {
			t.Fatalf("dialect %d: %v", v, err)
		}
		for _, l := range d.Schema().Layouts() {
			buf := make([]byte, l.Size())
			for i := range buf {
				buf[i] = byte(rng.UintN(256))
			}
			first, err := wire.Decode(l, buf)
			if err != nil {
				t.Fatalf("v%d %s decode: %v", v, l.Name(), err)
			}
			second, err := wire.Decode(l, wire.Encode(first))
			if err != nil {
				t.Fatalf("v%d %s re-decode: %v", v, l.Name(), err)
			}
			if diff := cmp.Diff(first.Flatten(), second.Flatten()); diff != "" {
				t.Fatalf("v%d %s round trip mismatch (-first +second):\n%s", v, l.Name(), diff)
			}
		}
	}
}
