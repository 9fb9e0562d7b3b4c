package session

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/sepprobe/internal/channel"
	"github.com/danmuck/sepprobe/internal/protocol"
	"github.com/danmuck/sepprobe/internal/protocol/schema"
	"github.com/danmuck/sepprobe/internal/protocol/wire"
	"github.com/danmuck/sepprobe/internal/testutil/mockpeer"
	"github.com/danmuck/sepprobe/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func startPeer(t *testing.T, cfg mockpeer.Config) *mockpeer.Peer {
	t.Helper()
	p, err := mockpeer.Start(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Close()
		require.NoError(t, p.Err())
	})
	return p
}

func newSession(t *testing.T, p *mockpeer.Peer, v schema.Version) *Session {
	t.Helper()
	cfg := DefaultConfig()
	cfg.IP = p.IP()
	cfg.Port = p.Port()
	cfg.Version = v
	cfg.Retry = channel.Backoff{InitialDelay: 10 * time.Millisecond}
	cfg.CaptureDir = t.TempDir()
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func openSession(t *testing.T, cfg mockpeer.Config) (*Session, *mockpeer.Peer) {
	t.Helper()
	p := startPeer(t, cfg)
	s := newSession(t, p, cfg.Version)
	require.NoError(t, s.Init(context.Background()))
	return s, p
}

func TestInitDiscoversDataChannels(t *testing.T) {
	testlog.Start(t)
	s, p := openSession(t, mockpeer.Config{Version: schema.Version6, NumCPUs: 4, UncoreSupported: true})

	require.Equal(t, StateReady, s.State())
	require.Equal(t, 4, s.NumCPUs())
	require.True(t, s.UncoreSupported())

	ch := s.Channels()
	require.Equal(t, 100, ch.Cores.Len())
	require.Equal(t, 102, ch.Data.Len())
	require.Len(t, ch.Cores.Created(), 4)
	require.Len(t, ch.Data.Created(), 6)
	require.Same(t, ch.Cores.At(2), ch.Data.At(2))

	require.NotNil(t, ch.Module)
	require.NotNil(t, ch.Uncore)
	require.Equal(t, 100, ch.Module.Index())
	require.Equal(t, 101, ch.Uncore.Index())
	require.Equal(t, protocol.RoleModule, ch.Module.Role())
	require.Equal(t, protocol.RoleUncore, ch.Uncore.Role())
	require.Len(t, ch.Data.ByRole(protocol.RoleCore), 4)

	require.Eventually(t, func() bool { return p.Sessions() == 1 }, time.Second, 5*time.Millisecond)
}

func TestUnclaimedTrailingChannelsKeepNoRole(t *testing.T) {
	testlog.Start(t)
	s, _ := openSession(t, mockpeer.Config{Version: schema.Version3, NumCPUs: 2, TrailingDataTypes: []uint16{0, 0}})

	ch := s.Channels()
	require.Nil(t, ch.Module)
	require.Nil(t, ch.Uncore)
	require.Equal(t, 16, ch.Cores.Len())
	require.Len(t, ch.Data.ByRole(protocol.RoleNone), 2)
}

func TestHandshakeRejections(t *testing.T) {
	cases := map[string]mockpeer.Config{
		"version":  {Version: schema.Version6, DeclaredVersion: schema.Version3, NumCPUs: 1},
		"status":   {Version: schema.Version6, HandshakeStatus: 7, NumCPUs: 1},
		"v3status": {Version: schema.Version3, HandshakeStatus: 1, NumCPUs: 1},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			testlog.Start(t)
			p := startPeer(t, cfg)
			s := newSession(t, p, cfg.Version)
			err := s.Init(context.Background())
			require.ErrorIs(t, err, protocol.ErrProtocol)
			require.Equal(t, StateClosed, s.State())
			require.False(t, s.Channels().Control.Connected())
		})
	}
}

func TestOperationsRequireReadySession(t *testing.T) {
	testlog.Start(t)
	p := startPeer(t, mockpeer.Config{Version: schema.Version6, NumCPUs: 1})
	s := newSession(t, p, schema.Version6)

	_, err := s.RunOperation(protocol.CmdVersion, nil, 4)
	require.ErrorIs(t, err, protocol.ErrUsage)
	require.ErrorIs(t, s.Start(), protocol.ErrUsage)

	require.NoError(t, s.Init(context.Background()))
	require.ErrorIs(t, s.Init(context.Background()), protocol.ErrUsage)
}

func TestEchoMismatchIsProtocolError(t *testing.T) {
	testlog.Start(t)
	s, _ := openSession(t, mockpeer.Config{
		Version: schema.Version6,
		NumCPUs: 1,
		Handler: func(req mockpeer.Request) (mockpeer.Response, bool) {
			if req.Command == protocol.CmdVersion {
				return mockpeer.Response{Echo: protocol.CmdStop}, true
			}
			return mockpeer.Response{}, false
		},
	})

	_, err := s.Version()
	require.ErrorIs(t, err, protocol.ErrProtocol)
}

func TestEveryCommandRejectsWrongEcho(t *testing.T) {
	testlog.Start(t)
	for _, v := range schema.Supported() {
		t.Run(fmt.Sprintf("v%d", v), func(t *testing.T) {
			s, _ := openSession(t, mockpeer.Config{
				Version: v,
				NumCPUs: 1,
				Handler: func(req mockpeer.Request) (mockpeer.Response, bool) {
					return mockpeer.Response{Echo: req.Command + 1}, true
				},
			})
			for _, cmd := range protocol.Commands() {
				_, err := s.RunOperation(cmd, nil, 0)
				require.ErrorIs(t, err, protocol.ErrProtocol, "%s", cmd)
			}
			require.Equal(t, StateReady, s.State())
		})
	}
}

func TestNoDataReplies(t *testing.T) {
	testlog.Start(t)
	s, _ := openSession(t, mockpeer.Config{Version: schema.Version6, NumCPUs: 1})

	reply, err := s.RunOperation(protocol.CmdGetSampleDropInfo, nil, schema.SampleDropInfo.Size())
	require.NoError(t, err)
	require.True(t, reply.NoData)
	require.Equal(t, protocol.StatusNoData, reply.Status)
	require.Nil(t, reply.Payload)

	drop, err := s.SampleDropInfo()
	require.NoError(t, err)
	require.Nil(t, drop)

	threads, err := s.ThreadInfo()
	require.NoError(t, err)
	require.Empty(t, threads)

	// The control stream is still aligned after skipped payloads.
	n, err := s.NumCores()
	require.NoError(t, err)
	require.Equal(t, uint32(1), n)
}

func TestThreadInfoDecodesTasks(t *testing.T) {
	testlog.Start(t)
	task := wire.New(schema.TaskInfo)
	require.NoError(t, task.Set("id", 42))
	require.NoError(t, task.SetBytes("name", []byte("sampler")))
	s, _ := openSession(t, mockpeer.Config{
		Version: schema.Version6,
		NumCPUs: 1,
		Handler: func(req mockpeer.Request) (mockpeer.Response, bool) {
			switch req.Command {
			case protocol.CmdGetThreadCount:
				return mockpeer.Response{Payload: u32(2)}, true
			case protocol.CmdGetThreadInfo:
				return mockpeer.Response{Payload: wire.Encode(task)}, true
			}
			return mockpeer.Response{}, false
		},
	})

	threads, err := s.ThreadInfo()
	require.NoError(t, err)
	require.Len(t, threads, 2)
	require.Equal(t, uint64(42), threads[0].Uint("id"))
	require.Equal(t, "sampler", threads[0].CString("name"))
	require.Equal(t, uint64(0), threads[1].Uint("id"))
}

func TestQueriesDecodeReplies(t *testing.T) {
	testlog.Start(t)
	s, _ := openSession(t, mockpeer.Config{Version: schema.Version6, NumCPUs: 3, SysConfigSize: 96})

	v, err := s.Version()
	require.NoError(t, err)
	require.Equal(t, uint64(5), v.Uint("major"))
	require.Equal(t, uint64(1), v.Uint("update"))

	sys, err := s.SysConfig()
	require.NoError(t, err)
	require.Len(t, sys, 96)

	info, err := s.PlatformInfo()
	require.NoError(t, err)
	require.Equal(t, 384, info.Len("dimm_info"))

	_, err = s.SetupInfo()
	require.NoError(t, err)

	first, err := s.GetTSC()
	require.NoError(t, err)
	second, err := s.GetTSC()
	require.NoError(t, err)
	require.Greater(t, second, first)

	busy, err := s.BusyDriver()
	require.NoError(t, err)
	require.False(t, busy)

	skew, err := s.TSCSkew()
	require.NoError(t, err)
	require.Len(t, skew, 32)
}

func TestSetupCommandsSendFixedPayloads(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ecb := filepath.Join(dir, "core.ecb")
	require.NoError(t, os.WriteFile(ecb, []byte("event-control-block"), 0o600))

	p := startPeer(t, mockpeer.Config{Version: schema.Version6, NumCPUs: 2})
	s := newSession(t, p, schema.Version6)
	s.cfg.ECBFile = ecb
	require.NoError(t, s.Init(context.Background()))

	require.NoError(t, s.SetTopology())
	require.NoError(t, s.InitPMU())
	require.NoError(t, s.SetECB())
	require.NoError(t, s.InitNumDevices())
	require.NoError(t, s.SetOSID())
	require.ErrorIs(t, s.SetUncoreECB(), protocol.ErrUsage)

	calls := p.Calls()
	require.Len(t, calls, 5)
	require.Equal(t, protocol.CmdSetCPUTopology, calls[0].Command)
	require.Len(t, calls[0].Payload, 2*schema.DrvTopology.Size())
	require.Equal(t, u32(2*PMUSlotsPerCPU*8), calls[1].Payload)
	require.Equal(t, []byte("event-control-block"), calls[2].Payload)
	require.Equal(t, u32(NumDevices), calls[3].Payload)
	require.Empty(t, calls[4].Payload)
	require.Zero(t, calls[4].Expect)

	topo, err := wire.DecodeArray(schema.DrvTopology, calls[0].Payload)
	require.NoError(t, err)
	require.Equal(t, int64(1), topo[0].Int("socket_master"))
	require.Equal(t, int64(0), topo[1].Int("socket_master"))
	require.Equal(t, uint64(1), topo[1].Uint("cpu_number"))
}

func TestPayloadDefaults(t *testing.T) {
	testlog.Start(t)
	drv := DriverConfigPayload(schema.V6)
	require.Equal(t, uint64(120), drv.Uint("size"))
	require.Equal(t, int64(-1), drv.Int("p_state_trigger_index"))
	require.Equal(t, uint64(1), drv.Uint("ds_area_available"))

	ev := EventConfigPayload()
	require.Equal(t, int64(-1), ev.Int("em_mode"))
	require.Equal(t, uint64(48), ev.Uint("sample_size"))
	require.Equal(t, uint64(0), UncoreEventConfigPayload().Uint("sample_size"))
	require.Equal(t, uint64(1), UncoreEventConfigPayload().Uint("num_groups_unc"))

	require.Equal(t, uint64(32), UncoreEventDescPayload().Uint("uncore_ebc_offset"))
	require.Equal(t, uint64(48), DeviceConfigPayload().Uint("results_offset"))
	require.Equal(t, uint64(120), UncoreDeviceConfigPayload().Uint("dispatch_id"))
}

func TestStartStopCapturesEveryDataChannel(t *testing.T) {
	testlog.Start(t)
	core := bytes.Repeat([]byte{0xab}, 48*20)
	uncore := bytes.Repeat([]byte{0x01}, 48*5)
	s, _ := openSession(t, mockpeer.Config{
		Version: schema.Version6,
		NumCPUs: 2,
		Streams: map[int][]byte{0: core, 3: uncore},
	})

	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())

	caps, err := s.Captures()
	require.NoError(t, err)
	require.Len(t, caps.Cores, 2)
	require.Equal(t, core, caps.Cores[0])
	require.Empty(t, caps.Cores[1])
	require.Empty(t, caps.Module)
	require.Equal(t, uncore, caps.Uncore)

	n, err := s.NumSamples()
	require.NoError(t, err)
	require.Equal(t, uint64(25), n)
}

func TestSessionReinitializesAfterClose(t *testing.T) {
	testlog.Start(t)
	s, p := openSession(t, mockpeer.Config{Version: schema.Version6, NumCPUs: 2})
	require.NoError(t, s.Terminate())
	require.NoError(t, s.Close())
	require.Equal(t, StateClosed, s.State())
	require.Empty(t, s.Channels().Data.Created())
	require.Nil(t, s.TargetStatus())

	require.NoError(t, s.Init(context.Background()))
	require.Len(t, s.Channels().Cores.Created(), 2)
	require.Eventually(t, func() bool { return p.Sessions() == 2 }, time.Second, 5*time.Millisecond)
}
