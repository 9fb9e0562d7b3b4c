package session

import (
	"fmt"
	"os"

	"github.com/danmuck/sepprobe/internal/protocol"
	"github.com/danmuck/sepprobe/internal/protocol/schema"
	"github.com/danmuck/sepprobe/internal/protocol/wire"
	"go.uber.org/multierr"
)

// exec runs cmd and discards any reply payload.
func (s *Session) exec(cmd protocol.Command, payload []byte) error {
	_, err := s.RunOperation(cmd, payload, 0)
	return err
}

func (s *Session) query(cmd protocol.Command, expect int) ([]byte, error) {
	reply, err := s.RunOperation(cmd, nil, expect)
	if err != nil {
		return nil, err
	}
	return reply.Payload, nil
}

func (s *Session) queryRecord(cmd protocol.Command, l *wire.Layout) (*wire.Record, error) {
	b, err := s.query(cmd, l.Size())
	if err != nil {
		return nil, err
	}
	return wire.Decode(l, b)
}

func (s *Session) queryU32(cmd protocol.Command) (uint32, error) {
	b, err := s.query(cmd, 4)
	if err != nil {
		return 0, err
	}
	return wire.Order.Uint32(b), nil
}

func (s *Session) queryU64(cmd protocol.Command) (uint64, error) {
	b, err := s.query(cmd, 8)
	if err != nil {
		return 0, err
	}
	return wire.Order.Uint64(b), nil
}

func (s *Session) Terminate() error { return s.exec(protocol.CmdTerminate, nil) }

// Version returns the driver version as DriverVersionInfo.
func (s *Session) Version() (*wire.Record, error) {
	return s.queryRecord(protocol.CmdVersion, schema.DriverVersionInfo)
}

func (s *Session) SetupInfo() (*wire.Record, error) {
	return s.queryRecord(protocol.CmdGetDrvSetupInfo, s.schema.SetupInfo)
}

// SysConfigSize asks the agent to collect its system configuration and
// returns the size of the result.
func (s *Session) SysConfigSize() (uint32, error) {
	return s.queryU32(protocol.CmdCollectSysConfig)
}

// SysConfig collects and fetches the system configuration blob. An empty
// configuration is returned as nil.
func (s *Session) SysConfig() ([]byte, error) {
	n, err := s.SysConfigSize()
	if err != nil || n == 0 {
		return nil, err
	}
	return s.query(protocol.CmdGetSysConfig, int(n))
}

func (s *Session) PlatformInfo() (*wire.Record, error) {
	return s.queryRecord(protocol.CmdGetPlatformInfo, schema.PlatformInfo)
}

func (s *Session) InitNumDevices() error {
	return s.exec(protocol.CmdInitNumDev, u32(NumDevices))
}

// BusyDriver reports whether the driver is already owned by another session.
func (s *Session) BusyDriver() (bool, error) {
	n, err := s.queryU32(protocol.CmdReserve)
	return n != 0, err
}

func (s *Session) ReadMSR() error {
	return s.exec(protocol.CmdReadMSR, u32(ReadMSRIndex))
}

func (s *Session) SetOSID() error { return s.exec(protocol.CmdSetOSID, nil) }

func (s *Session) ControlDriverLog() error {
	return s.exec(protocol.CmdControlDriverLog, wire.Encode(DriverControlLogPayload()))
}

func (s *Session) InitDriver() error {
	return s.exec(protocol.CmdInitDriver, wire.Encode(DriverConfigPayload(s.schema)))
}

// InitDevice configures the core device.
func (s *Session) InitDevice() error {
	return s.exec(protocol.CmdInit, wire.Encode(DeviceConfigPayload()))
}

func (s *Session) InitUncoreDevice() error {
	return s.exec(protocol.CmdInitUnc, wire.Encode(UncoreDeviceConfigPayload()))
}

// SetTopology sends one DrvTopology per cpu declared in the handshake.
func (s *Session) SetTopology() error {
	b, err := wire.EncodeArray(TopologyPayload(s.numCPUs))
	if err != nil {
		return err
	}
	return s.exec(protocol.CmdSetCPUTopology, b)
}

func (s *Session) SetEventConfig() error {
	return s.exec(protocol.CmdEMGroups, wire.Encode(EventConfigPayload()))
}

func (s *Session) SetUncoreEventConfig() error {
	return s.exec(protocol.CmdEMGroupsUnc, wire.Encode(UncoreEventConfigPayload()))
}

// SetECB uploads the core event control block file verbatim.
func (s *Session) SetECB() error {
	return s.uploadECB(protocol.CmdEMConfigNext, s.cfg.ECBFile)
}

func (s *Session) SetUncoreECB() error {
	return s.uploadECB(protocol.CmdEMConfigNextUnc, s.cfg.UncoreECBFile)
}

func (s *Session) uploadECB(cmd protocol.Command, path string) error {
	if path == "" {
		return fmt.Errorf("%w: no ECB file configured for %s", protocol.ErrUsage, cmd)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read ECB file: %w", err)
	}
	return s.exec(cmd, b)
}

func (s *Session) SetDeviceNumUnits() error {
	return s.exec(protocol.CmdSetDeviceNumUnits, u32(CoreDeviceUnits))
}

func (s *Session) SetUncoreDeviceNumUnits() error {
	return s.exec(protocol.CmdSetDeviceNumUnits, u32(UncoreDeviceUnits))
}

func (s *Session) SetupDescriptors() error {
	return s.exec(protocol.CmdNumDescriptor, u32(NumDescriptors))
}

func (s *Session) DescNext() error {
	return s.exec(protocol.CmdDescNext, wire.Encode(EventDescPayload()))
}

func (s *Session) UncoreDescNext() error {
	return s.exec(protocol.CmdDescNext, wire.Encode(UncoreEventDescPayload()))
}

// GetTSC returns the agent's normalized timestamp counter.
func (s *Session) GetTSC() (uint64, error) {
	return s.queryU64(protocol.CmdGetNormalizedTSC)
}

// TSCSkew returns the raw per-cpu skew table.
func (s *Session) TSCSkew() ([]byte, error) {
	return s.query(protocol.CmdTSCSkewInfo, 32)
}

// ThreadInfo lists the agent's threads. An agent reporting no data yields
// an empty list.
func (s *Session) ThreadInfo() ([]*wire.Record, error) {
	reply, err := s.RunOperation(protocol.CmdGetThreadCount, nil, 4)
	if err != nil || reply.NoData {
		return nil, err
	}
	n := int(wire.Order.Uint32(reply.Payload))
	if n == 0 {
		return nil, nil
	}
	b, err := s.query(protocol.CmdGetThreadInfo, n*schema.TaskInfo.Size())
	if err != nil {
		return nil, err
	}
	return wire.DecodeArray(schema.TaskInfo, b)
}

func (s *Session) InitPMU() error {
	return s.exec(protocol.CmdInitPMU, u32(uint32(s.numCPUs*PMUSlotsPerCPU*8)))
}

func (s *Session) NumCores() (uint32, error) {
	return s.queryU32(protocol.CmdNumCores)
}

func (s *Session) NumSamples() (uint64, error) {
	return s.queryU64(protocol.CmdGetNumSamples)
}

// SampleDropInfo returns nil when the agent has nothing to report.
func (s *Session) SampleDropInfo() (*wire.Record, error) {
	reply, err := s.RunOperation(protocol.CmdGetSampleDropInfo, nil, schema.SampleDropInfo.Size())
	if err != nil || reply.NoData {
		return nil, err
	}
	return wire.Decode(schema.SampleDropInfo, reply.Payload)
}

// Start begins capture on every data channel and then starts the driver.
func (s *Session) Start() error {
	if err := s.requireReady(); err != nil {
		return err
	}
	for _, c := range s.data.Created() {
		if err := c.StartCapture(s.cfg.CaptureDir); err != nil {
			return err
		}
	}
	return s.exec(protocol.CmdStart, nil)
}

// Stop stops the driver and waits for every capture to drain.
func (s *Session) Stop() error {
	err := s.exec(protocol.CmdStop, nil)
	for _, c := range s.data.Created() {
		c.StopCapture()
		if cerr := c.CaptureErr(); cerr != nil {
			s.log.Warn().Err(cerr).Str("channel", c.String()).Msg("capture ended with error")
		}
	}
	return err
}

// Captures holds the bytes captured on each data channel.
type Captures struct {
	// Cores is indexed like the created core channels.
	Cores  [][]byte
	Module []byte
	Uncore []byte
}

// Captures reads back the files written by the last Start/Stop cycle.
func (s *Session) Captures() (Captures, error) {
	var out Captures
	var errs error
	for _, c := range s.cores.Created() {
		b, err := c.ReadCaptureFile()
		errs = multierr.Append(errs, err)
		out.Cores = append(out.Cores, b)
	}
	if s.module != nil {
		b, err := s.module.ReadCaptureFile()
		errs = multierr.Append(errs, err)
		out.Module = b
	}
	if s.uncore != nil {
		b, err := s.uncore.ReadCaptureFile()
		errs = multierr.Append(errs, err)
		out.Uncore = b
	}
	return out, errs
}
