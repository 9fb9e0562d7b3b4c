package session

import (
	"context"
	"fmt"

	"github.com/danmuck/sepprobe/internal/channel"
	"github.com/danmuck/sepprobe/internal/protocol"
	"github.com/danmuck/sepprobe/internal/protocol/schema"
	"github.com/danmuck/sepprobe/internal/protocol/wire"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// Reply is the outcome of one control exchange.
type Reply struct {
	Command protocol.Command
	Status  int32
	Payload []byte
	// NoData is set when the agent answered with the no-data status and
	// skipped the payload it would otherwise have sent.
	NoData bool
}

// Session drives one conversation with the agent over a control channel and
// the data channels discovered during the handshake. It is not safe for
// concurrent use.
type Session struct {
	cfg     Config
	dialect schema.Dialect
	schema  *schema.Schema
	id      string
	state   State
	log     zerolog.Logger

	control *channel.Channel
	cores   *channel.Set
	data    *channel.Set
	module  *channel.Channel
	uncore  *channel.Channel

	target  *wire.Record
	numCPUs int
}

func New(cfg Config) (*Session, error) {
	d, err := schema.NewDialect(cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrUsage, err)
	}
	if cfg.ControlConnectAttempts < 1 {
		cfg.ControlConnectAttempts = 1
	}
	if cfg.DataConnectAttempts < 1 {
		cfg.DataConnectAttempts = 1
	}
	if cfg.CaptureDir == "" {
		cfg.CaptureDir = "."
	}
	s := &Session{
		cfg:     cfg,
		dialect: d,
		schema:  d.Schema(),
		id:      uuid.NewString(),
	}
	s.log = log.With().
		Str("component", "session").
		Str("session", s.id).
		Uint32("proto", uint32(cfg.Version)).
		Logger()
	s.resetChannels()
	return s, nil
}

// resetChannels replaces the channel tables with fresh inert ones. The core
// set's channels are shared by reference with the data set.
func (s *Session) resetChannels() {
	s.control = channel.New(0)
	s.cores = channel.NewSet(s.dialect.MaxCoreChannels())
	s.data = channel.NewSet(s.dialect.MaxCoreChannels() + 2)
	_ = s.data.Include(s.cores.Reserved()...)
	s.control.Retry = s.cfg.Retry
	for _, c := range s.data.Reserved() {
		c.Retry = s.cfg.Retry
	}
	s.module = nil
	s.uncore = nil
	s.target = nil
	s.numCPUs = 0
}

func (s *Session) ID() string              { return s.id }
func (s *Session) State() State            { return s.state }
func (s *Session) Dialect() schema.Dialect { return s.dialect }
func (s *Session) Config() Config          { return s.cfg }

// NumCPUs is the cpu count the agent declared during the handshake.
func (s *Session) NumCPUs() int { return s.numCPUs }

// TargetStatus is the TargetStatusMsg received during the handshake.
func (s *Session) TargetStatus() *wire.Record { return s.target }

// UncoreSupported reports the agent's uncore switch from the handshake.
func (s *Session) UncoreSupported() bool {
	if s.target == nil {
		return false
	}
	return s.target.Sub("remote_switch").Uint("uncore_supported") == 1
}

// Channels is a read-only view of the session's channel tables.
type Channels struct {
	Control *channel.Channel
	Cores   *channel.Set
	Data    *channel.Set
	// Module and Uncore are nil until a data channel claims the role.
	Module *channel.Channel
	Uncore *channel.Channel
}

func (s *Session) Channels() Channels {
	return Channels{
		Control: s.control,
		Cores:   s.cores,
		Data:    s.data,
		Module:  s.module,
		Uncore:  s.uncore,
	}
}

// Init connects the control channel, performs the handshake and opens one
// data channel per declared cpu plus the two trailing channels. On failure
// every channel is closed and the session is left closed.
func (s *Session) Init(ctx context.Context) error {
	if s.state != StateIdle && s.state != StateClosed {
		return fmt.Errorf("%w: init in state %s", protocol.ErrUsage, s.state)
	}
	s.log.Info().Str("target", fmt.Sprintf("%s:%d", s.cfg.IP, s.cfg.Port)).Msg("session init")
	if err := s.init(ctx); err != nil {
		s.log.Warn().Err(err).Str("state", s.state.String()).Msg("session init failed")
		_ = s.Close()
		return err
	}
	s.state = StateReady
	s.log.Info().
		Int("cpus", s.numCPUs).
		Bool("module", s.module != nil).
		Bool("uncore", s.uncore != nil).
		Msg("session ready")
	return nil
}

func (s *Session) init(ctx context.Context) error {
	if err := s.control.Create(protocol.RoleControl); err != nil {
		return err
	}
	if err := s.control.Connect(ctx, s.cfg.IP, s.cfg.Port, s.cfg.ControlConnectAttempts); err != nil {
		return err
	}
	s.state = StateControlConnected

	s.state = StateHandshaking
	if err := s.handshake(); err != nil {
		return err
	}
	return s.openData(ctx)
}

func (s *Session) handshake() error {
	if err := s.control.SendRecord(s.dialect.Hello(s.cfg.PerCPUBufferSize)); err != nil {
		return err
	}
	msg, err := s.control.ReceiveRecord(s.schema.TargetStatusMsg)
	if err != nil {
		return err
	}
	if status := s.dialect.TargetStatus(msg); status != 0 {
		return fmt.Errorf("%w: target status %d", protocol.ErrProtocol, status)
	}
	if got := s.dialect.DeclaredVersion(msg); got != s.cfg.Version {
		return fmt.Errorf("%w: target speaks version %d, expected %d", protocol.ErrProtocol, got, s.cfg.Version)
	}
	n := int(msg.Sub("remote_hardware_info").Uint("num_cpus"))
	if n > s.dialect.MaxCoreChannels() {
		return fmt.Errorf("%w: target declares %d cpus, version %d supports %d", protocol.ErrProtocol, n, s.cfg.Version, s.dialect.MaxCoreChannels())
	}
	s.target = msg
	s.numCPUs = n
	s.log.Debug().
		Int("cpus", n).
		Str("sysname", msg.Sub("remote_os_info").CString("sysname")).
		Bool("uncore_supported", s.UncoreSupported()).
		Msg("target status")
	return nil
}

func (s *Session) openData(ctx context.Context) error {
	cores := make([]int, s.numCPUs)
	for i := range cores {
		cores[i] = i
	}
	if err := s.cores.CreateMany(cores, protocol.RoleCore); err != nil {
		return err
	}
	last := s.data.Len()
	if err := s.data.CreateMany([]int{last - 2, last - 1}, protocol.RoleNone); err != nil {
		return err
	}
	if err := s.data.ConnectAll(ctx, s.cfg.IP, s.cfg.Port, s.cfg.DataConnectAttempts); err != nil {
		return err
	}

	hello := s.dialect.Hello(s.cfg.PerCPUBufferSize)
	for _, c := range s.data.Created() {
		if err := c.SendRecord(hello); err != nil {
			return err
		}
		msg, err := c.ReceiveRecord(schema.FirstDataMsg)
		if err != nil {
			return err
		}
		if got := s.dialect.DeclaredVersion(msg); got != s.cfg.Version {
			return fmt.Errorf("%w: %s speaks version %d, expected %d", protocol.ErrProtocol, c, got, s.cfg.Version)
		}
		// Later claims replace earlier ones.
		switch role := protocol.RoleFromDataType(uint16(msg.Uint("data_type"))); role {
		case protocol.RoleModule:
			c.SetRole(role)
			s.module = c
		case protocol.RoleUncore:
			c.SetRole(role)
			s.uncore = c
		}
	}
	return nil
}

func (s *Session) requireReady() error {
	if s.state != StateReady {
		return fmt.Errorf("%w: session is %s", protocol.ErrUsage, s.state)
	}
	return nil
}

// RunOperation sends cmd with payload and reads the agent's reply. expect is
// the number of bytes the agent is asked to return. A reply with fewer bytes
// is a connection error; an echoed command id that differs from cmd is a
// protocol error.
func (s *Session) RunOperation(cmd protocol.Command, payload []byte, expect int) (Reply, error) {
	if err := s.requireReady(); err != nil {
		return Reply{}, err
	}
	if expect < 0 {
		return Reply{}, fmt.Errorf("%w: negative reply size %d for %s", protocol.ErrUsage, expect, cmd)
	}
	s.log.Debug().Stringer("cmd", cmd).Int("send", len(payload)).Int("expect", expect).Msg("operation")

	header := s.dialect.ControlHeader(uint32(cmd), uint64(len(payload)), uint64(expect))
	if err := s.control.SendRecord(header); err != nil {
		return Reply{}, err
	}
	if len(payload) > 0 {
		if err := s.control.SendBytes(payload); err != nil {
			return Reply{}, err
		}
	}

	header, err := s.control.ReceiveRecord(s.schema.ControlMsg)
	if err != nil {
		return Reply{}, err
	}
	echoed := protocol.Command(header.Uint("command_id"))
	if echoed != cmd {
		return Reply{}, fmt.Errorf("%w: sent %s, reply echoes %s", protocol.ErrProtocol, cmd, echoed)
	}
	reply := Reply{Command: cmd, Status: s.dialect.ControlStatus(header)}
	if expect == 0 {
		return reply, nil
	}
	if protocol.ReportsNoData(cmd, reply.Status) {
		s.log.Debug().Stringer("cmd", cmd).Msg("no data")
		reply.NoData = true
		return reply, nil
	}
	b, err := s.control.ReceiveBytes(expect)
	if err != nil {
		return Reply{}, err
	}
	if len(b) != expect {
		return Reply{}, fmt.Errorf("%w: %s reply cut at %d of %d bytes", protocol.ErrConnection, cmd, len(b), expect)
	}
	reply.Payload = b
	return reply, nil
}

// Close closes every data channel and then the control channel. The session
// can be initialized again afterwards.
func (s *Session) Close() error {
	var errs error
	for _, c := range s.data.Created() {
		errs = multierr.Append(errs, c.Close())
	}
	if s.control.Created() || s.control.Connected() {
		errs = multierr.Append(errs, s.control.Close())
	}
	s.resetChannels()
	s.state = StateClosed
	s.log.Info().Msg("session closed")
	return errs
}
