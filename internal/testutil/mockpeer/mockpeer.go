// Package mockpeer is a scripted stand-in for the driver agent used by tests.
// It speaks the real wire format over TCP on 127.0.0.1.
package mockpeer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/danmuck/sepprobe/internal/protocol"
	"github.com/danmuck/sepprobe/internal/protocol/schema"
	"github.com/danmuck/sepprobe/internal/protocol/wire"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Request is one control exchange received by the peer.
type Request struct {
	Command protocol.Command
	Payload []byte
	Expect  uint64
}

// Response scripts the peer's reply. A zero Echo echoes the request id.
// Payload is padded or cut to the requested inbound size.
type Response struct {
	Echo    protocol.Command
	Status  int32
	Payload []byte
}

type Config struct {
	Version schema.Version
	// DeclaredVersion is what the peer claims in its status and data
	// messages. Zero means Version.
	DeclaredVersion schema.Version
	NumCPUs         int
	// HandshakeStatus is reported in the TargetStatusMsg.
	HandshakeStatus int32
	UncoreSupported bool
	// TrailingDataTypes are announced by the data channels after the cores,
	// in connect order. Nil means {MODULE, UNCORE}.
	TrailingDataTypes []uint16
	// Streams are written to data channels by connect order on START; every
	// data channel is closed on STOP.
	Streams map[int][]byte
	// Handler overrides the built-in replies when it returns ok.
	Handler func(Request) (Response, bool)
	// SysConfigSize is reported by COLLECT_SYS_CONFIG. Zero means 64.
	SysConfigSize uint32
}

// Peer serves sessions one after another until closed.
type Peer struct {
	cfg     Config
	dialect schema.Dialect
	ln      net.Listener
	log     zerolog.Logger

	mu       sync.Mutex
	calls    []Request
	sessions int
	tsc      uint64
	err      error

	done chan struct{}
}

func Start(cfg Config) (*Peer, error) {
	d, err := schema.NewDialect(cfg.Version)
	if err != nil {
		return nil, err
	}
	if cfg.DeclaredVersion == 0 {
		cfg.DeclaredVersion = cfg.Version
	}
	if cfg.TrailingDataTypes == nil {
		cfg.TrailingDataTypes = []uint16{uint16(protocol.RoleModule), uint16(protocol.RoleUncore)}
	}
	if cfg.SysConfigSize == 0 {
		cfg.SysConfigSize = 64
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	p := &Peer{
		cfg:     cfg,
		dialect: d,
		ln:      ln,
		log:     log.With().Str("component", "mockpeer").Logger(),
		tsc:     1000,
		done:    make(chan struct{}),
	}
	go p.serve()
	return p, nil
}

func (p *Peer) IP() string { return p.ln.Addr().(*net.TCPAddr).IP.String() }
func (p *Peer) Port() int  { return p.ln.Addr().(*net.TCPAddr).Port }

// Calls returns the control requests seen so far, in order.
func (p *Peer) Calls() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.calls))
	copy(out, p.calls)
	return out
}

// Commands returns the ids of Calls.
func (p *Peer) Commands() []protocol.Command {
	calls := p.Calls()
	out := make([]protocol.Command, len(calls))
	for i, c := range calls {
		out[i] = c.Command
	}
	return out
}

// Sessions counts completed handshakes.
func (p *Peer) Sessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions
}

// Err returns the first serving error other than a closed listener.
func (p *Peer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Peer) Close() error {
	err := p.ln.Close()
	<-p.done
	return err
}

func (p *Peer) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

func (p *Peer) serve() {
	defer close(p.done)
	for {
		control, err := p.ln.Accept()
		if err != nil {
			return
		}
		if err := p.session(control); err != nil && !clientGone(err) {
			p.log.Debug().Err(err).Msg("session ended")
			p.fail(err)
		}
		_ = control.Close()
	}
}

func (p *Peer) session(control net.Conn) error {
	s := p.dialect.Schema()
	if _, err := readRecord(control, s.FirstCommunicationMsg); err != nil {
		return err
	}
	if err := p.writeStatus(control); err != nil {
		return err
	}
	if p.cfg.HandshakeStatus != 0 || p.cfg.DeclaredVersion != p.cfg.Version {
		// The client gives up; wait for it to hang up.
		_, _ = io.Copy(io.Discard, control)
		return nil
	}

	total := p.cfg.NumCPUs + len(p.cfg.TrailingDataTypes)
	data := make([]net.Conn, 0, total)
	defer func() {
		for _, c := range data {
			_ = c.Close()
		}
	}()
	for len(data) < total {
		c, err := p.ln.Accept()
		if err != nil {
			return err
		}
		data = append(data, c)
	}
	for i, c := range data {
		if _, err := readRecord(c, s.FirstCommunicationMsg); err != nil {
			return fmt.Errorf("data hello %d: %w", i, err)
		}
		msg := wire.New(s.FirstDataMsg)
		_ = msg.Set("proto_version", uint64(p.cfg.DeclaredVersion))
		_ = msg.Set("data_id", uint64(i))
		if i >= p.cfg.NumCPUs {
			_ = msg.Set("data_type", uint64(p.cfg.TrailingDataTypes[i-p.cfg.NumCPUs]))
		}
		if _, err := c.Write(wire.Encode(msg)); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.sessions++
	p.mu.Unlock()

	var writers sync.WaitGroup
	for {
		header, err := readRecord(control, s.ControlMsg)
		if err != nil {
			writers.Wait()
			return err
		}
		req := Request{
			Command: protocol.Command(header.Uint("command_id")),
			Expect:  header.Uint("from_target_data_size"),
		}
		if n := header.Uint("to_target_data_size"); n > 0 {
			req.Payload = make([]byte, n)
			if _, err := io.ReadFull(control, req.Payload); err != nil {
				return err
			}
		}
		p.mu.Lock()
		p.calls = append(p.calls, req)
		p.mu.Unlock()

		switch req.Command {
		case protocol.CmdStart:
			for i, c := range data {
				stream := p.cfg.Streams[i]
				if len(stream) == 0 {
					continue
				}
				writers.Add(1)
				go func(c net.Conn, b []byte) {
					defer writers.Done()
					_, _ = c.Write(b)
				}(c, stream)
			}
		case protocol.CmdStop:
			writers.Wait()
			for _, c := range data {
				_ = c.Close()
			}
		}

		if err := p.reply(control, req, p.respond(req)); err != nil {
			return err
		}
	}
}

func (p *Peer) writeStatus(control net.Conn) error {
	msg := wire.New(p.dialect.Schema().TargetStatusMsg)
	_ = msg.Set("proto_version", uint64(p.cfg.DeclaredVersion))
	if p.dialect.Version() == schema.Version3 {
		_ = msg.Set("status", uint64(uint32(p.cfg.HandshakeStatus)))
	} else {
		_ = msg.SetInt("status", int64(p.cfg.HandshakeStatus))
		_ = msg.Set("msg_size", uint64(msg.Layout().Size()))
	}
	hw := msg.Sub("remote_hardware_info")
	_ = hw.Set("num_cpus", uint64(p.cfg.NumCPUs))
	if p.cfg.UncoreSupported {
		_ = msg.Sub("remote_switch").Set("uncore_supported", 1)
	}
	_ = msg.Sub("remote_os_info").SetBytes("sysname", []byte("Linux"))
	_, err := control.Write(wire.Encode(msg))
	return err
}

func (p *Peer) reply(control net.Conn, req Request, resp Response) error {
	echo := req.Command
	if resp.Echo != 0 {
		echo = resp.Echo
	}
	header := p.dialect.ControlHeader(uint32(echo), 0, req.Expect)
	if p.dialect.Version() != schema.Version3 {
		_ = header.SetInt("status", int64(resp.Status))
	}
	out := wire.Encode(header)
	if req.Expect > 0 && !protocol.ReportsNoData(echo, p.dialect.ControlStatus(header)) {
		payload := make([]byte, req.Expect)
		copy(payload, resp.Payload)
		out = append(out, payload...)
	}
	_, err := control.Write(out)
	return err
}

func (p *Peer) respond(req Request) Response {
	if p.cfg.Handler != nil {
		if resp, ok := p.cfg.Handler(req); ok {
			return resp
		}
	}
	switch req.Command {
	case protocol.CmdNumCores:
		return Response{Payload: u32(uint32(p.cfg.NumCPUs))}
	case protocol.CmdGetNormalizedTSC:
		p.mu.Lock()
		p.tsc += 977
		v := p.tsc
		p.mu.Unlock()
		return Response{Payload: u64(v)}
	case protocol.CmdCollectSysConfig:
		return Response{Payload: u32(p.cfg.SysConfigSize)}
	case protocol.CmdVersion:
		return Response{Payload: []byte{5, 0, 0, 1}}
	case protocol.CmdGetNumSamples:
		var n uint64
		for _, b := range p.cfg.Streams {
			n += uint64(len(b)) / uint64(schema.SampleRecordPC.Size())
		}
		return Response{Payload: u64(n)}
	case protocol.CmdGetSampleDropInfo, protocol.CmdGetThreadCount:
		return Response{Status: protocol.StatusNoData}
	default:
		return Response{}
	}
}

// clientGone reports errors caused by the client hanging up, possibly with
// unread replies still queued.
func clientGone(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

func readRecord(r io.Reader, l *wire.Layout) (*wire.Record, error) {
	buf := make([]byte, l.Size())
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return wire.Decode(l, buf)
}

func u32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func u64(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}
