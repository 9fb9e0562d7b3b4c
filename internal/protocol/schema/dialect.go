package schema

import (
	"fmt"

	"github.com/danmuck/sepprobe/internal/protocol/wire"
)

// Version is a remote protocol version.
type Version uint32

const (
	Version3 Version = 3
	Version6 Version = 6
)

// Dialect encapsulates everything that differs between protocol versions.
type Dialect interface {
	Version() Version
	Schema() *Schema
	// MaxCoreChannels is the core data channel capacity; the data channel set
	// holds two more slots for the module and uncore streams.
	MaxCoreChannels() int
	// Hello builds the first message sent on every channel.
	Hello(perCPUBufferSize uint32) *wire.Record
	ControlHeader(cmd uint32, toTarget, fromTarget uint64) *wire.Record
	// ControlStatus reads the status of a control reply. Versions without a
	// status field always report 0.
	ControlStatus(reply *wire.Record) int32
	// TargetStatus reads the status field of the TargetStatusMsg.
	TargetStatus(msg *wire.Record) int32
	// DeclaredVersion reads the protocol version a peer declared in rec.
	DeclaredVersion(rec *wire.Record) Version
}

// NewDialect returns the dialect for v.
func NewDialect(v Version) (Dialect, error) {
	switch v {
	case Version3:
		return dialectV3{}, nil
	case Version6:
		return dialectV6{}, nil
	default:
		return nil, fmt.Errorf("schema: unsupported protocol version %d", v)
	}
}

// Supported lists the protocol versions with a dialect.
func Supported() []Version {
	return []Version{Version3, Version6}
}

type dialectV3 struct{}

func (dialectV3) Version() Version     { return Version3 }
func (dialectV3) Schema() *Schema      { return V3 }
func (dialectV3) MaxCoreChannels() int { return 16 }

func (dialectV3) Hello(perCPUBufferSize uint32) *wire.Record {
	r := wire.New(V3.FirstCommunicationMsg)
	_ = r.Set("per_cpu_buffer_size", uint64(perCPUBufferSize))
	return r
}

func (dialectV3) ControlHeader(cmd uint32, toTarget, fromTarget uint64) *wire.Record {
	return controlHeader(V3.ControlMsg, cmd, toTarget, fromTarget)
}

func (dialectV3) ControlStatus(*wire.Record) int32 { return 0 }

func (dialectV3) TargetStatus(msg *wire.Record) int32 {
	return int32(msg.Uint("status"))
}

func (dialectV3) DeclaredVersion(rec *wire.Record) Version {
	return Version(rec.Uint("proto_version"))
}

type dialectV6 struct{}

func (dialectV6) Version() Version     { return Version6 }
func (dialectV6) Schema() *Schema      { return V6 }
func (dialectV6) MaxCoreChannels() int { return 100 }

func (dialectV6) Hello(perCPUBufferSize uint32) *wire.Record {
	r := wire.New(V6.FirstCommunicationMsg)
	_ = r.Set("per_cpu_buffer_size", uint64(perCPUBufferSize))
	return r
}

func (dialectV6) ControlHeader(cmd uint32, toTarget, fromTarget uint64) *wire.Record {
	return controlHeader(V6.ControlMsg, cmd, toTarget, fromTarget)
}

func (dialectV6) ControlStatus(reply *wire.Record) int32 {
	return int32(reply.Int("status"))
}

func (dialectV6) TargetStatus(msg *wire.Record) int32 {
	return int32(msg.Int("status"))
}

func (dialectV6) DeclaredVersion(rec *wire.Record) Version {
	return Version(rec.Uint("proto_version"))
}

func controlHeader(l *wire.Layout, cmd uint32, toTarget, fromTarget uint64) *wire.Record {
	r := wire.New(l)
	_ = r.Set("command_id", uint64(cmd))
	_ = r.Set("to_target_data_size", toTarget)
	_ = r.Set("from_target_data_size", fromTarget)
	return r
}
