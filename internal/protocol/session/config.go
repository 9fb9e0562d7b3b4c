package session

import (
	"github.com/danmuck/sepprobe/internal/channel"
	"github.com/danmuck/sepprobe/internal/protocol/schema"
)

// Config defines how a session reaches its target.
type Config struct {
	IP                     string
	Port                   int
	Version                schema.Version
	ControlConnectAttempts int
	DataConnectAttempts    int
	Retry                  channel.Backoff
	CaptureDir             string
	PerCPUBufferSize       uint32
	ECBFile                string
	UncoreECBFile          string
}

// DefaultConfig returns the connect budget the driver agent expects: the
// control channel is retried while the agent starts, data channels are not.
func DefaultConfig() Config {
	return Config{
		Port:                   9321,
		Version:                schema.Version6,
		ControlConnectAttempts: 10,
		DataConnectAttempts:    1,
		Retry:                  channel.DefaultBackoff(),
		CaptureDir:             ".",
	}
}
