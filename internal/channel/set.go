package channel

import (
	"context"
	"fmt"

	"github.com/danmuck/sepprobe/internal/protocol"
	"go.uber.org/multierr"
)

// Set is a fixed-capacity table of channels addressed by global index.
// Channels installed with Include are shared with the table they came from,
// so a role-specific set and the superset view the same *Channel.
type Set struct {
	slots []*Channel
}

func NewSet(capacity int) *Set {
	s := &Set{slots: make([]*Channel, capacity)}
	for i := range s.slots {
		s.slots[i] = New(i)
	}
	return s
}

func (s *Set) Len() int { return len(s.slots) }

// At returns the channel in slot i, created or not.
func (s *Set) At(i int) *Channel {
	if i < 0 || i >= len(s.slots) {
		return nil
	}
	return s.slots[i]
}

// CreateMany creates the channels at indices with role. Every index is
// checked against the capacity before any channel is created.
func (s *Set) CreateMany(indices []int, role protocol.Role) error {
	for _, i := range indices {
		if i < 0 || i >= len(s.slots) {
			return fmt.Errorf("%w: channel index %d exceeds capacity %d", protocol.ErrUsage, i, len(s.slots))
		}
	}
	for _, i := range indices {
		if err := s.slots[i].Create(role); err != nil {
			return err
		}
	}
	return nil
}

// ConnectAll connects every created channel in index order.
func (s *Set) ConnectAll(ctx context.Context, ip string, port int, attempts int) error {
	for _, c := range s.Created() {
		if err := c.Connect(ctx, ip, port, attempts); err != nil {
			return err
		}
	}
	return nil
}

// Include installs channels by reference at their own global index.
func (s *Set) Include(channels ...*Channel) error {
	for _, c := range channels {
		if c.Index() >= len(s.slots) {
			return fmt.Errorf("%w: channel index %d exceeds capacity %d", protocol.ErrUsage, c.Index(), len(s.slots))
		}
		s.slots[c.Index()] = c
	}
	return nil
}

// Created returns the created channels in index order.
func (s *Set) Created() []*Channel {
	out := make([]*Channel, 0, len(s.slots))
	for _, c := range s.slots {
		if c.Created() {
			out = append(out, c)
		}
	}
	return out
}

// Reserved returns every slot, created or not.
func (s *Set) Reserved() []*Channel {
	out := make([]*Channel, len(s.slots))
	copy(out, s.slots)
	return out
}

// ByRole returns the created channels holding role.
func (s *Set) ByRole(role protocol.Role) []*Channel {
	var out []*Channel
	for _, c := range s.Created() {
		if c.Role() == role {
			out = append(out, c)
		}
	}
	return out
}

// CloseAll closes every created channel and returns the combined errors.
func (s *Set) CloseAll() error {
	var errs error
	for _, c := range s.slots {
		if c.Created() || c.Connected() {
			errs = multierr.Append(errs, c.Close())
		}
	}
	return errs
}
