package adapter

import (
	"context"
	"sync"

	"github.com/aura-meetbot/backend/internal/events"
)

// Scripted is an in-memory adapter. Tests (and the loopback platform) script
// the events it emits and inspect the commands it received.
type Scripted struct {
	mu       sync.Mutex
	events   chan events.Event
	commands []Command
	chats    []string
	closed   bool
}

// NewScripted creates a scripted adapter with a buffered event stream.
func NewScripted() *Scripted {
	return &Scripted{events: make(chan events.Event, 64)}
}

// Emit pushes a canonical event onto the stream. No-op after Close.
func (s *Scripted) Emit(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// Events returns the scripted event stream.
func (s *Scripted) Events() <-chan events.Event { return s.events }

// AttemptJoin records the join command.
func (s *Scripted) AttemptJoin(_ context.Context, _ Credentials) error {
	s.record(CommandAttemptJoin)
	return nil
}

// Leave records the leave command.
func (s *Scripted) Leave(_ context.Context) error {
	s.record(CommandLeave)
	return nil
}

// SendChat records the chat command and its text.
func (s *Scripted) SendChat(_ context.Context, text string) error {
	s.mu.Lock()
	s.chats = append(s.chats, text)
	s.mu.Unlock()
	s.record(CommandSendChat)
	return nil
}

// RequestRecordingPermission records the permission command.
func (s *Scripted) RequestRecordingPermission(_ context.Context) error {
	s.record(CommandRequestRecordingPermission)
	return nil
}

// Close closes the event stream. Idempotent.
func (s *Scripted) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// Commands returns a copy of the commands received so far, in order.
func (s *Scripted) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Command, len(s.commands))
	copy(out, s.commands)
	return out
}

// Chats returns a copy of the chat texts sent so far.
func (s *Scripted) Chats() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.chats))
	copy(out, s.chats)
	return out
}

func (s *Scripted) record(c Command) {
	s.mu.Lock()
	s.commands = append(s.commands, c)
	s.mu.Unlock()
}
