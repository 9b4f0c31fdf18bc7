package exec

import (
	"context"
	"log/slog"

	"loanledger/core/events"
	"loanledger/core/state"
	"loanledger/crypto"
)

// Context is the per-unit execution context handed to components. It carries
// the immediate caller, the unit timestamp, the journaled state and the event
// buffer. Components call into each other by re-binding the caller with As,
// mirroring how a deployed component becomes the caller of the next one.
type Context struct {
	context.Context
	caller crypto.Address
	now    int64
	state  *state.Manager
	events *events.Buffer
	logger *slog.Logger
}

// NewContext builds a standalone context. It is intended for tests and tools
// that drive components without a Runtime; the caller owns commit/revert.
func NewContext(ctx context.Context, st *state.Manager, caller crypto.Address, now int64) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{
		Context: ctx,
		caller:  caller,
		now:     now,
		state:   st,
		events:  &events.Buffer{},
		logger:  slog.Default(),
	}
}

// Caller returns the account or component that invoked the current call.
func (c *Context) Caller() crypto.Address { return c.caller }

// Now returns the unit timestamp (unix seconds). It is constant for the whole
// unit.
func (c *Context) Now() int64 { return c.now }

// State returns the journaled state manager.
func (c *Context) State() *state.Manager { return c.state }

// Logger returns the unit logger.
func (c *Context) Logger() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Emit buffers an event. Buffered events are only delivered once the unit
// commits.
func (c *Context) Emit(evt events.Event) {
	if c == nil {
		return
	}
	c.events.Emit(evt)
}

// Events exposes the unit event buffer.
func (c *Context) Events() *events.Buffer { return c.events }

// As returns a copy of the context whose caller is addr. The copy shares the
// state and event buffer of the unit.
func (c *Context) As(addr crypto.Address) *Context {
	clone := *c
	clone.caller = addr
	return &clone
}
