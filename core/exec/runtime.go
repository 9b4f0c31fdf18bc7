// Package exec provides the atomic unit-of-work runtime every ledger
// operation executes in. A unit either applies in full or leaves no trace:
// state writes are journaled and rolled back, buffered events are dropped.
package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"loanledger/core/events"
	"loanledger/core/state"
	"loanledger/crypto"
)

var errNilRuntime = errors.New("exec: runtime not configured")

// Observer receives the outcome of every unit of work. It is used to feed
// metrics without coupling the runtime to a metrics backend.
type Observer interface {
	ObserveUnit(name string, committed bool, duration time.Duration)
}

// Runtime serialises units of work against a shared state manager. Competing
// callers are ordered by the runtime mutex; whichever acquires it first wins.
type Runtime struct {
	mu       sync.Mutex
	state    *state.Manager
	sink     events.Emitter
	nowFn    func() int64
	logger   *slog.Logger
	tracer   trace.Tracer
	observer Observer
}

// Option customises a Runtime.
type Option func(*Runtime)

// WithEmitter routes committed events to the supplied sink.
func WithEmitter(sink events.Emitter) Option {
	return func(r *Runtime) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// WithNowFunc overrides the clock used to stamp units. Tests use it to pin
// block time.
func WithNowFunc(now func() int64) Option {
	return func(r *Runtime) {
		if now != nil {
			r.nowFn = now
		}
	}
}

// WithLogger configures the runtime logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithObserver registers an outcome observer.
func WithObserver(observer Observer) Option {
	return func(r *Runtime) { r.observer = observer }
}

// NewRuntime constructs a runtime over the provided state manager.
func NewRuntime(st *state.Manager, opts ...Option) *Runtime {
	r := &Runtime{
		state:  st,
		sink:   events.NoopEmitter{},
		nowFn:  func() int64 { return time.Now().Unix() },
		logger: slog.Default(),
		tracer: otel.Tracer("loanledger/exec"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetNowFunc replaces the clock. Passing nil restores wall-clock time.
func (r *Runtime) SetNowFunc(now func() int64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

// Execute runs fn as a single atomic unit on behalf of caller. When fn returns
// an error (or panics) every state write and event produced by the unit is
// discarded and the error is returned unchanged. Otherwise the writes are
// committed and the events flushed to the sink.
func (r *Runtime) Execute(ctx context.Context, caller crypto.Address, name string, fn func(*Context) error) (err error) {
	if r == nil || r.state == nil {
		return errNilRuntime
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	spanCtx, span := r.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("loan.caller", caller.Hex()),
	))
	defer span.End()

	buffer := &events.Buffer{}
	unit := &Context{
		Context: spanCtx,
		caller:  caller,
		now:     r.nowFn(),
		state:   r.state,
		events:  buffer,
		logger:  r.logger,
	}
	snapshot := r.state.Snapshot()

	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("exec: %s panicked: %v", name, recovered)
		}
		committed := false
		if err != nil {
			r.state.RevertToSnapshot(snapshot)
			r.state.Discard()
			buffer.Drain()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.logger.Debug("unit reverted", slog.String("unit", name), slog.String("caller", caller.String()), slog.String("error", err.Error()))
		} else if commitErr := r.state.Commit(); commitErr != nil {
			r.state.Discard()
			buffer.Drain()
			err = commitErr
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.logger.Error("unit commit failed", slog.String("unit", name), slog.String("error", err.Error()))
		} else {
			committed = true
			for _, evt := range buffer.Drain() {
				r.sink.Emit(evt)
			}
		}
		if r.observer != nil {
			r.observer.ObserveUnit(name, committed, time.Since(started))
		}
	}()

	if err = ctx.Err(); err != nil {
		return err
	}
	return fn(unit)
}

// View runs fn against the current state and always discards any writes. It is
// used by read paths. A panic in fn is returned as an error.
func (r *Runtime) View(ctx context.Context, fn func(*Context) error) (err error) {
	if r == nil || r.state == nil {
		return errNilRuntime
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.state.Snapshot()
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("exec: view panicked: %v", recovered)
		}
		r.state.RevertToSnapshot(snapshot)
	}()
	if err = ctx.Err(); err != nil {
		return err
	}
	unit := &Context{
		Context: ctx,
		now:     r.nowFn(),
		state:   r.state,
		events:  &events.Buffer{},
		logger:  r.logger,
	}
	return fn(unit)
}
