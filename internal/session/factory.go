package session

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gaspardpetit/skybridge/core/logx"
	"github.com/gaspardpetit/skybridge/internal/metrics"
	"github.com/gaspardpetit/skybridge/internal/upstream"
)

// Phase is a step in the life of one WithUserSession call.
type Phase int

const (
	PhaseCreated Phase = iota
	PhaseRegistered
	PhaseExecuting
	PhaseSucceeded
	PhaseFailed
	PhaseCancelled
	PhaseDeregistered
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseRegistered:
		return "registered"
	case PhaseExecuting:
		return "executing"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	case PhaseCancelled:
		return "cancelled"
	case PhaseDeregistered:
		return "deregistered"
	default:
		return "unknown"
	}
}

// Observer is told about every phase transition.
type Observer func(correlationID string, p Phase)

// Factory builds session-scoped upstream clients. It holds no per-user
// state; every WithUserSession call allocates its own.
type Factory struct {
	host       string
	httpClient *http.Client
	registry   *Registry
	observer   Observer
	newID      func() string
}

// Option configures a Factory.
type Option func(*Factory)

func WithHTTPClient(c *http.Client) Option { return func(f *Factory) { f.httpClient = c } }

// WithRegistry replaces the process-wide Default registry.
func WithRegistry(r *Registry) Option { return func(f *Factory) { f.registry = r } }

func WithObserver(o Observer) Option { return func(f *Factory) { f.observer = o } }

// NewFactory returns a Factory for the upstream at host.
func NewFactory(host string, opts ...Option) *Factory {
	f := &Factory{host: host, registry: Default, newID: uuid.NewString}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Registry returns the registry the factory registers into.
func (f *Factory) Registry() *Registry { return f.registry }

func (f *Factory) observe(cid string, p Phase) {
	if f.observer != nil {
		f.observer(cid, p)
	}
}

// WithUserSession runs op with an upstream client bound to data's
// credentials. The client's registry entry exists exactly while op runs and
// is removed on every exit path, panics included. op's result and error
// are returned unchanged; nothing is retried.
func WithUserSession[T any](ctx context.Context, f *Factory, data SessionData, op func(context.Context, *upstream.Client) (T, error)) (T, error) {
	var zero T
	holder := NewCredentialHolder(data)
	cid := f.newID()
	f.observe(cid, PhaseCreated)

	client := upstream.New(upstream.Config{
		Host:          f.host,
		CorrelationID: cid,
		Resolver:      f.registry,
		HTTPClient:    f.httpClient,
	})
	release, err := f.registry.Register(Entry{
		CorrelationID: cid,
		Snapshot:      SessionData{AccountID: data.AccountID, Handle: data.Handle, CreatedAt: data.CreatedAt},
		Credentials:   holder,
	})
	if err != nil {
		return zero, err
	}

	start := time.Now()
	metrics.SessionStart()
	outcome, finished := PhaseFailed, false
	defer func() {
		release()
		if !finished {
			f.observe(cid, outcome)
		}
		f.observe(cid, PhaseDeregistered)
		metrics.SessionEnd(outcome.String(), time.Since(start))
		logx.Log.Debug().Str("correlation_id", cid).Str("account", data.AccountID).Str("outcome", outcome.String()).Dur("elapsed", time.Since(start)).Msg("session released")
	}()
	f.observe(cid, PhaseRegistered)

	if err := ctx.Err(); err != nil {
		outcome, finished = PhaseCancelled, true
		f.observe(cid, outcome)
		return zero, err
	}

	f.observe(cid, PhaseExecuting)
	result, err := op(ctx, client)
	switch {
	case err == nil:
		outcome = PhaseSucceeded
	case ctx.Err() != nil:
		outcome = PhaseCancelled
	default:
		outcome = PhaseFailed
	}
	finished = true
	f.observe(cid, outcome)
	return result, err
}
