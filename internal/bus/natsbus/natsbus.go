// Package natsbus is the optional distributed Bus transport: it satisfies
// bus.Bus over a NATS connection using request/reply, the same calling
// convention mcpany-core's pkg/bus/nats wraps around *nats.Conn. Subjects
// map directly onto NATS subjects (the subject scheme in package bus is
// already dot-separated and lowercase, so no further translation is
// needed) and competing-consumer delivery is NATS's native queue-group
// subscription.
package natsbus

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"wasmhost/internal/invocation"
	"wasmhost/pkg/codec"
	"wasmhost/pkg/herrors"
	"wasmhost/pkg/logging"
)

// DefaultRPCTimeout mirrors inproc.DefaultRPCTimeout; spec.md §6 names the
// same default for the distributed transport's LATTICE_RPC_TIMEOUT_MILLIS.
const DefaultRPCTimeout = 500 * time.Millisecond

// queueGroup is shared by every subscription so two Bus instances attached
// to the same NATS account act as competing consumers per subject, per
// spec.md §4.1's "exactly one subscriber" requirement.
const queueGroup = "wasmbus"

// wireEntity and wireInvocation/wireResponse are the msgpack-serializable
// shapes put on the wire; invocation.Entity/Invocation/Response are kept
// free of codec struct tags since the in-process transport never
// serializes them.
type wireEntity struct {
	Kind    int    `codec:"kind"`
	Subject string `codec:"subject,omitempty"`
	CapID   string `codec:"cap_id,omitempty"`
	Binding string `codec:"binding,omitempty"`
}

type wireInvocation struct {
	ID            string     `codec:"id"`
	Origin        wireEntity `codec:"origin"`
	Target        wireEntity `codec:"target"`
	Operation     string     `codec:"operation"`
	Msg           []byte     `codec:"msg"`
	HostSignature string     `codec:"host_signature"`
}

type wireResponse struct {
	InvocationID string `codec:"invocation_id"`
	Msg          []byte `codec:"msg"`
	Error        string `codec:"error"`
}

func toWireEntity(e invocation.Entity) wireEntity {
	return wireEntity{Kind: int(e.Kind), Subject: e.Subject, CapID: e.CapID, Binding: e.Binding}
}

func fromWireEntity(w wireEntity) invocation.Entity {
	return invocation.Entity{Kind: invocation.EntityKind(w.Kind), Subject: w.Subject, CapID: w.CapID, Binding: w.Binding}
}

func toWire(inv invocation.Invocation) wireInvocation {
	return wireInvocation{
		ID:            inv.ID,
		Origin:        toWireEntity(inv.Origin),
		Target:        toWireEntity(inv.Target),
		Operation:     inv.Operation,
		Msg:           inv.Msg,
		HostSignature: inv.HostSignature,
	}
}

func fromWire(w wireInvocation) invocation.Invocation {
	return invocation.Invocation{
		ID:            w.ID,
		Origin:        fromWireEntity(w.Origin),
		Target:        fromWireEntity(w.Target),
		Operation:     w.Operation,
		Msg:           w.Msg,
		HostSignature: w.HostSignature,
	}
}

// Bus is a distributed bus.Bus implementation backed by a *nats.Conn.
type Bus struct {
	nc      *nats.Conn
	timeout time.Duration

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config mirrors the LATTICE_* environment variables from spec.md §6.
type Config struct {
	// ServerURL is the NATS server to dial. Empty falls back to
	// nats.DefaultURL (127.0.0.1:4222), matching spec.md §6's
	// LATTICE_HOST default.
	ServerURL string
	// RPCTimeout overrides DefaultRPCTimeout when non-zero.
	RPCTimeout time.Duration
}

// New dials cfg.ServerURL (or nats.DefaultURL when ServerURL is empty) and
// returns a Bus ready for Subscribe/Invoke.
func New(cfg Config) (*Bus, error) {
	url := cfg.ServerURL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, herrors.Wrap(herrors.IO, "connect to nats", err)
	}

	timeout := cfg.RPCTimeout
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}
	return &Bus{nc: nc, timeout: timeout, subs: make(map[string]*nats.Subscription)}, nil
}

// Subscribe registers handle as a queue-group subscriber on subject.
func (b *Bus) Subscribe(subject string, handle func(context.Context, invocation.Invocation) invocation.Response) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subs[subject]; exists {
		return herrors.Newf(herrors.Misc, "subject %s already has a subscriber", subject)
	}

	sub, err := b.nc.QueueSubscribe(subject, queueGroup, func(msg *nats.Msg) {
		var w wireInvocation
		if err := codec.Decode(msg.Data, &w); err != nil {
			logging.Warn("Bus", "natsbus: malformed invocation on %s: %v", subject, err)
			return
		}
		inv := fromWire(w)
		resp := handle(context.Background(), inv)

		payload, err := codec.Encode(wireResponse{InvocationID: resp.InvocationID, Msg: resp.Msg, Error: resp.Error})
		if err != nil {
			logging.Warn("Bus", "natsbus: failed to encode response on %s: %v", subject, err)
			return
		}
		if err := msg.Respond(payload); err != nil {
			logging.Warn("Bus", "natsbus: failed to respond on %s: %v", subject, err)
		}
	})
	if err != nil {
		return herrors.Wrap(herrors.IO, "nats subscribe", err)
	}

	b.subs[subject] = sub
	return nil
}

// Invoke performs a NATS request/reply, translating a request timeout into
// a Response carrying invocation.TimeoutTag rather than a transport error,
// matching the in-process transport's contract.
func (b *Bus) Invoke(ctx context.Context, subject string, inv invocation.Invocation) (invocation.Response, error) {
	payload, err := codec.Encode(toWire(inv))
	if err != nil {
		return invocation.Response{}, herrors.Wrap(herrors.Encoding, "encode invocation", err)
	}

	deadline := b.timeout
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining < deadline {
			deadline = remaining
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	msg, err := b.nc.RequestWithContext(reqCtx, subject, payload)
	if err != nil {
		if err == nats.ErrTimeout || err == context.DeadlineExceeded {
			return invocation.Fail(inv, invocation.TimeoutTag), nil
		}
		return invocation.Response{}, herrors.Wrap(herrors.IO, "nats request", err)
	}

	var w wireResponse
	if err := codec.Decode(msg.Data, &w); err != nil {
		return invocation.Response{}, herrors.Wrap(herrors.Decoding, "decode response", err)
	}
	return invocation.Response{InvocationID: w.InvocationID, Msg: w.Msg, Error: w.Error}, nil
}

// Unsubscribe removes subject's handler. Idempotent.
func (b *Bus) Unsubscribe(subject string) error {
	b.mu.Lock()
	sub, ok := b.subs[subject]
	if ok {
		delete(b.subs, subject)
	}
	b.mu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return herrors.Wrap(herrors.IO, "nats unsubscribe", err)
	}
	return nil
}

// PublishEvent publishes payload on subject with no reply expected,
// satisfying spec.md §4.1's "publish_event (optional)".
func (b *Bus) PublishEvent(subject string, payload []byte) error {
	if err := b.nc.Publish(subject, payload); err != nil {
		return herrors.Wrap(herrors.IO, "nats publish", err)
	}
	return nil
}

// Close drains and closes the underlying NATS connection.
func (b *Bus) Close() error {
	if b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}
