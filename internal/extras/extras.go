// Package extras implements the host's one built-in native capability
// provider: request-scoped random bytes, per-actor sequence numbers, and
// GUIDs available to any actor without a bound configuration.
package extras

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"wasmhost/internal/plugin"
	"wasmhost/pkg/codec"
	"wasmhost/pkg/herrors"
)

// CapabilityID is the well-known capability-id every host auto-loads this
// provider under.
const CapabilityID = "wascc:extras"

const (
	OpRequestGUID     = "RequestGuid"
	OpRequestRandom   = "RequestRandom"
	OpRequestSequence = "RequestSequence"
)

// GeneratorRequest is the payload shape for a random-number request; the
// other two operations carry no meaningful request fields.
type GeneratorRequest struct {
	Min uint32 `codec:"min"`
	Max uint32 `codec:"max"`
}

// GeneratorResult carries exactly one populated field, matching which
// operation produced it.
type GeneratorResult struct {
	GUID           string `codec:"guid,omitempty"`
	RandomNumber   uint32 `codec:"random_number,omitempty"`
	SequenceNumber uint64 `codec:"sequence_number,omitempty"`
}

// Provider is the extras CapabilityProvider implementation.
type Provider struct {
	mu         sync.Mutex
	sequences  map[string]*uint64
	dispatcher plugin.Dispatcher
}

// New returns a ready-to-register extras Provider.
func New() *Provider {
	return &Provider{sequences: make(map[string]*uint64)}
}

func (p *Provider) CapabilityID() string { return CapabilityID }
func (p *Provider) Name() string         { return "wasmhost Extras" }

func (p *Provider) ConfigureDispatch(d plugin.Dispatcher) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dispatcher = d
	return nil
}

func (p *Provider) HandleCall(originActor, operation string, msg []byte) ([]byte, error) {
	switch operation {
	case plugin.OpGetCapabilityDescriptor:
		return codec.Encode(codec.CapabilityDescriptor{
			ID:              CapabilityID,
			Name:            p.Name(),
			Version:         "0.1.0",
			Revision:        1,
			LongDescription: "built-in provider of GUIDs, random numbers, and per-actor sequence numbers",
			Operations:      []string{OpRequestGUID, OpRequestRandom, OpRequestSequence},
		})
	case OpRequestGUID:
		return p.generateGUID()
	case OpRequestRandom:
		return p.generateRandom(msg)
	case OpRequestSequence:
		return p.generateSequence(originActor)
	default:
		return nil, herrors.Newf(herrors.CapabilityProvider, "bad dispatch: %s", operation)
	}
}

func (p *Provider) generateGUID() ([]byte, error) {
	return codec.Encode(GeneratorResult{GUID: uuid.NewString()})
}

func (p *Provider) generateRandom(msg []byte) ([]byte, error) {
	var req GeneratorRequest
	if len(msg) > 0 {
		if err := codec.Decode(msg, &req); err != nil {
			return nil, err
		}
	}
	if req.Max <= req.Min {
		return codec.Encode(GeneratorResult{RandomNumber: 0})
	}
	n := req.Min + uint32(rand.Int63n(int64(req.Max-req.Min)))
	return codec.Encode(GeneratorResult{RandomNumber: n})
}

func (p *Provider) generateSequence(actor string) ([]byte, error) {
	p.mu.Lock()
	counter, ok := p.sequences[actor]
	if !ok {
		var zero uint64
		counter = &zero
		p.sequences[actor] = counter
	}
	p.mu.Unlock()

	seq := atomic.AddUint64(counter, 1) - 1
	return codec.Encode(GeneratorResult{SequenceNumber: seq})
}
