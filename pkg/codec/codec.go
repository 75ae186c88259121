// Package codec encodes and decodes the self-describing binary payloads
// carried in configuration, descriptor, and bind-actor invocations. Actor-to-actor and actor-to-provider
// application payloads remain opaque bytes and never pass through here.
package codec

import (
	"github.com/hashicorp/go-msgpack/v2/codec"
	"gopkg.in/yaml.v3"

	"wasmhost/pkg/herrors"
)

var mh codec.MsgpackHandle

// Encode serializes v into a self-describing msgpack byte slice.
func Encode(v interface{}) ([]byte, error) {
	var out []byte
	enc := codec.NewEncoderBytes(&out, &mh)
	if err := enc.Encode(v); err != nil {
		return nil, herrors.Wrap(herrors.Encoding, "msgpack encode", err)
	}
	return out, nil
}

// Decode deserializes payload into v, which must be a pointer.
func Decode(payload []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(payload, &mh)
	if err := dec.Decode(v); err != nil {
		return herrors.Wrap(herrors.Decoding, "msgpack decode", err)
	}
	return nil
}

// ConfigMap is the shape of a bind-actor/configure payload: an arbitrary
// string-keyed configuration bag alongside the actor and binding it applies
// to. Providers decode the Values map for their own settings.
type ConfigMap struct {
	Module  string            `codec:"module"`
	Binding string            `codec:"binding"`
	Values  map[string]string `codec:"values"`
}

// CapabilityDescriptor is the response to OP_GET_CAPABILITY_DESCRIPTOR.
type CapabilityDescriptor struct {
	ID              string   `codec:"id"`
	Name            string   `codec:"name"`
	Version         string   `codec:"version"`
	Revision        int64    `codec:"revision"`
	LongDescription string   `codec:"long_description"`
	Operations      []string `codec:"operations,omitempty"`
}

// DebugYAML renders d as YAML for human-facing diagnostics — capability
// descriptor probes during AddNativeCapability are logged this way rather
// than as a Go %+v dump, matching the pack's use of yaml.v3 for
// operator-facing output of structured data.
func (d CapabilityDescriptor) DebugYAML() (string, error) {
	out, err := yaml.Marshal(d)
	if err != nil {
		return "", herrors.Wrap(herrors.Encoding, "yaml marshal capability descriptor", err)
	}
	return string(out), nil
}
