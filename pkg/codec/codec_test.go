package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeConfigMap(t *testing.T) {
	in := ConfigMap{
		Module:  "Mabc123",
		Binding: "default",
		Values:  map[string]string{"URL": "redis://localhost:6379"},
	}

	payload, err := Encode(in)
	require.NoError(t, err)

	var out ConfigMap
	require.NoError(t, Decode(payload, &out))
	require.Equal(t, in, out)
}

func TestEncodeDecodeCapabilityDescriptor(t *testing.T) {
	in := CapabilityDescriptor{
		ID:              "wascc:keyvalue",
		Name:            "Example KV Provider",
		Version:         "0.1.0",
		Revision:        1,
		LongDescription: "an example provider",
	}

	payload, err := Encode(in)
	require.NoError(t, err)

	var out CapabilityDescriptor
	require.NoError(t, Decode(payload, &out))
	require.Equal(t, in, out)
}

func TestDecodeMalformedPayload(t *testing.T) {
	var out ConfigMap
	err := Decode([]byte{0xff, 0xff, 0xff}, &out)
	require.Error(t, err)
}

func TestCapabilityDescriptorDebugYAML(t *testing.T) {
	d := CapabilityDescriptor{ID: "wascc:keyvalue", Name: "Example KV Provider", Version: "0.1.0"}

	dump, err := d.DebugYAML()
	require.NoError(t, err)
	require.Contains(t, dump, "id: wascc:keyvalue")
	require.Contains(t, dump, "name: Example KV Provider")
}
