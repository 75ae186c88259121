package host

import (
	"wasmhost/pkg/herrors"
)

// jwtSectionName is the custom WebAssembly section name under which a
// signed token is embedded in an actor or provider module.
const jwtSectionName = "jwt"

// ExtractEmbeddedToken walks a WebAssembly module's custom sections looking
// for jwtSectionName and returns its contents as the module's embedded
// token string. Modules lacking the section are rejected: every actor and
// provider this host loads must be signed.
func ExtractEmbeddedToken(wasm []byte) (string, error) {
	if len(wasm) < 8 || string(wasm[0:4]) != "\x00asm" {
		return "", herrors.New(herrors.TokenInvalid, "not a WebAssembly module")
	}

	pos := 8 // past magic + version
	for pos < len(wasm) {
		id := wasm[pos]
		pos++

		size, n, err := readVarUint32(wasm[pos:])
		if err != nil {
			return "", herrors.Wrap(herrors.TokenInvalid, "malformed section header", err)
		}
		pos += n

		if pos+int(size) > len(wasm) {
			return "", herrors.New(herrors.TokenInvalid, "section size exceeds module length")
		}
		payload := wasm[pos : pos+int(size)]
		pos += int(size)

		if id != 0 {
			continue
		}

		nameLen, n, err := readVarUint32(payload)
		if err != nil {
			continue
		}
		if n+int(nameLen) > len(payload) {
			continue
		}
		name := string(payload[n : n+int(nameLen)])
		if name == jwtSectionName {
			return string(payload[n+int(nameLen):]), nil
		}
	}

	return "", herrors.New(herrors.TokenInvalid, "module has no embedded jwt section; unsigned modules are rejected")
}

// readVarUint32 decodes a LEB128-encoded uint32 from the start of buf,
// returning the value and the number of bytes consumed.
func readVarUint32(buf []byte) (uint32, int, error) {
	var result uint32
	var shift uint
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
		if shift >= 32 {
			break
		}
	}
	return 0, 0, herrors.New(herrors.TokenInvalid, "truncated varuint32")
}
