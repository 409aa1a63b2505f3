package wire

import (
	"crypto/md5" //nolint:gosec // content digest only, not a security boundary
	"encoding/hex"

	"github.com/mo3789530/wasmatrix/internal/wasmerr"
)

// WasmMagic is the four-byte Wasm module header.
var WasmMagic = [4]byte{0x00, 0x61, 0x73, 0x6d}

// MaxModuleBytes is the Control Plane's upper bound on accepted module size.
const MaxModuleBytes = 10 * 1024 * 1024

// ValidateModuleBytes enforces the Wasm-magic rule shared by the Control
// Plane and the Node Agent. enforceSizeCap is only applied by the Control
// Plane.
func ValidateModuleBytes(b []byte, enforceSizeCap bool) error {
	if len(b) == 0 {
		return wasmerr.New(wasmerr.ValidationError, "module_bytes must not be empty")
	}
	if len(b) < 4 || b[0] != WasmMagic[0] || b[1] != WasmMagic[1] || b[2] != WasmMagic[2] || b[3] != WasmMagic[3] {
		return wasmerr.New(wasmerr.ValidationError, "module_bytes missing Wasm magic header")
	}
	if enforceSizeCap && len(b) > MaxModuleBytes {
		return wasmerr.New(wasmerr.ResourceExhausted, "module_bytes exceeds maximum size")
	}
	return nil
}

// ModuleHash computes the content digest used as InstanceMetadata's
// module_hash. The digest is an identifier, not a security boundary, so
// MD5 is acceptable here. Both the
// Control Plane and the Node Agent's engine collaborator use this same
// algorithm so the two sides' independently computed hashes agree.
func ModuleHash(moduleBytes []byte) string {
	sum := md5.Sum(moduleBytes) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
