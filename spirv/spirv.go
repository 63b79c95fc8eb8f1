// Package spirv lowers structured functions to SPIR-V instructions
// and assembles resolved modules into the binary form consumed by
// Vulkan and other APIs.
//
// Lowering works one function at a time and is symbolic: type,
// constant, and global operands keep their session handles, values
// and labels use function-local virtual ids, and calls name their
// target by symbol. The link package resolves every handle to a final
// module id before encoding.
package spirv

// Version is a SPIR-V version.
type Version struct {
	Major uint8
	Minor uint8
}

// Common SPIR-V versions
var (
	Version1_0 = Version{1, 0}
	Version1_3 = Version{1, 3}
	Version1_4 = Version{1, 4}
	Version1_5 = Version{1, 5}
	Version1_6 = Version{1, 6}
)

// Word returns the version encoded for the module header.
func (v Version) Word() uint32 {
	return uint32(v.Major)<<16 | uint32(v.Minor)<<8
}

// AtLeast reports whether v is maj.min or newer.
func (v Version) AtLeast(maj, min uint8) bool {
	if v.Major != maj {
		return v.Major > maj
	}
	return v.Minor >= min
}

// SPIR-V header constants
const (
	MagicNumber = 0x07230203
	GeneratorID = 0x00000000 // unregistered generator
)

// GLSLExtName is the extended instruction set imported for
// transcendental and geometric intrinsics.
const GLSLExtName = "GLSL.std.450"
