package spirv

// ExtStorageBufferClass allows the StorageBuffer storage class on
// targets older than SPIR-V 1.3, where it is not yet core.
const ExtStorageBufferClass = "SPV_KHR_storage_buffer_storage_class"

// Requires reports the capabilities and extensions one resolved
// instruction needs under the target version. The base Shader
// capability is assumed and not repeated here.
func Requires(inst Instruction, v Version) (caps []Capability, exts []string) {
	switch inst.Opcode {
	case OpTypeFloat:
		switch width(inst, 1) {
		case 64:
			caps = append(caps, CapabilityFloat64)
		case 16:
			caps = append(caps, CapabilityFloat16)
		}
	case OpTypeInt:
		switch width(inst, 1) {
		case 64:
			caps = append(caps, CapabilityInt64)
		case 16:
			caps = append(caps, CapabilityInt16)
		case 8:
			caps = append(caps, CapabilityInt8)
		}
	case OpTypeMatrix:
		caps = append(caps, CapabilityMatrix)
	case OpTypePointer:
		if storageClassAt(inst, 1) == StorageClassStorageBuffer && !v.AtLeast(1, 3) {
			exts = append(exts, ExtStorageBufferClass)
		}
	case OpVariable:
		if storageClassAt(inst, 2) == StorageClassStorageBuffer && !v.AtLeast(1, 3) {
			exts = append(exts, ExtStorageBufferClass)
		}
	}
	return caps, exts
}

func width(inst Instruction, operand int) uint32 {
	if operand >= len(inst.Operands) {
		return 0
	}
	return inst.Operands[operand].Word
}

func storageClassAt(inst Instruction, operand int) StorageClass {
	return StorageClass(width(inst, operand))
}
