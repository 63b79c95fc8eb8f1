package spirv

// OpCode is a SPIR-V opcode.
type OpCode uint16

// Opcodes used by the generator, in opcode order.
const (
	OpNop              OpCode = 0
	OpUndef            OpCode = 1
	OpSource           OpCode = 3
	OpName             OpCode = 5
	OpMemberName       OpCode = 6
	OpString           OpCode = 7
	OpExtension        OpCode = 10
	OpExtInstImport    OpCode = 11
	OpExtInst          OpCode = 12
	OpMemoryModel      OpCode = 14
	OpEntryPoint       OpCode = 15
	OpExecutionMode    OpCode = 16
	OpCapability       OpCode = 17
	OpTypeVoid         OpCode = 19
	OpTypeBool         OpCode = 20
	OpTypeInt          OpCode = 21
	OpTypeFloat        OpCode = 22
	OpTypeVector       OpCode = 23
	OpTypeMatrix       OpCode = 24
	OpTypeArray        OpCode = 28
	OpTypeRuntimeArray OpCode = 29
	OpTypeStruct       OpCode = 30
	OpTypePointer      OpCode = 32
	OpTypeFunction     OpCode = 33
	OpConstantTrue     OpCode = 41
	OpConstantFalse    OpCode = 42
	OpConstant         OpCode = 43
	OpConstantComposite OpCode = 44
	OpConstantNull     OpCode = 46
	OpFunction          OpCode = 54
	OpFunctionParameter OpCode = 55
	OpFunctionEnd       OpCode = 56
	OpFunctionCall      OpCode = 57
	OpVariable          OpCode = 59
	OpLoad              OpCode = 61
	OpStore             OpCode = 62
	OpAccessChain       OpCode = 65
	OpArrayLength       OpCode = 68
	OpDecorate          OpCode = 71
	OpMemberDecorate    OpCode = 72
	OpVectorShuffle     OpCode = 79
	OpCompositeConstruct OpCode = 80
	OpCompositeExtract   OpCode = 81
	OpTranspose          OpCode = 84
	OpConvertFToU        OpCode = 109
	OpConvertFToS        OpCode = 110
	OpConvertSToF        OpCode = 111
	OpConvertUToF        OpCode = 112
	OpUConvert           OpCode = 113
	OpSConvert           OpCode = 114
	OpFConvert           OpCode = 115
	OpBitcast            OpCode = 124
	OpSNegate            OpCode = 126
	OpFNegate            OpCode = 127
	OpIAdd               OpCode = 128
	OpFAdd               OpCode = 129
	OpISub               OpCode = 130
	OpFSub               OpCode = 131
	OpIMul               OpCode = 132
	OpFMul               OpCode = 133
	OpUDiv               OpCode = 134
	OpSDiv               OpCode = 135
	OpFDiv               OpCode = 136
	OpUMod               OpCode = 137
	OpSRem               OpCode = 138
	OpFRem               OpCode = 140
	OpVectorTimesScalar  OpCode = 142
	OpMatrixTimesScalar  OpCode = 143
	OpVectorTimesMatrix  OpCode = 144
	OpMatrixTimesVector  OpCode = 145
	OpMatrixTimesMatrix  OpCode = 146
	OpDot                OpCode = 148
	OpAny                OpCode = 154
	OpAll                OpCode = 155
	OpIsNan              OpCode = 156
	OpIsInf              OpCode = 157
	OpLogicalEqual       OpCode = 164
	OpLogicalNotEqual    OpCode = 165
	OpLogicalOr          OpCode = 166
	OpLogicalAnd         OpCode = 167
	OpLogicalNot         OpCode = 168
	OpSelect             OpCode = 169
	OpIEqual             OpCode = 170
	OpINotEqual          OpCode = 171
	OpUGreaterThan       OpCode = 172
	OpSGreaterThan       OpCode = 173
	OpUGreaterThanEqual  OpCode = 174
	OpSGreaterThanEqual  OpCode = 175
	OpULessThan          OpCode = 176
	OpSLessThan          OpCode = 177
	OpULessThanEqual     OpCode = 178
	OpSLessThanEqual     OpCode = 179
	OpFOrdEqual          OpCode = 180
	OpFOrdNotEqual       OpCode = 182
	OpFOrdLessThan       OpCode = 184
	OpFOrdGreaterThan    OpCode = 186
	OpFOrdLessThanEqual  OpCode = 188
	OpFOrdGreaterThanEqual OpCode = 190
	OpShiftRightLogical    OpCode = 194
	OpShiftRightArithmetic OpCode = 195
	OpShiftLeftLogical     OpCode = 196
	OpBitwiseOr            OpCode = 197
	OpBitwiseXor           OpCode = 198
	OpBitwiseAnd           OpCode = 199
	OpNot                  OpCode = 200
	OpDPdx                 OpCode = 207
	OpDPdy                 OpCode = 208
	OpFwidth               OpCode = 209
	OpLoopMerge            OpCode = 246
	OpSelectionMerge       OpCode = 247
	OpLabel                OpCode = 248
	OpBranch               OpCode = 249
	OpBranchConditional    OpCode = 250
	OpSwitch               OpCode = 251
	OpKill                 OpCode = 252
	OpReturn               OpCode = 253
	OpReturnValue          OpCode = 254
	OpUnreachable          OpCode = 255
)

// Capability is a SPIR-V capability.
type Capability uint32

// Capabilities the generator can require.
const (
	CapabilityMatrix            Capability = 0
	CapabilityShader            Capability = 1
	CapabilityFloat16           Capability = 9
	CapabilityFloat64           Capability = 10
	CapabilityInt64             Capability = 11
	CapabilityInt16             Capability = 22
	CapabilityInt8              Capability = 39
	CapabilityDerivativeControl Capability = 51
)

// AddressingModel selects the pointer addressing scheme.
type AddressingModel uint32

const (
	AddressingLogical AddressingModel = 0
)

// MemoryModel selects the memory consistency model.
type MemoryModel uint32

const (
	MemoryGLSL450 MemoryModel = 1
)

// ExecutionModel is the pipeline stage of an entry point.
type ExecutionModel uint32

const (
	ExecutionModelVertex    ExecutionModel = 0
	ExecutionModelFragment  ExecutionModel = 4
	ExecutionModelGLCompute ExecutionModel = 5
)

// ExecutionMode refines entry-point execution.
type ExecutionMode uint32

const (
	ExecutionModeOriginUpperLeft ExecutionMode = 7
	ExecutionModeLocalSize       ExecutionMode = 17
)

// StorageClass is the SPIR-V storage class of a pointer or variable.
type StorageClass uint32

const (
	StorageClassUniformConstant StorageClass = 0
	StorageClassInput           StorageClass = 1
	StorageClassUniform         StorageClass = 2
	StorageClassOutput          StorageClass = 3
	StorageClassWorkgroup       StorageClass = 4
	StorageClassPrivate         StorageClass = 6
	StorageClassFunction        StorageClass = 7
	StorageClassPushConstant    StorageClass = 9
	StorageClassStorageBuffer   StorageClass = 12
)

// Decoration is a SPIR-V decoration.
type Decoration uint32

const (
	DecorationBlock         Decoration = 2
	DecorationRowMajor      Decoration = 4
	DecorationColMajor      Decoration = 5
	DecorationArrayStride   Decoration = 6
	DecorationMatrixStride  Decoration = 7
	DecorationBuiltIn       Decoration = 11
	DecorationLocation      Decoration = 30
	DecorationBinding       Decoration = 33
	DecorationDescriptorSet Decoration = 34
	DecorationOffset        Decoration = 35
)

// BuiltIn identifies a pipeline-provided value.
type BuiltIn uint32

const (
	BuiltInPosition           BuiltIn = 0
	BuiltInVertexIndex        BuiltIn = 42
	BuiltInInstanceIndex      BuiltIn = 43
	BuiltInFragCoord          BuiltIn = 15
	BuiltInFragDepth          BuiltIn = 22
	BuiltInWorkgroupID        BuiltIn = 26
	BuiltInNumWorkgroups      BuiltIn = 24
	BuiltInLocalInvocationID  BuiltIn = 27
	BuiltInGlobalInvocationID BuiltIn = 28
)

// FunctionControl, SelectionControl, and LoopControl masks. The
// generator emits none of the optional hints.
type (
	FunctionControl  uint32
	SelectionControl uint32
	LoopControl      uint32
)

const (
	FunctionControlNone  FunctionControl  = 0
	SelectionControlNone SelectionControl = 0
	LoopControlNone      LoopControl      = 0
)

// ExtOp is an instruction number in the GLSL.std.450 extended set.
type ExtOp uint32

const (
	GLSLRound       ExtOp = 1
	GLSLTrunc       ExtOp = 3
	GLSLFAbs        ExtOp = 4
	GLSLSAbs        ExtOp = 5
	GLSLFSign       ExtOp = 6
	GLSLSSign       ExtOp = 7
	GLSLFloor       ExtOp = 8
	GLSLCeil        ExtOp = 9
	GLSLFract       ExtOp = 10
	GLSLSin         ExtOp = 13
	GLSLCos         ExtOp = 14
	GLSLTan         ExtOp = 15
	GLSLAsin        ExtOp = 16
	GLSLAcos        ExtOp = 17
	GLSLAtan        ExtOp = 18
	GLSLAtan2       ExtOp = 25
	GLSLPow         ExtOp = 26
	GLSLExp         ExtOp = 27
	GLSLLog         ExtOp = 28
	GLSLExp2        ExtOp = 29
	GLSLLog2        ExtOp = 30
	GLSLSqrt        ExtOp = 31
	GLSLInverseSqrt ExtOp = 32
	GLSLFMin        ExtOp = 37
	GLSLUMin        ExtOp = 38
	GLSLSMin        ExtOp = 39
	GLSLFMax        ExtOp = 40
	GLSLUMax        ExtOp = 41
	GLSLSMax        ExtOp = 42
	GLSLFClamp      ExtOp = 43
	GLSLUClamp      ExtOp = 44
	GLSLSClamp      ExtOp = 45
	GLSLFMix        ExtOp = 46
	GLSLStep        ExtOp = 48
	GLSLSmoothStep  ExtOp = 49
	GLSLFma         ExtOp = 50
	GLSLLength      ExtOp = 66
	GLSLDistance    ExtOp = 67
	GLSLCross       ExtOp = 68
	GLSLNormalize   ExtOp = 69
	GLSLReflect     ExtOp = 71
)

// opInfo describes an opcode for the disassembler: its name and
// whether the leading operands are a result type and result id.
type opInfo struct {
	name       string
	resultType bool
	result     bool
}

var opInfos = map[OpCode]opInfo{
	OpNop:                  {name: "OpNop"},
	OpUndef:                {name: "OpUndef", resultType: true, result: true},
	OpSource:               {name: "OpSource"},
	OpName:                 {name: "OpName"},
	OpMemberName:           {name: "OpMemberName"},
	OpString:               {name: "OpString", result: true},
	OpExtension:            {name: "OpExtension"},
	OpExtInstImport:        {name: "OpExtInstImport", result: true},
	OpExtInst:              {name: "OpExtInst", resultType: true, result: true},
	OpMemoryModel:          {name: "OpMemoryModel"},
	OpEntryPoint:           {name: "OpEntryPoint"},
	OpExecutionMode:        {name: "OpExecutionMode"},
	OpCapability:           {name: "OpCapability"},
	OpTypeVoid:             {name: "OpTypeVoid", result: true},
	OpTypeBool:             {name: "OpTypeBool", result: true},
	OpTypeInt:              {name: "OpTypeInt", result: true},
	OpTypeFloat:            {name: "OpTypeFloat", result: true},
	OpTypeVector:           {name: "OpTypeVector", result: true},
	OpTypeMatrix:           {name: "OpTypeMatrix", result: true},
	OpTypeArray:            {name: "OpTypeArray", result: true},
	OpTypeRuntimeArray:     {name: "OpTypeRuntimeArray", result: true},
	OpTypeStruct:           {name: "OpTypeStruct", result: true},
	OpTypePointer:          {name: "OpTypePointer", result: true},
	OpTypeFunction:         {name: "OpTypeFunction", result: true},
	OpConstantTrue:         {name: "OpConstantTrue", resultType: true, result: true},
	OpConstantFalse:        {name: "OpConstantFalse", resultType: true, result: true},
	OpConstant:             {name: "OpConstant", resultType: true, result: true},
	OpConstantComposite:    {name: "OpConstantComposite", resultType: true, result: true},
	OpConstantNull:         {name: "OpConstantNull", resultType: true, result: true},
	OpFunction:             {name: "OpFunction", resultType: true, result: true},
	OpFunctionParameter:    {name: "OpFunctionParameter", resultType: true, result: true},
	OpFunctionEnd:          {name: "OpFunctionEnd"},
	OpFunctionCall:         {name: "OpFunctionCall", resultType: true, result: true},
	OpVariable:             {name: "OpVariable", resultType: true, result: true},
	OpLoad:                 {name: "OpLoad", resultType: true, result: true},
	OpStore:                {name: "OpStore"},
	OpAccessChain:          {name: "OpAccessChain", resultType: true, result: true},
	OpArrayLength:          {name: "OpArrayLength", resultType: true, result: true},
	OpDecorate:             {name: "OpDecorate"},
	OpMemberDecorate:       {name: "OpMemberDecorate"},
	OpVectorShuffle:        {name: "OpVectorShuffle", resultType: true, result: true},
	OpCompositeConstruct:   {name: "OpCompositeConstruct", resultType: true, result: true},
	OpCompositeExtract:     {name: "OpCompositeExtract", resultType: true, result: true},
	OpTranspose:            {name: "OpTranspose", resultType: true, result: true},
	OpConvertFToU:          {name: "OpConvertFToU", resultType: true, result: true},
	OpConvertFToS:          {name: "OpConvertFToS", resultType: true, result: true},
	OpConvertSToF:          {name: "OpConvertSToF", resultType: true, result: true},
	OpConvertUToF:          {name: "OpConvertUToF", resultType: true, result: true},
	OpUConvert:             {name: "OpUConvert", resultType: true, result: true},
	OpSConvert:             {name: "OpSConvert", resultType: true, result: true},
	OpFConvert:             {name: "OpFConvert", resultType: true, result: true},
	OpBitcast:              {name: "OpBitcast", resultType: true, result: true},
	OpSNegate:              {name: "OpSNegate", resultType: true, result: true},
	OpFNegate:              {name: "OpFNegate", resultType: true, result: true},
	OpIAdd:                 {name: "OpIAdd", resultType: true, result: true},
	OpFAdd:                 {name: "OpFAdd", resultType: true, result: true},
	OpISub:                 {name: "OpISub", resultType: true, result: true},
	OpFSub:                 {name: "OpFSub", resultType: true, result: true},
	OpIMul:                 {name: "OpIMul", resultType: true, result: true},
	OpFMul:                 {name: "OpFMul", resultType: true, result: true},
	OpUDiv:                 {name: "OpUDiv", resultType: true, result: true},
	OpSDiv:                 {name: "OpSDiv", resultType: true, result: true},
	OpFDiv:                 {name: "OpFDiv", resultType: true, result: true},
	OpUMod:                 {name: "OpUMod", resultType: true, result: true},
	OpSRem:                 {name: "OpSRem", resultType: true, result: true},
	OpFRem:                 {name: "OpFRem", resultType: true, result: true},
	OpVectorTimesScalar:    {name: "OpVectorTimesScalar", resultType: true, result: true},
	OpMatrixTimesScalar:    {name: "OpMatrixTimesScalar", resultType: true, result: true},
	OpVectorTimesMatrix:    {name: "OpVectorTimesMatrix", resultType: true, result: true},
	OpMatrixTimesVector:    {name: "OpMatrixTimesVector", resultType: true, result: true},
	OpMatrixTimesMatrix:    {name: "OpMatrixTimesMatrix", resultType: true, result: true},
	OpDot:                  {name: "OpDot", resultType: true, result: true},
	OpAny:                  {name: "OpAny", resultType: true, result: true},
	OpAll:                  {name: "OpAll", resultType: true, result: true},
	OpIsNan:                {name: "OpIsNan", resultType: true, result: true},
	OpIsInf:                {name: "OpIsInf", resultType: true, result: true},
	OpLogicalEqual:         {name: "OpLogicalEqual", resultType: true, result: true},
	OpLogicalNotEqual:      {name: "OpLogicalNotEqual", resultType: true, result: true},
	OpLogicalOr:            {name: "OpLogicalOr", resultType: true, result: true},
	OpLogicalAnd:           {name: "OpLogicalAnd", resultType: true, result: true},
	OpLogicalNot:           {name: "OpLogicalNot", resultType: true, result: true},
	OpSelect:               {name: "OpSelect", resultType: true, result: true},
	OpIEqual:               {name: "OpIEqual", resultType: true, result: true},
	OpINotEqual:            {name: "OpINotEqual", resultType: true, result: true},
	OpUGreaterThan:         {name: "OpUGreaterThan", resultType: true, result: true},
	OpSGreaterThan:         {name: "OpSGreaterThan", resultType: true, result: true},
	OpUGreaterThanEqual:    {name: "OpUGreaterThanEqual", resultType: true, result: true},
	OpSGreaterThanEqual:    {name: "OpSGreaterThanEqual", resultType: true, result: true},
	OpULessThan:            {name: "OpULessThan", resultType: true, result: true},
	OpSLessThan:            {name: "OpSLessThan", resultType: true, result: true},
	OpULessThanEqual:       {name: "OpULessThanEqual", resultType: true, result: true},
	OpSLessThanEqual:       {name: "OpSLessThanEqual", resultType: true, result: true},
	OpFOrdEqual:            {name: "OpFOrdEqual", resultType: true, result: true},
	OpFOrdNotEqual:         {name: "OpFOrdNotEqual", resultType: true, result: true},
	OpFOrdLessThan:         {name: "OpFOrdLessThan", resultType: true, result: true},
	OpFOrdGreaterThan:      {name: "OpFOrdGreaterThan", resultType: true, result: true},
	OpFOrdLessThanEqual:    {name: "OpFOrdLessThanEqual", resultType: true, result: true},
	OpFOrdGreaterThanEqual: {name: "OpFOrdGreaterThanEqual", resultType: true, result: true},
	OpShiftRightLogical:    {name: "OpShiftRightLogical", resultType: true, result: true},
	OpShiftRightArithmetic: {name: "OpShiftRightArithmetic", resultType: true, result: true},
	OpShiftLeftLogical:     {name: "OpShiftLeftLogical", resultType: true, result: true},
	OpBitwiseOr:            {name: "OpBitwiseOr", resultType: true, result: true},
	OpBitwiseXor:           {name: "OpBitwiseXor", resultType: true, result: true},
	OpBitwiseAnd:           {name: "OpBitwiseAnd", resultType: true, result: true},
	OpNot:                  {name: "OpNot", resultType: true, result: true},
	OpDPdx:                 {name: "OpDPdx", resultType: true, result: true},
	OpDPdy:                 {name: "OpDPdy", resultType: true, result: true},
	OpFwidth:               {name: "OpFwidth", resultType: true, result: true},
	OpLoopMerge:            {name: "OpLoopMerge"},
	OpSelectionMerge:       {name: "OpSelectionMerge"},
	OpLabel:                {name: "OpLabel", result: true},
	OpBranch:               {name: "OpBranch"},
	OpBranchConditional:    {name: "OpBranchConditional"},
	OpSwitch:               {name: "OpSwitch"},
	OpKill:                 {name: "OpKill"},
	OpReturn:               {name: "OpReturn"},
	OpReturnValue:          {name: "OpReturnValue"},
	OpUnreachable:          {name: "OpUnreachable"},
}

// String returns the opcode's assembly name.
func (op OpCode) String() string {
	if info, ok := opInfos[op]; ok {
		return info.name
	}
	return "OpUnknown"
}
