package spirv

import (
	"github.com/gogpu/spvgen/mir"
)

// recipe describes how one intrinsic lowers: either a core
// instruction covering every operand kind, or a GLSL.std.450
// instruction chosen by scalar kind.
type recipe struct {
	arity int
	core  OpCode
	float ExtOp
	sint  ExtOp
	uint  ExtOp
}

// pick selects the instruction for the given operand scalar kind.
func (r recipe) pick(kind mir.ScalarKind) (OpCode, ExtOp, bool) {
	if r.core != 0 {
		return r.core, 0, true
	}
	var ext ExtOp
	switch kind {
	case mir.ScalarKindFloat:
		ext = r.float
	case mir.ScalarKindSint:
		ext = r.sint
	case mir.ScalarKindUint:
		ext = r.uint
	}
	if ext == 0 {
		return 0, 0, false
	}
	return 0, ext, true
}

var intrinsics = map[string]recipe{
	"abs":         {arity: 1, float: GLSLFAbs, sint: GLSLSAbs},
	"sign":        {arity: 1, float: GLSLFSign, sint: GLSLSSign},
	"floor":       {arity: 1, float: GLSLFloor},
	"ceil":        {arity: 1, float: GLSLCeil},
	"fract":       {arity: 1, float: GLSLFract},
	"trunc":       {arity: 1, float: GLSLTrunc},
	"round":       {arity: 1, float: GLSLRound},
	"sqrt":        {arity: 1, float: GLSLSqrt},
	"inversesqrt": {arity: 1, float: GLSLInverseSqrt},
	"sin":         {arity: 1, float: GLSLSin},
	"cos":         {arity: 1, float: GLSLCos},
	"tan":         {arity: 1, float: GLSLTan},
	"asin":        {arity: 1, float: GLSLAsin},
	"acos":        {arity: 1, float: GLSLAcos},
	"atan":        {arity: 1, float: GLSLAtan},
	"exp":         {arity: 1, float: GLSLExp},
	"exp2":        {arity: 1, float: GLSLExp2},
	"log":         {arity: 1, float: GLSLLog},
	"log2":        {arity: 1, float: GLSLLog2},
	"length":      {arity: 1, float: GLSLLength},
	"normalize":   {arity: 1, float: GLSLNormalize},
	"atan2":       {arity: 2, float: GLSLAtan2},
	"pow":         {arity: 2, float: GLSLPow},
	"step":        {arity: 2, float: GLSLStep},
	"distance":    {arity: 2, float: GLSLDistance},
	"cross":       {arity: 2, float: GLSLCross},
	"reflect":     {arity: 2, float: GLSLReflect},
	"min":         {arity: 2, float: GLSLFMin, sint: GLSLSMin, uint: GLSLUMin},
	"max":         {arity: 2, float: GLSLFMax, sint: GLSLSMax, uint: GLSLUMax},
	"clamp":       {arity: 3, float: GLSLFClamp, sint: GLSLSClamp, uint: GLSLUClamp},
	"mix":         {arity: 3, float: GLSLFMix},
	"smoothstep":  {arity: 3, float: GLSLSmoothStep},
	"fma":         {arity: 3, float: GLSLFma},

	"dot":       {arity: 2, core: OpDot},
	"dpdx":      {arity: 1, core: OpDPdx},
	"dpdy":      {arity: 1, core: OpDPdy},
	"fwidth":    {arity: 1, core: OpFwidth},
	"any":       {arity: 1, core: OpAny},
	"all":       {arity: 1, core: OpAll},
	"isnan":     {arity: 1, core: OpIsNan},
	"isinf":     {arity: 1, core: OpIsInf},
	"transpose": {arity: 1, core: OpTranspose},
}

// lookupIntrinsic finds the recipe for name with the given argument
// count.
func lookupIntrinsic(name string, arity int) (recipe, bool) {
	r, ok := intrinsics[name]
	if !ok || r.arity != arity {
		return recipe{}, false
	}
	return r, true
}
