package impgen

import (
	"farc/ir"

	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// llvmType maps a scalar primitive type to its llvm type-vocabulary
// equivalent. ImpCode never emits actual LLVM IR — no backend is wired
// here — but borrowing llvm's typed-value vocabulary for Op operand lists
// (see SOp in impcode.go) gives a kernel launch's operand types a concrete,
// already-imported representation instead of a hand-rolled width enum.
func llvmType(p ir.PrimType) types.Type {
	switch p.Kind {
	case ir.KindBool:
		return types.I1
	case ir.KindIntS, ir.KindIntU:
		return types.NewInt(uint64(p.Width))
	case ir.KindFloat:
		if p.Width == ir.W32 {
			return types.Float
		}
		return types.Double
	default:
		return types.I64
	}
}

// llvmOperand builds a typed placeholder value.Value for one SOp operand. A
// compile-time constant SubExp becomes a genuine llvm constant; a
// name-reference SubExp becomes a zero-valued constant of the right type —
// a type tag only, since no backend is wired in this core to supply the
// name's eventual runtime value.
func llvmOperand(s ir.SubExp, p ir.PrimType) value.Value {
	t := llvmType(p)
	if !s.IsConst() {
		return zeroOf(t)
	}
	v := s.Const
	switch v.Type.Kind {
	case ir.KindBool:
		if v.BoolVal {
			return constant.True
		}
		return constant.False
	case ir.KindFloat:
		ft, ok := t.(*types.FloatType)
		if !ok {
			return zeroOf(t)
		}
		return constant.NewFloat(ft, v.FloatVal)
	default:
		it, ok := t.(*types.IntType)
		if !ok {
			return zeroOf(t)
		}
		return constant.NewInt(it, v.IntVal)
	}
}

func zeroOf(t types.Type) value.Value {
	switch tt := t.(type) {
	case *types.IntType:
		return constant.NewInt(tt, 0)
	case *types.FloatType:
		return constant.NewFloat(tt, 0)
	default:
		return constant.NewInt(types.I64, 0)
	}
}
