package impgen

import "farc/ir"

// Ops is the pluggable operations table a concrete backend supplies for any
// memory space this core does not handle directly (ir.DefaultSpace is
// always handled inline). Each field is tried in turn; a nil field, or one
// that returns handled=false, falls back to the core's own inline lowering
// of that operation (SIndex, SWrite, SAllocate, SCopy). The core itself
// never branches on the space tag's name — it only asks "does the table
// have an override for this space" — keeping it backend-agnostic.
type Ops struct {
	CompileExp func(space ir.Space, b ir.BasicOp) ([]Code, bool)
	WriteScalar func(space ir.Space, mem ir.Name, offset ir.SubExp, elem ir.PrimType, val ir.SubExp) ([]Code, bool)
	ReadScalar  func(space ir.Space, dst ir.Name, mem ir.Name, offset ir.SubExp, elem ir.PrimType) ([]Code, bool)
	Allocate    func(space ir.Space, name ir.Name, size ir.SubExp) ([]Code, bool)
	Copy        func(space ir.Space, dstMem ir.Name, dstOff ir.SubExp, srcMem ir.Name, srcOff ir.SubExp, n ir.SubExp, elem ir.PrimType) ([]Code, bool)
	MemoryType  func(space ir.Space) (string, bool)
}

func (o *Ops) writeScalar(space ir.Space, mem ir.Name, offset ir.SubExp, elem ir.PrimType, val ir.SubExp) ([]Code, bool) {
	if space == ir.DefaultSpace || o == nil || o.WriteScalar == nil {
		return nil, false
	}
	return o.WriteScalar(space, mem, offset, elem, val)
}

func (o *Ops) readScalar(space ir.Space, dst, mem ir.Name, offset ir.SubExp, elem ir.PrimType) ([]Code, bool) {
	if space == ir.DefaultSpace || o == nil || o.ReadScalar == nil {
		return nil, false
	}
	return o.ReadScalar(space, dst, mem, offset, elem)
}

func (o *Ops) allocate(space ir.Space, name ir.Name, size ir.SubExp) ([]Code, bool) {
	if space == ir.DefaultSpace || o == nil || o.Allocate == nil {
		return nil, false
	}
	return o.Allocate(space, name, size)
}

func (o *Ops) copy(space ir.Space, dstMem ir.Name, dstOff ir.SubExp, srcMem ir.Name, srcOff ir.SubExp, n ir.SubExp, elem ir.PrimType) ([]Code, bool) {
	if space == ir.DefaultSpace || o == nil || o.Copy == nil {
		return nil, false
	}
	return o.Copy(space, dstMem, dstOff, srcMem, srcOff, n, elem)
}
