package ir

// Param is a function, lambda, or loop parameter: a name bound once at the
// construct's entry, carrying its decoration.
type Param[Dec any] struct {
	Name Name
	Dec  Dec
}

// RetType describes one component of a function's return type: the value
// type plus whether any of its dimensions are existential.
type RetType struct {
	Type Type
}

// Lambda is the body supplied to a SOAC: parameters plus a body returning
// exactly one tuple of SubExps of the declared return types.
type Lambda[Dec any, Op any] struct {
	Params     []Param[Dec]
	Body       Body[Dec, Op]
	ReturnType []Type
}

// FunDef is a top-level function: name, parameters, declared return types,
// and body. From farc/explicitmem onward every array parameter is preceded
// by a memory-block context parameter; array returns carry no memory-block
// context (the return types are left as declared).
type FunDef[Dec any, Op any] struct {
	Name       string
	Params     []Param[Dec]
	ReturnType []RetType
	Body       Body[Dec, Op]
}

// Program is an ordered list of function declarations.
type Program[Dec any, Op any] struct {
	Funs []FunDef[Dec, Op]
}

// LookupFun finds a function by name.
func (p Program[Dec, Op]) LookupFun(name string) (FunDef[Dec, Op], bool) {
	for _, f := range p.Funs {
		if f.Name == name {
			return f, true
		}
	}
	return FunDef[Dec, Op]{}, false
}
