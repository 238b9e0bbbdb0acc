package binding

import (
	"fmt"
	"strings"
)

// ProblemCode classifies why a name could not be resolved.
type ProblemCode int

const (
	ProblemNameNotFound ProblemCode = iota + 1
	ProblemAmbiguous
	ProblemTypeNotComputable
	ProblemRecursionLimit
	ProblemInvalidRedeclaration
	ProblemInvalidTemplateArgs
	ProblemMemberNotFound
)

func (c ProblemCode) String() string {
	switch c {
	case ProblemNameNotFound:
		return "name-not-found"
	case ProblemAmbiguous:
		return "ambiguous"
	case ProblemTypeNotComputable:
		return "type-not-computable"
	case ProblemRecursionLimit:
		return "recursion-limit"
	case ProblemInvalidRedeclaration:
		return "invalid-redeclaration"
	case ProblemInvalidTemplateArgs:
		return "invalid-template-arguments"
	case ProblemMemberNotFound:
		return "member-not-found"
	}
	return fmt.Sprintf("problem(%d)", int(c))
}

// Problem is the binding of a name that failed to resolve. It is a value,
// never a panic, and doubles as the type of declarations whose type could
// not be computed.
type Problem struct {
	Decl
	Code       ProblemCode
	Candidates []Binding
}

func (p *Problem) Kind() Kind { return KindProblem }

func (p *Problem) Error() string {
	msg := p.Code.String() + ": " + p.SimpleName
	if len(p.Candidates) > 0 {
		names := make([]string, len(p.Candidates))
		for i, c := range p.Candidates {
			names[i] = QualifiedString(c)
		}
		msg += " (candidates: " + strings.Join(names, ", ") + ")"
	}
	return msg
}

// NewProblem returns a problem binding for name.
func NewProblem(code ProblemCode, name string, candidates ...Binding) *Problem {
	return &Problem{Decl: Decl{SimpleName: name}, Code: code, Candidates: candidates}
}

// IsProblem reports whether b is nil or a problem binding.
func IsProblem(b Binding) bool {
	if b == nil {
		return true
	}
	_, ok := b.(*Problem)
	return ok
}

// ProblemType returns the first problem nested in t, or nil.
func ProblemType(t Type) *Problem {
	switch x := t.(type) {
	case *Problem:
		return x
	case *Pointer:
		return ProblemType(x.Elem)
	case *Reference:
		return ProblemType(x.Elem)
	case *Qualified:
		return ProblemType(x.Elem)
	case *Array:
		return ProblemType(x.Elem)
	case *FunctionType:
		if p := ProblemType(x.Result); p != nil {
			return p
		}
		for _, pt := range x.Params {
			if p := ProblemType(pt); p != nil {
				return p
			}
		}
	case *Typedef:
		u := Unwrap(x)
		if _, cyclic := u.(*Typedef); !cyclic {
			return ProblemType(u)
		}
	}
	return nil
}
