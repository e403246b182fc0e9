// Package contract holds the pure data structures describing a
// function's verification obligations: its pre/postconditions, named
// where-clauses, and the attribute flags that change how the verifier
// treats it. These are plain data, generalized from the shape of
// other_examples' Query/Result contract structures — nothing lives
// here beyond obligation extraction, which is a pure function of an
// ast.Contract, and the RequiresProof query on its result.
package contract

import "github.com/bmb-lang/bmb/internal/ast"

// ObligationKind identifies which part of a function's contract an
// Obligation was extracted from.
type ObligationKind string

const (
	// KindPrecondition is a `pre` clause, proved at every call site with
	// the arguments substituted and assumed as a premise inside the callee.
	KindPrecondition ObligationKind = "precondition"

	// KindPostcondition is a `post` clause, proved true at every return
	// point using the preconditions and any `old(...)` snapshots as
	// premises.
	KindPostcondition ObligationKind = "postcondition"

	// KindWhereClause is a named `where { name: expr }` side-condition,
	// reported by name in counterexamples so a failing clause is
	// identifiable without re-deriving it from its expression text.
	KindWhereClause ObligationKind = "where-clause"

	// KindRefinement is a predicate extracted from a `T{it OP expr}`
	// refinement type appearing in a parameter, return type, or field.
	KindRefinement ObligationKind = "refinement"
)

// Obligation is one proof goal the verifier must discharge (or, for a
// @trust function, skip while still propagating to callers).
type Obligation struct {
	Kind ObligationKind
	Name string // where-clause name, refined parameter name ("ret" for the return type), or "" for pre/post
	Expr ast.Expr
	Span ast.Spanner
}

// FuncObligations is every obligation attached to one function, plus the
// attribute flags that change how they're discharged.
type FuncObligations struct {
	FnName     string
	Pure       bool
	Trust      bool
	Decreases  ast.Expr // nil if the function carries no @decreases
	Obligations []Obligation
}

// Extract walks a FnDecl's Contract and Params/RetType refinements into a
// flat Obligation list, in source order: preconditions, then
// refinement obligations on parameter types, then postconditions, then
// where-clauses, then the return-type refinement last (it may reference
// `ret`).
func Extract(fn *ast.FnDecl) FuncObligations {
	fo := FuncObligations{
		FnName:    fn.Name,
		Pure:      fn.Attrs.Pure,
		Trust:     fn.Attrs.Trust,
		Decreases: fn.Attrs.Decreases,
	}

	for _, e := range fn.Contract.Pre {
		fo.Obligations = append(fo.Obligations, Obligation{Kind: KindPrecondition, Expr: e, Span: e})
	}
	for _, p := range fn.Params {
		if rt, ok := p.Type.(*ast.RefinementType); ok {
			fo.Obligations = append(fo.Obligations, Obligation{Kind: KindRefinement, Name: p.Name, Expr: rt.Predicate, Span: e2span(rt.Predicate)})
		}
	}
	for _, e := range fn.Contract.Post {
		fo.Obligations = append(fo.Obligations, Obligation{Kind: KindPostcondition, Expr: e, Span: e})
	}
	for _, wc := range fn.Contract.Where {
		fo.Obligations = append(fo.Obligations, Obligation{Kind: KindWhereClause, Name: wc.Name, Expr: wc.Expr, Span: wc.Expr})
	}
	if rt, ok := fn.RetType.(*ast.RefinementType); ok {
		fo.Obligations = append(fo.Obligations, Obligation{Kind: KindRefinement, Name: "ret", Expr: rt.Predicate, Span: e2span(rt.Predicate)})
	}
	return fo
}

func e2span(e ast.Expr) ast.Spanner {
	if e == nil {
		return nil
	}
	return e
}

// RequiresProof reports whether fo has any obligation the verifier must
// actually run the solver on. A @trust function still carries
// obligations (callers still get to assume the postconditions) but the
// verifier does not attempt to discharge them against the body.
func (fo FuncObligations) RequiresProof() bool {
	return !fo.Trust && len(fo.Obligations) > 0
}
