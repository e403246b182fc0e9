package smt

import (
	"context"
	"fmt"

	"github.com/bmb-lang/bmb/internal/ast"
	"github.com/bmb-lang/bmb/internal/contract"
	"github.com/bmb-lang/bmb/internal/diag"
)

// Verifier walks a checked Module's functions and discharges every
// contract obligation against s, reporting a VerifyError diagnostic
// (with a counterexample model, when the solver returns one) for the
// first obligation of each function that fails to prove, or a warning
// when that obligation is undecided. @trust functions are skipped:
// their contract is still propagated to callers, but the
// body is not checked against it.
type Verifier struct {
	Solver *Solver
	Sink   *diag.Sink
	Cache  *ProofCache
}

func NewVerifier(s *Solver, sink *diag.Sink) *Verifier {
	return &Verifier{Solver: s, Sink: sink, Cache: NewProofCache()}
}

// VerifyModule discharges every function's own obligations plus the
// obligations its call sites impose, top-level and impl-block methods
// alike. Call-site checks see every declared function, including @trust
// ones — trust suppresses a function's own proof, never its callers'.
func (v *Verifier) VerifyModule(ctx context.Context, mod *ast.Module) {
	fns := map[string]*ast.FnDecl{}
	for _, d := range mod.Decls {
		switch decl := d.(type) {
		case *ast.FnDecl:
			fns[decl.Name] = decl
		case *ast.ImplBlock:
			for _, m := range decl.Methods {
				fns[decl.TypeName+"::"+m.Name] = m
			}
		}
	}
	for _, d := range mod.Decls {
		switch decl := d.(type) {
		case *ast.FnDecl:
			v.VerifyFn(ctx, decl)
			v.VerifyCallSites(ctx, decl, fns)
		case *ast.ImplBlock:
			for _, m := range decl.Methods {
				v.VerifyFn(ctx, m)
				v.VerifyCallSites(ctx, m, fns)
			}
		}
	}
}

// VerifyFn discharges one function's obligations in source order,
// short-circuiting further obligations on that function once one comes
// back with a counterexample or undecided (later obligations regularly depend on
// earlier ones holding, and reporting a cascade of derived failures
// for one root cause is noise rather than signal).
func (v *Verifier) VerifyFn(ctx context.Context, fn *ast.FnDecl) {
	fo := contract.Extract(fn)
	if !fo.RequiresProof() {
		return
	}
	snapshots := collectOldSnapshots(fn)

	for _, ob := range fo.Obligations {
		// Preconditions and parameter refinements are premises inside the
		// callee; VerifyCallSites proves them at each call.
		if ob.Kind == contract.KindPrecondition || (ob.Kind == contract.KindRefinement && ob.Name != "ret") {
			continue
		}
		key := v.Cache.Key(fn, fo, ob)
		result, model, err := v.Cache.Get(key)
		if err != nil {
			if err != errCacheMiss {
				v.Sink.Add(diag.Diagnostic{Kind: diag.KindInternal, Severity: diag.SevInternal, Span: span(ob.Span), Message: err.Error()})
				return
			}
			query := TranslateObligation(fn, fo, ob, snapshots)
			result, model, err = v.Solver.Discharge(ctx, query)
			if err != nil {
				v.Sink.Add(diag.Diagnostic{Kind: diag.KindInternal, Severity: diag.SevInternal, Span: span(ob.Span), Message: fmt.Sprintf("solver invocation failed: %v", err)})
				return
			}
			v.Cache.Put(key, result, model)
		}

		switch result {
		case Proved:
			continue
		case Unknown:
			v.Sink.Add(diag.Diagnostic{
				Kind: diag.KindVerify, Severity: diag.SevWarning, Span: span(ob.Span),
				Message: fmt.Sprintf("%s's %s could not be decided within the solver timeout", fn.Name, obligationLabel(ob)),
			})
			return
		case Counterexample:
			v.Sink.Add(diag.Diagnostic{
				Kind: diag.KindVerify, Severity: diag.SevError, Span: span(ob.Span),
				Message:        fmt.Sprintf("%s's %s does not hold", fn.Name, obligationLabel(ob)),
				Counterexample: model,
			})
			return
		}
	}
}

func obligationLabel(ob contract.Obligation) string {
	if ob.Name != "" {
		return fmt.Sprintf("%s %q", ob.Kind, ob.Name)
	}
	return string(ob.Kind)
}

func span(s ast.Spanner) diag.Span {
	if s == nil {
		return diag.Span{}
	}
	return s.GetSpan()
}

// collectOldSnapshots finds every distinct identifier wrapped in
// `old(...)` across a function's postconditions, so TranslateObligation
// can declare a matching old_<name> const for each.
func collectOldSnapshots(fn *ast.FnDecl) []string {
	seen := map[string]bool{}
	var names []string
	var walk func(e ast.Expr)
	walk = func(e ast.Expr) {
		switch ex := e.(type) {
		case nil:
			return
		case *ast.OldExpr:
			if id, ok := ex.Value.(*ast.IdentExpr); ok && !seen[id.Name] {
				seen[id.Name] = true
				names = append(names, id.Name)
			}
		case *ast.BinaryExpr:
			walk(ex.Left)
			walk(ex.Right)
		case *ast.UnaryExpr:
			walk(ex.Operand)
		case *ast.CallExpr:
			for _, a := range ex.Args {
				walk(a)
			}
		case *ast.FieldAccessExpr:
			walk(ex.Object)
		}
	}
	for _, e := range fn.Contract.Post {
		walk(e)
	}
	return names
}
