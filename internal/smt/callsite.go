package smt

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmb-lang/bmb/internal/ast"
	"github.com/bmb-lang/bmb/internal/contract"
	"github.com/bmb-lang/bmb/internal/diag"
)

// CallSiteObligation is one goal at a call: the callee's precondition
// (or parameter refinement) with the actual arguments substituted for
// the parameter names.
type CallSiteObligation struct {
	Caller *ast.FnDecl
	Callee *ast.FnDecl
	Call   *ast.CallExpr
	Kind   contract.ObligationKind
	// Goal is the substituted obligation term, already in SMT form.
	Goal string
	// Label names the obligation in diagnostics.
	Label string
}

// CollectCallSites walks a function body for calls into functions that
// carry preconditions or refined parameters. This is the second half of
// §4.4's goal: the callee's own proof shows pre⇒post; the call site
// must show the pre actually holds with these arguments. A @trust
// callee skips its own body proof but its preconditions still bind
// callers.
func CollectCallSites(caller *ast.FnDecl, fns map[string]*ast.FnDecl) []CallSiteObligation {
	var out []CallSiteObligation
	walkExprs(caller.Body, func(e ast.Expr) {
		ce, ok := e.(*ast.CallExpr)
		if !ok {
			return
		}
		id, ok := ce.Callee.(*ast.IdentExpr)
		if !ok {
			return
		}
		callee, ok := fns[id.Name]
		if !ok {
			return
		}
		subst := map[string]string{}
		for i, p := range callee.Params {
			if i < len(ce.Args) {
				subst[p.Name] = ExprToSMT(ce.Args[i])
			}
		}
		for _, pre := range callee.Contract.Pre {
			out = append(out, CallSiteObligation{
				Caller: caller, Callee: callee, Call: ce,
				Kind:  contract.KindPrecondition,
				Goal:  substituteSMT(ExprToSMT(pre), subst),
				Label: fmt.Sprintf("precondition of %s", callee.Name),
			})
		}
		for i, p := range callee.Params {
			rt, ok := p.Type.(*ast.RefinementType)
			if !ok || i >= len(ce.Args) {
				continue
			}
			// `it` binds to the argument in a parameter refinement.
			goal := substituteSMT(ExprToSMT(rt.Predicate), map[string]string{"it": ExprToSMT(ce.Args[i])})
			out = append(out, CallSiteObligation{
				Caller: caller, Callee: callee, Call: ce,
				Kind:  contract.KindRefinement,
				Goal:  goal,
				Label: fmt.Sprintf("refinement on %s's parameter %q", callee.Name, p.Name),
			})
		}
	})
	return out
}

// TranslateCallSite emits the proof-by-contradiction script for one
// call-site obligation: declare the caller's parameters, assume the
// caller's own preconditions, and assert the negated goal.
func TranslateCallSite(ob CallSiteObligation) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; call-site check in %s: %s\n\n", ob.Caller.Name, ob.Label)
	for _, p := range ob.Caller.Params {
		fmt.Fprintf(&sb, "(declare-const %s %s)\n", p.Name, typeToSort(p.Type))
	}
	for _, pre := range ob.Caller.Contract.Pre {
		fmt.Fprintf(&sb, "(assert %s)\n", ExprToSMT(pre))
	}
	fmt.Fprintf(&sb, "\n(assert (not %s))\n(check-sat)\n(get-model)\n", ob.Goal)
	return sb.String()
}

// VerifyCallSites discharges every call-site obligation inside fn.
func (v *Verifier) VerifyCallSites(ctx context.Context, fn *ast.FnDecl, fns map[string]*ast.FnDecl) {
	for _, ob := range CollectCallSites(fn, fns) {
		query := TranslateCallSite(ob)
		result, model, err := v.Solver.Discharge(ctx, query)
		if err != nil {
			v.Sink.Add(diag.Diagnostic{Kind: diag.KindInternal, Severity: diag.SevInternal, Span: ob.Call.GetSpan(), Message: fmt.Sprintf("solver invocation failed: %v", err)})
			return
		}
		switch result {
		case Unknown:
			v.Sink.Add(diag.Diagnostic{
				Kind: diag.KindVerify, Severity: diag.SevWarning, Span: ob.Call.GetSpan(),
				Message: fmt.Sprintf("%s could not be decided within the solver timeout", ob.Label),
			})
		case Counterexample:
			v.Sink.Add(diag.Diagnostic{
				Kind: diag.KindVerify, Severity: diag.SevError, Span: ob.Call.GetSpan(),
				Message:        fmt.Sprintf("call does not satisfy the %s", ob.Label),
				Counterexample: model,
			})
		}
	}
}

// substituteSMT rewrites whole identifiers in an SMT term. Terms are
// space/paren-delimited, so a token-wise pass is exact.
func substituteSMT(term string, subst map[string]string) string {
	var sb strings.Builder
	var tok strings.Builder
	flush := func() {
		t := tok.String()
		tok.Reset()
		if r, ok := subst[t]; ok {
			sb.WriteString(r)
		} else {
			sb.WriteString(t)
		}
	}
	for _, r := range term {
		switch r {
		case '(', ')', ' ':
			flush()
			sb.WriteRune(r)
		default:
			tok.WriteRune(r)
		}
	}
	flush()
	return sb.String()
}

// walkExprs applies f to every expression reachable from e.
func walkExprs(e ast.Expr, f func(ast.Expr)) {
	if e == nil {
		return
	}
	f(e)
	switch ex := e.(type) {
	case *ast.BlockExpr:
		walkExprs(ex.Chain, f)
	case *ast.LetExpr:
		walkExprs(ex.Value, f)
		walkExprs(ex.Body, f)
	case *ast.BinaryExpr:
		walkExprs(ex.Left, f)
		walkExprs(ex.Right, f)
	case *ast.UnaryExpr:
		walkExprs(ex.Operand, f)
	case *ast.CallExpr:
		walkExprs(ex.Callee, f)
		for _, a := range ex.Args {
			walkExprs(a, f)
		}
	case *ast.MethodCallExpr:
		walkExprs(ex.Receiver, f)
		for _, a := range ex.Args {
			walkExprs(a, f)
		}
	case *ast.FieldAccessExpr:
		walkExprs(ex.Object, f)
	case *ast.FieldStoreExpr:
		walkExprs(ex.Object, f)
		walkExprs(ex.Value, f)
	case *ast.IndexExpr:
		walkExprs(ex.Object, f)
		walkExprs(ex.Index, f)
	case *ast.ArrayLitExpr:
		for _, el := range ex.Elems {
			walkExprs(el, f)
		}
	case *ast.StructLitExpr:
		for _, fi := range ex.Fields {
			walkExprs(fi.Value, f)
		}
	case *ast.TupleExpr:
		for _, el := range ex.Elems {
			walkExprs(el, f)
		}
	case *ast.IfExpr:
		walkExprs(ex.Cond, f)
		walkExprs(ex.Then, f)
		walkExprs(ex.Else, f)
	case *ast.MatchExpr:
		walkExprs(ex.Scrutinee, f)
		for _, arm := range ex.Arms {
			walkExprs(arm.Guard, f)
			walkExprs(arm.Body, f)
		}
	case *ast.WhileExpr:
		walkExprs(ex.Invariant, f)
		walkExprs(ex.Cond, f)
		walkExprs(ex.Body, f)
	case *ast.ForExpr:
		walkExprs(ex.Start, f)
		walkExprs(ex.End, f)
		walkExprs(ex.Body, f)
	case *ast.LoopExpr:
		walkExprs(ex.Body, f)
	case *ast.BreakExpr:
		walkExprs(ex.Value, f)
	case *ast.ReturnExpr:
		walkExprs(ex.Value, f)
	case *ast.LambdaExpr:
		walkExprs(ex.Body, f)
	case *ast.AssignExpr:
		walkExprs(ex.Value, f)
	case *ast.SpawnExpr:
		walkExprs(ex.Body, f)
	case *ast.RefinementAssertExpr:
		walkExprs(ex.Value, f)
	}
}
