// Package smt translates BMB contract obligations into SMT-LIB2
// queries and drives an external solver to discharge them:
// string-builder emission with a switch-per-expression-kind translator
// over the contract/refinement subset of the AST.
package smt

import (
	"fmt"
	"strings"

	"github.com/bmb-lang/bmb/internal/ast"
	"github.com/bmb-lang/bmb/internal/contract"
)

// TranslateObligation emits a complete SMT-LIB2 script proving (by
// contradiction) that ob holds given fn's parameters, its preconditions
// as premises (for postcondition and refinement obligations), and any
// `old(...)` snapshots. A refinement predicate's `it` is bound to the
// refined name (`ret` for the return type). Negating the obligation
// and checking unsat is the standard validity-via-contradiction idiom.
func TranslateObligation(fn *ast.FnDecl, fo contract.FuncObligations, ob contract.Obligation, oldSnapshots []string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "; verification condition for %s (%s", fn.Name, ob.Kind)
	if ob.Name != "" {
		fmt.Fprintf(&sb, " %q", ob.Name)
	}
	sb.WriteString(")\n\n")

	for _, p := range fn.Params {
		fmt.Fprintf(&sb, "(declare-const %s %s)\n", p.Name, typeToSort(p.Type))
	}
	if fn.RetType != nil && fn.RetType != ast.Unit {
		fmt.Fprintf(&sb, "(declare-const ret %s)\n", typeToSort(fn.RetType))
	}
	for _, name := range oldSnapshots {
		fmt.Fprintf(&sb, "(declare-const old_%s %s)\n", name, "Int")
	}
	sb.WriteString("\n")

	if ob.Kind == contract.KindPostcondition || ob.Kind == contract.KindRefinement {
		for _, e := range fn.Contract.Pre {
			fmt.Fprintf(&sb, "(assert %s)\n", ExprToSMT(e))
		}
	}

	goal := ExprToSMT(ob.Expr)
	if ob.Kind == contract.KindRefinement && ob.Name != "" {
		goal = substituteSMT(goal, map[string]string{"it": ob.Name})
	}
	sb.WriteString("\n; obligation (negated for a contradiction proof)\n")
	fmt.Fprintf(&sb, "(assert (not %s))\n", goal)
	sb.WriteString("\n(check-sat)\n(get-model)\n")
	return sb.String()
}

// TranslatePrecondition emits a satisfiability check for a standalone
// precondition: the parameters are declared and the precondition is
// asserted, so sat means some input satisfies it (an unsatisfiable
// precondition makes every postcondition vacuously true). Verifier does
// not run this check.
func TranslatePrecondition(fn *ast.FnDecl, pre ast.Expr) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; satisfiability check for %s's precondition\n\n", fn.Name)
	for _, p := range fn.Params {
		fmt.Fprintf(&sb, "(declare-const %s %s)\n", p.Name, typeToSort(p.Type))
	}
	fmt.Fprintf(&sb, "\n(assert %s)\n(check-sat)\n", ExprToSMT(pre))
	return sb.String()
}

func typeToSort(t ast.Type) string {
	prim, ok := ast.Underlying(t).(*ast.Primitive)
	if !ok {
		return "Int"
	}
	switch prim.Name {
	case "f32", "f64":
		return "Real"
	case "bool":
		return "Bool"
	default:
		return "Int"
	}
}

// ExprToSMT converts a BMB expression appearing in a contract or
// refinement predicate into an SMT-LIB2 term. Only the pure, decidable
// subset contracts are restricted to is handled; anything else falls
// back to an uninterpreted `true`.
func ExprToSMT(e ast.Expr) string {
	switch ex := e.(type) {
	case *ast.BinaryExpr:
		return binaryToSMT(ex)
	case *ast.UnaryExpr:
		return unaryToSMT(ex)
	case *ast.IdentExpr:
		return ex.Name
	case *ast.ItExpr:
		return "it"
	case *ast.RetExpr:
		return "ret"
	case *ast.OldExpr:
		if id, ok := ex.Value.(*ast.IdentExpr); ok {
			return "old_" + id.Name
		}
		return ExprToSMT(ex.Value)
	case *ast.LiteralExpr:
		return literalToSMT(ex)
	case *ast.FieldAccessExpr:
		if id, ok := ex.Object.(*ast.IdentExpr); ok {
			return id.Name + "_" + ex.Field
		}
		return ExprToSMT(ex.Object) + "_" + ex.Field
	case *ast.CallExpr:
		return callToSMT(ex)
	default:
		return "true"
	}
}

func callToSMT(ce *ast.CallExpr) string {
	name, ok := ce.Callee.(*ast.IdentExpr)
	if !ok {
		return "true"
	}
	args := make([]string, len(ce.Args))
	for i, a := range ce.Args {
		args[i] = ExprToSMT(a)
	}
	if len(args) == 0 {
		return fmt.Sprintf("(%s)", name.Name)
	}
	return fmt.Sprintf("(%s %s)", name.Name, strings.Join(args, " "))
}

func literalToSMT(lit *ast.LiteralExpr) string {
	switch lit.Kind {
	case ast.LitInt, ast.LitFloat:
		return lit.Raw
	case ast.LitBool:
		return lit.Raw
	default:
		return "0"
	}
}

func binaryToSMT(be *ast.BinaryExpr) string {
	l, r := ExprToSMT(be.Left), ExprToSMT(be.Right)
	switch be.Op {
	case ast.OpAdd:
		return fmt.Sprintf("(+ %s %s)", l, r)
	case ast.OpSub:
		return fmt.Sprintf("(- %s %s)", l, r)
	case ast.OpMul:
		return fmt.Sprintf("(* %s %s)", l, r)
	case ast.OpDiv:
		return fmt.Sprintf("(div %s %s)", l, r)
	case ast.OpMod:
		return fmt.Sprintf("(mod %s %s)", l, r)
	case ast.OpEq:
		return fmt.Sprintf("(= %s %s)", l, r)
	case ast.OpNeq:
		return fmt.Sprintf("(not (= %s %s))", l, r)
	case ast.OpLt:
		return fmt.Sprintf("(< %s %s)", l, r)
	case ast.OpLe:
		return fmt.Sprintf("(<= %s %s)", l, r)
	case ast.OpGt:
		return fmt.Sprintf("(> %s %s)", l, r)
	case ast.OpGe:
		return fmt.Sprintf("(>= %s %s)", l, r)
	case ast.OpAnd:
		return fmt.Sprintf("(and %s %s)", l, r)
	case ast.OpOr:
		return fmt.Sprintf("(or %s %s)", l, r)
	default:
		return "true"
	}
}

func unaryToSMT(ue *ast.UnaryExpr) string {
	operand := ExprToSMT(ue.Operand)
	switch ue.Op {
	case ast.OpNot:
		return fmt.Sprintf("(not %s)", operand)
	case ast.OpNeg:
		return fmt.Sprintf("(- %s)", operand)
	default:
		return operand
	}
}
