package mir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bmb-lang/bmb/internal/ast"
	"github.com/bmb-lang/bmb/internal/diag"
	"github.com/bmb-lang/bmb/internal/runtimeabi"
)

// Lowerer transforms a type-checked module into MIR. Contracts are
// erased here (proofs were cached by the verifier); types are not —
// every place created below is registered in its function's TypeMap
// immediately, phis included.
type Lowerer struct {
	sink *diag.Sink
	out  *Module

	fns     map[string]*ast.FnDecl
	structs map[string]*ast.StructDecl
	enums   map[string]*ast.EnumDecl

	// monoDone memoizes generic function instantiation by suffixed name,
	// so each (template, type-argument tuple) lowers exactly once.
	monoDone map[string]bool
	monoTodo []monoRequest

	strCount int
}

type monoRequest struct {
	decl *ast.FnDecl
	name string
	subst map[string]ast.Type
}

func NewLowerer(sink *diag.Sink) *Lowerer {
	return &Lowerer{
		sink:     sink,
		fns:      map[string]*ast.FnDecl{},
		structs:  map[string]*ast.StructDecl{},
		enums:    map[string]*ast.EnumDecl{},
		monoDone: map[string]bool{},
	}
}

// LowerModule lowers every concrete function. Generic templates are not
// lowered directly; they materialize on demand, once per distinct
// type-argument tuple, with a deterministic name suffix.
func (l *Lowerer) LowerModule(mod *ast.Module) *Module {
	l.out = &Module{Name: mod.Name}

	for _, d := range mod.Decls {
		switch decl := d.(type) {
		case *ast.FnDecl:
			l.fns[decl.Name] = decl
		case *ast.StructDecl:
			l.structs[decl.Name] = decl
			if len(decl.Generics) == 0 {
				l.registerStructDecl(decl)
			}
		case *ast.EnumDecl:
			l.enums[decl.Name] = decl
		case *ast.ImplBlock:
			for _, m := range decl.Methods {
				l.fns[decl.TypeName+"::"+m.Name] = m
			}
		}
	}

	for _, d := range mod.Decls {
		switch decl := d.(type) {
		case *ast.FnDecl:
			if len(decl.Generics) == 0 {
				l.lowerFn(decl, decl.Name, nil)
			}
		case *ast.ImplBlock:
			for _, m := range decl.Methods {
				if len(m.Generics) == 0 {
					l.lowerFn(m, decl.TypeName+"::"+m.Name, nil)
				}
			}
		}
	}

	// Drain instantiation requests queued by call sites; lowering an
	// instantiation may queue more.
	for len(l.monoTodo) > 0 {
		req := l.monoTodo[0]
		l.monoTodo = l.monoTodo[1:]
		l.lowerFn(req.decl, req.name, req.subst)
	}

	return l.out
}

func (l *Lowerer) registerStructDecl(decl *ast.StructDecl) {
	def := &StructDef{Name: decl.Name}
	for _, f := range decl.Fields {
		def.FieldNames = append(def.FieldNames, f.Name)
		def.FieldTypes = append(def.FieldTypes, typeToMir(f.Type))
	}
	l.registerStruct(def)
}

func (l *Lowerer) registerStruct(def *StructDef) {
	if _, ok := l.out.StructByName(def.Name); ok {
		return
	}
	l.out.Structs = append(l.out.Structs, def)
}

// registerStructType ensures a (possibly monomorphized) struct type has
// a layout in the output module, keyed by its suffixed name.
func (l *Lowerer) registerStructType(st *ast.StructType) string {
	name := st.MonomorphName()
	if _, ok := l.out.StructByName(name); ok {
		return name
	}
	def := &StructDef{Name: name}
	fields := st.Fields
	if len(fields) == 0 {
		if decl, ok := l.structs[st.BaseName]; ok {
			subst := map[string]ast.Type{}
			for i, g := range decl.Generics {
				if i < len(st.Args) {
					subst[g] = st.Args[i]
				}
			}
			for _, f := range decl.Fields {
				fields = append(fields, ast.StructField{Name: f.Name, Type: l.applySubst(f.Type, subst)})
			}
		}
	}
	for _, f := range fields {
		def.FieldNames = append(def.FieldNames, f.Name)
		def.FieldTypes = append(def.FieldTypes, typeToMir(f.Type))
	}
	l.registerStruct(def)
	return name
}

// typeToMir maps a surface type onto the MIR value set. Everything
// indirect (strings, structs, arrays, slices, references, raw pointers,
// nullables, enums, tuples, functions) is Ptr; the struct-name tag
// travels separately in StructOf.
func typeToMir(t ast.Type) Type {
	switch ty := ast.Underlying(t).(type) {
	case nil:
		return Void
	case *ast.Primitive:
		switch ty.Name {
		case "f32", "f64":
			return F64
		case "bool":
			return I1
		case "string":
			return Ptr
		case "unit", "never":
			return Void
		default:
			return I64
		}
	case *ast.TypeVar:
		return I64
	default:
		return Ptr
	}
}

func structNameOf(t ast.Type) string {
	if st, ok := ast.Underlying(t).(*ast.StructType); ok {
		return st.MonomorphName()
	}
	return ""
}

// varInfo is one binding visible during lowering. Parameters are read
// directly from their SSA value; locals are read through their stack
// slot, with a fresh versioned place per read (the SSA renamer).
type varInfo struct {
	isParam    bool
	place      string // param SSA value, or the slot name for locals
	ty         Type
	structName string
}

type loopCtx struct {
	header string
	exit   string
}

// fnCtx is the per-function lowering context: current block, the
// let-binding scope stack, the SSA temp counter, and the loop stack
// break/continue resolve through.
type fnCtx struct {
	fn      *Func
	blocks  []*Block
	cur     *Block
	scopes []map[string]varInfo
	loops  []loopCtx
	tmpN   int
	blockN int
}

func (c *fnCtx) fresh() string {
	c.tmpN++
	return fmt.Sprintf("t%d", c.tmpN)
}

// newSlot picks a stack-slot name for a binding, versioning on reuse so
// shadowed names and repeated discarded-statement bindings never share
// an alloca.
func (c *fnCtx) newSlot(name string) string {
	if _, taken := c.fn.TypeMap[name]; !taken {
		return name
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s.%d", name, i)
		if _, taken := c.fn.TypeMap[candidate]; !taken {
			return candidate
		}
	}
}

func (c *fnCtx) newBlock(hint string) *Block {
	c.blockN++
	b := &Block{Label: fmt.Sprintf("%s%d", hint, c.blockN)}
	c.blocks = append(c.blocks, b)
	return b
}

func (c *fnCtx) emit(in Instr)      { c.cur.Instrs = append(c.cur.Instrs, in) }
func (c *fnCtx) terminate(t Term)   { c.cur.Term = t }
func (c *fnCtx) switchTo(b *Block)  { c.cur = b }
func (c *fnCtx) pushScope()         { c.scopes = append(c.scopes, map[string]varInfo{}) }
func (c *fnCtx) popScope()          { c.scopes = c.scopes[:len(c.scopes)-1] }
func (c *fnCtx) bind(n string, v varInfo) { c.scopes[len(c.scopes)-1][n] = v }

func (c *fnCtx) lookup(name string) (varInfo, bool) {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if v, ok := c.scopes[i][name]; ok {
			return v, true
		}
	}
	return varInfo{}, false
}

func (l *Lowerer) lowerFn(decl *ast.FnDecl, name string, subst map[string]ast.Type) {
	if decl.Body == nil {
		return
	}
	if l.monoDone[name] {
		return
	}
	l.monoDone[name] = true

	retTy := l.applySubst(decl.RetType, subst)
	fn := &Func{
		Name:     name,
		RetType:  typeToMir(retTy),
		TypeMap:  map[string]Type{},
		StructOf: map[string]string{},
		Pub:      decl.Pub,
		Pure:     decl.Attrs.Pure,
		Inline:   decl.Attrs.Inline,
	}
	if st, ok := ast.Underlying(retTy).(*ast.StructType); ok {
		fn.RetStruct = l.registerStructType(st)
	}

	ctx := &fnCtx{fn: fn}
	ctx.pushScope()
	entry := ctx.newBlock("entry")
	ctx.switchTo(entry)

	hasArrayParam := false
	for _, p := range decl.Params {
		pTy := l.applySubst(p.Type, subst)
		mp := Param{Name: p.Name, Type: typeToMir(pTy)}
		if st, ok := ast.Underlying(pTy).(*ast.StructType); ok {
			mp.StructName = l.registerStructType(st)
		}
		if _, ok := ast.Underlying(pTy).(*ast.RefType); ok {
			mp.Ref = true
		}
		if _, ok := ast.Underlying(pTy).(*ast.ArrayType); ok {
			hasArrayParam = true
		}
		fn.Params = append(fn.Params, mp)
		fn.SetType(p.Name, mp.Type)
		if mp.StructName != "" {
			fn.StructOf[p.Name] = mp.StructName
		}
		ctx.bind(p.Name, varInfo{isParam: true, place: p.Name, ty: mp.Type, structName: mp.StructName})
	}
	fn.HasPreOverStackArray = decl.Attrs.Pure && len(decl.Contract.Pre) > 0 && hasArrayParam

	val, ty := l.lowerExpr(ctx, decl.Body)
	if ctx.cur.Term == nil {
		if fn.RetType == Void || val == "" {
			ctx.terminate(&Ret{})
		} else {
			ctx.terminate(&Ret{Value: val, Type: ty})
		}
	}

	fn.Blocks = ctx.blocks
	l.out.Funcs = append(l.out.Funcs, fn)
}

func (l *Lowerer) applySubst(t ast.Type, subst map[string]ast.Type) ast.Type {
	if t == nil || len(subst) == 0 {
		return t
	}
	switch ty := t.(type) {
	case *ast.TypeVar:
		if r, ok := subst[ty.Name]; ok {
			return r
		}
	case *ast.StructType:
		if len(ty.Args) == 0 && len(ty.Fields) == 0 {
			if r, ok := subst[ty.BaseName]; ok {
				return r
			}
		}
		args := make([]ast.Type, len(ty.Args))
		for i, a := range ty.Args {
			args[i] = l.applySubst(a, subst)
		}
		fields := make([]ast.StructField, len(ty.Fields))
		for i, f := range ty.Fields {
			fields[i] = ast.StructField{Name: f.Name, Type: l.applySubst(f.Type, subst)}
		}
		return &ast.StructType{BaseName: ty.BaseName, Args: args, Fields: fields}
	case *ast.RefType:
		return &ast.RefType{Elem: l.applySubst(ty.Elem, subst), Mut: ty.Mut}
	case *ast.ArrayType:
		return &ast.ArrayType{Elem: l.applySubst(ty.Elem, subst), Len: ty.Len}
	case *ast.NullableType:
		return &ast.NullableType{Elem: l.applySubst(ty.Elem, subst)}
	}
	return t
}

func (l *Lowerer) codegenErr(sp ast.Spanner, format string, args ...any) {
	var s diag.Span
	if sp != nil {
		s = sp.GetSpan()
	}
	l.sink.Errorf(diag.KindCodegen, s, format, args...)
}

// lowerExpr returns the place holding the expression's value (empty for
// unit-typed expressions) and that place's MIR type.
func (l *Lowerer) lowerExpr(ctx *fnCtx, e ast.Expr) (string, Type) {
	switch ex := e.(type) {
	case *ast.BlockExpr:
		return l.lowerExpr(ctx, ex.Chain)
	case *ast.LetExpr:
		return l.lowerLet(ctx, ex)
	case *ast.LiteralExpr:
		return l.lowerLiteral(ctx, ex)
	case *ast.IdentExpr:
		return l.lowerIdent(ctx, ex)
	case *ast.BinaryExpr:
		return l.lowerBinary(ctx, ex)
	case *ast.UnaryExpr:
		return l.lowerUnary(ctx, ex)
	case *ast.CallExpr:
		return l.lowerCall(ctx, ex)
	case *ast.MethodCallExpr:
		return l.lowerMethodCall(ctx, ex)
	case *ast.FieldAccessExpr:
		return l.lowerFieldAccess(ctx, ex)
	case *ast.FieldStoreExpr:
		l.lowerFieldStore(ctx, ex)
		return "", Void
	case *ast.IndexExpr:
		return l.lowerIndex(ctx, ex)
	case *ast.ArrayLitExpr:
		return l.lowerArrayLit(ctx, ex)
	case *ast.StructLitExpr:
		return l.lowerStructLit(ctx, ex)
	case *ast.TupleExpr:
		return l.lowerTuple(ctx, ex)
	case *ast.IfExpr:
		return l.lowerIf(ctx, ex)
	case *ast.MatchExpr:
		return l.lowerMatch(ctx, ex)
	case *ast.WhileExpr:
		l.lowerWhile(ctx, ex)
		return "", Void
	case *ast.ForExpr:
		l.lowerFor(ctx, ex)
		return "", Void
	case *ast.LoopExpr:
		l.lowerLoop(ctx, ex)
		return "", Void
	case *ast.BreakExpr:
		l.lowerBreak(ctx, ex)
		return "", Void
	case *ast.ContinueExpr:
		if len(ctx.loops) == 0 {
			l.codegenErr(ex, "continue outside a loop")
			return "", Void
		}
		ctx.terminate(&Br{Target: ctx.loops[len(ctx.loops)-1].header})
		ctx.switchTo(ctx.newBlock("dead"))
		return "", Void
	case *ast.ReturnExpr:
		l.lowerReturn(ctx, ex)
		return "", Void
	case *ast.AssignExpr:
		l.lowerAssign(ctx, ex)
		return "", Void
	case *ast.RefinementAssertExpr:
		// Refinements are proof obligations, erased here.
		return l.lowerExpr(ctx, ex.Value)
	case *ast.SpawnExpr:
		// Reserved keyword: type-checked but inert. Lower the body inline
		// on the current (only) thread.
		return l.lowerExpr(ctx, ex.Body)
	case *ast.LambdaExpr:
		return l.lowerLambda(ctx, ex)
	default:
		l.codegenErr(e, "expression form %T not representable in MIR", e)
		return "", Void
	}
}

func (l *Lowerer) lowerLet(ctx *fnCtx, le *ast.LetExpr) (string, Type) {
	val, ty := l.lowerExpr(ctx, le.Value)
	// Discarded statement results (unit-typed bindings, including the
	// parser's `_` chaining of expression statements) need no slot.
	if ty == Void || val == "" {
		return l.lowerExpr(ctx, le.Body)
	}
	slot := ctx.newSlot(le.Name)
	ctx.emit(&Alloca{Dest: slot, Type: ty})
	ctx.fn.SetType(slot, ty)
	if val != "" {
		ctx.emit(&LocalStore{Slot: slot, Value: val, Type: ty})
	}
	info := varInfo{place: slot, ty: ty}
	if sn := structNameOf(le.Value.GetType()); sn != "" {
		info.structName = sn
		ctx.fn.StructOf[slot] = sn
	} else if le.Declared != nil {
		if sn := structNameOf(le.Declared); sn != "" {
			info.structName = sn
			ctx.fn.StructOf[slot] = sn
		}
	}
	ctx.pushScope()
	ctx.bind(le.Name, info)
	res, resTy := l.lowerExpr(ctx, le.Body)
	ctx.popScope()
	return res, resTy
}

func (l *Lowerer) lowerLiteral(ctx *fnCtx, lit *ast.LiteralExpr) (string, Type) {
	switch lit.Kind {
	case ast.LitUnit:
		return "", Void
	case ast.LitString:
		l.strCount++
		label := fmt.Sprintf(".str.%d", l.strCount)
		l.out.Strings = append(l.out.Strings, StringConst{Label: label, Value: lit.Raw})
		dest := ctx.fresh()
		ctx.emit(&Const{Dest: dest, Type: Ptr, Value: label})
		ctx.fn.SetType(dest, Ptr)
		return dest, Ptr
	case ast.LitNull:
		dest := ctx.fresh()
		ctx.emit(&Const{Dest: dest, Type: Ptr, Value: "null"})
		ctx.fn.SetType(dest, Ptr)
		return dest, Ptr
	case ast.LitBool:
		dest := ctx.fresh()
		v := "0"
		if lit.Raw == "true" {
			v = "1"
		}
		ctx.emit(&Const{Dest: dest, Type: I1, Value: v})
		ctx.fn.SetType(dest, I1)
		return dest, I1
	case ast.LitFloat:
		dest := ctx.fresh()
		ctx.emit(&Const{Dest: dest, Type: F64, Value: lit.Raw})
		ctx.fn.SetType(dest, F64)
		return dest, F64
	case ast.LitChar:
		// The lexer already decoded the escape; the literal is the byte
		// value.
		dest := ctx.fresh()
		v := "0"
		if len(lit.Raw) > 0 {
			v = fmt.Sprintf("%d", lit.Raw[0])
		}
		ctx.emit(&Const{Dest: dest, Type: I64, Value: v})
		ctx.fn.SetType(dest, I64)
		return dest, I64
	default:
		dest := ctx.fresh()
		ctx.emit(&Const{Dest: dest, Type: I64, Value: decimalInt(lit.Raw)})
		ctx.fn.SetType(dest, I64)
		return dest, I64
	}
}

// decimalInt normalizes 0x/0b-prefixed and underscore-separated integer
// lexemes to the plain decimal spelling immediates require downstream.
func decimalInt(raw string) string {
	clean := strings.ReplaceAll(raw, "_", "")
	v, err := strconv.ParseInt(clean, 0, 64)
	if err != nil {
		return clean
	}
	return strconv.FormatInt(v, 10)
}

func (l *Lowerer) lowerIdent(ctx *fnCtx, id *ast.IdentExpr) (string, Type) {
	info, ok := ctx.lookup(id.Name)
	if !ok {
		l.codegenErr(id, "unresolved name %q reached lowering", id.Name)
		return "", Void
	}
	if info.isParam {
		return info.place, info.ty
	}
	// Locals read through their slot: a fresh versioned place per read.
	dest := ctx.fresh()
	ctx.emit(&LocalLoad{Dest: dest, Slot: info.place, Type: info.ty})
	ctx.fn.SetType(dest, info.ty)
	if info.structName != "" {
		ctx.fn.StructOf[dest] = info.structName
	}
	return dest, info.ty
}

var binOpMap = map[ast.BinOp]BinOpKind{
	ast.OpAdd: Add, ast.OpSub: Sub, ast.OpMul: Mul, ast.OpDiv: Div,
	ast.OpMod: Mod, ast.OpBitAnd: And, ast.OpBitOr: Or, ast.OpBitXor: Xor,
	ast.OpShl: Shl, ast.OpShr: Shr, ast.OpEq: Eq, ast.OpNeq: Ne,
	ast.OpLt: Lt, ast.OpLe: Le, ast.OpGt: Gt, ast.OpGe: Ge,
}

func (l *Lowerer) lowerBinary(ctx *fnCtx, be *ast.BinaryExpr) (string, Type) {
	// and/or short-circuit through control flow, not a strict binop.
	if be.Op == ast.OpAnd || be.Op == ast.OpOr {
		return l.lowerShortCircuit(ctx, be)
	}
	lv, lt := l.lowerExpr(ctx, be.Left)
	rv, _ := l.lowerExpr(ctx, be.Right)
	kind, ok := binOpMap[be.Op]
	if !ok {
		l.codegenErr(be, "binary operator not representable in MIR")
		return "", Void
	}
	dest := ctx.fresh()
	ctx.emit(&BinOp{Dest: dest, Op: kind, Type: lt, Left: lv, Right: rv})
	resTy := lt
	if kind.IsCompare() {
		resTy = I1
	}
	ctx.fn.SetType(dest, resTy)
	return dest, resTy
}

func (l *Lowerer) lowerShortCircuit(ctx *fnCtx, be *ast.BinaryExpr) (string, Type) {
	lv, _ := l.lowerExpr(ctx, be.Left)
	lhsBlock := ctx.cur
	rhs := ctx.newBlock("sc.rhs")
	merge := ctx.newBlock("sc.merge")
	if be.Op == ast.OpAnd {
		ctx.terminate(&CondBr{Cond: lv, True: rhs.Label, False: merge.Label})
	} else {
		ctx.terminate(&CondBr{Cond: lv, True: merge.Label, False: rhs.Label})
	}
	ctx.switchTo(rhs)
	rv, _ := l.lowerExpr(ctx, be.Right)
	rhsExit := ctx.cur
	ctx.terminate(&Br{Target: merge.Label})
	ctx.switchTo(merge)
	dest := ctx.fresh()
	ctx.fn.SetType(dest, I1)
	ctx.emit(&Phi{Dest: dest, Type: I1, Edges: []PhiEdge{
		{Value: lv, Pred: lhsBlock.Label},
		{Value: rv, Pred: rhsExit.Label},
	}})
	return dest, I1
}

func (l *Lowerer) lowerUnary(ctx *fnCtx, ue *ast.UnaryExpr) (string, Type) {
	v, t := l.lowerExpr(ctx, ue.Operand)
	dest := ctx.fresh()
	var op UnOpKind
	switch ue.Op {
	case ast.OpNeg:
		op = Neg
	case ast.OpNot:
		op = Not
		t = I1
	default:
		op = BitNot
	}
	ctx.emit(&UnOp{Dest: dest, Op: op, Type: t, Operand: v})
	ctx.fn.SetType(dest, t)
	return dest, t
}

func (l *Lowerer) lowerCall(ctx *fnCtx, ce *ast.CallExpr) (string, Type) {
	id, ok := ce.Callee.(*ast.IdentExpr)
	if !ok {
		l.codegenErr(ce, "indirect calls are not representable in MIR")
		return "", Void
	}
	args := make([]string, 0, len(ce.Args))
	argTypes := make([]ast.Type, 0, len(ce.Args))
	for _, a := range ce.Args {
		v, _ := l.lowerExpr(ctx, a)
		args = append(args, v)
		argTypes = append(argTypes, a.GetType())
	}

	// Runtime primitives: the return type comes from the authoritative
	// table, never from context.
	if _, isUser := l.fns[id.Name]; !isUser && runtimeabi.IsRuntime(id.Name) {
		abi := runtimeabi.ABIName(id.Name)
		ret := runtimeabi.ReturnType(id.Name)
		dest := ""
		if ret != runtimeabi.Void {
			dest = ctx.fresh()
			ctx.fn.SetType(dest, ret)
		}
		ctx.emit(&RuntimeCall{Dest: dest, Callee: abi, Args: args, RetType: ret})
		return dest, ret
	}

	decl, ok := l.fns[id.Name]
	if !ok {
		l.codegenErr(ce, "call to unknown function %q reached lowering", id.Name)
		return "", Void
	}

	callee := id.Name
	retAst := decl.RetType
	if len(decl.Generics) > 0 {
		subst := l.inferTypeArgs(decl, argTypes)
		callee = monoFnName(id.Name, decl.Generics, subst)
		if !l.monoDone[callee] {
			l.monoTodo = append(l.monoTodo, monoRequest{decl: decl, name: callee, subst: subst})
		}
		retAst = l.applySubst(decl.RetType, subst)
	}

	ret := typeToMir(retAst)
	dest := ""
	if ret != Void {
		dest = ctx.fresh()
		ctx.fn.SetType(dest, ret)
	}
	call := &Call{Dest: dest, Callee: callee, Args: args, RetType: ret}
	// Struct-typed call results register the destination in the
	// struct-type map so later field access resolves.
	if st, ok := ast.Underlying(retAst).(*ast.StructType); ok {
		call.StructName = l.registerStructType(st)
		ctx.fn.StructOf[dest] = call.StructName
	}
	ctx.emit(call)
	return dest, ret
}

func monoFnName(base string, generics []string, subst map[string]ast.Type) string {
	name := base
	for _, g := range generics {
		if t, ok := subst[g]; ok {
			name += "$" + t.String()
		} else {
			name += "$i64"
		}
	}
	return name
}

// inferTypeArgs unifies a generic function's declared parameter types
// against the call's concrete argument types, binding each generic name
// to the concrete type it matched.
func (l *Lowerer) inferTypeArgs(decl *ast.FnDecl, argTypes []ast.Type) map[string]ast.Type {
	subst := map[string]ast.Type{}
	generic := map[string]bool{}
	for _, g := range decl.Generics {
		generic[g] = true
	}
	bind := func(name string, arg ast.Type) {
		if generic[name] {
			if _, done := subst[name]; !done {
				subst[name] = arg
			}
		}
	}
	var unify func(param, arg ast.Type)
	unify = func(param, arg ast.Type) {
		if param == nil || arg == nil {
			return
		}
		switch p := param.(type) {
		case *ast.TypeVar:
			bind(p.Name, arg)
		case *ast.StructType:
			// A bare generic name in type position parses as an
			// argument-less named type.
			if len(p.Args) == 0 && generic[p.BaseName] {
				bind(p.BaseName, arg)
				return
			}
			if a, ok := ast.Underlying(arg).(*ast.StructType); ok && a.BaseName == p.BaseName {
				for i := range p.Args {
					if i < len(a.Args) {
						unify(p.Args[i], a.Args[i])
					}
				}
			}
		case *ast.RefType:
			if a, ok := ast.Underlying(arg).(*ast.RefType); ok {
				unify(p.Elem, a.Elem)
			}
		case *ast.ArrayType:
			if a, ok := ast.Underlying(arg).(*ast.ArrayType); ok {
				unify(p.Elem, a.Elem)
			}
		case *ast.NullableType:
			if a, ok := ast.Underlying(arg).(*ast.NullableType); ok {
				unify(p.Elem, a.Elem)
			}
		}
	}
	for i, p := range decl.Params {
		if i < len(argTypes) {
			unify(p.Type, argTypes[i])
		}
	}
	return subst
}

func (l *Lowerer) lowerMethodCall(ctx *fnCtx, mc *ast.MethodCallExpr) (string, Type) {
	recv, _ := l.lowerExpr(ctx, mc.Receiver)
	args := []string{recv}
	for _, a := range mc.Args {
		v, _ := l.lowerExpr(ctx, a)
		args = append(args, v)
	}

	// String/vector/builder method sugar binds to the runtime.
	if abiSig, ok := runtimeabi.Lookup("bmb_string_" + mc.Method); ok && typeToMir(mc.Receiver.GetType()) == Ptr {
		if _, hasStruct := ast.Underlying(mc.Receiver.GetType()).(*ast.StructType); !hasStruct {
			dest := ctx.fresh()
			ctx.fn.SetType(dest, abiSig.Ret)
			ctx.emit(&RuntimeCall{Dest: dest, Callee: abiSig.Name, Args: args, RetType: abiSig.Ret})
			return dest, abiSig.Ret
		}
	}

	// User method: resolve through the impl table; the return type comes
	// from the method table first, then the declared return type. The
	// bare-i64 fallback only fires for methods invisible to the module,
	// which the checker should already have rejected.
	base := ""
	if st, ok := ast.Underlying(mc.Receiver.GetType()).(*ast.StructType); ok {
		base = st.BaseName
	}
	ret := I64
	if t, ok := runtimeabi.MethodReturn(mc.Method); ok {
		ret = t
	} else if decl, ok := l.fns[base+"::"+mc.Method]; ok {
		ret = typeToMir(decl.RetType)
	}
	dest := ""
	if ret != Void {
		dest = ctx.fresh()
		ctx.fn.SetType(dest, ret)
	}
	callee := base + "::" + mc.Method
	call := &Call{Dest: dest, Callee: callee, Args: args, RetType: ret}
	if decl, ok := l.fns[callee]; ok {
		if st, ok := ast.Underlying(decl.RetType).(*ast.StructType); ok {
			call.StructName = l.registerStructType(st)
			ctx.fn.StructOf[dest] = call.StructName
		}
	}
	ctx.emit(call)
	return dest, ret
}

// structBase resolves the base place and struct name for a field
// access, emitting distinct parameter and local sequences:
// a parameter's SSA value is used directly, a local is loaded from its
// slot first.
func (l *Lowerer) structBase(ctx *fnCtx, obj ast.Expr) (string, string) {
	if id, ok := obj.(*ast.IdentExpr); ok {
		if info, found := ctx.lookup(id.Name); found {
			if info.isParam {
				return info.place, info.structName
			}
			dest := ctx.fresh()
			ctx.emit(&LocalLoad{Dest: dest, Slot: info.place, Type: info.ty})
			ctx.fn.SetType(dest, info.ty)
			if info.structName != "" {
				ctx.fn.StructOf[dest] = info.structName
			}
			return dest, info.structName
		}
	}
	base, _ := l.lowerExpr(ctx, obj)
	sn := ctx.fn.StructOf[base]
	if sn == "" {
		sn = structNameOf(obj.GetType())
	}
	return base, sn
}

func (l *Lowerer) lowerFieldAccess(ctx *fnCtx, fa *ast.FieldAccessExpr) (string, Type) {
	base, structName := l.structBase(ctx, fa.Object)
	if structName == "" {
		l.codegenErr(fa, "field access base has no struct tag in the local type map")
		return "", Void
	}
	def, ok := l.out.StructByName(structName)
	if !ok {
		l.codegenErr(fa, "struct %q has no registered layout", structName)
		return "", Void
	}
	idx, ok := def.FieldIndex(fa.Field)
	if !ok {
		l.codegenErr(fa, "struct %q has no field %q", structName, fa.Field)
		return "", Void
	}
	fieldTy := def.FieldTypes[idx]
	dest := ctx.fresh()
	ctx.emit(&FieldLoad{Dest: dest, Base: base, StructName: structName, FieldIndex: idx, Type: fieldTy})
	ctx.fn.SetType(dest, fieldTy)
	if sn := structNameOf(fa.GetType()); sn != "" {
		ctx.fn.StructOf[dest] = sn
	}
	return dest, fieldTy
}

func (l *Lowerer) lowerFieldStore(ctx *fnCtx, fs *ast.FieldStoreExpr) {
	base, structName := l.structBase(ctx, fs.Object)
	val, valTy := l.lowerExpr(ctx, fs.Value)
	def, ok := l.out.StructByName(structName)
	if !ok {
		l.codegenErr(fs, "struct %q has no registered layout", structName)
		return
	}
	idx, ok := def.FieldIndex(fs.Field)
	if !ok {
		l.codegenErr(fs, "struct %q has no field %q", structName, fs.Field)
		return
	}
	ctx.emit(&FieldStore{Base: base, StructName: structName, FieldIndex: idx, Value: val, Type: valTy})
}

func (l *Lowerer) lowerIndex(ctx *fnCtx, ix *ast.IndexExpr) (string, Type) {
	base, _ := l.lowerExpr(ctx, ix.Object)
	idx, _ := l.lowerExpr(ctx, ix.Index)
	elemTy := typeToMir(ix.GetType())
	dest := ctx.fresh()
	ctx.emit(&IndexLoad{Dest: dest, Base: base, Index: idx, Type: elemTy})
	ctx.fn.SetType(dest, elemTy)
	return dest, elemTy
}

func (l *Lowerer) lowerArrayLit(ctx *fnCtx, al *ast.ArrayLitExpr) (string, Type) {
	sizeDest := ctx.fresh()
	ctx.emit(&Const{Dest: sizeDest, Type: I64, Value: fmt.Sprintf("%d", len(al.Elems)*8)})
	ctx.fn.SetType(sizeDest, I64)
	arr := ctx.fresh()
	ctx.emit(&MallocWrap{Dest: arr, Size: sizeDest})
	ctx.fn.SetType(arr, Ptr)
	for i, e := range al.Elems {
		v, t := l.lowerExpr(ctx, e)
		iDest := ctx.fresh()
		ctx.emit(&Const{Dest: iDest, Type: I64, Value: fmt.Sprintf("%d", i)})
		ctx.fn.SetType(iDest, I64)
		ctx.emit(&IndexStore{Base: arr, Index: iDest, Value: v, Type: t})
	}
	return arr, Ptr
}

func (l *Lowerer) lowerStructLit(ctx *fnCtx, sl *ast.StructLitExpr) (string, Type) {
	st, ok := ast.Underlying(sl.GetType()).(*ast.StructType)
	if !ok {
		l.codegenErr(sl, "struct literal lost its checked type")
		return "", Void
	}
	name := l.registerStructType(st)
	def, _ := l.out.StructByName(name)

	// Evaluate initializers, then order them by field declaration order.
	values := make([]string, len(def.FieldNames))
	for _, fi := range sl.Fields {
		v, _ := l.lowerExpr(ctx, fi.Value)
		if idx, ok := def.FieldIndex(fi.Name); ok {
			values[idx] = v
		}
	}
	dest := ctx.fresh()
	ctx.emit(&StructConstruct{Dest: dest, StructName: name, Fields: values, FieldTypes: def.FieldTypes})
	ctx.fn.SetType(dest, Ptr)
	ctx.fn.StructOf[dest] = name
	return dest, Ptr
}

// lowerTuple represents a tuple as an anonymous struct keyed by arity
// and element types.
func (l *Lowerer) lowerTuple(ctx *fnCtx, te *ast.TupleExpr) (string, Type) {
	values := make([]string, len(te.Elems))
	types := make([]Type, len(te.Elems))
	name := "tuple"
	for i, e := range te.Elems {
		v, t := l.lowerExpr(ctx, e)
		values[i] = v
		types[i] = t
		name += "$" + t.String()
	}
	if _, ok := l.out.StructByName(name); !ok {
		def := &StructDef{Name: name, FieldTypes: types}
		for i := range types {
			def.FieldNames = append(def.FieldNames, fmt.Sprintf("_%d", i))
		}
		l.registerStruct(def)
	}
	dest := ctx.fresh()
	ctx.emit(&StructConstruct{Dest: dest, StructName: name, Fields: values, FieldTypes: types})
	ctx.fn.SetType(dest, Ptr)
	ctx.fn.StructOf[dest] = name
	return dest, Ptr
}

// lowerIf produces the diamond: cond, then-block, else-block, merge
// with a phi whose type is the unified arm type — registered in the
// type map at the moment the phi is created.
func (l *Lowerer) lowerIf(ctx *fnCtx, ie *ast.IfExpr) (string, Type) {
	cond, _ := l.lowerExpr(ctx, ie.Cond)
	thenB := ctx.newBlock("then")
	elseB := ctx.newBlock("else")
	merge := ctx.newBlock("merge")
	ctx.terminate(&CondBr{Cond: cond, True: thenB.Label, False: elseB.Label})

	ctx.switchTo(thenB)
	tv, _ := l.lowerExpr(ctx, ie.Then)
	thenExit := ctx.cur
	thenFlows := ctx.cur.Term == nil
	if thenFlows {
		ctx.terminate(&Br{Target: merge.Label})
	}

	ctx.switchTo(elseB)
	var ev string
	if ie.Else != nil {
		ev, _ = l.lowerExpr(ctx, ie.Else)
	}
	elseExit := ctx.cur
	elseFlows := ctx.cur.Term == nil
	if elseFlows {
		ctx.terminate(&Br{Target: merge.Label})
	}

	ctx.switchTo(merge)
	resTy := typeToMir(ie.GetType())
	if resTy == Void || ie.Else == nil || tv == "" || ev == "" || !thenFlows || !elseFlows {
		if !thenFlows && !elseFlows {
			// Both arms diverged; the merge block is unreachable but a
			// well-formed function still terminates it.
			ctx.terminate(&Ret{})
			ctx.switchTo(ctx.newBlock("dead"))
			return "", Void
		}
		// Exactly one arm reaches the merge: its value is the result, no
		// phi needed.
		if thenFlows && tv != "" && resTy != Void {
			return tv, resTy
		}
		if elseFlows && ev != "" && resTy != Void {
			return ev, resTy
		}
		return "", Void
	}
	dest := ctx.fresh()
	ctx.fn.SetType(dest, resTy)
	ctx.emit(&Phi{Dest: dest, Type: resTy, Edges: []PhiEdge{
		{Value: tv, Pred: thenExit.Label},
		{Value: ev, Pred: elseExit.Label},
	}})
	if sn := structNameOf(ie.GetType()); sn != "" {
		ctx.fn.StructOf[dest] = sn
	}
	return dest, resTy
}

func (l *Lowerer) lowerWhile(ctx *fnCtx, we *ast.WhileExpr) {
	header := ctx.newBlock("loop.head")
	body := ctx.newBlock("loop.body")
	exit := ctx.newBlock("loop.exit")
	ctx.terminate(&Br{Target: header.Label})

	ctx.switchTo(header)
	cond, _ := l.lowerExpr(ctx, we.Cond)
	ctx.terminate(&CondBr{Cond: cond, True: body.Label, False: exit.Label})

	ctx.loops = append(ctx.loops, loopCtx{header: header.Label, exit: exit.Label})
	ctx.switchTo(body)
	ctx.pushScope()
	l.lowerExpr(ctx, we.Body)
	ctx.popScope()
	if ctx.cur.Term == nil {
		ctx.terminate(&Br{Target: header.Label})
	}
	ctx.loops = ctx.loops[:len(ctx.loops)-1]

	ctx.switchTo(exit)
}

// lowerFor desugars `for i in a..b { body }` to a counter local plus a
// while loop over `i < b`.
func (l *Lowerer) lowerFor(ctx *fnCtx, fe *ast.ForExpr) {
	start, _ := l.lowerExpr(ctx, fe.Start)
	slot := ctx.newSlot(fe.Binding)
	ctx.emit(&Alloca{Dest: slot, Type: I64})
	ctx.fn.SetType(slot, I64)
	ctx.emit(&LocalStore{Slot: slot, Value: start, Type: I64})
	ctx.pushScope()
	ctx.bind(fe.Binding, varInfo{place: slot, ty: I64})

	header := ctx.newBlock("loop.head")
	body := ctx.newBlock("loop.body")
	step := ctx.newBlock("loop.step")
	exit := ctx.newBlock("loop.exit")
	ctx.terminate(&Br{Target: header.Label})

	ctx.switchTo(header)
	cur := ctx.fresh()
	ctx.emit(&LocalLoad{Dest: cur, Slot: slot, Type: I64})
	ctx.fn.SetType(cur, I64)
	end, _ := l.lowerExpr(ctx, fe.End)
	cond := ctx.fresh()
	ctx.emit(&BinOp{Dest: cond, Op: Lt, Type: I64, Left: cur, Right: end})
	ctx.fn.SetType(cond, I1)
	ctx.terminate(&CondBr{Cond: cond, True: body.Label, False: exit.Label})

	// continue targets the step block, not the header, so the counter
	// still advances.
	ctx.loops = append(ctx.loops, loopCtx{header: step.Label, exit: exit.Label})
	ctx.switchTo(body)
	l.lowerExpr(ctx, fe.Body)
	if ctx.cur.Term == nil {
		ctx.terminate(&Br{Target: step.Label})
	}
	ctx.loops = ctx.loops[:len(ctx.loops)-1]

	ctx.switchTo(step)
	prev := ctx.fresh()
	ctx.emit(&LocalLoad{Dest: prev, Slot: slot, Type: I64})
	ctx.fn.SetType(prev, I64)
	one := ctx.fresh()
	ctx.emit(&Const{Dest: one, Type: I64, Value: "1"})
	ctx.fn.SetType(one, I64)
	next := ctx.fresh()
	ctx.emit(&BinOp{Dest: next, Op: Add, Type: I64, Left: prev, Right: one})
	ctx.fn.SetType(next, I64)
	ctx.emit(&LocalStore{Slot: slot, Value: next, Type: I64})
	ctx.terminate(&Br{Target: header.Label})

	ctx.popScope()
	ctx.switchTo(exit)
}

func (l *Lowerer) lowerLoop(ctx *fnCtx, le *ast.LoopExpr) {
	header := ctx.newBlock("loop.head")
	exit := ctx.newBlock("loop.exit")
	ctx.terminate(&Br{Target: header.Label})

	ctx.loops = append(ctx.loops, loopCtx{header: header.Label, exit: exit.Label})
	ctx.switchTo(header)
	ctx.pushScope()
	l.lowerExpr(ctx, le.Body)
	ctx.popScope()
	if ctx.cur.Term == nil {
		ctx.terminate(&Br{Target: header.Label})
	}
	ctx.loops = ctx.loops[:len(ctx.loops)-1]
	ctx.switchTo(exit)
}

func (l *Lowerer) lowerBreak(ctx *fnCtx, be *ast.BreakExpr) {
	if len(ctx.loops) == 0 {
		l.codegenErr(be, "break outside a loop")
		return
	}
	if be.Value != nil {
		l.lowerExpr(ctx, be.Value)
	}
	ctx.terminate(&Br{Target: ctx.loops[len(ctx.loops)-1].exit})
	ctx.switchTo(ctx.newBlock("dead"))
}

func (l *Lowerer) lowerReturn(ctx *fnCtx, re *ast.ReturnExpr) {
	if re.Value == nil {
		ctx.terminate(&Ret{})
	} else {
		v, t := l.lowerExpr(ctx, re.Value)
		ctx.terminate(&Ret{Value: v, Type: t})
	}
	ctx.switchTo(ctx.newBlock("dead"))
}

func (l *Lowerer) lowerAssign(ctx *fnCtx, ae *ast.AssignExpr) {
	info, ok := ctx.lookup(ae.Name)
	if !ok {
		l.codegenErr(ae, "assignment to unresolved name %q", ae.Name)
		return
	}
	v, t := l.lowerExpr(ctx, ae.Value)
	if info.isParam {
		l.codegenErr(ae, "assignment to parameter %q is not representable", ae.Name)
		return
	}
	if v == "" {
		return
	}
	ctx.emit(&LocalStore{Slot: info.place, Value: v, Type: t})
}

// lowerMatch chains one test block per arm. Variant arms test the tag
// and extract payloads; literal arms compare; binding/wildcard arms
// always match. Arm values merge through a phi typed from the match
// expression's checked type.
func (l *Lowerer) lowerMatch(ctx *fnCtx, me *ast.MatchExpr) (string, Type) {
	scrut, scrutTy := l.lowerExpr(ctx, me.Scrutinee)
	merge := ctx.newBlock("match.merge")
	resTy := typeToMir(me.GetType())

	type armResult struct {
		value string
		pred  string
	}
	var results []armResult

	enumDecl := enumDeclOf(l, me.Scrutinee.GetType())

	for i, arm := range me.Arms {
		armBlock := ctx.newBlock("match.arm")
		var nextBlock *Block
		last := i == len(me.Arms)-1
		if !last {
			nextBlock = ctx.newBlock("match.test")
		} else {
			nextBlock = merge
		}

		switch pat := arm.Pattern.(type) {
		case *ast.WildcardPattern:
			ctx.terminate(&Br{Target: armBlock.Label})
		case *ast.BindingPattern:
			ctx.terminate(&Br{Target: armBlock.Label})
		case *ast.LiteralPattern:
			lit, _ := l.lowerLiteral(ctx, &pat.Value)
			cond := ctx.fresh()
			ctx.emit(&BinOp{Dest: cond, Op: Eq, Type: scrutTy, Left: scrut, Right: lit})
			ctx.fn.SetType(cond, I1)
			ctx.terminate(&CondBr{Cond: cond, True: armBlock.Label, False: nextBlock.Label})
		case *ast.VariantPattern:
			tag := variantTag(enumDecl, pat.VariantName)
			cond := ctx.fresh()
			ctx.emit(&VariantTest{Dest: cond, Base: scrut, Tag: tag})
			ctx.fn.SetType(cond, I1)
			ctx.terminate(&CondBr{Cond: cond, True: armBlock.Label, False: nextBlock.Label})
		default:
			ctx.terminate(&Br{Target: armBlock.Label})
		}

		ctx.switchTo(armBlock)
		ctx.pushScope()
		switch pat := arm.Pattern.(type) {
		case *ast.BindingPattern:
			slot := ctx.newSlot(pat.Name)
			ctx.emit(&Alloca{Dest: slot, Type: scrutTy})
			ctx.fn.SetType(slot, scrutTy)
			ctx.emit(&LocalStore{Slot: slot, Value: scrut, Type: scrutTy})
			ctx.bind(pat.Name, varInfo{place: slot, ty: scrutTy})
		case *ast.VariantPattern:
			for j, sub := range pat.Elems {
				bp, ok := sub.(*ast.BindingPattern)
				if !ok {
					continue
				}
				elemTy := variantFieldType(enumDecl, pat.VariantName, j)
				v := ctx.fresh()
				ctx.emit(&VariantExtract{Dest: v, Base: scrut, Index: j, Type: elemTy})
				ctx.fn.SetType(v, elemTy)
				slot := ctx.newSlot(bp.Name)
				ctx.emit(&Alloca{Dest: slot, Type: elemTy})
				ctx.fn.SetType(slot, elemTy)
				ctx.emit(&LocalStore{Slot: slot, Value: v, Type: elemTy})
				ctx.bind(bp.Name, varInfo{place: slot, ty: elemTy})
			}
		}

		if arm.Guard != nil {
			g, _ := l.lowerExpr(ctx, arm.Guard)
			passBlock := ctx.newBlock("match.guarded")
			ctx.terminate(&CondBr{Cond: g, True: passBlock.Label, False: nextBlock.Label})
			ctx.switchTo(passBlock)
		}

		v, _ := l.lowerExpr(ctx, arm.Body)
		ctx.popScope()
		if ctx.cur.Term == nil {
			results = append(results, armResult{value: v, pred: ctx.cur.Label})
			ctx.terminate(&Br{Target: merge.Label})
		}
		if !last {
			ctx.switchTo(nextBlock)
		}
	}

	ctx.switchTo(merge)
	if resTy == Void || len(results) == 0 {
		return "", Void
	}
	dest := ctx.fresh()
	ctx.fn.SetType(dest, resTy)
	phi := &Phi{Dest: dest, Type: resTy}
	for _, r := range results {
		phi.Edges = append(phi.Edges, PhiEdge{Value: r.value, Pred: r.pred})
	}
	ctx.emit(phi)
	return dest, resTy
}

func enumDeclOf(l *Lowerer, t ast.Type) *ast.EnumDecl {
	if et, ok := ast.Underlying(t).(*ast.EnumType); ok {
		return l.enums[et.Name]
	}
	return nil
}

func variantTag(decl *ast.EnumDecl, variant string) int {
	if decl == nil {
		return 0
	}
	for i, v := range decl.Variants {
		if v.Name == variant {
			return i
		}
	}
	return 0
}

func variantFieldType(decl *ast.EnumDecl, variant string, idx int) Type {
	if decl == nil {
		return I64
	}
	for _, v := range decl.Variants {
		if v.Name == variant && idx < len(v.Fields) {
			return typeToMir(v.Fields[idx])
		}
	}
	return I64
}

// lowerLambda hoists a capture-free lambda to a private module-level
// function and yields its address. Capturing closures have no MIR
// representation (no closure-record instruction exists in the set) and
// are reported as a CodegenError rather than silently miscompiled.
func (l *Lowerer) lowerLambda(ctx *fnCtx, le *ast.LambdaExpr) (string, Type) {
	if capturesOutside(le) {
		l.codegenErr(le, "capturing closures are not representable in MIR")
		return "", Void
	}
	l.strCount++
	name := fmt.Sprintf("lambda$%d", l.strCount)
	decl := &ast.FnDecl{
		Name:    name,
		Params:  le.Params,
		RetType: lambdaRet(le),
		Body:    le.Body,
	}
	l.lowerFn(decl, name, nil)
	dest := ctx.fresh()
	ctx.emit(&Const{Dest: dest, Type: Ptr, Value: "@" + name})
	ctx.fn.SetType(dest, Ptr)
	return dest, Ptr
}

func lambdaRet(le *ast.LambdaExpr) ast.Type {
	if ft, ok := le.GetType().(*ast.FuncType); ok {
		return ft.Ret
	}
	return ast.I64
}

// capturesOutside reports whether the lambda body references any name
// other than its own parameters and locals.
func capturesOutside(le *ast.LambdaExpr) bool {
	bound := map[string]bool{}
	for _, p := range le.Params {
		bound[p.Name] = true
	}
	captured := false
	var walk func(e ast.Expr, bound map[string]bool)
	walk = func(e ast.Expr, bound map[string]bool) {
		switch ex := e.(type) {
		case nil:
			return
		case *ast.IdentExpr:
			if !bound[ex.Name] {
				captured = true
			}
		case *ast.LetExpr:
			walk(ex.Value, bound)
			inner := map[string]bool{}
			for k := range bound {
				inner[k] = true
			}
			inner[ex.Name] = true
			walk(ex.Body, inner)
		case *ast.BlockExpr:
			walk(ex.Chain, bound)
		case *ast.BinaryExpr:
			walk(ex.Left, bound)
			walk(ex.Right, bound)
		case *ast.UnaryExpr:
			walk(ex.Operand, bound)
		case *ast.CallExpr:
			for _, a := range ex.Args {
				walk(a, bound)
			}
		case *ast.IfExpr:
			walk(ex.Cond, bound)
			walk(ex.Then, bound)
			walk(ex.Else, bound)
		case *ast.FieldAccessExpr:
			walk(ex.Object, bound)
		case *ast.IndexExpr:
			walk(ex.Object, bound)
			walk(ex.Index, bound)
		}
	}
	walk(le.Body, bound)
	return captured
}
