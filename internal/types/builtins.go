package types

import "github.com/bmb-lang/bmb/internal/ast"

// builtinSigs maps the runtime primitives' surface names to their
// checker-level signatures. The MIR lowerer and emitter consult the
// runtime ABI table for the machine-level types; this table is the same
// set lifted to surface types (handles are i64, strings are string), so
// name resolution and arity checking work without a declaration.
var builtinSigs = map[string]*ast.FuncType{
	// numeric output
	"println":     fnType(ast.Unit, ast.I64),
	"println_f64": fnType(ast.Unit, ast.F64),
	"print":       fnType(ast.Unit, ast.I64),
	"print_f64":   fnType(ast.Unit, ast.F64),
	"println_str": fnType(ast.Unit, ast.Str),
	"print_str":   fnType(ast.Unit, ast.Str),

	// strings
	"len":           fnType(ast.I64, ast.Str),
	"byte_at":       fnType(ast.I64, ast.Str, ast.I64),
	"slice":         fnType(ast.Str, ast.Str, ast.I64, ast.I64),
	"concat":        fnType(ast.Str, ast.Str, ast.Str),
	"string_eq":     fnType(ast.I64, ast.Str, ast.Str),
	"string_free":   fnType(ast.I64, ast.Str),
	"int_to_string": fnType(ast.Str, ast.I64),
	"digit_char":    fnType(ast.Str, ast.I64),
	"strlen":        fnType(ast.I64, ast.Str),
	"cstr_byte_at":  fnType(ast.I64, ast.Str, ast.I64),

	// string builder (handle-typed)
	"sb_new":          fnType(ast.I64),
	"sb_push":         fnType(ast.I64, ast.I64, ast.Str),
	"sb_push_char":    fnType(ast.I64, ast.I64, ast.I64),
	"sb_push_int":     fnType(ast.I64, ast.I64, ast.I64),
	"sb_push_escaped": fnType(ast.I64, ast.I64, ast.Str),
	"sb_build":        fnType(ast.Str, ast.I64),
	"sb_clear":        fnType(ast.I64, ast.I64),
	"sb_free":         fnType(ast.I64, ast.I64),

	// vectors (handle-typed)
	"vec_new":           fnType(ast.I64),
	"vec_with_capacity": fnType(ast.I64, ast.I64),
	"vec_push":          fnType(ast.I64, ast.I64, ast.I64),
	"vec_pop":           fnType(ast.I64, ast.I64),
	"vec_get":           fnType(ast.I64, ast.I64, ast.I64),
	"vec_set":           fnType(ast.I64, ast.I64, ast.I64, ast.I64),
	"vec_len":           fnType(ast.I64, ast.I64),
	"vec_cap":           fnType(ast.I64, ast.I64),
	"vec_clear":         fnType(ast.I64, ast.I64),
	"vec_free":          fnType(ast.I64, ast.I64),

	// hashmaps (handle-typed; INT64_MIN sentinel on miss)
	"hashmap_new":    fnType(ast.I64),
	"hashmap_free":   fnType(ast.I64, ast.I64),
	"hashmap_len":    fnType(ast.I64, ast.I64),
	"hashmap_insert": fnType(ast.I64, ast.I64, ast.I64, ast.I64),
	"hashmap_get":    fnType(ast.I64, ast.I64, ast.I64),
	"hashmap_remove": fnType(ast.I64, ast.I64, ast.I64),

	// file I/O
	"read_file":   fnType(ast.Str, ast.Str),
	"write_file":  fnType(ast.I64, ast.Str, ast.Str),
	"append_file": fnType(ast.I64, ast.Str, ast.Str),
	"file_exists": fnType(ast.I64, ast.Str),
	"file_size":   fnType(ast.I64, ast.Str),

	// process
	"system": fnType(ast.I64, ast.Str),
	"getenv": fnType(ast.Str, ast.Str),
	"exec":   fnType(ast.Str, ast.Str),

	// CLI arguments
	"arg_count": fnType(ast.I64),
	"get_arg":   fnType(ast.Str, ast.I64),

	// memory: free returns i64 consistently so it composes in
	// conditional branches.
	"malloc": {Params: []ast.Type{ast.I64}, Ret: &ast.PtrType{Elem: ast.I64}},
	"free":   fnType(ast.I64, ast.I64),

	"panic": fnType(ast.Never, ast.Str),
}

func fnType(ret ast.Type, params ...ast.Type) *ast.FuncType {
	return &ast.FuncType{Params: params, Ret: ret}
}

// BuiltinNames lists the surface builtin names, for "did you mean"
// suggestions on unresolved identifiers.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtinSigs))
	for n := range builtinSigs {
		names = append(names, n)
	}
	return names
}
