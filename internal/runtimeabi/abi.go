// Package runtimeabi is the single authoritative description of the
// runtime library's C ABI: which functions exist, what LLVM-level types
// their parameters and results have, and which surface method names map
// onto them. Both MIR lowering and the LLVM emitter consult these
// tables instead of re-deriving types locally; a wrong or duplicated
// table is the number-one historical cause of silent SIGSEGVs in the
// emitted native binary (a pointer truncated to i64 and dereferenced).
package runtimeabi

// Type is the small set of LLVM-level value types that cross the
// runtime ABI. Strings travel as Ptr (pointer to the three-field
// BmbString record); vectors, hashmaps and builders travel as I64
// handles (the pointer cast to an integer at the boundary).
type Type int

const (
	Void Type = iota
	I1
	I64
	F64
	Ptr
)

func (t Type) String() string {
	switch t {
	case Void:
		return "void"
	case I1:
		return "i1"
	case I64:
		return "i64"
	case F64:
		return "f64"
	case Ptr:
		return "ptr"
	default:
		return "i64"
	}
}

// LLVM returns the textual LLVM type, distinguishing the float case
// where the IR spelling ("double") differs from the surface one.
func (t Type) LLVM() string {
	if t == F64 {
		return "double"
	}
	return t.String()
}

// Signature is one runtime function's ABI.
type Signature struct {
	Name   string
	Params []Type
	Ret    Type
}

// signatures is the authoritative name→signature table covering every
// runtime primitive. The emitter declares
// exactly these; the lowerer tags every runtime-call destination with
// Ret from this table.
var signatures = []Signature{
	// strings
	{"bmb_string_new", []Type{Ptr, I64}, Ptr},
	{"bmb_string_from_cstr", []Type{Ptr}, Ptr},
	{"bmb_string_concat", []Type{Ptr, Ptr}, Ptr},
	{"bmb_string_slice", []Type{Ptr, I64, I64}, Ptr},
	{"bmb_string_len", []Type{Ptr}, I64},
	{"bmb_string_byte_at", []Type{Ptr, I64}, I64},
	{"bmb_string_eq", []Type{Ptr, Ptr}, I64},
	{"bmb_string_free", []Type{Ptr}, I64},
	{"bmb_int_to_string", []Type{I64}, Ptr},
	{"bmb_digit_char", []Type{I64}, Ptr},
	{"bmb_strlen", []Type{Ptr}, I64},
	{"bmb_cstr_byte_at", []Type{Ptr, I64}, I64},

	// string builder
	{"bmb_sb_new", []Type{}, I64},
	{"bmb_sb_push", []Type{I64, Ptr}, I64},
	{"bmb_sb_push_char", []Type{I64, I64}, I64},
	{"bmb_sb_push_int", []Type{I64, I64}, I64},
	{"bmb_sb_push_escaped", []Type{I64, Ptr}, I64},
	{"bmb_sb_build", []Type{I64}, Ptr},
	{"bmb_sb_clear", []Type{I64}, I64},
	{"bmb_sb_free", []Type{I64}, I64},

	// vectors
	{"bmb_vec_new", []Type{}, I64},
	{"bmb_vec_with_capacity", []Type{I64}, I64},
	{"bmb_vec_push", []Type{I64, I64}, I64},
	{"bmb_vec_pop", []Type{I64}, I64},
	{"bmb_vec_get", []Type{I64, I64}, I64},
	{"bmb_vec_set", []Type{I64, I64, I64}, I64},
	{"bmb_vec_len", []Type{I64}, I64},
	{"bmb_vec_cap", []Type{I64}, I64},
	{"bmb_vec_clear", []Type{I64}, I64},
	{"bmb_vec_free", []Type{I64}, I64},

	// hashmaps (i64 keys and values; INT64_MIN sentinel on miss)
	{"hashmap_new", []Type{}, I64},
	{"hashmap_free", []Type{I64}, I64},
	{"hashmap_len", []Type{I64}, I64},
	{"hashmap_insert", []Type{I64, I64, I64}, I64},
	{"hashmap_get", []Type{I64, I64}, I64},
	{"hashmap_remove", []Type{I64, I64}, I64},

	// file I/O
	{"bmb_read_file", []Type{Ptr}, Ptr},
	{"bmb_write_file", []Type{Ptr, Ptr}, I64},
	{"bmb_append_file", []Type{Ptr, Ptr}, I64},
	{"bmb_file_exists", []Type{Ptr}, I64},
	{"bmb_file_size", []Type{Ptr}, I64},

	// process
	{"bmb_system", []Type{Ptr}, I64},
	{"bmb_getenv", []Type{Ptr}, Ptr},
	{"bmb_exec", []Type{Ptr}, Ptr},

	// numeric output
	{"bmb_println_i64", []Type{I64}, Void},
	{"bmb_println_f64", []Type{F64}, Void},
	{"bmb_print_i64", []Type{I64}, Void},
	{"bmb_print_f64", []Type{F64}, Void},
	{"bmb_println_str", []Type{Ptr}, Void},
	{"bmb_print_str", []Type{Ptr}, Void},

	// CLI arguments
	{"bmb_arg_count", []Type{}, I64},
	{"bmb_get_arg", []Type{I64}, Ptr},

	// memory
	{"bmb_malloc", []Type{I64}, Ptr},
	{"bmb_free", []Type{Ptr}, I64},

	// runtime failure (assertion/bounds/div-by-zero paths not proven away)
	{"bmb_panic", []Type{Ptr}, Void},
}

var byName = func() map[string]Signature {
	m := make(map[string]Signature, len(signatures))
	for _, s := range signatures {
		m[s.Name] = s
	}
	return m
}()

// Lookup returns the signature for a runtime function name, accepting
// both the bmb_-prefixed ABI name and the unprefixed surface spelling
// (both spellings occur at call sites for the string primitives).
func Lookup(name string) (Signature, bool) {
	if s, ok := byName[name]; ok {
		return s, true
	}
	if s, ok := byName["bmb_"+name]; ok {
		return s, true
	}
	return Signature{}, false
}

// IsRuntime reports whether a surface call name binds to the runtime
// library rather than a user function.
func IsRuntime(name string) bool {
	_, ok := Lookup(surfaceToABI(name))
	return ok
}

// ABIName resolves a surface call name (`vec_push`, `println`,
// `read_file`, ...) to the linker-level symbol it binds to.
func ABIName(name string) string {
	n := surfaceToABI(name)
	if _, ok := byName[n]; ok {
		return n
	}
	return "bmb_" + n
}

// surfaceToABI maps the handful of surface names whose ABI spelling is
// not a plain bmb_ prefix.
func surfaceToABI(name string) string {
	switch name {
	case "println":
		return "bmb_println_i64"
	case "println_f64":
		return "bmb_println_f64"
	case "print":
		return "bmb_print_i64"
	case "println_str":
		return "bmb_println_str"
	case "print_str":
		return "bmb_print_str"
	case "len":
		return "bmb_string_len"
	case "byte_at":
		return "bmb_string_byte_at"
	case "slice":
		return "bmb_string_slice"
	case "concat":
		return "bmb_string_concat"
	case "string_eq":
		return "bmb_string_eq"
	case "string_free":
		return "bmb_string_free"
	case "malloc":
		return "bmb_malloc"
	case "free":
		return "bmb_free"
	default:
		return name
	}
}

// ReturnType is the table §4.5 mandates consulting for every runtime
// call: the destination place's type comes from here, never from
// context. Unknown names return I64 — but Lookup should be preferred so
// unknown names can be diagnosed instead of defaulted.
func ReturnType(name string) Type {
	if s, ok := Lookup(surfaceToABI(name)); ok {
		return s.Ret
	}
	return I64
}

// Signatures returns the full table in declaration order, for the
// emitter's declare block and for exhaustiveness tests.
func Signatures() []Signature {
	out := make([]Signature, len(signatures))
	copy(out, signatures)
	return out
}

// methodReturns is the per-method return-type table §4.5 requires for
// method-call lowering. Keyed by surface method name.
var methodReturns = map[string]Type{
	"len":     I64,
	"byte_at": I64,
	"slice":   Ptr,
	"concat":  Ptr,
	"eq":      I64,
	"push":    I64,
	"pop":     I64,
	"get":     I64,
	"set":     I64,
	"cap":     I64,
	"clear":   I64,
	"build":   Ptr,
}

// MethodReturn looks up a method call's return type. The bool result
// distinguishes a genuine table entry from the caller having to fall
// back on the callee's declared return type (a blind i64 fallback
// truncates pointers, so callers must know which case they're in).
func MethodReturn(method string) (Type, bool) {
	t, ok := methodReturns[method]
	return t, ok
}
