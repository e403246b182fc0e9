package runtimeabi

import "testing"

// The string-producing primitives must return Ptr; mixing these up with
// i64 is the documented number-one cause of native crashes.
func TestStringProducingPrimitivesReturnPtr(t *testing.T) {
	for _, name := range []string{
		"bmb_int_to_string", "bmb_read_file", "bmb_string_slice",
		"bmb_digit_char", "bmb_get_arg", "bmb_string_concat",
		"bmb_sb_build", "bmb_getenv", "bmb_exec",
	} {
		sig, ok := Lookup(name)
		if !ok {
			t.Errorf("%s: missing from the table", name)
			continue
		}
		if sig.Ret != Ptr {
			t.Errorf("%s returns %s, want ptr", name, sig.Ret)
		}
	}
}

func TestCountingPrimitivesReturnI64(t *testing.T) {
	for _, name := range []string{
		"bmb_arg_count", "bmb_string_byte_at", "bmb_string_len",
		"bmb_strlen", "bmb_cstr_byte_at", "hashmap_get", "bmb_vec_len",
	} {
		sig, ok := Lookup(name)
		if !ok {
			t.Errorf("%s: missing from the table", name)
			continue
		}
		if sig.Ret != I64 {
			t.Errorf("%s returns %s, want i64", name, sig.Ret)
		}
	}
}

func TestSurfaceNameResolution(t *testing.T) {
	cases := map[string]string{
		"println":     "bmb_println_i64",
		"len":         "bmb_string_len",
		"slice":       "bmb_string_slice",
		"vec_push":    "bmb_vec_push",
		"hashmap_get": "hashmap_get",
		"read_file":   "bmb_read_file",
		"free":        "bmb_free",
	}
	for surface, abi := range cases {
		if got := ABIName(surface); got != abi {
			t.Errorf("ABIName(%q) = %q, want %q", surface, got, abi)
		}
		if !IsRuntime(surface) {
			t.Errorf("IsRuntime(%q) = false", surface)
		}
	}
	if IsRuntime("definitely_not_a_primitive") {
		t.Error("unknown name classified as runtime")
	}
}

func TestMethodReturnTable(t *testing.T) {
	if ty, ok := MethodReturn("len"); !ok || ty != I64 {
		t.Errorf("len: %v %v", ty, ok)
	}
	if ty, ok := MethodReturn("slice"); !ok || ty != Ptr {
		t.Errorf("slice: %v %v", ty, ok)
	}
	if _, ok := MethodReturn("no_such_method"); ok {
		t.Error("unknown method must miss the table, not default")
	}
}

func TestSignaturesHaveUniqueNames(t *testing.T) {
	seen := map[string]bool{}
	for _, sig := range Signatures() {
		if seen[sig.Name] {
			t.Errorf("duplicate signature %q", sig.Name)
		}
		seen[sig.Name] = true
	}
}

func TestLLVMTypeSpelling(t *testing.T) {
	if F64.LLVM() != "double" {
		t.Errorf("f64 spells %q in IR", F64.LLVM())
	}
	if Ptr.LLVM() != "ptr" || I64.LLVM() != "i64" || Void.LLVM() != "void" {
		t.Error("wrong LLVM spellings")
	}
}
