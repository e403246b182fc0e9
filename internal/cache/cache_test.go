package cache

import (
	"os"
	"path/filepath"
	"testing"

	simplejson "github.com/bitly/go-simplejson"
)

func TestOpenCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(dir); err != nil {
		t.Fatal(err)
	}
	for _, sub := range []string{"proofs", "smt", "phase"} {
		if _, err := os.Stat(filepath.Join(dir, sub)); err != nil {
			t.Errorf("missing %s: %v", sub, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "manifest.json")); err != nil {
		t.Errorf("missing manifest: %v", err)
	}
}

func TestProofRoundTrip(t *testing.T) {
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key := Hash("sig", "contract", "obligation")
	if err := c.PutProof(key, "counterexample", map[string]string{"b": "0"}); err != nil {
		t.Fatal(err)
	}
	verdict, model, ok := c.GetProof(key)
	if !ok {
		t.Fatal("proof not found after put")
	}
	if verdict != "counterexample" || model["b"] != "0" {
		t.Errorf("got %q %v", verdict, model)
	}
	if _, _, ok := c.GetProof(Hash("other")); ok {
		t.Error("unexpected hit for an unknown key")
	}
}

func TestVersionBumpResetsCache(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	key := Hash("k")
	if err := c.PutProof(key, "proved", nil); err != nil {
		t.Fatal(err)
	}

	// Rewrite the manifest as if an older compiler produced it.
	js := simplejson.New()
	js.Set("version", "v0.1.0")
	raw, _ := js.EncodePretty()
	os.WriteFile(filepath.Join(dir, "manifest.json"), raw, 0o644)

	c2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, ok := c2.GetProof(key); ok {
		t.Error("stale-version cache served an old entry")
	}
}

func TestCorruptManifestResets(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(dir); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "manifest.json"), []byte("{not json"), 0o644)
	if _, err := Open(dir); err != nil {
		t.Fatalf("corrupt manifest must reset, not fail: %v", err)
	}
}

func TestPhaseOutputs(t *testing.T) {
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key := Hash("source bytes")
	if err := c.PutPhase(key, "ll", []byte("ir text")); err != nil {
		t.Fatal(err)
	}
	got, ok := c.GetPhase(key, "ll")
	if !ok || string(got) != "ir text" {
		t.Errorf("phase roundtrip: %q %v", got, ok)
	}
}

func TestHashDistinguishesPartBoundaries(t *testing.T) {
	if Hash("ab", "c") == Hash("a", "bc") {
		t.Error("hash must separate parts")
	}
	if Hash("x") != Hash("x") {
		t.Error("hash must be deterministic")
	}
}
