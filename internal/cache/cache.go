// Package cache persists proof results, SMT query text, and phase
// outputs across compiler runs, under the directory BMB_CACHE_DIR
// points at. Layout: proofs/<hash>.proof, smt/<hash>.smt2,
// and a flat JSON manifest describing the key→file mapping. The
// manifest also carries the compiler's own version; a minor or major
// bump invalidates the whole directory, since codegen or proof
// translation may have changed shape underneath the entries.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	simplejson "github.com/bitly/go-simplejson"
	"github.com/jpillora/backoff"
	"golang.org/x/mod/semver"
)

// Version is the compiler version stamped into manifests. Bumping the
// minor or major component discards existing caches on first use.
const Version = "v0.9.0"

const (
	manifestName = "manifest.json"
	lockName     = ".lock"
)

type Cache struct {
	dir string
}

// Open prepares the cache directory, creating the subdirectories and
// validating the manifest version. An out-of-date manifest empties the
// cache rather than serving entries produced by a different compiler.
func Open(dir string) (*Cache, error) {
	if dir == "" {
		dir = defaultDir()
	}
	c := &Cache{dir: dir}
	for _, sub := range []string{"proofs", "smt", "phase"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("cache: creating %s: %w", sub, err)
		}
	}
	if err := c.checkVersion(); err != nil {
		return nil, err
	}
	return c, nil
}

func defaultDir() string {
	if d := os.Getenv("BMB_CACHE_DIR"); d != "" {
		return d
	}
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "bmb")
}

func (c *Cache) manifestPath() string { return filepath.Join(c.dir, manifestName) }

func (c *Cache) checkVersion() error {
	raw, err := os.ReadFile(c.manifestPath())
	if os.IsNotExist(err) {
		return c.writeFreshManifest()
	}
	if err != nil {
		return fmt.Errorf("cache: reading manifest: %w", err)
	}
	js, err := simplejson.NewJson(raw)
	if err != nil {
		// A corrupt manifest means the mapping can't be trusted; start over.
		return c.reset()
	}
	stamped := js.Get("version").MustString()
	if !semver.IsValid(stamped) || semver.MajorMinor(stamped) != semver.MajorMinor(Version) {
		return c.reset()
	}
	return nil
}

func (c *Cache) reset() error {
	for _, sub := range []string{"proofs", "smt", "phase"} {
		dir := filepath.Join(c.dir, sub)
		os.RemoveAll(dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cache: recreating %s: %w", sub, err)
		}
	}
	return c.writeFreshManifest()
}

func (c *Cache) writeFreshManifest() error {
	js := simplejson.New()
	js.Set("version", Version)
	js.Set("entries", map[string]any{})
	return c.saveManifest(js)
}

func (c *Cache) loadManifest() (*simplejson.Json, error) {
	raw, err := os.ReadFile(c.manifestPath())
	if err != nil {
		return nil, err
	}
	return simplejson.NewJson(raw)
}

func (c *Cache) saveManifest(js *simplejson.Json) error {
	raw, err := js.EncodePretty()
	if err != nil {
		return err
	}
	return os.WriteFile(c.manifestPath(), raw, 0o644)
}

// Hash is the cache's content-addressing function.
func Hash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// withLock serializes manifest updates across processes: the manifest
// is the one file every worker rewrites, so its updates (made by
// PutProof) are guarded by a file lock. Lock acquisition
// backs off exponentially rather than spinning.
func (c *Cache) withLock(fn func() error) error {
	lock := filepath.Join(c.dir, lockName)
	b := &backoff.Backoff{Min: 5 * time.Millisecond, Max: 250 * time.Millisecond, Factor: 2, Jitter: true}
	var f *os.File
	var err error
	for i := 0; i < 50; i++ {
		f, err = os.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			break
		}
		time.Sleep(b.Duration())
	}
	if err != nil {
		return fmt.Errorf("cache: acquiring lock: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(lock)
	}()
	return fn()
}

// PutProof records one obligation verdict under its structural key.
func (c *Cache) PutProof(key, verdict string, model map[string]string) error {
	path := filepath.Join(c.dir, "proofs", key+".proof")
	js := simplejson.New()
	js.Set("verdict", verdict)
	if len(model) > 0 {
		js.Set("model", model)
	}
	raw, err := js.EncodePretty()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return err
	}
	return c.withLock(func() error {
		m, err := c.loadManifest()
		if err != nil {
			return err
		}
		m.Get("entries").Set(key, filepath.Join("proofs", key+".proof"))
		return c.saveManifest(m)
	})
}

// GetProof returns a cached verdict, if present.
func (c *Cache) GetProof(key string) (verdict string, model map[string]string, ok bool) {
	raw, err := os.ReadFile(filepath.Join(c.dir, "proofs", key+".proof"))
	if err != nil {
		return "", nil, false
	}
	js, err := simplejson.NewJson(raw)
	if err != nil {
		return "", nil, false
	}
	verdict = js.Get("verdict").MustString()
	if verdict == "" {
		return "", nil, false
	}
	if mm, err := js.Get("model").Map(); err == nil {
		model = map[string]string{}
		for k, v := range mm {
			if s, ok := v.(string); ok {
				model[k] = s
			}
		}
	}
	return verdict, model, true
}

// PutSMT persists a query's SMT-LIB2 text (the --emit-smt artifact).
func (c *Cache) PutSMT(key, query string) error {
	return os.WriteFile(filepath.Join(c.dir, "smt", key+".smt2"), []byte(query), 0o644)
}

// SMTPath returns where a query's text lives, whether or not written yet.
func (c *Cache) SMTPath(key string) string {
	return filepath.Join(c.dir, "smt", key+".smt2")
}

// PutPhase stores a phase output (e.g. emitted IR) keyed by source hash.
func (c *Cache) PutPhase(key, ext string, data []byte) error {
	return os.WriteFile(filepath.Join(c.dir, "phase", key+"."+ext), data, 0o644)
}

// GetPhase retrieves a phase output.
func (c *Cache) GetPhase(key, ext string) ([]byte, bool) {
	raw, err := os.ReadFile(filepath.Join(c.dir, "phase", key+"."+ext))
	if err != nil {
		return nil, false
	}
	return raw, true
}
