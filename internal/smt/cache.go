package smt

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/bmb-lang/bmb/internal/ast"
	"github.com/bmb-lang/bmb/internal/contract"
)

var errCacheMiss = errors.New("smt: proof cache miss")

// ProofCache memoizes obligation verdicts by a content hash of the
// function's signature, its contract text, and the obligation itself,
// so an unchanged obligation never pays for the solver twice within one
// Verifier. Entries live in memory only; internal/driver does not store
// them in internal/cache's proof files.
type ProofCache struct {
	entries map[string]cacheEntry
}

type cacheEntry struct {
	result Result
	model  map[string]string
}

func NewProofCache() *ProofCache {
	return &ProofCache{entries: map[string]cacheEntry{}}
}

// Key hashes (function signature, contract, obligation) into the
// cache's lookup key. Any change to the function's params/return type,
// its pre/post/where clauses, its @pure/@trust flags, or the obligation's
// own expression text invalidates the entry. Neither the function body
// nor any function it calls is part of the key.
func (c *ProofCache) Key(fn *ast.FnDecl, fo contract.FuncObligations, ob contract.Obligation) string {
	h := sha256.New()
	fmt.Fprintf(h, "sig:%s(", fn.Name)
	for _, p := range fn.Params {
		fmt.Fprintf(h, "%s:%s,", p.Name, typeKey(p.Type))
	}
	fmt.Fprintf(h, ")->%s\n", typeKey(fn.RetType))
	fmt.Fprintf(h, "pure:%v trust:%v\n", fo.Pure, fo.Trust)
	for _, e := range fn.Contract.Pre {
		fmt.Fprintf(h, "pre:%s\n", exprKey(e))
	}
	for _, e := range fn.Contract.Post {
		fmt.Fprintf(h, "post:%s\n", exprKey(e))
	}
	for _, wc := range fn.Contract.Where {
		fmt.Fprintf(h, "where:%s:%s\n", wc.Name, exprKey(wc.Expr))
	}
	fmt.Fprintf(h, "ob:%s:%s:%s\n", ob.Kind, ob.Name, exprKey(ob.Expr))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *ProofCache) Get(key string) (Result, map[string]string, error) {
	e, ok := c.entries[key]
	if !ok {
		return Unknown, nil, errCacheMiss
	}
	return e.result, e.model, nil
}

func (c *ProofCache) Put(key string, result Result, model map[string]string) {
	c.entries[key] = cacheEntry{result: result, model: model}
}

func typeKey(t ast.Type) string {
	if t == nil {
		return "()"
	}
	return t.String()
}

func exprKey(e ast.Expr) string {
	if e == nil {
		return ""
	}
	return ExprToSMT(e)
}
