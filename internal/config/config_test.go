package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mustParse(t *testing.T, doc string) *Tree {
	t.Helper()
	tree, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return tree
}

func TestTree_Getters(t *testing.T) {
	tree := mustParse(t, `
worlds:
  case-sensitive: false
  blacklist: [creative, 42, "nether"]
chunks:
  claim-rule: 3
  max-inner-distance: 0
enforce-adjacent-claim-chunks: false
`)
	if tree.Bool("worlds.case-sensitive", true) {
		t.Fatalf("expected case-sensitive=false")
	}
	if !tree.Bool("worlds.use-blacklist", true) {
		t.Fatalf("expected missing bool to fall back to default")
	}
	if got := tree.Int("chunks.claim-rule", 2); got != 3 {
		t.Fatalf("claim-rule=%d want 3", got)
	}
	if got := tree.Int("chunks.max-inner-distance", 4); got != 0 {
		t.Fatalf("max-inner-distance=%d want 0", got)
	}
	if got := tree.Int("chunks.max-outer-distance", 36); got != 36 {
		t.Fatalf("max-outer-distance=%d want default 36", got)
	}
	got := tree.Strings("worlds.blacklist")
	if strings.Join(got, ",") != "creative,42,nether" {
		t.Fatalf("blacklist=%v", got)
	}
	if tree.Strings("worlds.whitelist") != nil {
		t.Fatalf("expected nil for missing list")
	}
	if !tree.Has("chunks.claim-rule") || !tree.Has("chunks") || tree.Has("allow-diagonal-claim-chunks") {
		t.Fatalf("unexpected Has results: keys=%v", tree.Keys())
	}
	if len(tree.Issues()) != 0 {
		t.Fatalf("unexpected issues: %v", tree.Issues())
	}
}

func TestTree_MalformedValuesFallBack(t *testing.T) {
	tree := mustParse(t, `
worlds:
  case-sensitive: maybe
  use-whitelist: [true]
  whitelist: survival
chunks:
  claim-rule: three
  max-outer-distance: 12.5
`)
	if !tree.Bool("worlds.case-sensitive", true) {
		t.Fatalf("expected default for malformed bool")
	}
	if tree.Bool("worlds.use-whitelist", false) {
		t.Fatalf("expected default for non-scalar bool")
	}
	if tree.Strings("worlds.whitelist") != nil {
		t.Fatalf("expected scalar list value to read as empty")
	}
	if got := tree.Int("chunks.claim-rule", 2); got != 2 {
		t.Fatalf("claim-rule=%d want default 2", got)
	}
	// A malformed claim-rule is still an explicit setting.
	if !tree.Has("chunks.claim-rule") {
		t.Fatalf("expected claim-rule to be present")
	}

	paths := map[string]bool{}
	for _, is := range tree.Issues() {
		paths[is.Path] = true
	}
	for _, p := range []string{"worlds.case-sensitive", "worlds.use-whitelist", "worlds.whitelist", "chunks.claim-rule", "chunks.max-outer-distance"} {
		if !paths[p] {
			t.Fatalf("missing issue for %s; issues=%v", p, tree.Issues())
		}
	}
}

func TestTree_NullCountsAsUnset(t *testing.T) {
	tree := mustParse(t, "chunks:\n  claim-rule:\n  max-inner-distance: ~\n")
	if tree.Has("chunks.claim-rule") || tree.Has("chunks.max-inner-distance") {
		t.Fatalf("null values must read as unset")
	}
	if got := tree.Int("chunks.max-inner-distance", 4); got != 4 {
		t.Fatalf("got %d want default", got)
	}
}

func TestTree_AliasesResolve(t *testing.T) {
	tree := mustParse(t, `
base: &names [alpha, beta]
worlds:
  whitelist: *names
`)
	if got := tree.Strings("worlds.whitelist"); len(got) != 2 || got[1] != "beta" {
		t.Fatalf("whitelist=%v", got)
	}
}

func TestParse_EmptyDocument(t *testing.T) {
	tree := mustParse(t, "")
	if tree.Has("worlds") || len(tree.Keys()) != 0 {
		t.Fatalf("expected empty tree")
	}
	if !tree.Bool("worlds.case-sensitive", true) {
		t.Fatalf("expected default")
	}
	if len(tree.Issues()) != 0 {
		t.Fatalf("unexpected issues: %v", tree.Issues())
	}
}

func TestParse_SyntaxError(t *testing.T) {
	if _, err := Parse([]byte("worlds: [unterminated")); err == nil {
		t.Fatalf("expected syntax error")
	}
}

func TestNilTreeReadsDefaults(t *testing.T) {
	var tree *Tree
	if tree.Int("chunks.claim-rule", 2) != 2 || tree.Has("chunks") || tree.Strings("x") != nil {
		t.Fatalf("nil tree must behave as empty")
	}
}

func TestLoad(t *testing.T) {
	def, err := Load("")
	if err != nil {
		t.Fatalf("Load defaults: %v", err)
	}
	if got := def.Int("chunks.claim-rule", -1); got != 2 {
		t.Fatalf("default claim-rule=%d want 2", got)
	}
	if len(def.Issues()) != 0 {
		t.Fatalf("defaults have issues: %v", def.Issues())
	}

	path := filepath.Join(t.TempDir(), "claims.yaml")
	if err := os.WriteFile(path, []byte("chunks:\n  claim-rule: 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tree, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tree.Int("chunks.claim-rule", -1) != 1 {
		t.Fatalf("expected claim-rule 1")
	}
	if tree.Digest() == def.Digest() {
		t.Fatalf("expected digests to differ")
	}
	js, err := tree.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if string(js) != `{"chunks":{"claim-rule":1}}` {
		t.Fatalf("json=%s", js)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
