package config

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// View is a read-only key/value view over a claim configuration. Keys are
// dotted paths ("chunks.claim-rule"). Getters never fail: a missing or
// malformed value yields def.
type View interface {
	Bool(key string, def bool) bool
	Int(key string, def int) int
	Strings(key string) []string
	Has(key string) bool
}

//go:embed defaults.yaml
var defaultsYAML []byte

// Tree is a parsed claims.yaml. It is immutable after Parse and safe for
// concurrent readers.
type Tree struct {
	raw    []byte
	nodes  map[string]*yaml.Node
	issues []Issue
}

var _ View = (*Tree)(nil)

func Load(path string) (*Tree, error) {
	if strings.TrimSpace(path) == "" {
		return Defaults(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("claims.yaml: %w", err)
	}
	return t, nil
}

// Defaults returns the documented default configuration.
func Defaults() *Tree {
	t, err := Parse(defaultsYAML)
	if err != nil {
		panic(fmt.Sprintf("defaults.yaml: %v", err))
	}
	return t
}

// Parse decodes a YAML document. Only syntax errors are returned; values of
// the wrong shape are kept as Issues and the getters fall back to defaults.
func Parse(b []byte) (*Tree, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	t := &Tree{
		raw:   append([]byte(nil), b...),
		nodes: map[string]*yaml.Node{},
	}
	if len(doc.Content) > 0 {
		root := resolve(doc.Content[0])
		if root.Kind == yaml.MappingNode {
			t.flatten("", root)
		} else if !isNull(root) {
			t.issues = append(t.issues, Issue{Message: "document root must be a mapping"})
		}
	}
	t.issues = append(t.issues, validate(b)...)
	return t, nil
}

func (t *Tree) flatten(prefix string, n *yaml.Node) {
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i].Value
		if prefix != "" {
			k = prefix + "." + k
		}
		v := resolve(n.Content[i+1])
		if isNull(v) {
			continue
		}
		t.nodes[k] = v
		if v.Kind == yaml.MappingNode {
			t.flatten(k, v)
		}
	}
}

func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null")
}

func (t *Tree) scalar(key string) (*yaml.Node, bool) {
	if t == nil {
		return nil, false
	}
	n, ok := t.nodes[key]
	if !ok || n.Kind != yaml.ScalarNode {
		return nil, false
	}
	return n, true
}

func (t *Tree) Bool(key string, def bool) bool {
	n, ok := t.scalar(key)
	if !ok {
		return def
	}
	var v bool
	if err := n.Decode(&v); err != nil {
		return def
	}
	return v
}

func (t *Tree) Int(key string, def int) int {
	n, ok := t.scalar(key)
	if !ok {
		return def
	}
	var v int
	if err := n.Decode(&v); err != nil {
		return def
	}
	return v
}

// Strings returns the scalar items of a sequence. Anything else is empty.
func (t *Tree) Strings(key string) []string {
	if t == nil {
		return nil
	}
	n, ok := t.nodes[key]
	if !ok || n.Kind != yaml.SequenceNode {
		return nil
	}
	out := make([]string, 0, len(n.Content))
	for _, item := range n.Content {
		item = resolve(item)
		if item == nil || item.Kind != yaml.ScalarNode || isNull(item) {
			continue
		}
		out = append(out, item.Value)
	}
	return out
}

// Has reports whether key is set explicitly in the document. Null values
// count as unset.
func (t *Tree) Has(key string) bool {
	if t == nil {
		return false
	}
	_, ok := t.nodes[key]
	return ok
}

// Keys lists every set key in sorted order.
func (t *Tree) Keys() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.nodes))
	for k := range t.nodes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (t *Tree) Issues() []Issue {
	if t == nil {
		return nil
	}
	return append([]Issue(nil), t.issues...)
}

// Digest is the sha256 of the source document.
func (t *Tree) Digest() string {
	sum := sha256.Sum256(t.raw)
	return hex.EncodeToString(sum[:])
}

// JSON renders the document as canonical JSON for indexing.
func (t *Tree) JSON() ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(t.raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
