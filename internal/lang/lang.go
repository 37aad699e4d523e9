package lang

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"gopkg.in/yaml.v3"
)

// BaseLocale must define every key; other locales fall back to it.
const BaseLocale = "en-US"

// Message keys used by the claim gate.
const (
	KeyAdjacent        = "chunk-editor-adjacent"
	KeyMaxInner        = "chunk-editor-max-inner"
	KeyMaxInnerPlural  = "chunk-editor-max-inner-plural"
	KeyMaxOuter        = "chunk-editor-max-outer"
	KeyMaxOuterPlural  = "chunk-editor-max-outer-plural"
	KeyWorldDisallowed = "world-disallowed"
)

type localeFile struct {
	Locale   string            `yaml:"locale"`
	Messages map[string]string `yaml:"messages"`
}

//go:embed locales/*.yaml
var embedded embed.FS

// Catalog holds every loaded locale. It is read-only after Load and safe for
// concurrent use.
type Catalog struct {
	builder *catalog.Builder
	tags    []language.Tag
	matcher language.Matcher
	keys    map[string]struct{}
}

func Default() (*Catalog, error) {
	return LoadFS(embedded, "locales")
}

// LoadDir loads <dir>/*.yaml from disk.
func LoadDir(dir string) (*Catalog, error) {
	return LoadFS(os.DirFS(dir), ".")
}

func LoadFS(fsys fs.FS, dir string) (*Catalog, error) {
	paths, err := fs.Glob(fsys, path.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("glob locales: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no locale files in %s", dir)
	}
	sort.Strings(paths)

	files := map[string]localeFile{}
	for _, p := range paths {
		b, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		var f localeFile
		if err := yaml.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		f.Locale = strings.TrimSpace(f.Locale)
		if f.Locale == "" {
			return nil, fmt.Errorf("%s: locale is required", p)
		}
		if want := strings.TrimSuffix(path.Base(p), path.Ext(p)); f.Locale != want {
			return nil, fmt.Errorf("%s: locale %q must match file name %q", p, f.Locale, want)
		}
		if _, err := language.Parse(f.Locale); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		files[f.Locale] = f
	}
	base, ok := files[BaseLocale]
	if !ok {
		return nil, fmt.Errorf("base locale %s is not defined", BaseLocale)
	}
	for _, k := range []string{KeyAdjacent, KeyMaxInner, KeyMaxInnerPlural, KeyMaxOuter, KeyMaxOuterPlural, KeyWorldDisallowed} {
		if _, ok := base.Messages[k]; !ok {
			return nil, fmt.Errorf("base locale %s: missing key %q", BaseLocale, k)
		}
	}

	c := &Catalog{
		builder: catalog.NewBuilder(),
		keys:    make(map[string]struct{}, len(base.Messages)),
	}
	for k := range base.Messages {
		c.keys[k] = struct{}{}
	}

	// Base first so the matcher falls back to it.
	locales := make([]string, 0, len(files))
	for l := range files {
		if l != BaseLocale {
			locales = append(locales, l)
		}
	}
	sort.Strings(locales)
	locales = append([]string{BaseLocale}, locales...)

	for _, l := range locales {
		tag := language.MustParse(l)
		f := files[l]
		for k := range f.Messages {
			if _, ok := c.keys[k]; !ok {
				return nil, fmt.Errorf("locale %s: key %q is not in %s", l, k, BaseLocale)
			}
		}
		for k, def := range base.Messages {
			msg, ok := f.Messages[k]
			if !ok {
				msg = def
			}
			if err := c.builder.SetString(tag, k, msg); err != nil {
				return nil, fmt.Errorf("locale %s: key %q: %w", l, k, err)
			}
		}
		c.tags = append(c.tags, tag)
	}
	c.matcher = language.NewMatcher(c.tags)
	return c, nil
}

// Locales lists the loaded locales, base first.
func (c *Catalog) Locales() []string {
	out := make([]string, 0, len(c.tags))
	for _, t := range c.tags {
		out = append(out, t.String())
	}
	return out
}

// Composer returns a message composer for the closest loaded locale. Any
// string accepted by language.ParseAcceptLanguage works; unknown input maps to
// the base locale.
func (c *Catalog) Composer(locale string) *Composer {
	tag := c.tags[0]
	if wanted, _, err := language.ParseAcceptLanguage(locale); err == nil && len(wanted) > 0 {
		_, idx, _ := c.matcher.Match(wanted...)
		tag = c.tags[idx]
	}
	return &Composer{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(c.builder)),
		keys:    c.keys,
	}
}

// Composer formats catalog messages for one locale.
type Composer struct {
	tag     language.Tag
	printer *message.Printer
	keys    map[string]struct{}
}

func (m *Composer) Locale() string { return m.tag.String() }

// Compose formats the message for key. Unknown keys come back verbatim.
func (m *Composer) Compose(key string, args ...any) string {
	if _, ok := m.keys[key]; !ok {
		return key
	}
	return m.printer.Sprintf(key, args...)
}
