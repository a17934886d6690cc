// Package i18n renders user-facing bot text from embedded locale files.
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	logx "birthdaybot/pkg/logx"
)

//go:embed locales/*.json
var localeFS embed.FS

// Catalog holds every loaded language. Localizers are cached per
// requested language string.
type Catalog struct {
	bundle  *goi18n.Bundle
	def     language.Tag
	langs   []string
	tags    []language.Tag
	matcher language.Matcher
	log     logx.Logger

	mu    sync.Mutex
	cache map[string]*Localizer
}

// New loads locales/active.<lang>.json. def is the fallback language
// ("en" when empty or not shipped).
func New(def string, log logx.Logger) (*Catalog, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	bundle := goi18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := fs.ReadDir(localeFS, "locales")
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}
	var langs []string
	for _, e := range entries {
		name := e.Name()
		code, ok := strings.CutPrefix(name, "active.")
		if !ok {
			continue
		}
		code, ok = strings.CutSuffix(code, ".json")
		if !ok || code == "" {
			log.Warn("locale file skipped", logx.String("file", name))
			continue
		}
		if _, err := bundle.LoadMessageFileFS(localeFS, "locales/"+name); err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		langs = append(langs, code)
	}
	sort.Strings(langs)

	tags := bundle.LanguageTags()
	c := &Catalog{
		bundle:  bundle,
		def:     language.English,
		langs:   langs,
		tags:    tags,
		matcher: language.NewMatcher(tags),
		log:     log,
		cache:   map[string]*Localizer{},
	}
	if def = strings.TrimSpace(def); def != "" {
		if tag, err := language.Parse(def); err == nil && c.supports(tag) {
			c.def = tag
		} else {
			log.Warn("default locale not available; using en", logx.String("locale", def))
		}
	}
	return c, nil
}

func (c *Catalog) supports(tag language.Tag) bool {
	base, _ := tag.Base()
	for _, l := range c.langs {
		if lb, _ := language.Make(l).Base(); lb == base {
			return true
		}
	}
	return false
}

// Languages lists the shipped language codes.
func (c *Catalog) Languages() []string { return append([]string(nil), c.langs...) }

// Default returns the fallback language code.
func (c *Catalog) Default() string { return c.def.String() }

// For returns a localizer for a client language code such as "ru" or
// "pt-br". Unknown or empty codes get the default language.
func (c *Catalog) For(lang string) *Localizer {
	key := strings.ToLower(strings.TrimSpace(lang))
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.cache[key]; ok {
		return l
	}

	tag := c.def
	if key != "" {
		if t, err := language.Parse(key); err == nil && c.supports(t) {
			// Match's own result carries -u-rg extensions; use the
			// shipped tag instead.
			_, idx, _ := c.matcher.Match(t)
			tag = c.tags[idx]
		}
	}
	l := &Localizer{
		lang: tag,
		loc:  goi18n.NewLocalizer(c.bundle, tag.String(), c.def.String()),
		log:  c.log,
	}
	c.cache[key] = l
	return l
}

// Localizer renders messages for one language.
type Localizer struct {
	lang language.Tag
	loc  *goi18n.Localizer
	log  logx.Logger
}

// Lang is the resolved language tag.
func (l *Localizer) Lang() string { return l.lang.String() }

// T renders id with data as template input. A missing message renders as
// its id.
func (l *Localizer) T(id string, data map[string]any) string {
	return l.render(&goi18n.LocalizeConfig{MessageID: id, TemplateData: data})
}

// N renders a plural message. data["Count"] is set to count.
func (l *Localizer) N(id string, count int, data map[string]any) string {
	if data == nil {
		data = map[string]any{}
	}
	data["Count"] = count
	return l.render(&goi18n.LocalizeConfig{MessageID: id, TemplateData: data, PluralCount: count})
}

func (l *Localizer) render(cfg *goi18n.LocalizeConfig) string {
	if l == nil || l.loc == nil {
		return cfg.MessageID
	}
	msg, err := l.loc.Localize(cfg)
	if err != nil {
		l.log.Debug("translation missing", logx.String("id", cfg.MessageID), logx.String("lang", l.lang.String()), logx.Err(err))
		if msg == "" {
			return cfg.MessageID
		}
	}
	return msg
}
