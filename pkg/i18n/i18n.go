// Package i18n loads per-language YAML message dictionaries and resolves
// message keys with fallback to the default language. Dictionaries are flat
// key→sentence maps, one file per language.
package i18n

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// DefaultLanguage is used when no supported language matches the request.
const DefaultLanguage = "en"

var (
	ErrNoTranslations    = errors.New("no translation files found")
	ErrFailedToParseYAML = errors.New("failed to parse YAML translation file")
)

// Translator resolves message keys to localized sentences.
type Translator struct {
	mu           sync.RWMutex
	translations map[string]map[string]string
	defaultLang  string
	matcher      language.Matcher
	logger       *slog.Logger
}

// Option configures a Translator.
type Option func(*Translator)

// WithDefaultLanguage overrides the fallback language.
func WithDefaultLanguage(lang string) Option {
	return func(t *Translator) {
		if lang != "" {
			t.defaultLang = lang
		}
	}
}

// WithLogger routes missing-key warnings to the given logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Translator) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTranslator loads every *.yaml/*.yml file in dir of fsys; the file stem
// is the language code ("en.yaml" → "en"). Each file must be a flat map of
// string keys to string values.
func NewTranslator(fsys fs.FS, dir string, opts ...Option) (*Translator, error) {
	t := &Translator{
		translations: make(map[string]map[string]string),
		defaultLang:  DefaultLanguage,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var tags []language.Tag
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		lang := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		raw, err := fs.ReadFile(fsys, filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		var messages map[string]string
		if err := yaml.Unmarshal(raw, &messages); err != nil {
			return nil, errors.Join(ErrFailedToParseYAML, fmt.Errorf("file %s: %w", entry.Name(), err))
		}

		t.translations[lang] = messages
		tags = append(tags, language.Make(lang))
	}

	if len(t.translations) == 0 {
		return nil, ErrNoTranslations
	}
	if _, ok := t.translations[t.defaultLang]; !ok {
		return nil, fmt.Errorf("default language %q has no translation file", t.defaultLang)
	}

	t.matcher = language.NewMatcher(tags)
	return t, nil
}

// T returns the message for key in the given language, falling back to the
// default language and finally to the key itself so the caller always has
// something to show.
func (t *Translator) T(lang, key string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if messages, ok := t.translations[lang]; ok {
		if msg, ok := messages[key]; ok {
			return msg
		}
	}

	if msg, ok := t.translations[t.defaultLang][key]; ok {
		if lang != t.defaultLang {
			t.logger.Warn("missing translation", "lang", lang, "key", key)
		}
		return msg
	}

	t.logger.Warn("missing translation key", "lang", lang, "key", key)
	return key
}

// Normalize maps an arbitrary language string ("pt-BR", "PT", "en-US") to
// the closest supported language code, or the default when nothing matches.
func (t *Translator) Normalize(lang string) string {
	if lang == "" {
		return t.defaultLang
	}

	lang = strings.ToLower(strings.TrimSpace(lang))
	if _, ok := t.translations[lang]; ok {
		return lang
	}

	tag, err := language.Parse(lang)
	if err != nil {
		return t.defaultLang
	}

	base, _ := tag.Base()
	if _, ok := t.translations[base.String()]; ok {
		return base.String()
	}
	return t.defaultLang
}

// SupportedLanguages returns the loaded language codes.
func (t *Translator) SupportedLanguages() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	langs := make([]string, 0, len(t.translations))
	for lang := range t.translations {
		langs = append(langs, lang)
	}
	return langs
}

// Keys returns the message keys defined for a language.
func (t *Translator) Keys(lang string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	messages, ok := t.translations[lang]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(messages))
	for k := range messages {
		keys = append(keys, k)
	}
	return keys
}
