package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Language selects the localized variant of a CMS resource.
type Language string

const (
	// LanguageDE is German content.
	LanguageDE Language = "DE"

	// LanguageEN is English content.
	LanguageEN Language = "EN"

	// DefaultLanguage is used whenever a caller does not name a language.
	DefaultLanguage = LanguageEN
)

// Languages lists every supported language in a fixed order.
var Languages = []Language{LanguageDE, LanguageEN}

// ErrUnknownLanguage is returned by ParseLanguage for unsupported values.
var ErrUnknownLanguage = errors.New("unknown language")

// ParseLanguage parses a language code case-insensitively.
// The empty string yields DefaultLanguage.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return DefaultLanguage, nil
	case string(LanguageDE):
		return LanguageDE, nil
	case string(LanguageEN):
		return LanguageEN, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, s)
	}
}

// Other returns the opposite language of a bilingual pair.
func (l Language) Other() Language {
	if l == LanguageDE {
		return LanguageEN
	}
	return LanguageDE
}

func (l Language) orDefault() Language {
	if l == "" {
		return DefaultLanguage
	}
	return l
}

// Param is one named request parameter that participates in a cache key.
type Param struct {
	Name  string
	Value any
}

// Params is an ordered list of key parameters. Order does not affect the
// resulting key; names are sorted during derivation.
type Params []Param

// P is shorthand for constructing a Param.
func P(name string, value any) Param {
	return Param{Name: name, Value: value}
}

func isLanguageParam(name string) bool {
	return name == "lang" || name == "language"
}

// BuildKey derives the full (language-specific) cache key for a resource.
//
// Format with no params:   {resource}?lang={lang}
// Format with params:      {resource}?a=1&b=x&lang=EN
//
// A lang or language param supplied by the caller takes precedence over lang.
func BuildKey(resource string, params Params, lang Language) string {
	lang = lang.orDefault()
	if len(params) == 0 {
		return resource + "?lang=" + string(lang)
	}

	hasLang := false
	for _, p := range params {
		if isLanguageParam(p.Name) {
			hasLang = true
			break
		}
	}

	all := make(Params, 0, len(params)+1)
	all = append(all, params...)
	if !hasLang {
		all = append(all, Param{Name: "lang", Value: lang})
	}

	return resource + "?" + joinParams(all)
}

// BuildBaseKey derives the language-independent key that groups the DE and EN
// variants of one logical resource.
func BuildBaseKey(resource string, params Params) string {
	rest := make(Params, 0, len(params))
	for _, p := range params {
		if !isLanguageParam(p.Name) {
			rest = append(rest, p)
		}
	}
	if len(rest) == 0 {
		return resource
	}
	return resource + "?" + joinParams(rest)
}

// LanguageKey derives the per-language storage key from a base key.
func LanguageKey(baseKey string, lang Language) string {
	return baseKey + "?lang=" + string(lang.orDefault())
}

func joinParams(params Params) string {
	sorted := make(Params, len(params))
	copy(sorted, params)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	parts := make([]string, len(sorted))
	for i, p := range sorted {
		parts[i] = p.Name + "=" + formatValue(p.Value)
	}
	return strings.Join(parts, "&")
}

// formatValue JSON-encodes nested structures and stringifies scalars.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}

	switch reflect.Indirect(reflect.ValueOf(v)).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		// encoding/json sorts map keys, so equal maps encode identically.
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", v)
	}
}
