package domain

import (
	"strings"

	"golang.org/x/text/language"
)

// DefaultLanguage is the fallback language for localized catalog fields.
var DefaultLanguage = language.Arabic

var supportedLanguages = []language.Tag{
	language.Arabic,
	language.English,
}

var languageMatcher = language.NewMatcher(supportedLanguages)

// LocalizedText stores per-language variants of a human-readable string,
// keyed by BCP 47 language tag. The catalog ships Arabic and English.
type LocalizedText map[string]string

// NewLocalizedText builds a LocalizedText from Arabic and English values,
// skipping blanks.
func NewLocalizedText(arabic, english string) LocalizedText {
	text := LocalizedText{}
	if v := strings.TrimSpace(arabic); v != "" {
		text[language.Arabic.String()] = v
	}
	if v := strings.TrimSpace(english); v != "" {
		text[language.English.String()] = v
	}
	if len(text) == 0 {
		return nil
	}
	return text
}

// Resolve picks the best variant for the Accept-Language preference,
// falling back to the default language and then to any non-empty variant.
func (t LocalizedText) Resolve(acceptLanguage string) string {
	if len(t) == 0 {
		return ""
	}

	if acceptLanguage != "" {
		if tags, _, err := language.ParseAcceptLanguage(acceptLanguage); err == nil && len(tags) > 0 {
			tag, _, confidence := languageMatcher.Match(tags...)
			if confidence > language.No {
				if value := t.variant(tag); value != "" {
					return value
				}
			}
		}
	}

	if value := t.variant(DefaultLanguage); value != "" {
		return value
	}
	for _, lang := range supportedLanguages {
		if value := t.variant(lang); value != "" {
			return value
		}
	}
	for _, value := range t {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (t LocalizedText) variant(tag language.Tag) string {
	if value, ok := t[tag.String()]; ok && strings.TrimSpace(value) != "" {
		return value
	}
	base, _ := tag.Base()
	if value, ok := t[base.String()]; ok && strings.TrimSpace(value) != "" {
		return value
	}
	return ""
}

// Clone returns an independent copy.
func (t LocalizedText) Clone() LocalizedText {
	if len(t) == 0 {
		return nil
	}
	out := make(LocalizedText, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
