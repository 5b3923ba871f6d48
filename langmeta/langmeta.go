// Package langmeta resolves language codes found in .ts file names
// (de, pt_BR, zh_CN, ...) to human-readable names used in prompts and CLI
// output.
package langmeta

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Meta describes language display metadata.
type Meta struct {
	// Code is the BCP 47 form of the code (pt-BR).
	Code string
	// English is the English name ("Brazilian Portuguese").
	English string
	// Native is the name in the language itself ("português (Brasil)").
	Native string
}

// canonicalize turns Qt/gettext style codes into BCP 47 form:
// "pt_br" -> "pt-BR".
func canonicalize(lang string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if normalized == "" {
		return ""
	}
	parts := strings.Split(normalized, "-")
	parts[0] = strings.ToLower(parts[0])
	if len(parts) >= 2 && len(parts[1]) == 2 {
		parts[1] = strings.ToUpper(parts[1])
	}
	return strings.Join(parts, "-")
}

// Resolve returns best-effort metadata for lang. Unknown codes resolve to
// Meta with both names set to lang itself.
func Resolve(lang string) Meta {
	code := canonicalize(lang)
	unknown := Meta{Code: code, English: lang, Native: lang}
	if code == "" {
		return unknown
	}

	tag, err := language.Parse(code)
	if err != nil {
		// Retry with the base language for unknown regions ("fr-XX").
		base, _, found := strings.Cut(code, "-")
		if !found {
			return unknown
		}
		if tag, err = language.Parse(base); err != nil {
			return unknown
		}
	}
	if _, conf := tag.Base(); conf == language.No {
		return unknown
	}

	m := Meta{
		Code:    tag.String(),
		English: display.English.Tags().Name(tag),
		Native:  display.Self.Name(tag),
	}
	if m.English == "" {
		m.English = lang
	}
	if m.Native == "" {
		m.Native = m.English
	}
	return m
}

// DisplayName returns "English (Native)" for lang, or just the English name
// when both are the same: "de" -> "German (Deutsch)", "en" -> "English".
func DisplayName(lang string) string {
	m := Resolve(lang)
	if strings.EqualFold(m.English, m.Native) {
		return m.English
	}
	return m.English + " (" + m.Native + ")"
}
