// Package i18n translates qtlokit's own messages (status lines, summary
// labels, flag help). Catalogs are gettext .po files embedded in the binary
// and read with gotext; lookups fall back to the English msgid.
package i18n

import (
	"embed"
	"io/fs"
	"os"
	"strings"

	"github.com/leonelquinteros/gotext"
	"golang.org/x/text/language"
)

// Directory structure: locales/{lang}/LC_MESSAGES/qtlokit.po
//
//go:embed all:locales
var locales embed.FS

const (
	domain  = "qtlokit"
	rootDir = "locales"
)

var po *gotext.Locale

// Init loads the catalog that best matches lang. When lang is empty the
// user's preferences are read from the environment. Messages stay in English
// when no embedded catalog matches.
func Init(lang string) {
	prefs := []string{lang}
	if lang == "" {
		prefs = preferredLanguages()
	}
	dir := matchCatalog(prefs, catalogs())
	if dir == "" {
		po = nil
		return
	}
	po = gotext.NewLocaleFSWithPath(dir, locales, rootDir)
	po.AddDomain(domain)
	po.SetDomain(domain)
}

// T translates msgid, returning it unchanged when no translation exists.
func T(msgid string) string {
	if po == nil {
		return msgid
	}
	return po.Get(msgid)
}

// N picks the plural form of a message for n using the catalog's
// Plural-Forms rule.
func N(singular, plural string, n int) string {
	if po == nil {
		if n == 1 {
			return singular
		}
		return plural
	}
	return po.GetN(singular, plural, n)
}

// catalogs lists the language directories embedded under locales/.
func catalogs() []string {
	entries, err := fs.ReadDir(locales, rootDir)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs
}

// matchCatalog returns the catalog directory that best serves prefs, or ""
// when English (the msgids) is the best match.
func matchCatalog(prefs, dirs []string) string {
	supported := []language.Tag{language.English}
	names := []string{""}
	for _, d := range dirs {
		tag, err := language.Parse(strings.ReplaceAll(d, "_", "-"))
		if err != nil {
			continue
		}
		supported = append(supported, tag)
		names = append(names, d)
	}

	var wanted []language.Tag
	for _, p := range prefs {
		if tag, err := language.Parse(strings.ReplaceAll(p, "_", "-")); err == nil {
			wanted = append(wanted, tag)
		}
	}
	if len(wanted) == 0 {
		return ""
	}

	_, idx, conf := language.NewMatcher(supported).Match(wanted...)
	if conf == language.No {
		return ""
	}
	return names[idx]
}

// preferredLanguages returns the user's languages in gettext order. Every
// entry of the colon-separated LANGUAGE list counts; LC_ALL, LC_MESSAGES and
// LANG contribute the first one set. Encoding and modifier suffixes are
// dropped, and "C" and "POSIX" are skipped.
func preferredLanguages() []string {
	var out []string
	add := func(v string) {
		v, _, _ = strings.Cut(v, ".")
		v, _, _ = strings.Cut(v, "@")
		if v != "" && v != "C" && v != "POSIX" {
			out = append(out, v)
		}
	}

	for _, v := range strings.Split(os.Getenv("LANGUAGE"), ":") {
		add(v)
	}
	for _, env := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(env); v != "" {
			add(v)
			break
		}
	}
	return out
}
