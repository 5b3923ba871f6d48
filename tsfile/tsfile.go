// Package tsfile locates and rewrites unfinished translations in Qt Linguist
// .ts files.
//
// A .ts file is an XML document shaped like:
//
//	<TS version="2.1" language="de_DE">
//	<context>
//	    <name>MainWindow</name>
//	    <message>
//	        <source>Open file</source>
//	        <translation type="unfinished"></translation>
//	    </message>
//	</context>
//	</TS>
//
// Two strategies are supported. The structured strategy decodes the XML and
// records the byte span of every unfinished <translation> element. When the
// document does not decode (stray entities, broken nesting, trailing junk
// inside the root) the line-scan strategy matches <source>/<translation>
// markup line by line. Patching mirrors whichever strategy produced the
// units, and every byte outside a replaced span is written back unchanged.
package tsfile

import (
	"errors"
	"path/filepath"
	"strings"
)

// LangUnknown is returned by LanguageFromFilename when the file name carries
// no language suffix (e.g. "app.ts").
const LangUnknown = "unknown"

// MaxLookahead bounds how many lines the line-scan strategy searches for a
// </translation> closing tag after a multi-line opening tag. Units whose
// closing tag lies further away are dropped.
const MaxLookahead = 20

var (
	// ErrNoRoot is returned when the content has no <TS>...</TS> root element.
	ErrNoRoot = errors.New("no <TS> root element")
	// ErrNotTSDocument is returned when neither strategy can read the content.
	ErrNotTSDocument = errors.New("not a Qt TS document")
)

// ---------------------------------------------------------------------------
// Data model
// ---------------------------------------------------------------------------

// Strategy identifies how a unit was located and therefore how it is patched.
type Strategy int

const (
	// StrategyStructured units carry byte offsets from the XML decoder.
	StrategyStructured Strategy = iota
	// StrategyLineScan units carry 1-based line numbers from the line scanner.
	StrategyLineScan
)

func (s Strategy) String() string {
	switch s {
	case StrategyStructured:
		return "structured"
	case StrategyLineScan:
		return "line-scan"
	}
	return "unknown"
}

// Unit is one unfinished translation. Units are created by Extract and are
// not modified afterwards.
type Unit struct {
	// Strategy selects which location fields are meaningful.
	Strategy Strategy
	// Source is the decoded text of the <source> element. It may be empty.
	Source string
	// Context is the <name> of the enclosing <context>. Informational only.
	Context string

	// --- StrategyStructured ---

	// Path is "context/index" where index counts messages inside the context.
	Path string
	// Start and End delimit the <translation> element in the original content.
	Start, End int

	// --- both strategies ---

	// StartLine and EndLine are 1-based and inclusive. For line-scan units
	// they are the patch location; for structured units they are only used
	// in reports.
	StartLine, EndLine int
}

// Document is the result of extracting units from one file.
type Document struct {
	// Strategy is the strategy that produced Units.
	Strategy Strategy
	// Units in document order.
	Units []Unit
	// FallbackReason holds the structured decoding error when the line-scan
	// strategy was used. Nil otherwise.
	FallbackReason error
	// Numerus counts unfinished plural messages, which are not units and stay
	// untranslated. Only the structured strategy sees them.
	Numerus int
}

// Sources returns the source texts of all units in document order.
func (d *Document) Sources() []string {
	out := make([]string, len(d.Units))
	for i, u := range d.Units {
		out[i] = u.Source
	}
	return out
}

// UniqueSources returns each distinct source text once, in order of first
// appearance.
func (d *Document) UniqueSources() []string {
	seen := make(map[string]bool, len(d.Units))
	var out []string
	for _, u := range d.Units {
		if !seen[u.Source] {
			seen[u.Source] = true
			out = append(out, u.Source)
		}
	}
	return out
}

// DuplicateSources returns the number of units whose source text already
// appeared earlier in the document. Such units share one translation.
func (d *Document) DuplicateSources() int {
	seen := make(map[string]bool, len(d.Units))
	dups := 0
	for _, u := range d.Units {
		if seen[u.Source] {
			dups++
			continue
		}
		seen[u.Source] = true
	}
	return dups
}

// ---------------------------------------------------------------------------
// Extraction entry point
// ---------------------------------------------------------------------------

// Extract returns the unfinished units of a .ts file. The structured strategy
// is tried first; the line-scan strategy is used when it fails. An error is
// returned only when neither strategy can read the content.
func Extract(content []byte) (*Document, error) {
	units, numerus, err := extractStructured(content)
	if err == nil {
		return &Document{Strategy: StrategyStructured, Units: units, Numerus: numerus}, nil
	}

	lineUnits, lineErr := ExtractLines(content)
	if lineErr != nil {
		return nil, errors.Join(err, lineErr)
	}
	return &Document{Strategy: StrategyLineScan, Units: lineUnits, FallbackReason: err}, nil
}

// ---------------------------------------------------------------------------
// Language detection
// ---------------------------------------------------------------------------

// LanguageFromFilename derives the target language from a .ts file name.
// Everything after the first underscore of the stem is the language code:
//
//	app_de.ts       -> "de"
//	app_zh_CN.ts    -> "zh_CN"
//	app.ts          -> LangUnknown
func LanguageFromFilename(name string) string {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.Split(stem, "_")
	if len(parts) < 2 {
		return LangUnknown
	}
	lang := strings.Join(parts[1:], "_")
	if lang == "" {
		return LangUnknown
	}
	return lang
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// xmlEscape escapes text content for a <translation> element.
func xmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	return strings.ReplaceAll(s, ">", "&gt;")
}

// attrEscape escapes an attribute value written inside double quotes.
func attrEscape(s string) string {
	return strings.ReplaceAll(xmlEscape(s), `"`, "&quot;")
}

// lineCounter maps byte offsets of content to 1-based line numbers. Offsets
// must be queried in non-decreasing order; each byte is scanned once.
type lineCounter struct {
	content string
	off     int
	line    int
}

func newLineCounter(content string) *lineCounter {
	return &lineCounter{content: content, line: 1}
}

func (c *lineCounter) at(off int) int {
	if off > len(c.content) {
		off = len(c.content)
	}
	if off > c.off {
		c.line += strings.Count(c.content[c.off:off], "\n")
		c.off = off
	}
	return c.line
}
