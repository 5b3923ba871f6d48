package tsfile

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

const unfinishedAttr = `\s+type\s*=\s*(?:"unfinished"|'unfinished'|unfinished\b)`

var (
	reSourceLine = regexp.MustCompile(`<source>([^<]*)</source>`)
	reMarker     = regexp.MustCompile(`\btype\s*=\s*(?:"unfinished"|'unfinished'|unfinished\b)`)

	// unfinishedVariants are the accepted spellings of an unfinished
	// translation tag. A line must match one of them before it is patched.
	unfinishedVariants = []*regexp.Regexp{
		regexp.MustCompile(`<translation\b[^>]*\btype="unfinished"[^>/]*>`), // explicit close, double-quoted
		regexp.MustCompile(`<translation\b[^>]*\btype=unfinished\b[^>/]*>`), // explicit close, unquoted
		regexp.MustCompile(`<translation\b[^>]*\btype='unfinished'[^>/]*>`), // explicit close, single-quoted
		regexp.MustCompile(`<translation\b[^>]*\btype="unfinished"[^>]*/>`), // self-closing, double-quoted
		regexp.MustCompile(`<translation\b[^>]*\btype='unfinished'[^>]*/>`), // self-closing, single-quoted
	}

	reExplicitPair = regexp.MustCompile(`<translation\b([^>]*?)` + unfinishedAttr + `([^>/]*)>[^<]*</translation>`)
	reSelfClosing  = regexp.MustCompile(`<translation\b([^>]*?)` + unfinishedAttr + `([^>]*?)\s*/>`)
	reOpeningRest  = regexp.MustCompile(`<translation\b([^>]*?)` + unfinishedAttr + `([^>/]*)>.*$`)
)

// ExtractLines scans content line by line. A line holding a complete
// <source>...</source> pair sets the pending source; the next line with a
// <translation> tag consumes it. When that tag carries the unfinished marker
// the unit spans the tag's line, or up to the line holding </translation>
// if that appears within MaxLookahead lines. Units whose closing tag is not
// found within the bound are dropped.
func ExtractLines(content []byte) ([]Unit, error) {
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: invalid UTF-8", ErrNotTSDocument)
	}
	if !reRootOpen.Match(content) {
		return nil, fmt.Errorf("%w: no <TS> tag", ErrNotTSDocument)
	}

	lines := splitLines(string(content))
	var (
		units      []Unit
		pending    string
		hasPending bool
	)

	for i, line := range lines {
		if m := reSourceLine.FindStringSubmatch(line); m != nil {
			pending = html.UnescapeString(m[1])
			hasPending = true
			continue
		}
		if !hasPending || !strings.Contains(line, "<translation") {
			continue
		}
		hasPending = false

		if !reMarker.MatchString(line) {
			continue
		}

		if strings.Contains(line, "</translation>") || strings.Contains(line, "/>") {
			units = append(units, Unit{
				Strategy:  StrategyLineScan,
				Source:    pending,
				StartLine: i + 1,
				EndLine:   i + 1,
			})
			continue
		}

		for j := i + 1; j < len(lines) && j <= i+MaxLookahead; j++ {
			if strings.Contains(lines[j], "</translation>") {
				units = append(units, Unit{
					Strategy:  StrategyLineScan,
					Source:    pending,
					StartLine: i + 1,
					EndLine:   j + 1,
				})
				break
			}
		}
	}
	return units, nil
}

// patchLines rewrites the lines of each unit. Single-line units get a
// finished <translation> pair in place of the unfinished one. For multi-line
// units the opening tag on the first line is replaced together with the rest
// of that line, the lines in between are removed and the line holding
// </translation> is kept as is.
func patchLines(content []byte, units []Unit, translations map[string]string) ([]byte, PatchStats) {
	var stats PatchStats
	lines := splitLines(string(content))

	for _, u := range units {
		text, ok := translations[u.Source]
		if !ok {
			stats.Untouched++
			continue
		}
		first, last := u.StartLine-1, u.EndLine-1
		if first < 0 || last >= len(lines) || last < first {
			stats.skip(u, fmt.Sprintf("line range %d-%d outside file", u.StartLine, u.EndLine))
			continue
		}
		if !hasUnfinishedMarker(lines[first]) {
			stats.skip(u, "line has no unfinished marker")
			continue
		}

		body, eol := cutEOL(lines[first])
		escaped := xmlEscape(text)

		if first == last {
			patched, ok := replaceSingleLine(body, escaped)
			if !ok {
				stats.skip(u, "unfinished tag pair not matched")
				continue
			}
			lines[first] = patched + eol
			stats.Applied++
			continue
		}

		loc := reOpeningRest.FindStringSubmatchIndex(body)
		if loc == nil {
			stats.skip(u, "unfinished opening tag not matched")
			continue
		}
		lines[first] = body[:loc[0]] + "<translation" + body[loc[2]:loc[3]] + body[loc[4]:loc[5]] + ">" + escaped + eol
		for k := first + 1; k < last; k++ {
			lines[k] = ""
		}
		stats.Applied++
	}

	return []byte(strings.Join(lines, "")), stats
}

// replaceSingleLine swaps an unfinished tag pair, or failing that a
// self-closing unfinished tag, for a finished pair holding text.
func replaceSingleLine(body, text string) (string, bool) {
	for _, re := range []*regexp.Regexp{reExplicitPair, reSelfClosing} {
		loc := re.FindStringSubmatchIndex(body)
		if loc == nil {
			continue
		}
		attrs := body[loc[2]:loc[3]] + body[loc[4]:loc[5]]
		return body[:loc[0]] + "<translation" + attrs + ">" + text + "</translation>" + body[loc[1]:], true
	}
	return body, false
}

func hasUnfinishedMarker(line string) bool {
	for _, re := range unfinishedVariants {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// splitLines splits s after each newline. Joining the result restores s.
func splitLines(s string) []string {
	lines := strings.SplitAfter(s, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// cutEOL separates a line from its trailing "\n" or "\r\n".
func cutEOL(line string) (body, eol string) {
	switch {
	case strings.HasSuffix(line, "\r\n"):
		return line[:len(line)-2], "\r\n"
	case strings.HasSuffix(line, "\n"):
		return line[:len(line)-1], "\n"
	}
	return line, ""
}
