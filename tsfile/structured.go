package tsfile

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var (
	reXMLDecl      = regexp.MustCompile(`<\?xml[^?]*\?>`)
	reEncodingAttr = regexp.MustCompile(`\s+encoding\s*=\s*("[^"]*"|'[^']*')`)
	reRootOpen     = regexp.MustCompile(`<TS[\s>]`)
)

const (
	rootClose    = "</TS>"
	xmlNamespace = "http://www.w3.org/XML/1998/namespace"
)

// translationElement is an unfinished <translation> found by the decoder.
type translationElement struct {
	source  string
	context string
	path    string
	// start and end are offsets in the original content.
	start, end int
	// attrs are the element's attributes other than type.
	attrs []xml.Attr
}

// normalize prepares content for the XML decoder. The encoding attribute of
// the XML declaration is dropped (the decoder rejects anything but UTF-8
// without a charset reader) and everything before the first <TS and after
// the last </TS> is cut off. The returned base maps decoder offsets back to
// the original content: original = offset + base, for offsets at or past
// the end of the declaration.
func normalize(content string) (doc string, declLen, base int, err error) {
	loc := reRootOpen.FindStringIndex(content)
	if loc == nil {
		return "", 0, 0, ErrNoRoot
	}
	rootStart := loc[0]
	closeIdx := strings.LastIndex(content, rootClose)
	if closeIdx < rootStart {
		return "", 0, 0, ErrNoRoot
	}
	rootEnd := closeIdx + len(rootClose)

	decl := reXMLDecl.FindString(content[:rootStart])
	decl = reEncodingAttr.ReplaceAllString(decl, "")

	doc = decl + content[rootStart:rootEnd]
	return doc, len(decl), rootStart - len(decl), nil
}

// scanStructured decodes content and returns every unfinished, non-numerus
// <translation> element with its byte span in content, plus the number of
// unfinished numerus messages passed over.
func scanStructured(content string) ([]translationElement, int, error) {
	doc, declLen, base, err := normalize(content)
	if err != nil {
		return nil, 0, err
	}

	dec := xml.NewDecoder(strings.NewReader(doc))
	var (
		elems    []translationElement
		skipped  int
		depth    int
		context  string
		msgIndex int

		inMessage  bool
		source     string
		numerus    bool
		pending    *translationElement
		unfinished bool
	)

	toOriginal := func(off int64) int {
		if int(off) < declLen {
			return int(off)
		}
		return int(off) + base
	}

	for {
		before := dec.InputOffset()
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, fmt.Errorf("decoding at offset %d: %w", toOriginal(before), err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "context":
				context = ""
				msgIndex = 0
			case "name":
				if !inMessage {
					text, err := readText(dec)
					if err != nil {
						return nil, 0, fmt.Errorf("reading <name>: %w", err)
					}
					depth--
					context = strings.TrimSpace(text)
				}
			case "message":
				inMessage = true
				source = ""
				pending = nil
				unfinished = false
				numerus = attrValue(t.Attr, "numerus") == "yes"
			case "source":
				if inMessage {
					text, err := readText(dec)
					if err != nil {
						return nil, 0, fmt.Errorf("reading <source>: %w", err)
					}
					depth--
					source = text
				}
			case "translation":
				if !inMessage {
					continue
				}
				el := translationElement{start: toOriginal(before)}
				for _, a := range t.Attr {
					if a.Name.Local == "type" {
						unfinished = a.Value == "unfinished"
						continue
					}
					el.attrs = append(el.attrs, a)
				}
				if err := dec.Skip(); err != nil {
					return nil, 0, fmt.Errorf("reading <translation>: %w", err)
				}
				depth--
				el.end = toOriginal(dec.InputOffset())
				pending = &el
			}

		case xml.EndElement:
			depth--
			switch t.Name.Local {
			case "message":
				if inMessage && pending != nil && unfinished && !numerus {
					pending.source = source
					pending.context = context
					pending.path = context + "/" + strconv.Itoa(msgIndex)
					elems = append(elems, *pending)
				} else if inMessage && pending != nil && unfinished {
					skipped++
				}
				inMessage = false
				msgIndex++
			case "context":
				context = ""
			}
		}
	}

	if depth != 0 {
		return nil, 0, fmt.Errorf("unbalanced document: depth %d at end", depth)
	}
	return elems, skipped, nil
}

// readText returns the character data of the element just opened and
// consumes its end tag. Nested markup is ignored.
func readText(dec *xml.Decoder) (string, error) {
	var b strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			if depth == 1 {
				b.Write(t)
			}
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return b.String(), nil
}

func attrValue(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// ExtractStructured decodes content as XML and returns one unit per message
// whose translation is marked type="unfinished". Numerus messages are not
// returned.
func ExtractStructured(content []byte) ([]Unit, error) {
	units, _, err := extractStructured(content)
	return units, err
}

func extractStructured(content []byte) ([]Unit, int, error) {
	s := string(content)
	elems, numerus, err := scanStructured(s)
	if err != nil {
		return nil, 0, err
	}
	lines := newLineCounter(s)
	units := make([]Unit, 0, len(elems))
	for _, el := range elems {
		units = append(units, Unit{
			Strategy:  StrategyStructured,
			Source:    el.source,
			Context:   el.context,
			Path:      el.path,
			Start:     el.start,
			End:       el.end,
			StartLine: lines.at(el.start),
			EndLine:   lines.at(el.end),
		})
	}
	return units, numerus, nil
}

// patchStructured re-decodes content and replaces every unfinished
// <translation> element whose source has an entry in translations with a
// finished element holding the translated text. Only the element spans are
// rewritten; the rest of the content, including the prolog before <TS>, is
// copied byte for byte.
func patchStructured(content []byte, translations map[string]string) ([]byte, PatchStats, error) {
	s := string(content)
	var stats PatchStats

	elems, _, err := scanStructured(s)
	if err != nil {
		return nil, stats, fmt.Errorf("re-reading document: %w", err)
	}

	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, el := range elems {
		text, ok := translations[el.source]
		if !ok {
			stats.Untouched++
			continue
		}
		b.WriteString(s[last:el.start])
		b.WriteString(finishedElement(el.attrs, text))
		last = el.end
		stats.Applied++
	}
	b.WriteString(s[last:])
	return []byte(b.String()), stats, nil
}

func finishedElement(attrs []xml.Attr, text string) string {
	var b strings.Builder
	b.WriteString("<translation")
	for _, a := range attrs {
		b.WriteString(" ")
		switch a.Name.Space {
		case "":
		case xmlNamespace:
			b.WriteString("xml:")
		default:
			b.WriteString(a.Name.Space)
			b.WriteString(":")
		}
		b.WriteString(a.Name.Local)
		b.WriteString(`="`)
		b.WriteString(attrEscape(a.Value))
		b.WriteString(`"`)
	}
	b.WriteString(">")
	b.WriteString(xmlEscape(text))
	b.WriteString("</translation>")
	return b.String()
}
