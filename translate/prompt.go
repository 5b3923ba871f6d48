package translate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/minios-linux/qtlokit/langmeta"
)

// DefaultSystemPrompt is sent as the system message when the configuration
// does not supply one.
const DefaultSystemPrompt = `You are a professional translator specializing in software localization. You are translating UI strings of a Qt desktop application.

Rules:
- Keep placeholders such as %1, %2, %n, %s and %d exactly as they are.
- Keep keyboard accelerators (&File) in a natural position for the target language.
- Keep HTML tags and entities intact.
- Use the terminology conventional for desktop software in the target language.
- Return only the JSON requested by the user, without explanations.`

var markdownCodeBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// pair is one element of the list the service is asked to return. Pointer
// fields tell a missing key from an empty string.
type pair struct {
	Source      *string `json:"source"`
	Translation *string `json:"translation"`
}

// BuildPrompt renders the user message for b: the target language, the file
// label, a numbered list of the source strings and an example of the JSON
// answer expected.
func BuildPrompt(b Batch) string {
	label := b.Label
	if label == "" {
		label = "Unknown"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Translate the following strings to %s.\n", langmeta.DisplayName(b.Language))
	fmt.Fprintf(&sb, "Source file: %s\n\n", label)
	sb.WriteString("String list:\n")
	for i, s := range b.Sources {
		fmt.Fprintf(&sb, "\n%d. %s\n", i+1, s)
	}

	example := []map[string]string{}
	if len(b.Sources) > 0 {
		example = append(example, map[string]string{"source": b.Sources[0], "translation": "..."})
	}
	exampleJSON, _ := json.MarshalIndent(example, "", "  ")

	sb.WriteString("\n\nReturn the results strictly in the following JSON format, one object per string, in the same order:\n")
	sb.Write(exampleJSON)
	sb.WriteString("\n\nImportant notes:\n")
	sb.WriteString("- Maintain accuracy and terminology consistency\n")
	sb.WriteString("- Ensure correct JSON format\n")
	sb.WriteString("- Do not add explanations or other content outside JSON\n")
	return sb.String()
}

// ParseResponse extracts the list of source/translation pairs from the
// service's answer and aligns it with sources. The whole text is tried first,
// then the body of a markdown code fence, then every bracketed substring in
// order until one decodes as a list of pairs. A list whose length differs
// from len(sources) yields ErrCountMismatch.
func ParseResponse(text string, sources []string) ([]TranslationResult, error) {
	pairs, ok := decodePairs(strings.TrimSpace(text))
	if !ok {
		if m := markdownCodeBlock.FindStringSubmatch(text); len(m) > 1 {
			pairs, ok = decodePairs(m[1])
		}
	}
	if !ok {
		pairs, ok = findPairList(text)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnparseable, truncate(text, 200))
	}
	if len(pairs) != len(sources) {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrCountMismatch, len(sources), len(pairs))
	}

	out := make([]TranslationResult, len(sources))
	for i, p := range pairs {
		out[i] = TranslationResult{Source: sources[i], Translation: *p.Translation}
	}
	return out, nil
}

// decodePairs decodes s as a whole.
func decodePairs(s string) ([]pair, bool) {
	var pairs []pair
	if err := json.Unmarshal([]byte(s), &pairs); err != nil {
		return nil, false
	}
	return pairs, validPairs(pairs)
}

// findPairList tries a JSON decoder at every '[' and returns the first value
// that is a list of pairs. Text after the list is ignored.
func findPairList(s string) ([]pair, bool) {
	for i := strings.IndexByte(s, '['); i >= 0; {
		var pairs []pair
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		if err := dec.Decode(&pairs); err == nil && validPairs(pairs) {
			return pairs, true
		}
		next := strings.IndexByte(s[i+1:], '[')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return nil, false
}

func validPairs(pairs []pair) bool {
	if pairs == nil {
		return false
	}
	for _, p := range pairs {
		if p.Source == nil || p.Translation == nil {
			return false
		}
	}
	return true
}

// truncate truncates a string to maxLen bytes.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
