package tsfile

import "fmt"

// SkippedUnit is a unit whose span no longer looked unfinished at patch time.
type SkippedUnit struct {
	Source string
	Line   int
	Reason string
}

// PatchStats summarizes one Patch call.
type PatchStats struct {
	// Applied is the number of spans replaced.
	Applied int
	// Untouched counts units left as they were because translations had no
	// entry for their source.
	Untouched int
	// Skipped lists units whose span did not match the expected markup.
	Skipped []SkippedUnit
}

func (s *PatchStats) skip(u Unit, reason string) {
	s.Skipped = append(s.Skipped, SkippedUnit{Source: u.Source, Line: u.StartLine, Reason: reason})
}

// Patch returns content with the span of every unit in doc replaced by a
// finished translation taken from translations (keyed by source text).
// Units without an entry are left unfinished. Units whose span does not
// match the expected markup are skipped and listed in the stats; the rest
// of the file is still patched.
func Patch(content []byte, doc *Document, translations map[string]string) ([]byte, PatchStats, error) {
	switch doc.Strategy {
	case StrategyStructured:
		return patchStructured(content, translations)
	case StrategyLineScan:
		out, stats := patchLines(content, doc.Units, translations)
		return out, stats, nil
	}
	return nil, PatchStats{}, fmt.Errorf("unsupported strategy %v", doc.Strategy)
}
