package runner

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// FileStatus is the outcome of processing one file.
type FileStatus string

const (
	// StatusTranslated files went through the whole pipeline.
	StatusTranslated FileStatus = "translated"
	// StatusSkipped files had no unfinished units.
	StatusSkipped FileStatus = "skipped"
	// StatusFailed files could not be read, parsed or written. They are left
	// unmodified.
	StatusFailed FileStatus = "failed"
	// StatusDryRun files were extracted only.
	StatusDryRun FileStatus = "dry-run"
)

// FileReport describes one processed file.
type FileReport struct {
	Path     string     `yaml:"path"`
	Language string     `yaml:"language"`
	Strategy string     `yaml:"strategy,omitempty"`
	Status   FileStatus `yaml:"status"`
	// Units is the number of unfinished units found.
	Units int `yaml:"units"`
	// Translated is the number of units patched.
	Translated int `yaml:"translated"`
	// Fallback is the number of units resolved by identity fallback.
	Fallback int `yaml:"fallback"`
	// PatchSkipped is the number of units whose markup changed before
	// patching.
	PatchSkipped int           `yaml:"patch_skipped"`
	Duplicates   int           `yaml:"duplicates"`
	Elapsed      time.Duration `yaml:"elapsed"`
	Error        string        `yaml:"error,omitempty"`
}

// Report summarizes a run.
type Report struct {
	RunID             string        `yaml:"run_id"`
	Started           time.Time     `yaml:"started"`
	Elapsed           time.Duration `yaml:"elapsed"`
	ProcessedFiles    int           `yaml:"processed_files"`
	TranslatedFiles   int           `yaml:"translated_files"`
	DryRunFiles       int           `yaml:"dry_run_files,omitempty"`
	SkippedFiles      int           `yaml:"skipped_files"`
	FailedFiles       int           `yaml:"failed_files"`
	TotalStrings      int           `yaml:"total_strings"`
	FallbackUnits     int           `yaml:"fallback_units"`
	PatchSkippedUnits int           `yaml:"patch_skipped_units"`
	StringsPerSecond  float64       `yaml:"strings_per_second"`
	Files             []FileReport  `yaml:"files"`
}

func (r *Runner) newReport() *Report {
	return &Report{RunID: r.RunID, Started: time.Now()}
}

func (rep *Report) add(fr FileReport) {
	rep.ProcessedFiles++
	rep.Files = append(rep.Files, fr)
	switch fr.Status {
	case StatusTranslated:
		rep.TranslatedFiles++
	case StatusDryRun:
		rep.DryRunFiles++
	case StatusSkipped:
		rep.SkippedFiles++
	case StatusFailed:
		rep.FailedFiles++
		return
	}
	rep.TotalStrings += fr.Units
	rep.FallbackUnits += fr.Fallback
	rep.PatchSkippedUnits += fr.PatchSkipped
}

func (rep *Report) finish() {
	rep.Elapsed = time.Since(rep.Started)
	if secs := rep.Elapsed.Seconds(); secs > 0 {
		rep.StringsPerSecond = float64(rep.TotalStrings) / secs
	}
}

// WriteYAML writes the report as a YAML document.
func (rep *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return enc.Close()
}
