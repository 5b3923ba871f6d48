// Package runner drives the per-file pipeline: extract unfinished units from
// a .ts file, translate them in batches, and patch the results back into the
// file. Files are processed one at a time; a file that cannot be read or
// parsed is reported and left alone without stopping the run.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/minios-linux/qtlokit/translate"
	"github.com/minios-linux/qtlokit/tsfile"
)

// Policy decides what happens to units resolved by identity fallback.
type Policy string

const (
	// PolicyMarkFinished writes the source text as a finished translation.
	PolicyMarkFinished Policy = "mark-finished"
	// PolicyKeepUnfinished leaves fallback units unfinished so a later run
	// picks them up again.
	PolicyKeepUnfinished Policy = "keep-unfinished"
)

// ParsePolicy validates a --fallback-policy value.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyMarkFinished, PolicyKeepUnfinished:
		return p, nil
	case "":
		return PolicyMarkFinished, nil
	}
	return "", fmt.Errorf("unknown fallback policy %q (want %s or %s)", s, PolicyMarkFinished, PolicyKeepUnfinished)
}

// Runner processes .ts files.
type Runner struct {
	// Client translates batches. A nil client resolves every batch by
	// identity fallback.
	Client *translate.Client
	// BatchSize is the number of units per request (default 20).
	BatchSize int
	// MaxWorkers caps concurrent requests per file (default 3).
	MaxWorkers int
	// Policy applies to units resolved by identity fallback.
	Policy Policy
	// DryRun extracts and reports units without translating or writing.
	DryRun bool
	// RunID tags log lines and the report. New fills it in.
	RunID  string
	Logger zerolog.Logger

	// OnFileStart is called before a file's batches are scheduled.
	OnFileStart func(path string, units, batches int)
	// OnProgress is called after each batch of the current file completes.
	OnProgress func(path string, done, total int)
}

// New returns a runner with defaults and a fresh run id.
func New(client *translate.Client, logger zerolog.Logger) *Runner {
	id := uuid.NewString()
	return &Runner{
		Client:     client,
		BatchSize:  translate.DefaultBatchSize,
		MaxWorkers: translate.DefaultMaxWorkers,
		Policy:     PolicyMarkFinished,
		RunID:      id,
		Logger:     logger.With().Str("run_id", id).Logger(),
	}
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// ProcessPath processes a single .ts file or every eligible .ts file in a
// directory. It returns an error only when path itself cannot be accessed.
func (r *Runner) ProcessPath(ctx context.Context, path string) (*Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return r.ProcessDirectory(ctx, path)
	}
	rep := r.newReport()
	rep.add(r.ProcessFile(ctx, path))
	rep.finish()
	return rep, nil
}

// ProcessDirectory processes the .ts files directly inside dir (no
// recursion) that pass FilterFiles, in name order.
func (r *Runner) ProcessDirectory(ctx context.Context, dir string) (*Report, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.ts"))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	files := FilterFiles(matches)
	sort.Strings(files)
	r.Logger.Info().Str("dir", dir).Int("files", len(files)).Int("excluded", len(matches)-len(files)).Msg("scanning directory")

	rep := r.newReport()
	for _, f := range files {
		rep.add(r.ProcessFile(ctx, f))
	}
	rep.finish()
	return rep, nil
}

// FilterFiles drops English source variants from a directory listing: names
// containing "_en.ts" or "_en_" (any case). Names containing "zh_CN" are
// always kept.
func FilterFiles(paths []string) []string {
	var out []string
	for _, p := range paths {
		base := filepath.Base(p)
		if !strings.Contains(base, "zh_CN") &&
			(strings.Contains(base, "_en.ts") || strings.Contains(strings.ToLower(base), "_en_")) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ---------------------------------------------------------------------------
// Per-file pipeline
// ---------------------------------------------------------------------------

// ProcessFile runs the pipeline on one file and reports the outcome. The file
// is rewritten only when patching changed its content.
func (r *Runner) ProcessFile(ctx context.Context, path string) (fr FileReport) {
	start := time.Now()
	fr = FileReport{Path: path, Language: tsfile.LanguageFromFilename(path)}
	log := r.Logger.With().Str("file", path).Str("lang", fr.Language).Logger()
	defer func() { fr.Elapsed = time.Since(start) }()

	fail := func(err error) FileReport {
		fr.Status = StatusFailed
		fr.Error = err.Error()
		log.Error().Err(err).Msg("file failed")
		return fr
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fail(err)
	}

	doc, err := tsfile.Extract(content)
	if err != nil {
		return fail(fmt.Errorf("extracting units: %w", err))
	}
	fr.Strategy = doc.Strategy.String()
	fr.Units = len(doc.Units)
	if doc.FallbackReason != nil {
		log.Warn().Err(doc.FallbackReason).Msg("document is not well-formed, using line scan")
	}
	if doc.Numerus > 0 {
		log.Debug().Int("numerus", doc.Numerus).Msg("unfinished plural messages left for manual translation")
	}
	if len(doc.Units) == 0 {
		fr.Status = StatusSkipped
		log.Info().Msg("no unfinished translations")
		return fr
	}
	if fr.Duplicates = doc.DuplicateSources(); fr.Duplicates > 0 {
		log.Warn().Int("duplicates", fr.Duplicates).Msg("repeated source texts share one translation")
	}
	log.Info().Str("strategy", fr.Strategy).Int("units", fr.Units).Msg("extracted units")

	if r.DryRun {
		fr.Status = StatusDryRun
		return fr
	}

	results := r.resolve(ctx, path, fr.Language, doc, log)

	translations := make(map[string]string, len(results))
	for src, res := range results {
		if res.Fallback && r.Policy == PolicyKeepUnfinished {
			continue
		}
		translations[src] = res.Translation
	}
	for _, u := range doc.Units {
		if results[u.Source].Fallback {
			fr.Fallback++
		}
	}

	out, stats, err := tsfile.Patch(content, doc, translations)
	if err != nil {
		return fail(fmt.Errorf("patching: %w", err))
	}
	fr.Translated = stats.Applied
	fr.PatchSkipped = len(stats.Skipped)
	for _, s := range stats.Skipped {
		log.Warn().Str("source", s.Source).Int("line", s.Line).Str("reason", s.Reason).Msg("unit not patched")
	}

	if !bytes.Equal(out, content) {
		if err := writePreservingMode(path, out); err != nil {
			return fail(err)
		}
	}
	fr.Status = StatusTranslated
	log.Info().Int("translated", fr.Translated).Int("fallback", fr.Fallback).Msg("file done")
	return fr
}

// resolve translates each distinct source text of doc once. Files without a language suffix are
// resolved by identity without contacting the service.
func (r *Runner) resolve(ctx context.Context, path, lang string, doc *tsfile.Document, log zerolog.Logger) map[string]translate.TranslationResult {
	sources := doc.UniqueSources()
	if lang == tsfile.LangUnknown {
		log.Warn().Msg("no language in file name, keeping source text")
		agg := translate.NewAggregator()
		agg.Merge(translate.Identity(sources))
		return agg.Results()
	}

	batches := translate.SplitBatches(sources, r.BatchSize, lang, filepath.Base(path))
	if r.OnFileStart != nil {
		r.OnFileStart(path, len(sources), len(batches))
	}
	agg := translate.RunBatches(ctx, batches, r.batchFunc(), translate.RunOptions{
		MaxWorkers: r.MaxWorkers,
		Logger:     log,
		OnBatchDone: func(done, total int) {
			if r.OnProgress != nil {
				r.OnProgress(path, done, total)
			}
		},
	})
	return agg.Results()
}

func (r *Runner) batchFunc() translate.BatchFunc {
	return func(ctx context.Context, b translate.Batch) ([]translate.TranslationResult, error) {
		if r.Client == nil {
			return nil, errors.New("no translation client")
		}
		return r.Client.TranslateBatch(ctx, b), nil
	}
}

func writePreservingMode(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, info.Mode().Perm()); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
