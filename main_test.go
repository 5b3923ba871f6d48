package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/minios-linux/qtlokit/config"
	"github.com/minios-linux/qtlokit/runner"
)

const sampleTS = `<?xml version="1.0" encoding="utf-8"?>
<!DOCTYPE TS>
<TS version="2.1" language="de_DE">
<context>
    <name>MainWindow</name>
    <message>
        <location filename="../mainwindow.cpp" line="12"/>
        <source>Open file</source>
        <translation type="unfinished"></translation>
    </message>
    <message>
        <source>Quit</source>
        <translation>Beenden</translation>
    </message>
    <message>
        <source>Save &amp; close</source>
        <translation type="unfinished"></translation>
    </message>
</context>
</TS>
`

func quietStderr(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := stderr
	stderr = &buf
	t.Cleanup(func() { stderr = old })
	return &buf
}

func writeTS(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(sampleTS), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func defaultArgs(path string) translateArgs {
	return translateArgs{
		path:           path,
		configPath:     filepath.Join(filepath.Dir(path), config.DefaultFileName),
		batchSize:      20,
		maxWorkers:     3,
		maxRetries:     2,
		fallbackPolicy: string(runner.PolicyMarkFinished),
	}
}

// ---------------------------------------------------------------------------
// Commands and flags
// ---------------------------------------------------------------------------

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"translate", "version"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("missing subcommand %q in %v", want, names)
		}
	}
}

func TestTranslateCmd_FlagDefaults(t *testing.T) {
	cmd := newTranslateCmd()
	want := map[string]string{
		"config":          config.DefaultFileName,
		"batch-size":      "20",
		"max-workers":     "3",
		"max-retries":     "2",
		"timeout":         "0s",
		"dry-run":         "false",
		"fallback-policy": "mark-finished",
		"report":          "",
	}
	got := make(map[string]string, len(want))
	for name := range want {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			t.Errorf("flag --%s not defined", name)
			continue
		}
		got[name] = f.DefValue
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("flag defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestVersionCmd_Output(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "qtlokit version "+version) {
		t.Errorf("output = %q", out.String())
	}
	if !strings.Contains(out.String(), "commit:") {
		t.Errorf("output missing commit line: %q", out.String())
	}
}

func TestTranslateCmd_RequiresPath(t *testing.T) {
	quietStderr(t)
	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"translate"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected an error without PATH")
	}
}

// ---------------------------------------------------------------------------
// runTranslate
// ---------------------------------------------------------------------------

func TestRunTranslate_MissingConfigIsFatal(t *testing.T) {
	quietStderr(t)
	path := writeTS(t, t.TempDir(), "app_de.ts")

	err := runTranslate(context.Background(), defaultArgs(path))
	if !errors.Is(err, config.ErrNotFound) {
		t.Fatalf("err = %v, want config.ErrNotFound", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != sampleTS {
		t.Error("file was modified despite the missing config")
	}
}

func TestRunTranslate_BadArguments(t *testing.T) {
	quietStderr(t)
	path := writeTS(t, t.TempDir(), "app_de.ts")

	a := defaultArgs(path)
	a.fallbackPolicy = "drop"
	if err := runTranslate(context.Background(), a); err == nil {
		t.Error("expected error for unknown fallback policy")
	}

	a = defaultArgs(path)
	a.batchSize = 0
	if err := runTranslate(context.Background(), a); err == nil {
		t.Error("expected error for zero batch size")
	}

	a = defaultArgs(filepath.Join(t.TempDir(), "missing"))
	if err := runTranslate(context.Background(), a); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want not-exist", err)
	}
}

func TestRunTranslate_DryRunWritesReport(t *testing.T) {
	log := quietStderr(t)
	dir := t.TempDir()
	path := writeTS(t, dir, "app_de.ts")

	a := defaultArgs(dir)
	a.configPath = filepath.Join(dir, "absent.json")
	a.dryRun = true
	a.report = filepath.Join(dir, "report.yaml")
	if err := runTranslate(context.Background(), a); err != nil {
		t.Fatalf("runTranslate: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != sampleTS {
		t.Error("dry run modified the file")
	}
	rep, err := os.ReadFile(a.report)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	for _, want := range []string{"status: dry-run", "units: 2", "processed_files: 1", "translated_files: 0", "dry_run_files: 1"} {
		if !strings.Contains(string(rep), want) {
			t.Errorf("report missing %q:\n%s", want, rep)
		}
	}
	if !strings.Contains(log.String(), "Summary") {
		t.Errorf("summary not printed:\n%s", log.String())
	}
}

var numberedLine = regexp.MustCompile(`(?m)^\d+\. (.*)$`)

func TestRunTranslate_EndToEnd(t *testing.T) {
	quietStderr(t)

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Model != "test-model" {
			t.Errorf("model = %q", req.Model)
		}
		var pairs []map[string]string
		for _, m := range numberedLine.FindAllStringSubmatch(req.Messages[len(req.Messages)-1].Content, -1) {
			pairs = append(pairs, map[string]string{"source": m[1], "translation": "DE:" + m[1]})
		}
		content, _ := json.Marshal(pairs)
		resp, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": string(content)}}},
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(resp)
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := writeTS(t, dir, "app_de.ts")
	cfgPath := filepath.Join(dir, config.DefaultFileName)
	cfg := fmt.Sprintf(`{"api_url": %q, "api_key": "sk-test", "model": "test-model"}`, srv.URL)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvAPIKey, "")
	t.Setenv(config.EnvAPIURL, "")
	t.Setenv(config.EnvModel, "")

	a := defaultArgs(path)
	a.configPath = cfgPath
	a.timeout = 5 * time.Second
	if err := runTranslate(context.Background(), a); err != nil {
		t.Fatalf("runTranslate: %v", err)
	}
	if calls != 1 {
		t.Errorf("service calls = %d, want 1", calls)
	}

	data, _ := os.ReadFile(path)
	got := string(data)
	for _, want := range []string{
		"<translation>DE:Open file</translation>",
		"<translation>DE:Save &amp; close</translation>",
		"<translation>Beenden</translation>",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("patched file missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, `type="unfinished"`) {
		t.Errorf("unfinished markers remain:\n%s", got)
	}
}

// ---------------------------------------------------------------------------
// Output helpers
// ---------------------------------------------------------------------------

func TestPrintSummary(t *testing.T) {
	rep := &runner.Report{
		ProcessedFiles:  3,
		TranslatedFiles: 1,
		SkippedFiles:    1,
		FailedFiles:     1,
		TotalStrings:    4,
		FallbackUnits:   2,
		Files: []runner.FileReport{
			{Path: "/x/app_de.ts", Language: "de", Strategy: "structured", Status: runner.StatusTranslated, Units: 4, Translated: 4, Fallback: 2},
			{Path: "/x/app_fr.ts", Language: "fr", Status: runner.StatusSkipped},
			{Path: "/x/app_ru.ts", Language: "ru", Status: runner.StatusFailed, Error: "extracting units: boom"},
		},
	}
	var buf bytes.Buffer
	printSummary(&buf, rep)
	out := buf.String()

	for _, want := range []string{
		"app_de.ts [German (Deutsch), structured]: 4/4",
		"2 kept source text",
		"app_fr.ts: nothing to translate",
		"app_ru.ts: extracting units: boom",
		"Processed files:",
		"Failed files:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		format  string
		want    zerolog.Level
	}{
		{"console default", false, "console", zerolog.WarnLevel},
		{"json default", false, "json", zerolog.InfoLevel},
		{"verbose", true, "console", zerolog.DebugLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := newLogger(io.Discard, tt.verbose, tt.format).GetLevel(); got != tt.want {
				t.Errorf("level = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, false, "json")
	logger.Info().Str("file", "a.ts").Msg("done")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("not JSON: %q", buf.String())
	}
	if entry["file"] != "a.ts" || entry["message"] != "done" {
		t.Errorf("entry = %v", entry)
	}
}
