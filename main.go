// qtlokit translates unfinished strings in Qt Linguist .ts files with an
// OpenAI-compatible chat completions service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/minios-linux/qtlokit/config"
	"github.com/minios-linux/qtlokit/i18n"
	"github.com/minios-linux/qtlokit/langmeta"
	"github.com/minios-linux/qtlokit/runner"
	"github.com/minios-linux/qtlokit/translate"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.Bold, color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.Bold, color.FgCyan).SprintFunc()
)

// stderr is where status lines go. Tests replace it.
var stderr io.Writer = color.Error

func logInfo(format string, args ...any) {
	fmt.Fprintf(stderr, blue("[INFO]")+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(stderr, green("[OK]")+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(stderr, yellow("[WARN]")+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(stderr, red("[ERROR]")+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Global flags
// ---------------------------------------------------------------------------

var (
	verbose   bool
	logFormat string
)

// newLogger builds the structured logger. Console output shows warnings and
// errors only, unless --verbose asks for debug detail; JSON output starts at
// info so it can be collected.
func newLogger(w io.Writer, verbose bool, format string) zerolog.Logger {
	level := zerolog.WarnLevel
	if format == "json" {
		level = zerolog.InfoLevel
	} else {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "qtlokit",
		Short: i18n.T("Translate unfinished strings in Qt .ts files with AI"),
		Long: `qtlokit translates unfinished strings in Qt Linguist .ts files.

Units marked <translation type="unfinished"> are sent in batches to an
OpenAI-compatible chat completions endpoint and written back in place. Every
byte outside the translated elements is preserved.

Commands:
  translate   Translate a .ts file or a directory of .ts files
  version     Show version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, i18n.T("Enable debug logging"))
	root.PersistentFlags().StringVar(&logFormat, "log-format", "console", i18n.T("Log format: console or json"))
	_ = root.RegisterFlagCompletionFunc("log-format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"console", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(
		newTranslateCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	i18n.Init("")
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: i18n.T("Show version information"),
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "qtlokit version %s\n", version)
			fmt.Fprintf(out, "  commit:    %s\n", commit)
			fmt.Fprintf(out, "  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// translate
// ---------------------------------------------------------------------------

type translateArgs struct {
	path           string
	configPath     string
	batchSize      int
	maxWorkers     int
	maxRetries     int
	timeout        time.Duration
	report         string
	dryRun         bool
	fallbackPolicy string
}

func newTranslateCmd() *cobra.Command {
	var a translateArgs

	cmd := &cobra.Command{
		Use:   "translate PATH",
		Short: i18n.T("Translate a .ts file or a directory of .ts files"),
		Long: `Translate unfinished units of a Qt .ts file, or of every .ts file directly
inside a directory. In directory mode English source files (*_en.ts, *_en_*)
are skipped, except zh_CN variants.

The target language comes from the file name: app_de.ts -> de,
app_zh_CN.ts -> zh_CN. Files without a language suffix keep their source text.

Examples:
  # Translate one file
  qtlokit translate i18n/app_de.ts

  # Translate a directory with smaller batches and more workers
  qtlokit translate i18n/ --batch-size 10 --max-workers 5

  # Show what would be translated
  qtlokit translate i18n/ --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.path = args[0]
			return runTranslate(cmd.Context(), a)
		},
	}

	cmd.Flags().StringVarP(&a.configPath, "config", "c", config.DefaultFileName, i18n.T("Service configuration file (JSON or YAML)"))
	cmd.Flags().IntVar(&a.batchSize, "batch-size", translate.DefaultBatchSize, i18n.T("Units per request"))
	cmd.Flags().IntVar(&a.maxWorkers, "max-workers", translate.DefaultMaxWorkers, i18n.T("Concurrent requests per file"))
	cmd.Flags().IntVar(&a.maxRetries, "max-retries", translate.DefaultMaxRetries, i18n.T("Attempts per batch before keeping the source text"))
	cmd.Flags().DurationVar(&a.timeout, "timeout", 0, i18n.T("Request timeout (0 = from config)"))
	cmd.Flags().StringVar(&a.report, "report", "", i18n.T("Write the run summary as YAML to this file"))
	cmd.Flags().BoolVar(&a.dryRun, "dry-run", false, i18n.T("Only list unfinished units; do not translate or write"))
	cmd.Flags().StringVar(&a.fallbackPolicy, "fallback-policy", string(runner.PolicyMarkFinished),
		i18n.T("What to do with units that could not be translated: mark-finished or keep-unfinished"))

	_ = cmd.RegisterFlagCompletionFunc("fallback-policy", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{
			string(runner.PolicyMarkFinished) + "\tWrite the source text as a finished translation",
			string(runner.PolicyKeepUnfinished) + "\tLeave the unit for a later run",
		}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func runTranslate(ctx context.Context, a translateArgs) error {
	if ctx == nil {
		ctx = context.Background()
	}
	policy, err := runner.ParsePolicy(a.fallbackPolicy)
	if err != nil {
		return err
	}
	if a.batchSize < 1 || a.maxWorkers < 1 || a.maxRetries < 1 {
		return errors.New(i18n.T("--batch-size, --max-workers and --max-retries must be at least 1"))
	}
	if _, err := os.Stat(a.path); err != nil {
		return err
	}

	logger := newLogger(os.Stderr, verbose, logFormat)

	var client *translate.Client
	if !a.dryRun {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		sc := cfg.ServiceConfig()
		if a.timeout > 0 {
			sc.Timeout = a.timeout
		}
		client = &translate.Client{
			Service:    translate.NewHTTPService(sc),
			MaxRetries: a.maxRetries,
			Logger:     logger,
		}
		logInfo(i18n.T("Service: %s (model %s)"), cfg.APIURL, cfg.Model)
	}

	r := runner.New(client, logger)
	r.BatchSize = a.batchSize
	r.MaxWorkers = a.maxWorkers
	r.Policy = policy
	r.DryRun = a.dryRun
	attachProgress(r, logFormat != "json")

	logInfo(i18n.T("Run %s: batch size %d, %d workers, fallback policy %s"), r.RunID, a.batchSize, a.maxWorkers, policy)

	rep, err := r.ProcessPath(ctx, a.path)
	if err != nil {
		return err
	}

	printSummary(stderr, rep)

	if a.report != "" {
		if err := writeReport(a.report, rep); err != nil {
			return err
		}
		logSuccess(i18n.T("Report written to %s"), a.report)
	}
	return nil
}

// attachProgress shows one progress bar per file, advanced as batches finish.
func attachProgress(r *runner.Runner, show bool) {
	var bar *progressbar.ProgressBar
	r.OnFileStart = func(path string, units, batches int) {
		logInfo(i18n.N("%s: %d string in %d batch(es)", "%s: %d strings in %d batch(es)", units),
			filepath.Base(path), units, batches)
		if !show {
			return
		}
		bar = progressbar.NewOptions(batches,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%s[reset]", filepath.Base(path))),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionClearOnFinish(),
		)
	}
	r.OnProgress = func(path string, done, total int) {
		if bar == nil {
			return
		}
		_ = bar.Set(done)
		if done == total {
			_ = bar.Finish()
			bar = nil
		}
	}
}

// printSummary writes the per-file results and the run totals.
func printSummary(w io.Writer, rep *runner.Report) {
	fmt.Fprintln(w)
	for _, f := range rep.Files {
		name := filepath.Base(f.Path)
		switch f.Status {
		case runner.StatusFailed:
			fmt.Fprintf(w, "  %s %s: %s\n", red("✗"), name, f.Error)
		case runner.StatusSkipped:
			fmt.Fprintf(w, "  %s %s: %s\n", yellow("-"), name, i18n.T("nothing to translate"))
		default:
			line := fmt.Sprintf("%d/%d", f.Translated, f.Units)
			if f.Status == runner.StatusDryRun {
				line = fmt.Sprintf(i18n.N("%d unit", "%d units", f.Units), f.Units)
			}
			fmt.Fprintf(w, "  %s %s [%s, %s]: %s\n", green("✓"), name, langmeta.DisplayName(f.Language), f.Strategy, line)
			if f.Fallback > 0 {
				fmt.Fprintf(w, "      %s\n", yellow(fmt.Sprintf(i18n.T("%d kept source text"), f.Fallback)))
			}
			if f.PatchSkipped > 0 {
				fmt.Fprintf(w, "      %s\n", yellow(fmt.Sprintf(i18n.T("%d not patched (markup changed)"), f.PatchSkipped)))
			}
		}
	}

	fmt.Fprintf(w, "\n%s\n", cyan(i18n.T("Summary")))
	row := func(label string, value any) {
		fmt.Fprintf(w, "  %-24s %v\n", label, value)
	}
	row(i18n.T("Processed files:"), rep.ProcessedFiles)
	row(i18n.T("Translated files:"), rep.TranslatedFiles)
	if rep.DryRunFiles > 0 {
		row(i18n.T("Dry-run files:"), rep.DryRunFiles)
	}
	row(i18n.T("Skipped files:"), rep.SkippedFiles)
	row(i18n.T("Failed files:"), rep.FailedFiles)
	row(i18n.T("Total strings:"), rep.TotalStrings)
	row(i18n.T("Fallback units:"), rep.FallbackUnits)
	row(i18n.T("Unpatched units:"), rep.PatchSkippedUnits)
	row(i18n.T("Elapsed:"), rep.Elapsed.Round(time.Millisecond))
	row(i18n.T("Strings per second:"), fmt.Sprintf("%.2f", rep.StringsPerSecond))

	if rep.ProcessedFiles == 0 {
		logWarning("%s", i18n.T("No .ts files found"))
	}
}

func writeReport(path string, rep *runner.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	if err := rep.WriteYAML(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
