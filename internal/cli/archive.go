package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dani-farcas/autoDocOrganizer/internal/app"
	"github.com/dani-farcas/autoDocOrganizer/internal/config"
	"github.com/dani-farcas/autoDocOrganizer/internal/pipeline"

	apperrors "github.com/dani-farcas/autoDocOrganizer/internal/errors"
)

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the web UI, watch the inbox and run scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := opts.loadApp()
			if err != nil {
				return err
			}
			defer application.Close()

			application.Logger.Info("Starting autodoc", zap.String("version", Version))
			return application.RunServer()
		},
	}
}

func newWatchCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Archive files as they land in the inbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := opts.loadApp()
			if err != nil {
				return err
			}
			defer application.Close()
			return application.RunWatch()
		},
	}
}

type batchFlags struct {
	workers         int
	output          string
	translate       string
	yearFromContent bool
}

func (f *batchFlags) adjust(cfg *config.Config) {
	if f.workers > 0 {
		cfg.Pipeline.Workers = f.workers
	}
	if f.yearFromContent {
		cfg.Archive.YearFromContent = true
	}
}

func (f *batchFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.workers, "concurrency", "c", 0, "Files archived in parallel (default from config)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Write the result as JSON to this file")
	cmd.Flags().StringVar(&f.translate, "translate", "", "Also write a translation into LANG next to each archived file")
	cmd.Flags().BoolVar(&f.yearFromContent, "year-from-content", false, "Take the year from the document text when it names one")
}

func newRunCommand(opts *options) *cobra.Command {
	flags := &batchFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Archive every file currently in the inbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := opts.loadApp(flags.adjust)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			ctx = pipeline.WithTrigger(ctx, pipeline.TriggerRun)
			result, err := application.Archiver.ArchiveInbox(ctx, application.Config.Archive.InboxDir)
			if err != nil {
				return err
			}
			return reportBatch(ctx, cmd.OutOrStdout(), opts, flags, application, result)
		},
	}
	flags.register(cmd)
	return cmd
}

func newImportCommand(opts *options) *cobra.Command {
	flags := &batchFlags{}
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Archive the given files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := opts.loadApp(flags.adjust)
			if err != nil {
				return err
			}
			defer application.Close()

			sources := make([]string, 0, len(args))
			for _, arg := range args {
				abs, err := filepath.Abs(arg)
				if err != nil {
					return err
				}
				sources = append(sources, abs)
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			ctx = pipeline.WithTrigger(ctx, pipeline.TriggerImport)
			result := application.Archiver.ArchiveAll(ctx, sources)
			return reportBatch(ctx, cmd.OutOrStdout(), opts, flags, application, result)
		},
	}
	flags.register(cmd)
	return cmd
}

// reportBatch prints the result, writes the optional translations and JSON
// file, and fails when any file could not be archived.
func reportBatch(ctx context.Context, w io.Writer, opts *options, flags *batchFlags, application *app.App, result *pipeline.BatchResult) error {
	var translated []string
	if flags.translate != "" {
		if application.Translator == nil {
			return apperrors.ErrNotConfigured.WithMessage("translation is not configured")
		}
		for _, item := range result.Items {
			if !item.Success {
				continue
			}
			path, err := pipeline.WriteTranslation(ctx, application.Translator, item.Document, flags.translate)
			if err != nil {
				application.Logger.Warn("Translation failed", zap.String("file", item.Document.RelPath), zap.Error(err))
				continue
			}
			translated = append(translated, path)
		}
	}

	if flags.output != "" {
		data, err := result.ToJSON()
		if err != nil {
			return err
		}
		if err := os.WriteFile(flags.output, []byte(data), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", flags.output, err)
		}
	}

	if opts.jsonOutput {
		if err := printJSON(w, result); err != nil {
			return err
		}
	} else {
		if result.Total == 0 {
			fmt.Fprintln(w, "Nothing to archive.")
		} else {
			fmt.Fprint(w, result.Summary())
		}
		for _, path := range translated {
			fmt.Fprintf(w, "✓ Translation saved to: %s\n", path)
		}
		if flags.output != "" {
			fmt.Fprintf(w, "✓ Results saved to: %s\n", flags.output)
		}
	}

	if result.Failed > 0 {
		return fmt.Errorf("%d of %d file(s) could not be archived", result.Failed, result.Total)
	}
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
