// Package cli implements the autodoc command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dani-farcas/autoDocOrganizer/internal/app"
	"github.com/dani-farcas/autoDocOrganizer/internal/config"
)

var Version = "dev"

type options struct {
	configPath string
	dataDir    string
	jsonOutput bool
	verbose    bool
}

// NewRootCommand builds the autodoc command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "autodoc",
		Short: "Files scanned letters into a year/institution archive",
		Long: `autodoc reads scanned documents, works out which institution sent them
and files them under <archive>/<year>/<institution>/, keeping a searchable
index of everything archived.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file")
	root.PersistentFlags().StringVar(&opts.dataDir, "data", "", "Path to data directory")
	root.PersistentFlags().BoolVarP(&opts.jsonOutput, "json", "j", false, "Output as JSON")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug output")

	root.AddCommand(
		newServeCommand(opts),
		newWatchCommand(opts),
		newRunCommand(opts),
		newImportCommand(opts),
		newSearchCommand(opts),
		newReindexCommand(opts),
		newMigrateCommand(opts),
		newTranslateCommand(opts),
		newExplainCommand(opts),
		newHistoryCommand(opts),
		newStatusCommand(opts),
		newDoctorCommand(opts),
		newVersionCommand(opts),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (o *options) loadConfig() (*config.Config, error) {
	return config.Load(o.configPath, o.dataDir)
}

// loadApp loads the configuration and initializes every component. The
// caller closes the returned App.
func (o *options) loadApp(adjust ...func(*config.Config)) (*app.App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	for _, fn := range adjust {
		fn(cfg)
	}

	logger, err := newLogger(cfg.Log, o.verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	application := app.New(cfg, logger, Version)
	if err := application.Init(); err != nil {
		application.Close()
		return nil, err
	}
	return application, nil
}

func newLogger(cfg config.LogConfig, verbose bool) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("log.level: %w", err)
		}
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
