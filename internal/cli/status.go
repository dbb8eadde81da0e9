package cli

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/dani-farcas/autoDocOrganizer/internal/config"
	"github.com/dani-farcas/autoDocOrganizer/internal/index"
)

func newVersionCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{"version": Version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "autodoc version %s\n", Version)
			return nil
		},
	}
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func printStatus(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "AutoDocOrganizer Status")
	fmt.Fprintln(w, "=======================")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Version: %s\n", Version)
	fmt.Fprintf(w, "Data:    %s\n", cfg.Storage.DataDir)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Archive:")
	fmt.Fprintf(w, "  Root:         %s\n", cfg.Archive.Root)
	fmt.Fprintf(w, "  Inbox:        %s\n", cfg.Archive.InboxDir)
	fmt.Fprintf(w, "  Index:        %s\n", cfg.Archive.IndexFile)
	fmt.Fprintf(w, "  Institutions: %s (%s)\n", cfg.Archive.InstitutionBackend, institutionsPath(cfg))
	fmt.Fprintf(w, "  Year:         %s\n", yearSource(cfg.Archive.YearFromContent))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Server:")
	fmt.Fprintf(w, "  Address: %s\n", cfg.ServerAddr())
	fmt.Fprintf(w, "  URL:     http://localhost:%d\n", cfg.Server.Port)
	fmt.Fprintf(w, "  Auth:    %s\n", enabledStatus(cfg.Security.AdminPassword != ""))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Services:")
	fmt.Fprintf(w, "  Translate: %s\n", keyStatus(cfg.Translate.APIKey))
	fmt.Fprintf(w, "  Explain:   %s\n", keyStatus(cfg.Explain.APIKey))
	fmt.Fprintf(w, "  Watcher:   %s\n", enabledStatus(cfg.Watcher.Enabled))
	fmt.Fprintf(w, "  Scheduler: %s\n", enabledStatus(cfg.Scheduler.Enabled))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'autodoc doctor' for diagnostics")
}

func newDoctorCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration and the OCR tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "AutoDocOrganizer Diagnostics")
			fmt.Fprintln(w, "============================")
			fmt.Fprintln(w)

			cfg, err := opts.loadConfig()
			if err != nil {
				fmt.Fprintln(w, "❌ Config: Error loading configuration")
				fmt.Fprintf(w, "   %v\n", err)
				return fmt.Errorf("configuration is invalid")
			}
			fmt.Fprintln(w, "✅ Config: Loaded successfully")

			issues := runChecks(w, cfg, exec.LookPath)

			fmt.Fprintln(w)
			if issues == 0 {
				fmt.Fprintln(w, "✅ All checks passed!")
				return nil
			}
			fmt.Fprintf(w, "⚠️  Found %d issue(s).\n", issues)
			return nil
		},
	}
}

// runChecks prints one line per check and returns the number of problems.
func runChecks(w io.Writer, cfg *config.Config, lookPath func(string) (string, error)) int {
	issues := 0

	for _, dir := range []struct{ name, path string }{
		{"Archive root", cfg.Archive.Root},
		{"Inbox", cfg.Archive.InboxDir},
		{"Data directory", cfg.Storage.DataDir},
	} {
		if info, err := os.Stat(dir.path); err != nil || !info.IsDir() {
			fmt.Fprintf(w, "⚠️  %s: %s does not exist (created on first run)\n", dir.name, dir.path)
			issues++
		} else {
			fmt.Fprintf(w, "✅ %s: %s\n", dir.name, dir.path)
		}
	}

	if _, err := os.Stat(cfg.Archive.IndexFile); err == nil {
		recs, err := index.NewStore(cfg.Archive.IndexFile).ReadAll()
		if err != nil {
			fmt.Fprintf(w, "❌ Index: %v\n", err)
			issues++
		} else {
			fmt.Fprintf(w, "✅ Index: %d document(s)\n", len(recs))
		}
	} else {
		fmt.Fprintln(w, "✅ Index: empty")
	}

	for _, tool := range []struct{ name, path, hint string }{
		{"tesseract", cfg.OCR.TesseractPath, "sudo apt-get install tesseract-ocr tesseract-ocr-deu"},
		{"pdftoppm", cfg.OCR.PdftoppmPath, "sudo apt-get install poppler-utils"},
		{"pdftotext", cfg.OCR.PdftotextPath, "sudo apt-get install poppler-utils"},
	} {
		path := tool.path
		if path == "" {
			path = tool.name
		}
		if found, err := lookPath(path); err != nil {
			fmt.Fprintf(w, "❌ %s: Not found\n", tool.name)
			fmt.Fprintf(w, "   Install: %s\n", tool.hint)
			issues++
		} else {
			fmt.Fprintf(w, "✅ %s: %s\n", tool.name, found)
		}
	}

	if cfg.Translate.APIKey == "" {
		fmt.Fprintln(w, "⚠️  Translate: No API key (set DEEPL_API_KEY)")
	} else {
		fmt.Fprintf(w, "✅ Translate: %s\n", maskToken(cfg.Translate.APIKey))
	}
	if cfg.Explain.APIKey == "" {
		fmt.Fprintln(w, "⚠️  Explain: No API key (set GEMINI_API_KEY)")
	} else {
		fmt.Fprintf(w, "✅ Explain: %s\n", maskToken(cfg.Explain.APIKey))
	}

	return issues
}

func institutionsPath(cfg *config.Config) string {
	if cfg.Archive.InstitutionBackend == "badger" {
		return cfg.Archive.BadgerDir
	}
	return cfg.Archive.InstitutionsFile
}

func yearSource(fromContent bool) string {
	if fromContent {
		return "from document text, else processing date"
	}
	return "processing date"
}

func enabledStatus(enabled bool) string {
	if enabled {
		return "✅ enabled"
	}
	return "❌ disabled"
}

func keyStatus(key string) string {
	if key == "" {
		return "❌ not configured"
	}
	return "✅ " + maskToken(key)
}

func maskToken(token string) string {
	if len(token) < 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
