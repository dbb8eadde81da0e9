package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dani-farcas/autoDocOrganizer/internal/app"
	"github.com/dani-farcas/autoDocOrganizer/internal/index"
	"github.com/dani-farcas/autoDocOrganizer/internal/pipeline"

	apperrors "github.com/dani-farcas/autoDocOrganizer/internal/errors"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func newSearchCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "search [QUERY]",
		Short: "Search the index by file name, institution or year",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			recs, err := index.NewStore(cfg.Archive.IndexFile).Search(strings.Join(args, " "))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(w, recs)
			}
			if len(recs) == 0 {
				fmt.Fprintln(w, "No documents found.")
				return nil
			}
			printRecords(w, recs)
			return nil
		},
	}
}

func printRecords(w io.Writer, recs []index.Record) {
	headers := []string{index.ColYear, index.ColInstitution, index.ColFilename, index.ColPath}
	rows := make([][]string, len(recs))
	for i, r := range recs {
		rows[i] = []string{r.Year, r.Institution, r.Filename, r.Path}
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if n := lipgloss.Width(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	cells := make([]string, len(headers))
	for i, h := range headers {
		cells[i] = headerStyle.Render(pad(h, widths[i]))
	}
	fmt.Fprintln(w, strings.Join(cells, "  "))
	for _, row := range rows {
		for i, cell := range row {
			cells[i] = pad(cell, widths[i])
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%d document(s)", len(recs))))
}

func pad(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func newTranslateCommand(opts *options) *cobra.Command {
	var (
		lang string
		save bool
	)
	cmd := &cobra.Command{
		Use:   "translate FILE",
		Short: "Translate the text of a document",
		Long: `Translate the recognised text of FILE. FILE is a path on disk or a path
relative to the archive root. With --save the translation is stored next to
the document as <name>_übersetzt_<LANG>.txt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := opts.loadApp()
			if err != nil {
				return err
			}
			defer application.Close()

			if application.Translator == nil {
				return apperrors.ErrNotConfigured.WithMessage("translation is not configured")
			}
			path, text, err := documentText(cmd, application, args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if save {
				doc := &pipeline.ArchivedDocument{FinalPath: path, Text: text}
				out, err := pipeline.WriteTranslation(cmd.Context(), application.Translator, doc, lang)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(w, map[string]string{"file": path, "translation_file": out})
				}
				fmt.Fprintf(w, "✓ Translation saved to: %s\n", out)
				return nil
			}

			translated, err := application.Translator.Translate(cmd.Context(), text, lang)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(w, map[string]string{"file": path, "lang": lang, "translation": translated})
			}
			fmt.Fprintln(w, translated)
			return nil
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "EN-US", "Target language")
	cmd.Flags().BoolVar(&save, "save", false, "Store the translation next to the document")
	return cmd
}

func newExplainCommand(opts *options) *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "explain FILE",
		Short: "Explain a document in plain language",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := opts.loadApp()
			if err != nil {
				return err
			}
			defer application.Close()

			if application.Explainer == nil {
				return apperrors.ErrNotConfigured.WithMessage("explanations are not configured")
			}
			path, text, err := documentText(cmd, application, args[0])
			if err != nil {
				return err
			}

			explanation, err := application.Explainer.Explain(cmd.Context(), text, lang)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(w, map[string]string{"file": path, "lang": lang, "explanation": explanation})
			}
			fmt.Fprint(w, renderMarkdown(w, explanation))
			return nil
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "DE", "Language of the explanation")
	return cmd
}

// documentText finds arg on disk, falling back to the archive root, and
// returns its path and recognised text.
func documentText(cmd *cobra.Command, application *app.App, arg string) (string, string, error) {
	path := arg
	if info, err := os.Stat(arg); err != nil || info.IsDir() {
		sp, err := application.Tree.File(filepath.ToSlash(arg))
		if err != nil {
			return "", "", err
		}
		path = sp.Path()
	}

	text := application.Extractor.Extract(cmd.Context(), path)
	if strings.TrimSpace(text) == "" {
		return "", "", apperrors.ErrNoText.WithMessage("no text recognised in %s", filepath.Base(path))
	}
	return path, text, nil
}

// renderMarkdown styles md for the terminal. Output that is not a terminal
// gets md unchanged.
func renderMarkdown(w io.Writer, md string) string {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return ensureNewline(md)
	}
	out, err := glamour.Render(md, "auto")
	if err != nil {
		return ensureNewline(md)
	}
	return out
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
