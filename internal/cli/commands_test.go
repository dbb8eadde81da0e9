package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dani-farcas/autoDocOrganizer/internal/config"
	"github.com/dani-farcas/autoDocOrganizer/internal/index"

	apperrors "github.com/dani-farcas/autoDocOrganizer/internal/errors"
)

type env struct {
	root    string
	dataDir string
	config  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	for _, k := range []string{
		"AUTODOC_ARCHIVE_ROOT", "AUTODOC_ARCHIVE_INBOX_DIR", "AUTODOC_SERVER_PORT",
		"AUTODOC_TRANSLATE_API_KEY", "AUTODOC_EXPLAIN_API_KEY", "AUTODOC_ARCHIVE_INSTITUTION_BACKEND",
		"DEEPL_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "SCANS_INBOX", "TESSERACT_CMD",
		"AUTODOC_SECURITY_ADMIN_PASSWORD", "AUTODOC_ADMIN_PASSWORD",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	e := &env{root: t.TempDir(), dataDir: t.TempDir()}
	e.config = filepath.Join(e.dataDir, "autodoc.yaml")
	yaml := "archive:\n  root: " + e.root + "\nlog:\n  level: error\n  development: false\n"
	require.NoError(t, os.WriteFile(e.config, []byte(yaml), 0o644))
	return e
}

func (e *env) run(args ...string) (string, error) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--config", e.config, "--data", e.dataDir}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		token    string
		expected string
	}{
		{"1234567890", "1234...7890"},
		{"1234567890abcdef", "1234...cdef"},
		{"short", "***"},
		{"", "***"},
		{"1234567", "***"},
		{"sk-1234567890abcdef", "sk-1...cdef"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, maskToken(tt.token), "maskToken(%q)", tt.token)
	}
}

func TestEnabledStatus(t *testing.T) {
	assert.Equal(t, "✅ enabled", enabledStatus(true))
	assert.Equal(t, "❌ disabled", enabledStatus(false))
	assert.Equal(t, "❌ not configured", keyStatus(""))
	assert.Equal(t, "✅ abcd...wxyz", keyStatus("abcdefghwxyz"))
}

func TestVersionCommand(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("version")
	require.NoError(t, err)
	assert.Equal(t, "autodoc version "+Version+"\n", out)

	out, err = e.run("--json", "version")
	require.NoError(t, err)
	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, Version, v["version"])
}

func TestImportThenSearch(t *testing.T) {
	e := newEnv(t)
	src := writeFile(t, filepath.Join(t.TempDir(), "brief.txt"), "Jobcenter Berlin Mitte\nEinladung zum Termin")

	out, err := e.run("import", src)
	require.NoError(t, err)
	assert.Contains(t, out, "Archived:  1")

	year := strconv.Itoa(time.Now().Year())
	assert.FileExists(t, filepath.Join(e.root, year, "Jobcenter", "brief.txt"))
	assert.NoFileExists(t, src)

	out, err = e.run("--json", "search", "jobcenter")
	require.NoError(t, err)
	var recs []index.Record
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "brief.txt", recs[0].Filename)
	assert.Equal(t, year, recs[0].Year)

	out, err = e.run("search", "nothing-matches")
	require.NoError(t, err)
	assert.Equal(t, "No documents found.\n", out)

	out, err = e.run("--json", "history")
	require.NoError(t, err)
	var hist struct {
		Runs []struct {
			Trigger string `json:"trigger"`
			Status  string `json:"status"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &hist))
	require.Len(t, hist.Runs, 1)
	assert.Equal(t, "import", hist.Runs[0].Trigger)
	assert.Equal(t, "archived", hist.Runs[0].Status)
}

func TestImport_YearFromContent(t *testing.T) {
	e := newEnv(t)
	src := writeFile(t, filepath.Join(t.TempDir(), "steuer.txt"), "Finanzamt Köln\nBescheid für 2019")

	_, err := e.run("import", "--year-from-content", src)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(e.root, "2019", "Finanzamt", "steuer.txt"))
}

func TestImport_MissingFile(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("import", filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1")
	assert.Contains(t, out, "fail  missing.pdf")
}

func TestImport_WritesResultFile(t *testing.T) {
	e := newEnv(t)
	src := writeFile(t, filepath.Join(t.TempDir(), "a.txt"), "Sparkasse KölnBonn")
	output := filepath.Join(t.TempDir(), "result.json")

	_, err := e.run("import", "-o", output, src)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var result struct {
		Total   int `json:"total"`
		Success int `json:"success"`
	}
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Success)
}

func TestRun_EmptyInbox(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("run")
	require.NoError(t, err)
	assert.Equal(t, "Nothing to archive.\n", out)
	assert.DirExists(t, filepath.Join(e.root, "ScansInbox"))
}

func TestRun_ArchivesInbox(t *testing.T) {
	e := newEnv(t)
	writeFile(t, filepath.Join(e.root, "ScansInbox", "rechnung.txt"), "Stadtwerke München\nJahresabrechnung")
	writeFile(t, filepath.Join(e.root, "ScansInbox", ".hidden"), "skip me")

	out, err := e.run("run")
	require.NoError(t, err)
	assert.Contains(t, out, "Total:     1")

	year := strconv.Itoa(time.Now().Year())
	assert.FileExists(t, filepath.Join(e.root, year, "Stadtwerke", "rechnung.txt"))
	assert.FileExists(t, filepath.Join(e.root, "ScansInbox", ".hidden"))
}

func TestRun_TranslateNeedsKey(t *testing.T) {
	e := newEnv(t)

	_, err := e.run("run", "--translate", "EN")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotConfigured))
}

func TestReindexAndMigrate(t *testing.T) {
	e := newEnv(t)
	writeFile(t, filepath.Join(e.root, "2023", "AOK", "beitrag.pdf"), "%PDF")
	writeFile(t, filepath.Join(e.root, "0007", "alt.pdf"), "%PDF")

	out, err := e.run("migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Moved files:    1")
	assert.NoDirExists(t, filepath.Join(e.root, "0007"))

	out, err = e.run("--json", "reindex")
	require.NoError(t, err)
	var result struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.Total)

	out, err = e.run("migrate")
	require.NoError(t, err)
	assert.Equal(t, "No legacy folders found.\n", out)
}

func TestTranslateAndExplain_NotConfigured(t *testing.T) {
	e := newEnv(t)
	src := writeFile(t, filepath.Join(t.TempDir(), "a.txt"), "Text")

	for _, cmd := range []string{"translate", "explain"} {
		_, err := e.run(cmd, src)
		require.Error(t, err, cmd)
		assert.True(t, errors.Is(err, apperrors.ErrNotConfigured), cmd)
	}
}

func TestStatusCommand(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "Root:         "+e.root)
	assert.Contains(t, out, "Translate: ❌ not configured")
}

func TestRunChecks(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{}
	cfg.Archive.Root = root
	cfg.Archive.InboxDir = filepath.Join(root, "ScansInbox")
	cfg.Archive.IndexFile = filepath.Join(root, "index.csv")
	cfg.Storage.DataDir = root
	cfg.Translate.APIKey = "deepl-secret-key"

	found := func(name string) (string, error) { return "/usr/bin/" + name, nil }
	missing := func(name string) (string, error) { return "", errors.New("not found") }

	var out bytes.Buffer
	assert.Equal(t, 1, runChecks(&out, cfg, found))
	assert.Contains(t, out.String(), "Inbox: "+cfg.Archive.InboxDir+" does not exist")
	assert.Contains(t, out.String(), "✅ tesseract: /usr/bin/tesseract")
	assert.Contains(t, out.String(), "✅ Translate: deep...-key")

	require.NoError(t, os.MkdirAll(cfg.Archive.InboxDir, 0o755))
	out.Reset()
	assert.Equal(t, 3, runChecks(&out, cfg, missing))
	assert.Contains(t, out.String(), "❌ pdftotext: Not found")
}

func TestPrintRecords(t *testing.T) {
	var out bytes.Buffer
	printRecords(&out, []index.Record{
		{Filename: "a.pdf", Year: "2024", Institution: "AOK", Path: "2024/AOK/a.pdf"},
		{Filename: "bescheid.pdf", Year: "2023", Institution: "Bundesagentur für Arbeit", Path: "2023/Bundesagentur für Arbeit/bescheid.pdf"},
	})

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], index.ColInstitution)
	assert.True(t, strings.HasPrefix(lines[1], "2024  AOK "))
	assert.Contains(t, lines[2], "Bundesagentur für Arbeit  bescheid.pdf")
	assert.Contains(t, lines[3], "2 document(s)")
}
