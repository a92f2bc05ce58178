package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rostertrack/internal/app"
	"github.com/JakeFAU/rostertrack/internal/config"
	"github.com/JakeFAU/rostertrack/internal/tracker"
)

func rosterHTML(names ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><h1 class="plain">Graduate Students</h1><ul class="students">`)
	for _, n := range names {
		b.WriteString("<li>" + n + "</li>")
	}
	b.WriteString("</ul></body></html>")
	return b.String()
}

// newSite serves a live roster, one archived capture of it and a timemap listing that capture.
func newSite(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/timemap/"):
			fmt.Fprintf(w, "<%s/people>; rel=\"original\",\n<%s/web/20200101000000/%s/people>; rel=\"memento\"; datetime=\"Wed, 01 Jan 2020 00:00:00 GMT\",\n",
				srv.URL, srv.URL, srv.URL)
		case strings.HasPrefix(r.URL.Path, "/web/"):
			_, _ = w.Write([]byte(rosterHTML("Alice Smith")))
		case r.URL.Path == "/people":
			_, _ = w.Write([]byte(rosterHTML("Alice Smith", "Bob Lee")))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, srv.URL + "/people"
}

func writeConfig(t *testing.T, srv *httptest.Server, programs string) string {
	t.Helper()
	dir := t.TempDir()
	programsPath := filepath.Join(dir, "programs.csv")
	require.NoError(t, os.WriteFile(programsPath, []byte(programs), 0o600))
	cfgPath := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`archive:
  timemap_endpoint: %s/timemap/
  max_attempts: 1
crawler:
  rps: 0
pagination:
  max_pages: 3
generator:
  enabled: false
storage:
  backend: memory
logging:
  level: error
programs_file: %s
`, srv.URL, programsPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath
}

// withRule makes every app built during the test carry a rule for site.
func withRule(t *testing.T, site tracker.SiteID) {
	t.Helper()
	previous := newApp
	newApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
		a, err := previous(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := a.Registry.Put(ctx, site, []byte("name: ul.students li\n")); err != nil {
			return nil, err
		}
		return a, nil
	}
	t.Cleanup(func() { newApp = previous })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, closeApp := newRootCmd()
	defer closeApp()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// Tests below swap the package-level factory, so they do not run in parallel.

func TestRunDryRunPrintsSummaries(t *testing.T) {
	srv, base := newSite(t)
	withRule(t, tracker.SiteIDFromURL(base))
	cfgPath := writeConfig(t, srv, base+",,Example U\n")

	out, err := execute(t, "run", "--config", cfgPath, "--dry-run")
	require.NoError(t, err)

	var reports []programReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	r := reports[0]
	assert.Empty(t, r.Error)
	assert.Equal(t, 2, r.Snapshots)
	assert.Equal(t, 2, r.People)
	assert.False(t, r.Written)
	require.Len(t, r.Summaries, 2)

	alice := r.Summaries[0]
	assert.Equal(t, "Alice Smith", alice.Name)
	assert.Equal(t, "Example U", alice.University)
	assert.Equal(t, "2020-01-01", alice.StartDate.String())
	assert.True(t, alice.Active)
	assert.Len(t, alice.Snapshots, 2)
}

func TestRunWritesDataset(t *testing.T) {
	srv, base := newSite(t)
	withRule(t, tracker.SiteIDFromURL(base))
	cfgPath := writeConfig(t, srv, base+"\n")

	out, err := execute(t, "run", "--config", cfgPath)
	require.NoError(t, err)

	var reports []programReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Written)
	assert.Equal(t, 1, reports[0].Version)
	assert.Empty(t, reports[0].Summaries)
}

func TestRunMissingProgramList(t *testing.T) {
	srv, _ := newSite(t)
	cfgPath := writeConfig(t, srv, "")

	_, err := execute(t, "run", "--config", cfgPath, "--programs", filepath.Join(t.TempDir(), "none.csv"))
	assert.ErrorContains(t, err, "open program list")
}

func TestSnapshotsAndPages(t *testing.T) {
	srv, base := newSite(t)
	cfgPath := writeConfig(t, srv, "")

	out, err := execute(t, "snapshots", "--config", cfgPath, base)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "2020-01-01\t"))
	assert.True(t, strings.HasSuffix(lines[1], "\tlive"))

	out, err = execute(t, "pages", "--config", cfgPath, base)
	require.NoError(t, err)
	assert.Equal(t, base+"\n", out)
}

func TestExtractPrintsNames(t *testing.T) {
	srv, base := newSite(t)
	withRule(t, tracker.SiteIDFromURL(base))
	cfgPath := writeConfig(t, srv, "")

	out, err := execute(t, "extract", "--config", cfgPath, base)
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith\nBob Lee\n", out)
}

func TestGenerateRequiresGenerator(t *testing.T) {
	srv, base := newSite(t)
	cfgPath := writeConfig(t, srv, "")

	_, err := execute(t, "generate", "--config", cfgPath, base)
	assert.ErrorContains(t, err, "rule generation is disabled")
}

func TestCommandsNeedArguments(t *testing.T) {
	srv, _ := newSite(t)
	cfgPath := writeConfig(t, srv, "")

	_, err := execute(t, "snapshots", "--config", cfgPath)
	assert.Error(t, err)
}
