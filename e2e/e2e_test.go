//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/docsync/testutil"
)

var binaryPath string

func TestMain(m *testing.M) {
	tmpDir, err := os.MkdirTemp("", "docsync-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath, err = testutil.BuildBinary(testutil.FindModuleRoot(".."), tmpDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	code := m.Run()

	os.RemoveAll(tmpDir)
	os.Exit(code)
}

// env is one isolated installation: config, credential and ledger under a
// temp dir, pointed at fake services.
type env struct {
	t       *testing.T
	home    string
	cfgPath string
	cred    string
	src     *fakeSource
	idx     *fakeIndex
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		t:    t,
		home: t.TempDir(),
		src:  newFakeSource(t),
		idx:  newFakeIndex(t),
	}

	e.cred = filepath.Join(e.home, "credential.json")
	e.cfgPath = filepath.Join(e.home, "config.toml")

	cfg := fmt.Sprintf(`[source]
base_url = %q
render_url = %q
credential_file = %q

[[root]]
url = "%s/nodes/root-1"

[destination.kb]
base_url = %q
token = "index-token"
dataset_id = "ds-1"

[export]
direct_download_extensions = ["txt"]

[ledger]
backend = "json"
dir = %q
`, e.src.URL(), e.src.URL(), e.cred, e.src.URL(), e.idx.URL(), filepath.Join(e.home, "ledger"))

	require.NoError(t, os.WriteFile(e.cfgPath, []byte(cfg), 0o600))
	e.login()

	return e
}

// login writes a non-expiring credential file.
func (e *env) login() {
	e.t.Helper()

	cred := `{"token":{"access_token":"session-token","token_type":"Bearer"},"meta":{"org_id":"org-1"}}`
	require.NoError(e.t, os.WriteFile(e.cred, []byte(cred), 0o600))
}

// run executes the binary and returns stdout, stderr and the exit code.
func (e *env) run(args ...string) (string, string, int) {
	e.t.Helper()

	cmd := exec.Command(binaryPath, append([]string{"--config", e.cfgPath}, args...)...)
	cmd.Env = []string{"HOME=" + e.home, "PATH=" + os.Getenv("PATH")}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return stdout.String(), stderr.String(), 0
	case errors.As(err, &exitErr):
		return stdout.String(), stderr.String(), exitErr.ExitCode()
	default:
		e.t.Fatalf("running %v: %v", args, err)

		return "", "", -1
	}
}

// runJSON runs a command with --json, requires the given exit code and
// decodes stdout.
func (e *env) runJSON(wantCode int, out any, args ...string) {
	e.t.Helper()

	stdout, stderr, code := e.run(append([]string{"--json"}, args...)...)
	require.Equal(e.t, wantCode, code, "args %v\nstdout: %s\nstderr: %s", args, stdout, stderr)
	require.NoError(e.t, json.Unmarshal([]byte(stdout), out), "stdout: %s", stdout)
}

type syncResult struct {
	Discovered   int    `json:"discovered"`
	Candidates   int    `json:"candidates"`
	Succeeded    int    `json:"succeeded"`
	Failed       int    `json:"failed"`
	Skipped      int    `json:"skipped"`
	NotAttempted int    `json:"not_attempted"`
	Created      int    `json:"created"`
	Updated      int    `json:"updated"`
	Parsed       int    `json:"parse_requested"`
	Aborted      string `json:"aborted"`
}

func seedTree(src *fakeSource) {
	src.folder("root-1", "")
	src.file("n-notes", "notes.txt", "txt", "root-1", "first notes", 1000)
	src.folder("f-sub", "root-1")
	src.file("n-todo", "todo.txt", "txt", "f-sub", "buy milk", 1000)
	src.file("n-photo", "photo.png", "png", "root-1", "binary", 1000)
}

func TestE2E_SyncLifecycle(t *testing.T) {
	e := newEnv(t)
	seedTree(e.src)

	t.Run("session_valid", func(t *testing.T) {
		stdout, _, code := e.run("session")
		assert.Equal(t, 0, code)
		assert.Contains(t, stdout, "Session: valid")
	})

	t.Run("dry_run_pushes_nothing", func(t *testing.T) {
		var r syncResult
		e.runJSON(0, &r, "sync", "--dry-run")

		assert.Equal(t, 3, r.Discovered)
		assert.Equal(t, 2, r.Candidates)

		creates, _, _ := e.idx.counts()
		assert.Zero(t, creates)
	})

	t.Run("first_sync_creates", func(t *testing.T) {
		var r syncResult
		e.runJSON(0, &r, "sync")

		assert.Equal(t, 2, r.Succeeded)
		assert.Equal(t, 2, r.Created)
		assert.Equal(t, 1, r.Skipped)
		assert.Equal(t, 2, r.Parsed)

		creates, _, docs := e.idx.counts()
		assert.Equal(t, 2, creates)
		assert.Equal(t, 2, docs)
	})

	t.Run("second_sync_is_noop", func(t *testing.T) {
		var r syncResult
		e.runJSON(0, &r, "sync")

		assert.Zero(t, r.Candidates)
		assert.Zero(t, r.Succeeded)
		assert.Equal(t, 3, r.Skipped)
	})

	t.Run("changed_node_updates_in_place", func(t *testing.T) {
		e.src.touch("n-notes", "second notes", 2000)

		var r syncResult
		e.runJSON(0, &r, "sync")

		assert.Equal(t, 1, r.Succeeded)
		assert.Equal(t, 1, r.Updated)

		creates, updates, docs := e.idx.counts()
		assert.Equal(t, 2, creates)
		assert.Equal(t, 1, updates)
		assert.Equal(t, 2, docs)
	})

	t.Run("status_reports_records", func(t *testing.T) {
		var st struct {
			Records    int    `json:"records"`
			Session    string `json:"session"`
			RecordList []struct {
				NodeID string `json:"node_id"`
				DocID  string `json:"destination_doc_id"`
			} `json:"record_list"`
		}
		e.runJSON(0, &st, "status", "--records")

		assert.Equal(t, 2, st.Records)
		assert.Equal(t, "valid", st.Session)
		require.Len(t, st.RecordList, 2)

		for _, rec := range st.RecordList {
			doc, ok := e.idx.doc(rec.DocID)
			require.True(t, ok, "record %s points at missing doc %s", rec.NodeID, rec.DocID)

			if rec.NodeID == "n-notes" {
				assert.Equal(t, "second notes", doc.Content)
				assert.Equal(t, "n-notes", doc.Meta["node_id"])
			}
		}
	})

	t.Run("prune_lists_then_deletes", func(t *testing.T) {
		e.src.remove("n-todo")
		e.idx.inject("doc-stray", "notes.txt", "n-notes")

		var listed struct {
			Confirmed bool `json:"confirmed"`
			Orphans   []struct {
				NodeID string `json:"node_id"`
				DocID  string `json:"doc_id"`
			} `json:"orphans"`
			Strays []struct {
				NodeID string `json:"node_id"`
				DocID  string `json:"doc_id"`
			} `json:"strays"`
		}
		e.runJSON(0, &listed, "prune")

		assert.False(t, listed.Confirmed)
		require.Len(t, listed.Orphans, 1)
		assert.Equal(t, "n-todo", listed.Orphans[0].NodeID)
		require.Len(t, listed.Strays, 1)
		assert.Equal(t, "doc-stray", listed.Strays[0].DocID)
		assert.Empty(t, e.idx.deletedIDs())

		var done struct {
			Deleted int `json:"deleted"`
		}
		e.runJSON(0, &done, "prune", "--confirm")

		assert.Equal(t, 2, done.Deleted)
		assert.Equal(t, []string{listed.Orphans[0].DocID, "doc-stray"}, e.idx.deletedIDs())

		var st struct {
			Records int `json:"records"`
		}
		e.runJSON(0, &st, "status")
		assert.Equal(t, 1, st.Records)
	})

	t.Run("full_mode_reuses_documents", func(t *testing.T) {
		var r syncResult
		e.runJSON(0, &r, "sync", "--mode", "full")

		assert.Equal(t, 1, r.Succeeded)
		assert.Equal(t, 1, r.Updated)
		assert.Zero(t, r.Created)
	})
}

func TestE2E_MinTimestampFloor(t *testing.T) {
	e := newEnv(t)
	seedTree(e.src)
	e.src.touch("n-notes", "fresh", 5_000_000)

	var r syncResult
	// Floor at 4000 seconds: only n-notes (updated at 5000s) qualifies.
	e.runJSON(0, &r, "sync", "--min-ts", "4000")

	assert.Equal(t, 1, r.Succeeded)
	assert.Equal(t, 2, r.Skipped)
}

func TestE2E_SessionExpiry(t *testing.T) {
	e := newEnv(t)
	seedTree(e.src)

	t.Run("missing_credential", func(t *testing.T) {
		require.NoError(t, os.Remove(e.cred))
		t.Cleanup(e.login)

		stdout, stderr, code := e.run("session")
		assert.Equal(t, 2, code)
		assert.Contains(t, stdout, "Session: expired")
		assert.Contains(t, stderr, "session expired")
	})

	t.Run("rejected_by_service", func(t *testing.T) {
		e.src.expire()

		_, stderr, code := e.run("sync")
		assert.Equal(t, 2, code, "stderr: %s", stderr)

		creates, _, _ := e.idx.counts()
		assert.Zero(t, creates)
	})
}
