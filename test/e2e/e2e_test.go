package e2e

import (
	"archive/zip"
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	binaryName = "updraft"
)

var (
	binaryPath string
)

// TestMain builds the binary before running tests
func TestMain(m *testing.M) {
	// Build the binary
	cmd := exec.Command("go", "build", "-o", binaryName, "../../cmd/updraft")
	if err := cmd.Run(); err != nil {
		panic("failed to build binary: " + err.Error())
	}

	// Get absolute path to binary
	binaryPath, _ = filepath.Abs(binaryName)

	// Run tests
	code := m.Run()

	// Cleanup
	os.Remove(binaryName)

	os.Exit(code)
}

// result holds one run of the binary.
type result struct {
	stdout string
	stderr string
	err    error
}

// runUpdraft executes the updraft binary with an isolated environment.
func runUpdraft(t *testing.T, stdin string, env []string, args ...string) result {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)
	cmd.Env = append(os.Environ(),
		"UPDRAFT_CONFIG=",
		"XDG_CONFIG_HOME="+t.TempDir(),
		"XDG_CACHE_HOME="+t.TempDir(),
	)
	cmd.Env = append(cmd.Env, env...)
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// buildZip returns an archive holding files.
func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// archiveServer serves body with range support and counts ranged requests.
func archiveServer(t *testing.T, body []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var ranged atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			ranged.Add(1)
		}
		http.ServeContent(w, r, "update.zip", time.Time{}, bytes.NewReader(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &ranged
}

func writeDescriptor(t *testing.T, version, url, digest string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "update.json")
	doc := fmt.Sprintf(`{"versionNo": %q, "updateFlag": "false", "fileUrl": %q, "fileMd5": %q, "speed": 0}`, version, url, digest)
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersion(t *testing.T) {
	res := runUpdraft(t, "", nil, "version")
	if res.err != nil {
		t.Fatalf("version failed: %v\n%s", res.err, res.stderr)
	}
	if !strings.Contains(res.stdout, "updraft version") {
		t.Errorf("unexpected output: %s", res.stdout)
	}
}

func TestHelpHidesWorker(t *testing.T) {
	res := runUpdraft(t, "", nil, "--help")
	if res.err != nil {
		t.Fatalf("help failed: %v", res.err)
	}
	for _, sub := range []string{"apply", "fetch", "digest", "install", "status", "archives"} {
		if !strings.Contains(res.stdout, sub) {
			t.Errorf("help missing %s", sub)
		}
	}
	if strings.Contains(res.stdout, "extract-worker") {
		t.Error("worker subcommand should be hidden")
	}
}

func TestApplyExtractsPayload(t *testing.T) {
	body := buildZip(t, map[string]string{
		"app.bin":         "new binary",
		"data/readme.txt": "release notes",
	})
	srv, _ := archiveServer(t, body)
	root := t.TempDir()
	share := t.TempDir()
	desc := writeDescriptor(t, "2.3.0", srv.URL+"/2.3.0.zip", md5Hex(body))

	res := runUpdraft(t, "", []string{"UPDRAFT_SHARE_DIR=" + share}, "--app-root", root, "-o", "json", "apply", desc)
	if res.err != nil {
		t.Fatalf("apply failed: %v\nstderr:\n%s", res.err, res.stderr)
	}

	var out struct {
		State struct {
			Kind string `json:"kind"`
		} `json:"state"`
		PayloadDir string `json:"payloadDir"`
	}
	if err := json.Unmarshal([]byte(res.stdout), &out); err != nil {
		t.Fatalf("invalid json: %v\n%s", err, res.stdout)
	}
	if out.State.Kind != "ready-to-install" {
		t.Errorf("state = %s, want ready-to-install", out.State.Kind)
	}

	got, err := os.ReadFile(filepath.Join(root, "updateApp", "data", "readme.txt"))
	if err != nil || string(got) != "release notes" {
		t.Errorf("payload file = %q, %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(root, "2.3.0.zip")); err != nil {
		t.Errorf("verified archive should stay in the app root: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "app_2.3.0.part")); !os.IsNotExist(err) {
		t.Error("partial file should be gone after completion")
	}

	// The share keeps a copy with its SHA-256.
	list := runUpdraft(t, "", []string{"UPDRAFT_SHARE_DIR=" + share}, "-o", "json", "archives", "show", "2.3.0")
	if list.err != nil {
		t.Fatalf("archives show failed: %v\n%s", list.err, list.stderr)
	}
	if !strings.Contains(list.stdout, sha256Hex(body)) {
		t.Errorf("shared archive metadata missing sha256:\n%s", list.stdout)
	}

	// Status reads the recorded state back.
	status := runUpdraft(t, "", nil, "--app-root", root, "-o", "yaml", "status")
	if status.err != nil {
		t.Fatalf("status failed: %v", status.err)
	}
	var report map[string]any
	if err := yaml.Unmarshal([]byte(status.stdout), &report); err != nil {
		t.Fatalf("invalid yaml: %v\n%s", err, status.stdout)
	}
	state, _ := report["state"].(map[string]any)
	if state["kind"] != "ready-to-install" || report["payloadReady"] != true {
		t.Errorf("status = %v", report)
	}
}

func TestApplyResumesPartialDownload(t *testing.T) {
	body := buildZip(t, map[string]string{"big.txt": strings.Repeat("updraft ", 4096)})
	srv, ranged := archiveServer(t, body)
	root := t.TempDir()

	// Half the archive is already on disk from an interrupted run.
	partial := filepath.Join(root, "app_4.0.0.part")
	if err := os.WriteFile(partial, body[:len(body)/2], 0644); err != nil {
		t.Fatal(err)
	}

	desc := writeDescriptor(t, "4.0.0", srv.URL+"/4.0.0.zip", md5Hex(body))
	res := runUpdraft(t, "", nil, "--app-root", root, "apply", desc)
	if res.err != nil {
		t.Fatalf("apply failed: %v\nstderr:\n%s", res.err, res.stderr)
	}
	if ranged.Load() == 0 {
		t.Error("expected a ranged request to resume the partial download")
	}

	got, err := os.ReadFile(filepath.Join(root, "4.0.0.zip"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, body) {
		t.Error("resumed archive differs from the served archive")
	}
}

func TestApplyDigestMismatch(t *testing.T) {
	body := buildZip(t, map[string]string{"a.txt": "a"})
	srv, _ := archiveServer(t, body)
	root := t.TempDir()
	desc := writeDescriptor(t, "5.0.0", srv.URL+"/5.0.0.zip", strings.Repeat("0", 32))

	res := runUpdraft(t, "", nil, "--app-root", root, "apply", desc)
	if res.err == nil {
		t.Fatal("expected apply to fail")
	}
	if !strings.Contains(res.stderr, "digest-mismatch") {
		t.Errorf("stderr should name the failure reason:\n%s", res.stderr)
	}
	if _, err := os.Stat(filepath.Join(root, "updateApp")); !os.IsNotExist(err) {
		t.Error("nothing should be extracted after a mismatch")
	}
}

func TestApplyRejectsZipSlip(t *testing.T) {
	body := buildZip(t, map[string]string{"../escaped.txt": "owned"})
	srv, _ := archiveServer(t, body)
	parent := t.TempDir()
	root := filepath.Join(parent, "app")
	desc := writeDescriptor(t, "6.0.0", srv.URL+"/6.0.0.zip", md5Hex(body))

	res := runUpdraft(t, "", nil, "--app-root", root, "apply", desc)
	if res.err == nil {
		t.Fatal("expected apply to fail")
	}
	if !strings.Contains(res.stderr, "extraction-error") {
		t.Errorf("stderr should report extraction-error:\n%s", res.stderr)
	}
	for _, p := range []string{filepath.Join(root, "escaped.txt"), filepath.Join(parent, "escaped.txt")} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s must not be written", p)
		}
	}
}

func TestApplyFromStdinWithConfigFile(t *testing.T) {
	body := buildZip(t, map[string]string{"x": "y"})
	srv, _ := archiveServer(t, body)
	root := t.TempDir()

	configPath := filepath.Join(t.TempDir(), "updraft.toml")
	config := fmt.Sprintf("app_root = %q\ndefault_throttle_kbps = 0.0\n\n[log]\nlevel = \"debug\"\nformat = \"json\"\n", root)
	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatal(err)
	}

	doc := fmt.Sprintf("versionNo: 7.1.0\nfileUrl: %s/7.1.0.zip\nfileMd5: %s\n", srv.URL, md5Hex(body))
	res := runUpdraft(t, doc, nil, "--config", configPath, "apply", "-")
	if res.err != nil {
		t.Fatalf("apply failed: %v\nstderr:\n%s", res.err, res.stderr)
	}
	if !strings.Contains(res.stderr, `"level":"DEBUG"`) {
		t.Errorf("expected json debug logs on stderr:\n%s", res.stderr)
	}
	if _, err := os.Stat(filepath.Join(root, "updateApp", "x")); err != nil {
		t.Errorf("payload not extracted under configured app_root: %v", err)
	}
}

func TestFetchAndDigest(t *testing.T) {
	body := []byte(strings.Repeat("0123456789", 1000))
	srv, _ := archiveServer(t, body)
	target := filepath.Join(t.TempDir(), "file.bin")

	res := runUpdraft(t, "", nil, "fetch", srv.URL+"/file.bin", target, "--expect", sha256Hex(body))
	if res.err != nil {
		t.Fatalf("fetch failed: %v\nstderr:\n%s", res.err, res.stderr)
	}
	if !strings.Contains(res.stdout, "digest verified") {
		t.Errorf("unexpected output: %s", res.stdout)
	}

	res = runUpdraft(t, "", nil, "digest", target)
	if res.err != nil {
		t.Fatalf("digest failed: %v", res.err)
	}
	if !strings.HasPrefix(res.stdout, md5Hex(body)) {
		t.Errorf("digest output = %q, want md5 %s", res.stdout, md5Hex(body))
	}
}

func TestInstallWithoutUpdate(t *testing.T) {
	res := runUpdraft(t, "", nil, "--app-root", t.TempDir(), "install", "--yes")
	if res.err == nil {
		t.Fatal("install should fail without a staged update")
	}
	if !strings.Contains(res.stderr, "not ready to install") {
		t.Errorf("stderr = %s", res.stderr)
	}
}

func TestWorkerRejectsGarbage(t *testing.T) {
	res := runUpdraft(t, "this is not json\n", nil, "extract-worker")
	if res.err == nil {
		t.Fatal("worker should exit non-zero on a malformed message")
	}

	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected ready and error messages, got %q", res.stdout)
	}
	if lines[0] != `{"type":"ready"}` {
		t.Errorf("first message = %s", lines[0])
	}
	if !strings.Contains(lines[len(lines)-1], `"type":"error"`) {
		t.Errorf("last message = %s", lines[len(lines)-1])
	}
}
