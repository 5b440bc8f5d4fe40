package extract

import (
	"archive/zip"
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adamancini/updraft/internal/types"
)

const workerModeEnv = "UPDRAFT_TEST_WORKER"

// TestMain lets the test binary stand in for the worker process. When the
// mode variable is set the binary behaves as the requested worker and exits
// without running any tests.
func TestMain(m *testing.M) {
	mode := os.Getenv(workerModeEnv)
	if mode == "" {
		os.Exit(m.Run())
	}
	os.Exit(fakeWorker(mode))
}

func fakeWorker(mode string) int {
	conn := NewConn(os.Stdin, os.Stdout)
	switch mode {
	case "serve":
		if err := Serve(context.Background(), os.Stdin, os.Stdout); err != nil {
			return 1
		}
		return 0
	case "crash":
		fmt.Fprintln(os.Stderr, "worker exploded")
		return 3
	case "ready-then-crash":
		_ = conn.Send(Ready{})
		_, _ = conn.Recv()
		return 2
	case "never-ready":
		time.Sleep(time.Minute)
		return 0
	case "hang":
		_ = conn.Send(Ready{})
		_, _ = conn.Recv()
		_ = conn.Send(Log{Message: "working"})
		time.Sleep(time.Minute)
		return 0
	case "complete-nonzero":
		_ = conn.Send(Ready{})
		_, _ = conn.Recv()
		_ = conn.Send(Complete{})
		return 4
	case "noisy":
		_ = conn.Send(Ready{})
		_, _ = conn.Recv()
		fmt.Fprintln(os.Stdout, "this is not json")
		_ = conn.Send(Log{Message: "still alive"})
		_ = conn.Send(Complete{})
		return 0
	}
	return 99
}

func testExtractor(mode string, timeout time.Duration) *Extractor {
	return New(Options{
		Command:      []string{os.Args[0]},
		Env:          []string{workerModeEnv + "=" + mode},
		StartTimeout: timeout,
	})
}

type entry struct {
	name    string
	body    string
	mode    os.FileMode
	symlink bool
}

func writeZip(t *testing.T, path string, entries []entry) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		mode := e.mode
		if mode == 0 {
			mode = 0o644
		}
		if e.symlink {
			mode |= os.ModeSymlink
		}
		if strings.HasSuffix(e.name, "/") {
			mode |= os.ModeDir
		}
		hdr.SetMode(mode)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(e.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func waitResult(t *testing.T, h *Handle) Result {
	t.Helper()
	select {
	case res := <-h.Done():
		return res
	case <-time.After(20 * time.Second):
		t.Fatal("extraction never resolved")
		return Result{}
	}
}

func TestExtractorCompletes(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "1.2.3.zip")
	writeZip(t, archive, []entry{
		{name: "update.exe", body: "MZ", mode: 0o755},
		{name: "resources/", mode: 0o755},
		{name: "resources/app.asar", body: strings.Repeat("a", 4096)},
	})
	dest := filepath.Join(dir, "updateApp")

	h, err := testExtractor("serve", 10*time.Second).Start(context.Background(), Job{ArchivePath: archive, DestinationDir: dest})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if h.PID() == 0 {
		t.Error("PID should be set")
	}

	res := waitResult(t, h)
	if res.Err != nil {
		t.Fatalf("extraction error = %v", res.Err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d", res.ExitCode)
	}
	if res.Job.Status != types.JobComplete {
		t.Errorf("Status = %s, want complete", res.Job.Status)
	}

	data, err := os.ReadFile(filepath.Join(dest, "resources", "app.asar"))
	if err != nil || len(data) != 4096 {
		t.Fatalf("nested file not extracted: %v", err)
	}
}

func TestExtractorReportsWorkerFailure(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bad.zip")
	if err := os.WriteFile(archive, []byte("definitely not a zip"), 0644); err != nil {
		t.Fatal(err)
	}

	h, err := testExtractor("serve", 10*time.Second).Start(context.Background(), Job{ArchivePath: archive, DestinationDir: filepath.Join(dir, "out")})
	if err != nil {
		t.Fatal(err)
	}

	res := waitResult(t, h)
	var extErr *ExtractionError
	if !errors.As(res.Err, &extErr) {
		t.Fatalf("expected ExtractionError, got %v", res.Err)
	}
	if !strings.Contains(extErr.Message, "open archive") {
		t.Errorf("Message = %q, want worker-reported failure", extErr.Message)
	}
	if res.Job.Status != types.JobFailed {
		t.Errorf("Status = %s, want failed", res.Job.Status)
	}
}

func TestExtractorWorkerCrashWithoutResult(t *testing.T) {
	tests := []struct {
		name string
		mode string
	}{
		{"crash before ready", "crash"},
		{"crash after start", "ready-then-crash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			h, err := testExtractor(tt.mode, 10*time.Second).Start(context.Background(), Job{
				ArchivePath:    filepath.Join(dir, "a.zip"),
				DestinationDir: filepath.Join(dir, "out"),
			})
			if err != nil {
				t.Fatal(err)
			}

			res := waitResult(t, h)
			if !errors.Is(res.Err, ErrNoTerminalMessage) {
				t.Fatalf("expected ErrNoTerminalMessage, got %v", res.Err)
			}
			if res.ExitCode == 0 {
				t.Error("exit code should be non-zero")
			}
		})
	}
}

func TestExtractorCompleteWithNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	h, err := testExtractor("complete-nonzero", 10*time.Second).Start(context.Background(), Job{
		ArchivePath:    filepath.Join(dir, "a.zip"),
		DestinationDir: filepath.Join(dir, "out"),
	})
	if err != nil {
		t.Fatal(err)
	}

	res := waitResult(t, h)
	var extErr *ExtractionError
	if !errors.As(res.Err, &extErr) || extErr.ExitCode != 4 {
		t.Fatalf("expected ExtractionError with exit code 4, got %v", res.Err)
	}
}

func TestExtractorStartTimeout(t *testing.T) {
	dir := t.TempDir()
	h, err := testExtractor("never-ready", 100*time.Millisecond).Start(context.Background(), Job{
		ArchivePath:    filepath.Join(dir, "a.zip"),
		DestinationDir: filepath.Join(dir, "out"),
	})
	if err != nil {
		t.Fatal(err)
	}

	res := waitResult(t, h)
	if !errors.Is(res.Err, ErrStartTimeout) {
		t.Fatalf("expected ErrStartTimeout, got %v", res.Err)
	}
}

func TestExtractorTerminate(t *testing.T) {
	dir := t.TempDir()
	h, err := testExtractor("hang", 10*time.Second).Start(context.Background(), Job{
		ArchivePath:    filepath.Join(dir, "a.zip"),
		DestinationDir: filepath.Join(dir, "out"),
	})
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	h.Terminate()

	res := waitResult(t, h)
	if !errors.Is(res.Err, ErrTerminated) {
		t.Fatalf("expected ErrTerminated, got %v", res.Err)
	}
}

func TestExtractorContextCancelKillsWorker(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	h, err := testExtractor("hang", 10*time.Second).Start(ctx, Job{
		ArchivePath:    filepath.Join(dir, "a.zip"),
		DestinationDir: filepath.Join(dir, "out"),
	})
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	res := waitResult(t, h)
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", res.Err)
	}
}

func TestExtractorIgnoresMalformedLines(t *testing.T) {
	dir := t.TempDir()
	h, err := testExtractor("noisy", 10*time.Second).Start(context.Background(), Job{
		ArchivePath:    filepath.Join(dir, "a.zip"),
		DestinationDir: filepath.Join(dir, "out"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res := waitResult(t, h); res.Err != nil {
		t.Fatalf("malformed line should not fail the job: %v", res.Err)
	}
}

func TestExtractorMissingBinary(t *testing.T) {
	dir := t.TempDir()
	e := New(Options{Command: []string{filepath.Join(dir, "no-such-worker")}})
	_, err := e.Start(context.Background(), Job{ArchivePath: "a.zip", DestinationDir: dir})

	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
}

func TestServeProtocol(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "a.zip")
	writeZip(t, archive, []entry{{name: "readme.txt", body: "hi"}})

	inR, inW, _ := os.Pipe()
	outR, outW, _ := os.Pipe()
	defer inR.Close()
	defer outR.Close()

	errc := make(chan error, 1)
	go func() {
		errc <- Serve(context.Background(), inR, outW)
		outW.Close()
	}()

	parent := NewConn(outR, inW)
	if m, err := parent.Recv(); err != nil || m != (Ready{}) {
		t.Fatalf("first message = %v, %v; want ready", m, err)
	}
	if err := parent.Send(Start{ArchivePath: archive, DestinationDir: filepath.Join(dir, "out")}); err != nil {
		t.Fatal(err)
	}

	var got []Message
	for {
		m, err := parent.Recv()
		if err != nil {
			break
		}
		got = append(got, m)
	}
	inW.Close()

	if err := <-errc; err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	if len(got) == 0 || got[len(got)-1] != (Complete{}) {
		t.Fatalf("last message should be complete, got %v", got)
	}
	for _, m := range got[:len(got)-1] {
		if _, ok := m.(Log); !ok {
			t.Errorf("non-terminal message should be log, got %T", m)
		}
	}
}

func TestServeRejectsUnexpectedMessage(t *testing.T) {
	in := strings.NewReader(`{"type":"complete"}` + "\n")
	var out strings.Builder

	err := Serve(context.Background(), in, &out)
	if !errors.Is(err, ErrUnexpectedMessage) {
		t.Fatalf("expected ErrUnexpectedMessage, got %v", err)
	}

	sc := bufio.NewScanner(strings.NewReader(out.String()))
	var kinds []string
	for sc.Scan() {
		m, err := Decode(sc.Bytes())
		if err != nil {
			t.Fatal(err)
		}
		kinds = append(kinds, m.messageType())
	}
	if strings.Join(kinds, ",") != "ready,error" {
		t.Errorf("messages = %v, want ready,error", kinds)
	}
}
