package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/floegence/lantun/internal/cmdutil"
	"github.com/floegence/lantun/keystore"
	"github.com/floegence/lantun/tunerrors"
	"github.com/floegence/lantun/tunnel"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// syncBuffer is a bytes.Buffer safe for the concurrent writes of event handlers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// isolate keeps config discovery and the default key path inside a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("LANTUN_CONFIG", "")
	t.Chdir(dir)
	return dir
}

func runCLI(t *testing.T, ctx context.Context, stdin io.Reader, args ...string) (int, *syncBuffer, *syncBuffer) {
	t.Helper()
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	var stdout, stderr syncBuffer
	code := newApp(stdin, &stdout, &stderr).execute(ctx, append([]string{"--log-level", "error"}, args...))
	return code, &stdout, &stderr
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type messages struct {
	mu   sync.Mutex
	seen []string
}

func (m *messages) handle(ev tunnel.Event) {
	if ev.Kind != tunnel.EventMessage {
		return
	}
	m.mu.Lock()
	m.seen = append(m.seen, ev.Payload)
	m.mu.Unlock()
}

func (m *messages) has(s string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.seen {
		if v == s {
			return true
		}
	}
	return false
}

// startReceiver runs an in-process receiver keyed from keyFile.
func startReceiver(t *testing.T, keyFile string) (*tunnel.Tunnel, *messages) {
	t.Helper()
	key, _, err := (&keystore.Store{Path: keyFile}).Load()
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	got := &messages{}
	rx, err := tunnel.New(tunnel.Config{ListenAddr: "127.0.0.1:0"}, key, tunnel.WithEventHandler(got.handle))
	if err != nil {
		t.Fatalf("tunnel.New() failed: %v", err)
	}
	if err := rx.StartReceiver(); err != nil {
		t.Fatalf("StartReceiver() failed: %v", err)
	}
	t.Cleanup(rx.Stop)
	return rx, got
}

func TestVersion(t *testing.T) {
	code, stdout, stderr := runCLI(t, context.Background(), nil, "version")
	if code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, stderr)
	}
	if strings.TrimSpace(stdout.String()) == "" {
		t.Fatalf("expected version output")
	}

	code, stdout, _ = runCLI(t, context.Background(), nil, "version", "--json")
	if code != 0 {
		t.Fatalf("exit=%d", code)
	}
	var info map[string]any
	if err := json.Unmarshal([]byte(stdout.String()), &info); err != nil {
		t.Fatalf("version --json: %v", err)
	}
	if info["version"] == "" || info["go_version"] == "" {
		t.Fatalf("unexpected version json: %v", info)
	}
}

func TestUsageErrorsExitTwo(t *testing.T) {
	isolate(t)
	cases := [][]string{
		{"bogus"},
		{"keygen", "--no-such-flag"},
		{"keygen", "extra"},
		{"connect"},
		{"connect", "http://peer"},
		{"send", "127.0.0.1:9"},
		{"listen", "--port", "70000"},
	}
	for _, args := range cases {
		code, _, stderr := runCLI(t, context.Background(), nil, args...)
		if code != 2 {
			t.Fatalf("%v: exit=%d, want 2 (stderr=%s)", args, code, stderr)
		}
		if !strings.Contains(stderr.String(), "lantun --help") {
			t.Fatalf("%v: expected usage hint, got %q", args, stderr)
		}
	}
}

func TestInvalidConfigExitTwo(t *testing.T) {
	isolate(t)
	t.Setenv("LANTUN_TUNNEL_WIRE_MODE", "morse")
	code, _, stderr := runCLI(t, context.Background(), nil, "key", "show")
	if code != 2 {
		t.Fatalf("exit=%d, want 2 (stderr=%s)", code, stderr)
	}
}

func TestKeygen_RefusesOverwrite(t *testing.T) {
	dir := isolate(t)
	keyFile := filepath.Join(dir, "tunnel.key")

	code, first, stderr := runCLI(t, context.Background(), nil, "--key-file", keyFile, "keygen")
	if code != 0 {
		t.Fatalf("keygen exit=%d stderr=%s", code, stderr)
	}
	if !strings.Contains(first.String(), "fingerprint: ") || !strings.Contains(first.String(), keyFile) {
		t.Fatalf("unexpected keygen output %q", first)
	}

	code, _, stderr = runCLI(t, context.Background(), nil, "--key-file", keyFile, "keygen")
	if code != 2 {
		t.Fatalf("second keygen exit=%d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "refusing to overwrite") {
		t.Fatalf("unexpected stderr %q", stderr)
	}

	code, second, _ := runCLI(t, context.Background(), nil, "--key-file", keyFile, "keygen", "--overwrite")
	if code != 0 {
		t.Fatalf("keygen --overwrite exit=%d", code)
	}
	if first.String() == second.String() {
		t.Fatalf("expected a different key after --overwrite")
	}
}

func TestKeyImportAndShow(t *testing.T) {
	dir := isolate(t)
	keyFile := filepath.Join(dir, "tunnel.key")

	code, stdout, stderr := runCLI(t, context.Background(), nil, "--key-file", keyFile, "key", "import", testKeyHex)
	if code != 0 {
		t.Fatalf("import exit=%d stderr=%s", code, stderr)
	}
	want, err := keystore.ParseHex(testKeyHex)
	if err != nil {
		t.Fatalf("ParseHex: %v", err)
	}
	if !strings.Contains(stdout.String(), want.Fingerprint()) {
		t.Fatalf("expected fingerprint in %q", stdout)
	}

	code, stdout, _ = runCLI(t, context.Background(), nil, "--key-file", keyFile, "key", "show", "--json", "--reveal")
	if code != 0 {
		t.Fatalf("show exit=%d", code)
	}
	var r keyReport
	if err := json.Unmarshal([]byte(stdout.String()), &r); err != nil {
		t.Fatalf("decode show output: %v", err)
	}
	if r.Key != testKeyHex || r.Result != keystore.Exact.String() || r.Path != keyFile {
		t.Fatalf("unexpected report %+v", r)
	}

	code, stdout, _ = runCLI(t, context.Background(), nil, "--key-file", keyFile, "key", "show")
	if code != 0 || strings.Contains(stdout.String(), testKeyHex) {
		t.Fatalf("plain show must not reveal the key: exit=%d out=%q", code, stdout)
	}
}

func TestKeyImport_FromFile(t *testing.T) {
	dir := isolate(t)
	src := filepath.Join(dir, "peer.hex")
	if err := os.WriteFile(src, []byte(testKeyHex+"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	keyFile := filepath.Join(dir, "tunnel.key")
	code, stdout, stderr := runCLI(t, context.Background(), nil, "--key-file", keyFile, "key", "import", src)
	if code != 0 {
		t.Fatalf("import exit=%d stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout.String(), "from "+src) {
		t.Fatalf("expected file source in %q", stdout)
	}
}

func TestKeyImport_InvalidLength(t *testing.T) {
	dir := isolate(t)
	code, _, stderr := runCLI(t, context.Background(), nil, "--key-file", filepath.Join(dir, "k"), "key", "import", "abcd")
	if code != 2 {
		t.Fatalf("exit=%d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "error: key: ") || !strings.Contains(stderr.String(), "64 hex") {
		t.Fatalf("unexpected stderr %q", stderr)
	}
}

func TestKeyShow_UnreadableKeyFileExitOne(t *testing.T) {
	dir := isolate(t)
	// A directory cannot be read as a key file.
	code, _, stderr := runCLI(t, context.Background(), nil, "--key-file", dir, "key", "show")
	if code != 1 {
		t.Fatalf("exit=%d, want 1 (stderr=%s)", code, stderr)
	}
	if !strings.Contains(stderr.String(), "could not read or write the key file") {
		t.Fatalf("unexpected stderr %q", stderr)
	}
}

func TestKeyError_Classifies(t *testing.T) {
	_, perr := keystore.ParseHex("abcd")
	err := keyError(tunerrors.StageLoad, perr)
	if !cmdutil.IsUsage(err) {
		t.Fatalf("invalid key material must be a usage error: %v", err)
	}
	if code, ok := tunerrors.CodeOf(err); !ok || code != tunerrors.CodeInvalidKeyLength {
		t.Fatalf("got code %q (%v)", code, ok)
	}

	err = keyError(tunerrors.StageSave, os.ErrPermission)
	if cmdutil.IsUsage(err) {
		t.Fatalf("io failures are runtime errors")
	}
	if code, _ := tunerrors.CodeOf(err); code != tunerrors.CodeKeyIOFailed {
		t.Fatalf("got code %q", code)
	}
}

func TestSend_DeliversToReceiver(t *testing.T) {
	dir := isolate(t)
	keyFile := filepath.Join(dir, "tunnel.key")
	if code, _, _ := runCLI(t, context.Background(), nil, "--key-file", keyFile, "key", "import", testKeyHex); code != 0 {
		t.Fatalf("import exit=%d", code)
	}
	rx, got := startReceiver(t, keyFile)

	code, stdout, stderr := runCLI(t, context.Background(), nil, "--key-file", keyFile, "send", rx.ListenAddr(), "hello", "world")
	if code != 0 {
		t.Fatalf("send exit=%d stderr=%s", code, stderr)
	}
	waitFor(t, "message at receiver", func() bool { return got.has("hello world") })
	if !strings.Contains(stdout.String(), "direct message sent to") {
		t.Fatalf("expected send confirmation in %q", stdout)
	}
}

func TestSend_ConnectionRefusedExitOne(t *testing.T) {
	dir := isolate(t)
	keyFile := filepath.Join(dir, "tunnel.key")
	rx, _ := startReceiver(t, keyFile)
	addr := rx.ListenAddr()
	rx.Stop()

	code, stdout, _ := runCLI(t, context.Background(), nil, "--key-file", keyFile, "send", addr, "hi")
	if code != 1 {
		t.Fatalf("exit=%d, want 1", code)
	}
	if !strings.Contains(stdout.String(), "[error]") {
		t.Fatalf("expected an error event in %q", stdout)
	}
}

func TestConnect_SendsStdinLines(t *testing.T) {
	dir := isolate(t)
	keyFile := filepath.Join(dir, "tunnel.key")
	rx, got := startReceiver(t, keyFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	type result struct {
		code   int
		stdout *syncBuffer
	}
	done := make(chan result, 1)
	go func() {
		code, stdout, _ := runCLI(t, ctx, strings.NewReader("one\n\ntwo\r\n"), "--key-file", keyFile, "connect", rx.ListenAddr())
		done <- result{code, stdout}
	}()

	waitFor(t, "stdin lines at receiver", func() bool { return got.has("one") && got.has("two") })
	if !got.has("connection established") {
		t.Fatalf("expected sender greeting")
	}
	cancel()

	select {
	case r := <-done:
		if r.code != 0 {
			t.Fatalf("connect exit=%d", r.code)
		}
		if !strings.Contains(r.stdout.String(), "messages out:") {
			t.Fatalf("expected counters on exit, got %q", r.stdout)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("connect did not exit after cancel")
	}
}

func TestListen_NoPeers(t *testing.T) {
	dir := isolate(t)
	t.Setenv("LANTUN_TUNNEL_LISTEN_ADDR", "127.0.0.1:0")
	keyFile := filepath.Join(dir, "tunnel.key")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var stdout, stderr syncBuffer
	done := make(chan int, 1)
	go func() {
		a := newApp(strings.NewReader("anyone?\n"), &stdout, &stderr)
		done <- a.execute(ctx, []string{"--log-level", "error", "--key-file", keyFile, "listen"})
	}()

	waitFor(t, "no peers notice", func() bool { return strings.Contains(stdout.String(), "[info] no connected peers") })
	waitFor(t, "listening event", func() bool { return strings.Contains(stdout.String(), "receiver listening on 127.0.0.1:") })
	if !strings.Contains(stdout.String(), "generated new key") {
		t.Fatalf("expected first-run key generation notice in %q", stdout.String())
	}
	cancel()
	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("listen exit=%d stderr=%s", code, stderr.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("listen did not exit after cancel")
	}
}

func TestApplyPort(t *testing.T) {
	port, addr := 0, "127.0.0.1:8989"
	if err := applyPort(&port, &addr, 9000); err != nil {
		t.Fatalf("applyPort: %v", err)
	}
	if port != 9000 || addr != "127.0.0.1:9000" {
		t.Fatalf("got port=%d addr=%q", port, addr)
	}
	addr = ""
	if err := applyPort(&port, &addr, 9001); err != nil || addr != "" || port != 9001 {
		t.Fatalf("got port=%d addr=%q err=%v", port, addr, err)
	}
	if err := applyPort(&port, &addr, 0); err == nil {
		t.Fatalf("expected error for port 0")
	}
}
