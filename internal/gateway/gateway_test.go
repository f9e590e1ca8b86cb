// ABOUTME: Tests for the bridge runtime
// ABOUTME: Drives a full bridge through a piped console, a real listener and a fake remote

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/aether-bridge/internal/config"
	"github.com/2389/aether-bridge/internal/feature"
	"github.com/2389/aether-bridge/internal/inbound"
	"github.com/2389/aether-bridge/internal/outbound"
	"github.com/2389/aether-bridge/internal/store"
)

const testKey = "gateway-test-key"

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

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

// freePort finds a port nobody is listening on.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

type remote struct {
	srv *httptest.Server

	mu      sync.Mutex
	records []outbound.Record
}

func newRemote(t *testing.T) *remote {
	t.Helper()
	r := &remote{}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var rec outbound.Record
		_ = json.NewDecoder(req.Body).Decode(&rec)
		r.mu.Lock()
		r.records = append(r.records, rec)
		r.mu.Unlock()
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *remote) Records() []outbound.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]outbound.Record(nil), r.records...)
}

type bridge struct {
	gw      *Gateway
	cfgPath string
	dataDir string
	port    int
	remote  *remote
	stdin   *io.PipeWriter
	stdout  *syncBuffer
	cancel  context.CancelFunc
	done    chan error
}

func writeConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := config.Encode(cfg, config.FormatForPath(path))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))
}

func startBridge(t *testing.T) *bridge {
	t.Helper()
	b := &bridge{
		cfgPath: filepath.Join(t.TempDir(), "config.json"),
		dataDir: t.TempDir(),
		port:    freePort(t),
		remote:  newRemote(t),
		stdout:  &syncBuffer{},
		done:    make(chan error, 1),
	}

	cfg := config.Default()
	cfg.APIURL = b.remote.srv.URL
	cfg.APIKey = testKey
	cfg.ListenPort = b.port
	writeConfig(t, b.cfgPath, cfg)

	stdinR, stdinW := io.Pipe()
	b.stdin = stdinW
	t.Cleanup(func() { _ = stdinW.Close() })

	gw, err := New(Options{
		ConfigPath:  b.cfgPath,
		DataDir:     b.dataDir,
		ConsoleIn:   stdinR,
		ConsoleOut:  b.stdout,
		ConsoleName: "tester",
	}, testLogger())
	require.NoError(t, err)
	b.gw = gw

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go func() { b.done <- gw.Run(ctx) }()
	t.Cleanup(b.stop)

	require.Eventually(t, func() bool {
		return gw.Console().Running() && gw.Features().IsEnabled(feature.Receiver)
	}, 5*time.Second, 10*time.Millisecond)
	return b
}

func (b *bridge) stop() {
	b.cancel()
	select {
	case <-b.done:
	case <-time.After(30 * time.Second):
	}
}

func (b *bridge) post(t *testing.T, body string) *http.Response {
	t.Helper()
	url := fmt.Sprintf("http://127.0.0.1:%d%s", b.port, inbound.SendPath)
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (b *bridge) typeLine(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(b.stdin, line+"\n")
	require.NoError(t, err)
}

func TestJournalPath(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		dataDir    string
		want       string
	}{
		{"configured wins", "/var/lib/bridge.db", "/data", "/var/lib/bridge.db"},
		{"configured memory", ":memory:", "/data", ":memory:"},
		{"default under data dir", "", "/data", filepath.Join("/data", JournalFile)},
		{"no data dir", "", "", store.MemoryPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, JournalPath(tt.configured, tt.dataDir))
		})
	}
}

func TestNew_CreatesMissingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	gw, err := New(Options{ConfigPath: path, ConsoleIn: strings.NewReader("")}, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	_, err = os.Stat(path)
	require.NoError(t, err)
	assert.False(t, gw.Features().IsEnabled(feature.Sender), "features start on Run")
	assert.False(t, gw.Features().IsEnabled(feature.Receiver))
}

func TestGateway_InboundReachesConsole(t *testing.T) {
	b := startBridge(t)

	resp := b.post(t, `{"message":"hello","prefix":"web"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		return strings.Contains(b.stdout.String(), "[broadcast] [web] hello")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_ConsoleChatReachesRemote(t *testing.T) {
	b := startBridge(t)

	b.typeLine(t, "anyone there?")

	require.Eventually(t, func() bool { return len(b.remote.Records()) == 1 }, 2*time.Second, 10*time.Millisecond)
	rec := b.remote.Records()[0]
	assert.Equal(t, "tester", rec.PlayerName)
	assert.Equal(t, b.gw.Console().ID(), rec.PlayerID)
	assert.Equal(t, "anyone there?", rec.Message)
	assert.Equal(t, config.DefaultChatPrefix, rec.Prefix)
}

func TestGateway_FeatureCommandPersists(t *testing.T) {
	b := startBridge(t)

	b.typeLine(t, "/bridge feature messageSender disable")

	require.Eventually(t, func() bool {
		return !b.gw.Features().IsEnabled(feature.Sender)
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return strings.Contains(b.stdout.String(), "Feature disabled: messageSender")
	}, 2*time.Second, 10*time.Millisecond)

	loaded, err := config.Load(b.cfgPath)
	require.NoError(t, err)
	assert.False(t, loaded.FeatureEnabled(config.FeatureMessageSender))

	b.typeLine(t, "typed while disabled")
	assert.Never(t, func() bool { return len(b.remote.Records()) > 0 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestGateway_JournalsDeliveries(t *testing.T) {
	b := startBridge(t)

	b.post(t, `{"message":"logged"}`)

	require.Eventually(t, func() bool {
		events, err := b.gw.Journal().ListEvents(context.Background(), store.EventFilter{})
		if err != nil {
			return false
		}
		for _, e := range events {
			if e.Kind == store.KindDelivered && e.Message == "logged" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_RunStopsOnCancel(t *testing.T) {
	b := startBridge(t)

	b.cancel()
	select {
	case err := <-b.done:
		assert.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.False(t, b.gw.Features().IsEnabled(feature.Sender))
	assert.False(t, b.gw.Features().IsEnabled(feature.Receiver))
	assert.False(t, b.gw.Console().Running())

	_, err := os.Stat(filepath.Join(b.dataDir, JournalFile))
	assert.NoError(t, err, "journal file should exist under the data dir")

	// stop from cleanup must not block on an already finished Run.
	b.done <- nil
}

func TestAppendCloseError(t *testing.T) {
	var errs []error
	errs = appendCloseError(errs, "ok", nil)
	assert.Empty(t, errs)

	errs = appendCloseError(errs, "journal close", io.ErrClosedPipe)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], io.ErrClosedPipe)
	assert.Contains(t, errs[0].Error(), "journal close")
}
