package toolproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bismarkhq/bismark/internal/common/config"
	"github.com/bismarkhq/bismark/internal/eventbus"
)

// fakeRunner is a Runner double that records the args it was invoked with
// and returns a canned result, so tests never shell out to a real `gh`.
type fakeRunner struct {
	lastArgs  []string
	lastStdin string
	stdout    string
	stderr    string
	exitCode  int
	err       error
}

func (f *fakeRunner) Run(ctx context.Context, args []string, stdin string) (string, string, int, error) {
	f.lastArgs = args
	f.lastStdin = stdin
	return f.stdout, f.stderr, f.exitCode, f.err
}

func newTestServer(t *testing.T, runner *fakeRunner) (*Server, eventbus.Bus) {
	t.Helper()
	bus := eventbus.NewMemory(nil)
	cfg := config.ToolProxyConfig{Host: "127.0.0.1", Port: 0}
	return New(cfg, runner, bus, nil), bus
}

func TestHealthReturnsSuccessTrue(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body["success"])
}

func TestGHPRCreateForwardsArgsToRunner(t *testing.T) {
	runner := &fakeRunner{stdout: `{"url":"https://github.com/acme/widgets/pull/9"}`, exitCode: 0}
	s, _ := newTestServer(t, runner)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	body, _ := json.Marshal(ghRequest{Args: []string{"--title", "fix bug", "--body", "details"}})
	resp, err := http.Post(ts.URL+"/gh/pr/create", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out ghResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success)
	assert.Contains(t, out.Stdout, "pull/9")

	assert.Equal(t, []string{"pr", "create", "--title", "fix bug", "--body", "details"}, runner.lastArgs)
}

func TestGHHandlerSurfacesNonZeroExitAsFailure(t *testing.T) {
	runner := &fakeRunner{stderr: "authentication required", exitCode: 1, err: assertError("exit status 1")}
	s, _ := newTestServer(t, runner)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/gh/pr/view", "application/json", bytes.NewReader([]byte(`{"args":["123"]}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var out ghResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.False(t, out.Success)
	assert.Equal(t, "authentication required", out.Stderr)
}

func TestGHInvocationWithEmptyBodyIsAccepted(t *testing.T) {
	runner := &fakeRunner{stdout: "[]", exitCode: 0}
	s, _ := newTestServer(t, runner)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/gh/pr/list", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"pr", "list"}, runner.lastArgs)
}

func TestGHInvocationPublishesAuditEvent(t *testing.T) {
	runner := &fakeRunner{stdout: "ok", exitCode: 0}
	s, bus := newTestServer(t, runner)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	audited := make(chan eventbus.GHInvocationPayload, 1)
	bus.Subscribe(eventbus.GHInvocation, func(ev eventbus.Event) {
		if p, ok := ev.Data.(eventbus.GHInvocationPayload); ok {
			audited <- p
		}
	})

	_, err := http.Post(ts.URL+"/gh/issue/create", "application/json", bytes.NewReader([]byte(`{"args":["--title","x"]}`)))
	require.NoError(t, err)

	select {
	case p := <-audited:
		assert.Equal(t, "/gh/issue/create", p.Path)
		assert.True(t, p.Success)
	default:
		t.Fatal("expected an audit event to be published synchronously")
	}
}

func TestCORSHeadersArePermissive(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHealthyProbesGETHealth(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	addr := ts.Listener.Addr().String()
	assert.True(t, Healthy(context.Background(), addr))
}

func TestHealthyFalseWhenNothingListening(t *testing.T) {
	assert.False(t, Healthy(context.Background(), "127.0.0.1:1"))
}

type testErr string

func (e testErr) Error() string { return string(e) }

func assertError(msg string) error { return testErr(msg) }
