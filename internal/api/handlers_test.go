package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/challenge-engine/internal/catalog"
	"github.com/terra-clan/challenge-engine/internal/config"
	"github.com/terra-clan/challenge-engine/internal/engine"
	"github.com/terra-clan/challenge-engine/internal/models"
	"github.com/terra-clan/challenge-engine/internal/storage"
)

const testWorld = `
levels:
  - {name: novice, order: 1}
challenges:
  - name: first-kill
    level: novice
    requirements:
      - {kind: statistic, statistic: zombie_kills, value: 1}
  - name: mine-stone
    level: novice
    repeatable: true
    requirements:
      - {kind: statistic, statistic: stone_mined, value: 10}
`

const (
	adminKey  = "sk_admin_0123456789"
	serverKey = "sk_server_0123456789"
	readerKey = "sk_reader_0123456789"
)

type staticState struct {
	snap *models.Snapshot
}

func (s staticState) Snapshot(context.Context, string, string) (*models.Snapshot, error) {
	return s.snap, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	worlds []string
}

func (n *recordingNotifier) NotifyReload(_ context.Context, channel, world string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.worlds = append(n.worlds, channel+":"+world)
	return nil
}

type testEnv struct {
	server *Server
	http   *httptest.Server
	dir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skyblock.yaml"), []byte(testWorld), 0o644))
	loader := catalog.NewLoader(dir)
	require.NoError(t, loader.LoadFromDir())

	store := storage.NewMemoryStore()
	for key, perms := range map[string][]string{
		adminKey:  {"challenges:*"},
		serverKey: {models.PermissionRead, models.PermissionComplete},
		readerKey: {models.PermissionRead},
	} {
		store.AddClient(&models.ApiClient{Name: key[3:9], ApiKey: key, IsActive: true, Permissions: perms})
	}

	eng := engine.NewEngine(config.EngineConfig{LockTimeout: time.Second}, loader, store, nil, nil, nil, nil)
	state := staticState{snap: &models.Snapshot{Statistics: map[string]int64{"stone_mined": 64}}}
	srv := NewServer(config.ServerConfig{AllowedOrigins: []string{"*"}, RequestTimeout: 5 * time.Second}, eng, loader, state, store)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{server: srv, http: ts, dir: dir}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path, key string, body any) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.http.URL+path, &buf)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

const base = "/api/v1/worlds/skyblock"

func TestHealthIsPublic(t *testing.T) {
	e := newTestEnv(t)
	status, env := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)

	status, _ = e.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAuthentication(t *testing.T) {
	e := newTestEnv(t)

	status, env := e.do(t, http.MethodGet, base+"/challenges", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", env.Error.Code)

	status, _ = e.do(t, http.MethodGet, base+"/challenges", "sk_nope_0000000", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	req, err := http.NewRequest(http.MethodGet, e.http.URL+base+"/challenges", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", readerKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, env = e.do(t, http.MethodPost, base+"/participants/steve/challenges/first-kill/complete", readerKey,
		CompleteRequest{Snapshot: &models.Snapshot{}})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", env.Error.Code)

	status, _ = e.do(t, http.MethodPost, base+"/participants/steve/reset", serverKey, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestCatalogEndpoints(t *testing.T) {
	e := newTestEnv(t)

	status, env := e.do(t, http.MethodGet, base+"/challenges", readerKey, nil)
	require.Equal(t, http.StatusOK, status)
	// requirements are interfaces and only decode as raw JSON
	var list struct {
		Challenges []json.RawMessage `json:"challenges"`
		Total      int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 2, list.Total)
	assert.Contains(t, string(list.Challenges[0]), `"name":"skyblock_first-kill"`)

	status, _ = e.do(t, http.MethodGet, base+"/challenges/first-kill", readerKey, nil)
	assert.Equal(t, http.StatusOK, status)

	status, env = e.do(t, http.MethodGet, base+"/challenges/nope", readerKey, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", env.Error.Code)

	status, _ = e.do(t, http.MethodGet, "/api/v1/worlds/nether/levels", readerKey, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, env = e.do(t, http.MethodGet, base+"/levels", readerKey, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), "skyblock_novice")
}

type resultView struct {
	Outcome  engine.Outcome `json:"outcome"`
	NewCount int            `json:"new_count"`
}

func decodeResult(t *testing.T, env envelope) resultView {
	t.Helper()
	var out resultView
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestCompleteAndReset(t *testing.T) {
	e := newTestEnv(t)
	path := base + "/participants/steve/challenges/first-kill"

	status, env := e.do(t, http.MethodPost, path+"/reset", adminKey, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "not_completed", env.Error.Code)

	snap := CompleteRequest{Snapshot: &models.Snapshot{Statistics: map[string]int64{"zombie_kills": 0}}}
	status, env = e.do(t, http.MethodPost, path+"/complete", serverKey, snap)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, engine.OutcomeUnsatisfied, decodeResult(t, env).Outcome)
	assert.Contains(t, string(env.Data), `"kind":"statistic"`)

	snap.Snapshot.Statistics["zombie_kills"] = 3
	status, env = e.do(t, http.MethodPost, path+"/complete", serverKey, snap)
	require.Equal(t, http.StatusOK, status)
	res := decodeResult(t, env)
	assert.Equal(t, engine.OutcomeCompleted, res.Outcome)
	assert.Equal(t, 1, res.NewCount)

	_, env = e.do(t, http.MethodPost, path+"/complete", serverKey, snap)
	assert.Equal(t, engine.OutcomeAlreadyCompleted, decodeResult(t, env).Outcome)

	status, _ = e.do(t, http.MethodPost, path+"/reset", adminKey, ResetRequest{Actor: "moderator"})
	assert.Equal(t, http.StatusOK, status)

	status, env = e.do(t, http.MethodGet, base+"/participants/steve/audit", adminKey, nil)
	require.Equal(t, http.StatusOK, status)
	var audit struct {
		Resets []models.ResetAudit `json:"resets"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &audit))
	require.Len(t, audit.Resets, 1)
	assert.Equal(t, "moderator", audit.Resets[0].Actor)
	assert.Equal(t, "skyblock_first-kill", audit.Resets[0].Challenge)
}

func TestCompleteUsesStateProvider(t *testing.T) {
	e := newTestEnv(t)
	path := base + "/participants/steve/challenges/mine-stone/complete"

	for want := 1; want <= 2; want++ {
		status, env := e.do(t, http.MethodPost, path, serverKey, nil)
		require.Equal(t, http.StatusOK, status)
		res := decodeResult(t, env)
		assert.Equal(t, engine.OutcomeCompleted, res.Outcome)
		assert.Equal(t, want, res.NewCount)
	}

	status, env := e.do(t, http.MethodGet, base+"/participants/steve/progress", readerKey, nil)
	require.Equal(t, http.StatusOK, status)
	var progress struct {
		Records []models.ProgressRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &progress))
	require.Len(t, progress.Records, 1)
	assert.Equal(t, 2, progress.Records[0].CompletionCount)

	status, _ = e.do(t, http.MethodPost, base+"/participants/steve/challenges/nope/complete", serverKey, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestResetAll(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, base+"/participants/steve/challenges/mine-stone/complete", serverKey, nil)

	status, env := e.do(t, http.MethodPost, base+"/participants/steve/reset", adminKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"cleared":1}`, string(env.Data))

	status, env = e.do(t, http.MethodGet, base+"/participants/steve/levels", readerKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"completed":0`)
}

func TestReload(t *testing.T) {
	e := newTestEnv(t)
	notifier := &recordingNotifier{}
	e.server.SetReloadNotifier(notifier, "challenge_reload")

	updated := testWorld + `
  - name: sleep
    requirements:
      - {kind: statistic, statistic: beds, value: 1}
`
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "skyblock.yaml"), []byte(updated), 0o644))

	status, env := e.do(t, http.MethodPost, base+"/reload", adminKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"world":"skyblock","challenges":3}`, string(env.Data))
	assert.Equal(t, []string{"challenge_reload:skyblock"}, notifier.worlds)

	broken := updated + `
  - name: haunted
    requirements:
      - {kind: challenge, challenge: ghost}
`
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "skyblock.yaml"), []byte(broken), 0o644))

	status, env = e.do(t, http.MethodPost, base+"/reload", adminKey, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "validation_error", env.Error.Code)

	status, _ = e.do(t, http.MethodGet, base+"/challenges/sleep", readerKey, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestEventStream(t *testing.T) {
	e := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/api/v1/events/ws?world=skyblock&participant=steve"
	header := http.Header{"X-API-Key": []string{readerKey}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	// wait for the subscription to be registered
	require.Eventually(t, func() bool { return e.server.engine.Bus().Len() > 1 }, time.Second, 10*time.Millisecond)

	e.do(t, http.MethodPost, base+"/participants/alex/challenges/mine-stone/complete", serverKey, nil)
	e.do(t, http.MethodPost, base+"/participants/steve/challenges/mine-stone/complete", serverKey, nil)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev models.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, models.EventChallengeCompleted, ev.Type)
	assert.Equal(t, "steve", ev.Participant)
	assert.Equal(t, 1, ev.NewCount)
}
