package root

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/challenge-engine/internal/api"
	"github.com/terra-clan/challenge-engine/internal/catalog"
	"github.com/terra-clan/challenge-engine/internal/config"
	"github.com/terra-clan/challenge-engine/internal/engine"
	"github.com/terra-clan/challenge-engine/internal/models"
	"github.com/terra-clan/challenge-engine/internal/storage"
)

const world = `
levels:
  - {name: starter, order: 1}
challenges:
  - name: mine-10-stone
    level: starter
    repeatable: true
    max_repeats: 2
    requirements:
      - {kind: statistic, statistic: stone_mined, value: 10}
  - name: first-kill
    level: starter
    requirements:
      - {kind: statistic, statistic: zombie_kills, value: 1}
`

func startServer(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skyblock.yaml"), []byte(world), 0o644))
	loader := catalog.NewLoader(dir)
	require.NoError(t, loader.LoadFromDir())

	store := storage.NewMemoryStore()
	store.AddClient(&models.ApiClient{Name: "ops", ApiKey: "sk_ops_key_123", IsActive: true, Permissions: []string{"challenges:*"}})

	eng := engine.NewEngine(config.EngineConfig{}, loader, store, nil, nil, nil, nil)
	ts := httptest.NewServer(api.NewServer(config.ServerConfig{AllowedOrigins: []string{"*"}}, eng, loader, nil, store).Router())
	t.Cleanup(ts.Close)
	return ts.URL
}

func run(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", url, "--api-key", "sk_ops_key_123", "--world", "skyblock"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCompleteResetProgress(t *testing.T) {
	url := startServer(t)

	out, err := run(t, url, "complete", "steve", "mine-10-stone", "--stat", "stone_mined=12")
	require.NoError(t, err)
	assert.Contains(t, out, "completed skyblock_mine-10-stone (count 1)")

	out, err = run(t, url, "complete", "steve", "first-kill", "--stat", "zombie_kills=0")
	require.NoError(t, err)
	assert.Contains(t, out, "requirements not met")
	assert.Contains(t, out, "zombie_kills")

	out, err = run(t, url, "progress", "steve")
	require.NoError(t, err)
	assert.Contains(t, out, "mine-10-stone")
	assert.Contains(t, out, "starter")
	assert.Contains(t, out, "1/2")

	out, err = run(t, url, "reset", "steve", "all")
	require.NoError(t, err)
	assert.Contains(t, out, "reset 1 challenges for steve")

	_, err = run(t, url, "reset", "steve", "first-kill")
	assert.ErrorContains(t, err, "not_completed")

	out, err = run(t, url, "reload")
	require.NoError(t, err)
	assert.Contains(t, out, "reloaded skyblock: 2 challenges")
}

func TestWorldRequired(t *testing.T) {
	t.Setenv("CHALLENGE_ENGINE_WORLD", "")
	cmd := NewRootCmd()
	cmd.SetArgs([]string{"reload"})
	cmd.SetOut(&bytes.Buffer{})
	assert.ErrorContains(t, cmd.Execute(), "world is required")
}
