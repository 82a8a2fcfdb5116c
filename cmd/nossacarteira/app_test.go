package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/nossacarteira/config"
	"github.com/c360studio/nossacarteira/reconcile"
	"github.com/c360studio/nossacarteira/session"
)

const testSecret = "test-secret"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.NATS.StoreDir = filepath.Join(dir, "jetstream")
	cfg.Session.TokenFile = filepath.Join(dir, "session.jwt")
	cfg.Session.Secret = testSecret
	cfg.Session.Debounce = 10 * time.Millisecond
	cfg.Sync.BusyFloor = 0
	cfg.API.Addr = "127.0.0.1:0"
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestAppSessionLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded NATS server")
	}

	cfg := testConfig(t)
	app := NewApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, app.Start(t.Context()))
	t.Cleanup(func() { app.Shutdown(5 * time.Second) })

	base := "http://" + app.Addr()

	resp, err := http.Get(base + "/api/state")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	token, err := session.IssueToken([]byte(testSecret), session.Identity{
		UserID:    "user_a",
		Name:      "Alex",
		Household: "casa1",
	}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, session.WriteToken(cfg.Session.TokenFile, token))

	require.Eventually(t, app.coord.Attached, 5*time.Second, 20*time.Millisecond)

	body, err := json.Marshal(map[string]any{
		"title":     "Feira",
		"amount":    120.5,
		"type":      "expense",
		"category":  "Mercado",
		"date":      "03/12/2025",
		"spenderId": "user_a",
	})
	require.NoError(t, err)
	resp, err = http.Post(base+"/api/transactions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/state")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var state reconcile.State
		if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&state) != nil {
			return false
		}
		return len(state.Transactions) == 1
	}, 5*time.Second, 50*time.Millisecond)

	req, err := http.NewRequest(http.MethodPost, base+"/api/logout", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Eventually(t, func() bool { return !app.coord.Attached() }, 5*time.Second, 20*time.Millisecond)
	_, err = os.Stat(cfg.Session.TokenFile)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAppShutdownStopsEmbeddedServer(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded NATS server")
	}

	app := NewApp(testConfig(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, app.Start(t.Context()))
	require.NotEmpty(t, app.Addr())

	app.Shutdown(5 * time.Second)
	assert.False(t, app.embeddedServer.Running())
}

func TestShutdownBeforeStart(t *testing.T) {
	app := NewApp(config.DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Empty(t, app.Addr())
	assert.NotPanics(t, func() { app.Shutdown(time.Second) })
}

func TestVersionCommand(t *testing.T) {
	cmd := rootCmd()
	cmd.SetArgs([]string{"version"})
	assert.NoError(t, cmd.Execute())
}

func TestThemeCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cmd := rootCmd()
	cmd.SetArgs([]string{"theme", "light"})
	require.NoError(t, cmd.Execute())

	path, err := prefsPath()
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "light")

	cmd = rootCmd()
	cmd.SetArgs([]string{"theme", "sepia"})
	assert.Error(t, cmd.Execute())
}

func TestInitThenToken(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(config.EnvSessionSecret, "")
	t.Setenv(config.EnvSessionTokenFile, "")

	cmd := rootCmd()
	cmd.SetArgs([]string{"init"})
	require.NoError(t, cmd.Execute())

	userConfig := filepath.Join(home, config.UserConfigDir, config.UserConfigFile)
	cfg, err := config.LoadFromFile(userConfig)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Session.Secret)

	cmd = rootCmd()
	cmd.SetArgs([]string{"token", "--user", "user_a", "--name", "Alex", "--household", "casa1"})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(filepath.Join(home, config.UserConfigDir, config.TokenFileName))
	require.NoError(t, err)
	id, _, err := session.ParseToken([]byte(cfg.Session.Secret), string(bytes.TrimSpace(data)))
	require.NoError(t, err)
	assert.Equal(t, "casa1", id.Household)
}

func TestNewLogger(t *testing.T) {
	assert.True(t, newLogger("debug", "info").Enabled(t.Context(), slog.LevelDebug))
	assert.False(t, newLogger("", "warn").Enabled(t.Context(), slog.LevelInfo))
}
