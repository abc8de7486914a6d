package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/workflow-fsm/config"
	"github.com/songzhibin97/workflow-fsm/logging"
	"github.com/songzhibin97/workflow-fsm/storage"
)

const approvalYAML = `
id: doc-approval
name: Document approval
states:
  - {id: draft, name: Draft, is_initial: true}
  - {id: approved, name: Approved}
  - {id: rejected, name: Rejected, is_final: true}
actions:
  - {id: submit, name: Submit, from_states: [draft], to_state: approved}
  - {id: decline, name: Decline, from_states: [draft], to_state: rejected}
`

const brokenYAML = `
id: broken
states:
  - {id: a, name: A}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("addr", "", "")
	cmd.Flags().String("storage", "", "")
	cmd.Flags().String("definitions", "", "")
	cmd.Flags().String("log-level", "", "")
	return cmd
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "workflowd.yaml", "addr: \":7000\"\nlog_level: warn\n")

	cmd := newFlagCommand()
	require.NoError(t, cmd.Flags().Set("config", path))
	require.NoError(t, cmd.Flags().Set("addr", ":7001"))
	require.NoError(t, cmd.Flags().Set("storage", "sqlite"))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, ":7001", cfg.Addr)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, config.BackendSQLite, cfg.Storage.Backend)
}

func TestLoadConfig_Invalid(t *testing.T) {
	cmd := newFlagCommand()
	require.NoError(t, cmd.Flags().Set("storage", "etcd"))
	_, err := loadConfig(cmd)
	assert.Error(t, err)
}

func TestOpenStorage(t *testing.T) {
	cfg := config.Default()

	store, err := openStorage(cfg)
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStorage{}, store)

	cfg.Storage.Backend = config.BackendSQLite
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "wf.db")
	store, err = openStorage(cfg)
	require.NoError(t, err)
	assert.IsType(t, &storage.SQLiteStorage{}, store)
	require.NoError(t, store.Close())

	mr := miniredis.RunT(t)
	cfg.Storage.Backend = config.BackendRedis
	cfg.Storage.Redis.Addr = mr.Addr()
	store, err = openStorage(cfg)
	require.NoError(t, err)
	assert.IsType(t, &storage.RedisStorage{}, store)
	require.NoError(t, store.Close())

	cfg.Storage.Backend = "etcd"
	_, err = openStorage(cfg)
	assert.Error(t, err)
}

func TestNewApp_SeedsDefinitionsAndServes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "approval.yaml", approvalYAML)

	cfg := config.Default()
	cfg.IDScheme = "uuid"
	cfg.DefinitionsDir = dir

	a, err := newApp(context.Background(), cfg, logging.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer a.Close()

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/workflow-definitions/doc-approval")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/workflows/doc-approval/instances", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), `workflow_instances_started_total{outcome="ok"} 1`)
}

func TestNewApp_RejectsInvalidSeed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", brokenYAML)

	cfg := config.Default()
	cfg.DefinitionsDir = dir

	_, err := newApp(context.Background(), cfg, logging.NewNop(), prometheus.NewRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "approval.yaml", approvalYAML)
	bad := writeFile(t, dir, "broken.yaml", brokenYAML)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()

	rootCmd.SetArgs([]string{"validate", good})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "approval.yaml: ok")

	out.Reset()
	rootCmd.SetArgs([]string{"validate", good, bad})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Equal(t, "1 of 2 definitions invalid", err.Error())
	assert.True(t, strings.Contains(errOut.String(), "exactly one initial state"))
}
