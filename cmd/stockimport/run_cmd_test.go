package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/inventory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOptions_Apply(t *testing.T) {
	base := core.ImportJob{
		BatchSize:     1000,
		UniqueKey:     inventory.KeySKU,
		Correlation:   core.CorrelationAuto,
		ColumnMapping: map[string]string{"Item": "name"},
	}
	opts := runOptions{
		runID:       "run-1",
		batchSize:   50,
		update:      true,
		uniqueKey:   "name",
		correlation: "per_row",
		mappings:    []string{"Qty = quantity"},
		transforms:  []string{"price=currency"},
	}
	changed := func(name string) bool { return name == "batch-size" || name == "update" }

	job, err := opts.apply(changed, base)
	require.NoError(t, err)
	assert.Equal(t, "run-1", job.RunID)
	assert.Equal(t, 50, job.BatchSize)
	assert.True(t, job.UpdateExisting)
	assert.False(t, job.StrictTransforms)
	assert.Equal(t, inventory.KeyName, job.UniqueKey)
	assert.Equal(t, core.CorrelationPerRow, job.Correlation)
	assert.Equal(t, map[string]string{"Item": "name", "Qty": "quantity"}, job.ColumnMapping)
	assert.Equal(t, map[string]string{"price": "currency"}, job.Transformers)
	assert.Len(t, base.ColumnMapping, 1, "defaults are not mutated")
}

func TestRunOptions_ApplyUnchangedKeepsDefaults(t *testing.T) {
	base := core.ImportJob{BatchSize: 1000, UpdateExisting: true}
	job, err := runOptions{}.apply(func(string) bool { return false }, base)
	require.NoError(t, err)
	assert.Equal(t, 1000, job.BatchSize)
	assert.True(t, job.UpdateExisting)
	assert.NotEmpty(t, job.RunID)
}

func TestRunOptions_ApplyRejects(t *testing.T) {
	none := func(string) bool { return false }
	for name, opts := range map[string]runOptions{
		"unique key":  {uniqueKey: "barcode"},
		"correlation": {correlation: "psychic"},
		"mapping":     {mappings: []string{"Qty"}},
		"transform":   {transforms: []string{"=trim"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := opts.apply(none, core.ImportJob{})
			assert.ErrorIs(t, err, core.ErrInvalidJob)
		})
	}
}

func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", filepath.Join(dir, "stock.db"))
	t.Setenv("IMPORT_ALLOWED_DIRS", dir)
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func TestRunCmd_ImportsFile(t *testing.T) {
	dir := setupEnv(t)
	path := filepath.Join(dir, "items.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,quantity,price,sku\nWidget,10,5.00,W-1\nBroken,-1,1.00,B-1\n"), 0o600))

	out, err := executeCmd(t, "run", "--env-file", filepath.Join(dir, "missing.env"),
		"--file", path, "--requester", "ops", "--run-id", "cli-run")
	require.NoError(t, err)

	var result core.ImportResult
	require.NoError(t, json.Unmarshal([]byte(out), &result), out)
	assert.Equal(t, "cli-run", result.RunID)
	assert.Equal(t, 2, result.RowsRead)
	assert.Equal(t, 1, result.ValidCount)
	assert.Len(t, result.InvalidRecords, 1)

	_, err = executeCmd(t, "run", "--env-file", filepath.Join(dir, "missing.env"),
		"--file", path, "--requester", "ops", "--update", "--fail-on-invalid")
	assert.Equal(t, exitValidation, exitCode(err))
}

func TestRunCmd_RejectsFileOutsideAllowedDirs(t *testing.T) {
	dir := setupEnv(t)
	other := t.TempDir()
	path := filepath.Join(other, "items.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,quantity,price\nWidget,1,1.00\n"), 0o600))

	_, err := executeCmd(t, "run", "--env-file", filepath.Join(dir, "missing.env"), "--file", path, "--requester", "ops")
	require.Error(t, err)
	assert.Equal(t, exitRejected, exitCode(err))
}

func TestRunCmd_MissingConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("IMPORT_ALLOWED_DIRS", "")

	_, err := executeCmd(t, "run", "--env-file", filepath.Join(dir, "missing.env"), "--file", "x.csv", "--requester", "ops")
	assert.Equal(t, exitUsage, exitCode(err))
}

func TestMigrateCmd(t *testing.T) {
	dir := setupEnv(t)

	out, err := executeCmd(t, "migrate", "--env-file", filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	var applied []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &applied), out)
	assert.NotEmpty(t, applied)

	out, err = executeCmd(t, "migrate", "--env-file", filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out, "second run applies nothing")
}

func TestWatchCmd_RequiresRedis(t *testing.T) {
	dir := setupEnv(t)
	t.Setenv("REDIS_URL", "")

	_, err := executeCmd(t, "watch", "--env-file", filepath.Join(dir, "missing.env"), "--run", "r1")
	assert.ErrorIs(t, err, errRedisDisabled)
	assert.Equal(t, exitUsage, exitCode(err))
}

func TestStatsCmd(t *testing.T) {
	dir := setupEnv(t)
	env := filepath.Join(dir, "missing.env")
	path := filepath.Join(dir, "items.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,quantity,price\nWidget,3,1.00\nGizmo,4,2.00\n"), 0o600))

	_, err := executeCmd(t, "run", "--env-file", env, "--file", path, "--requester", "ops")
	require.NoError(t, err)

	out, err := executeCmd(t, "stats", "--env-file", env)
	require.NoError(t, err)

	var stats storeStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats), out)
	assert.Equal(t, int64(2), stats.Items)
	assert.Equal(t, int64(2), stats.AuditEntries)
}

func TestStatsCmd_UnmigratedDatabase(t *testing.T) {
	dir := setupEnv(t)

	_, err := executeCmd(t, "stats", "--env-file", filepath.Join(dir, "missing.env"))
	require.Error(t, err)
	assert.Equal(t, exitDB, exitCode(err))
}
