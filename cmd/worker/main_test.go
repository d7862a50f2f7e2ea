package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"scriptmarket/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "worker.db"))
	t.Setenv("REDIS_URL", "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestListJobs(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, service.JobSettleBalances)
	assert.Contains(t, out, service.JobProcessPayouts)
	assert.Contains(t, out, service.JobTrialCleanup)
	assert.Contains(t, out, service.JobDispatchPending)
}

func TestRunJobPrintsSummary(t *testing.T) {
	out, err := execute(t, "run", service.JobTrialCleanup)
	require.NoError(t, err)

	var summary map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, service.JobTrialCleanup, summary["job"])
	assert.EqualValues(t, 0, summary["processed"])
}

func TestRunUnknownJob(t *testing.T) {
	_, err := execute(t, "run", "nope")
	assert.ErrorIs(t, err, service.ErrNotFound)
}
