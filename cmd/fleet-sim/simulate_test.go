package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("FLEETSIM_CONFIG", "")
	t.Setenv("FLEETSIM_LOG_LEVEL", "error")
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestSimulateCSV(t *testing.T) {
	out, err := execute(t, "simulate", "--ticks", "30", "--format", "csv", "--seed", "5")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 31)
	assert.Equal(t, "timestamp,avgCpuUsage,avgMemoryUsage,avgNetworkLatency,systemHealthy,businessLoad", lines[0])
}

func TestSimulateReportWithInjection(t *testing.T) {
	out, err := execute(t, "simulate", "--ticks", "60", "--format", "report", "--seed", "5",
		"--inject", "db-01:database_slowdown@5")
	require.NoError(t, err)

	var report models.RCAReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.NotEmpty(t, report.ID)
	assert.NotZero(t, report.EventCount)
	assert.NotNil(t, report.Hypotheses)
}

func TestSimulateRejectsBadFlags(t *testing.T) {
	_, err := execute(t, "simulate", "--format", "xml")
	require.Error(t, err)
	_, err = execute(t, "simulate", "--ticks", "0")
	require.Error(t, err)
	_, err = execute(t, "simulate", "--inject", "db-01@5")
	require.Error(t, err)
}

func TestParseInjections(t *testing.T) {
	plan, err := parseInjections([]string{"web-01:cpu_spike@3", "db-01:database_slowdown@10"})
	require.NoError(t, err)
	assert.Equal(t, []plannedInjection{
		{node: "web-01", scenario: "cpu_spike", tick: 3},
		{node: "db-01", scenario: "database_slowdown", tick: 10},
	}, plan)

	for _, bad := range []string{"web-01", "web-01:cpu_spike", ":cpu_spike@1", "web-01:cpu_spike@0", "web-01:cpu_spike@x"} {
		_, err := parseInjections([]string{bad})
		assert.Error(t, err, bad)
	}
}
