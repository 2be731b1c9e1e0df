package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/outreach-orchestrator/internal/errors"
	"github.com/unclebandit/outreach-orchestrator/internal/model"
)

func quietEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "disabled")
	t.Setenv("TRANSPORT", "mock")
	t.Setenv("MOCK_SUCCESS_RATE", "1")
	t.Setenv("PROGRESS_STORE", "file")
	t.Setenv("PROGRESS_FILE", filepath.Join(t.TempDir(), "progress.json"))
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CONFIG_PATH", "")
}

func writeTargets(t *testing.T, targets []model.TargetEntity) string {
	t.Helper()
	data, err := json.Marshal(targets)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "targets.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

var fourTargets = []model.TargetEntity{
	{ID: "biz-1", Email: "one@dental.example", NetWorth: model.NetWorthLow, Industry: "dental"},
	{ID: "biz-2", Email: "two@legal.example", NetWorth: model.NetWorthHigh, OwnerOccupied: true, Industry: "legal"},
	{ID: "biz-3", Email: "three@dental.example", NetWorth: model.NetWorthMedium, Industry: "dental"},
	{ID: "biz-4", Email: "four@roofing.example", NetWorth: model.NetWorthHigh, Industry: "construction"},
}

func TestRunCommand_CompletesThenResumes(t *testing.T) {
	quietEnv(t)
	targets := writeTargets(t, fourTargets)
	progressFile := filepath.Join(t.TempDir(), "progress.json")
	args := []string{"run",
		"--targets-file", targets,
		"--identity", "Ana <ana@outreach.example>",
		"--identity", "bob@outreach.example",
		"--max-concurrent", "2",
		"--delay-ms", "0",
		"--save-progress",
		"--progress-file", progressFile,
	}

	out, err := execute(t, args...)
	require.NoError(t, err)
	var first model.CampaignStats
	require.NoError(t, json.Unmarshal([]byte(out), &first))
	assert.Equal(t, 4, first.TotalBusinesses)
	assert.Equal(t, 4, first.Sent)
	assert.NotNil(t, first.CompletedAt)
	assert.False(t, first.Resumed)
	assert.FileExists(t, progressFile)

	out, err = execute(t, args...)
	require.NoError(t, err)
	var second model.CampaignStats
	require.NoError(t, json.Unmarshal([]byte(out), &second))
	assert.Equal(t, first.CampaignID, second.CampaignID)
	assert.True(t, second.Resumed)
	assert.Equal(t, 4, second.Sent)

	out, err = execute(t, "status", "--progress-file", progressFile)
	require.NoError(t, err)
	assert.Contains(t, out, "campaign "+first.CampaignID)
	assert.Contains(t, out, "sent 4")
	assert.Contains(t, out, "high-owner-occupied")
}

func TestRunCommand_TargetCountAndTemplate(t *testing.T) {
	quietEnv(t)
	out, err := execute(t, "run",
		"--targets-file", writeTargets(t, fourTargets),
		"--identity", "ana@outreach.example",
		"--target-count", "2",
		"--delay-ms", "0",
		"--template", "Hello {name} in {city}",
		"--fill-fields",
	)
	require.NoError(t, err)
	var stats model.CampaignStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.TotalBusinesses)
	assert.Equal(t, 1, stats.ByPriority["high-owner-occupied"].Total, "highest tiers are taken first")
	assert.Equal(t, 1, stats.ByPriority["high"].Total)
}

func TestRunCommand_RetryCeilingZeroNeverRetries(t *testing.T) {
	quietEnv(t)
	t.Setenv("MOCK_SUCCESS_RATE", "0")
	t.Setenv("TRANSPORT_BREAKER", "false")
	out, err := execute(t, "run",
		"--targets-file", writeTargets(t, fourTargets),
		"--identity", "ana@outreach.example",
		"--delay-ms", "0",
		"--retry-ceiling", "0",
	)
	require.NoError(t, err)
	var stats model.CampaignStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 4, stats.Failed)
	assert.Zero(t, stats.Pending)
}

func TestRunCommand_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no identities", []string{"--max-concurrent", "2"}},
		{"zero workers", []string{"--identity", "ana@outreach.example", "--max-concurrent", "0"}},
		{"negative delay", []string{"--identity", "ana@outreach.example", "--delay-ms=-5"}},
		{"unknown priority order", []string{"--identity", "ana@outreach.example", "--priority-order", "random"}},
		{"bad identity", []string{"--identity", "not an address"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quietEnv(t)
			args := append([]string{"run", "--targets-file", writeTargets(t, fourTargets)}, tt.args...)
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.True(t, appErrors.IsConfiguration(err), "got %v", err)
			assert.Equal(t, 1, exitCode(err))
		})
	}
}

func TestRunCommand_NoTargetSource(t *testing.T) {
	quietEnv(t)
	_, err := execute(t, "run", "--identity", "ana@outreach.example")
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
}

func TestStatusCommand_NoCheckpoint(t *testing.T) {
	quietEnv(t)
	out, err := execute(t, "status", "--progress-file", filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "no checkpoint found")
}

func TestLoadTargetsFile(t *testing.T) {
	targets, err := loadTargetsFile(writeTargets(t, fourTargets))
	require.NoError(t, err)
	assert.Equal(t, fourTargets, targets)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"id": `), 0o600))
	_, err = loadTargetsFile(bad)
	assert.True(t, appErrors.IsConfiguration(err))

	_, err = loadTargetsFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, appErrors.IsConfiguration(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(appErrors.NewConfigurationError("max_concurrent_agents", "must be positive")))
	assert.Equal(t, 2, exitCode(errors.New("connect to RabbitMQ: refused")))
}
