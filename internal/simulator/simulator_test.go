package simulator

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsim-org/matsim-episim-libs/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func TestRealBuilder_Run(t *testing.T) {
	cmd := NewRealBuilder().BuildShellCommand("echo hello")
	out, err := cmd.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", strings.TrimSpace(string(out)))
}

func TestRealBuilder_Dir(t *testing.T) {
	dir := t.TempDir()
	cmd := NewRealBuilder().BuildCommand("sh", "-c", "echo x > marker")
	cmd.SetDir(dir)
	_, err := cmd.Run(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "marker"))
}

func TestRealCommand_StreamsOutput(t *testing.T) {
	var log bytes.Buffer
	cmd := NewRealBuilder().BuildShellCommand("echo one; echo two >&2")
	cmd.SetOutput(&log)
	out, err := cmd.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", log.String())
	assert.Equal(t, "one\ntwo\n", string(out))
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(8)
	b.Write([]byte("abc"))
	b.Write([]byte("defgh"))
	assert.Equal(t, "abcdefgh", string(b.Bytes()))

	b.Write([]byte("ij"))
	assert.Equal(t, "cdefghij", string(b.Bytes()))

	n, err := b.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "23456789", string(b.Bytes()))
}

func TestRunner_Log(t *testing.T) {
	var log bytes.Buffer
	r := NewRunner(t.TempDir(), 0)
	r.Log = &log

	_, err := r.Run(context.Background(), "echo first")
	require.NoError(t, err)
	out, err := r.Run(context.Background(), "echo second; exit 2")
	require.Error(t, err)
	assert.Equal(t, "second\n", string(out))

	lines := strings.Split(strings.TrimSpace(log.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "== "))
	assert.True(t, strings.HasSuffix(lines[0], " echo first"))
	assert.Equal(t, "first", lines[1])
	assert.True(t, strings.HasSuffix(lines[2], " echo second; exit 2"))
	assert.Equal(t, "second", lines[3])
}

func TestRunner_LogMock(t *testing.T) {
	var log bytes.Buffer
	b := NewMockBuilder()
	b.Next = &MockCommand{Output: []byte("done\n")}
	r := &Runner{Builder: b, Log: &log}

	_, err := r.Run(context.Background(), "java -jar x.jar")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(log.String(), " java -jar x.jar\ndone\n"))
}

func TestRunner_ExitCode(t *testing.T) {
	r := NewRunner(t.TempDir(), 0)
	out, err := r.Run(context.Background(), "echo boom; exit 3")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSimulatorFailed)

	var exit *ExitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 3, exit.ExitCode)
	assert.Equal(t, "echo boom; exit 3", exit.Command)
	assert.Contains(t, string(out), "boom")
}

func TestRunner_Timeout(t *testing.T) {
	r := NewRunner(t.TempDir(), 50*time.Millisecond)
	_, err := r.Run(context.Background(), "sleep 5")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrSimulatorFailed)
}

func TestRunner_Cancelled(t *testing.T) {
	b := NewMockBuilder()
	r := &Runner{Builder: b}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, "java -jar x.jar")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_Mock(t *testing.T) {
	b := NewMockBuilder()
	b.Next = &MockCommand{Output: []byte("done")}
	r := &Runner{Builder: b, Dir: "/work"}

	out, err := r.Run(context.Background(), "java -jar x.jar")
	require.NoError(t, err)
	assert.Equal(t, "done", string(out))

	last := b.LastCommand()
	require.NotNil(t, last)
	assert.True(t, last.IsShell)
	assert.Equal(t, "java -jar x.jar", last.Line())
	assert.Equal(t, []string{"java -jar x.jar"}, b.Lines())
}

func TestRunner_MockFailure(t *testing.T) {
	b := NewMockBuilder()
	b.Factory = func(name string, args []string) *MockCommand {
		return &MockCommand{Err: errors.New("no java")}
	}
	r := &Runner{Builder: b}

	_, err := r.Run(context.Background(), "java")
	assert.ErrorIs(t, err, ErrSimulatorFailed)
	var exit *ExitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, -1, exit.ExitCode)
}

func TestRunner_DryRun(t *testing.T) {
	b := NewMockBuilder()
	r := &Runner{Builder: b, DryRun: true}
	_, err := r.Run(context.Background(), "java")
	require.NoError(t, err)
	assert.Empty(t, b.Commands)
}

func TestTrialCommandLines(t *testing.T) {
	start := time.Date(2020, 3, 6, 0, 0, 0, 0, time.UTC)
	tr := Trial{JVMOpts: "-Xmx8G", Scenario: "SnzBerlinWeekScenario2020", Number: 4}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			"unconstrained",
			tr.Unconstrained(1, 1.2e-5),
			"java -Xmx8G -jar matsim-episim-1.0-SNAPSHOT.jar scenarioCreation trial SnzBerlinWeekScenario2020 --number 4 --run 1 --unconstrained --calibParameter 0.000012000000",
		},
		{
			"ci_correction",
			tr.CICorrection(0, Correction{Days: 70, Alpha: 1, Correction: 0.55, Start: start}),
			`java -Xmx8G -jar matsim-episim-1.0-SNAPSHOT.jar scenarioCreation trial SnzBerlinWeekScenario2020 --days 70 --number 4 --run 0 --alpha 1.000 --offset 0 --correction 0.550 --start "2020-03-06"`,
		},
		{
			"multi",
			Trial{JVMOpts: "-Xmx7G", Jar: "episim.jar", Scenario: "S", Number: 2}.Multi(Correction{Days: 90, Alpha: 1, Offset: -2, Correction: 0.4}, 1.25),
			"java -Xmx7G -jar episim.jar scenarioCreation trial S --days 90 --number 2 --alpha 1.000 --offset -2 --hospitalFactor 1.250 --correction 0.400",
		},
		{
			"strain_without_jvm_opts",
			Trial{Scenario: "S", Number: 0}.Strain("strain", 3, 30, start, "ALPHA", 1.8),
			`java -jar matsim-episim-1.0-SNAPSHOT.jar scenarioCreation trial S --days 30 --number 0 --runs 3 --name strain --start "2020-03-06" --infectiousness ALPHA=1.800`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestOutputPaths(t *testing.T) {
	start := time.Date(2020, 3, 6, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, filepath.FromSlash("output-calibration-unconstrained/3/run1/infectionEvents.txt"),
		UnconstrainedOutput(3, 1, "infectionEvents.txt"))
	assert.Equal(t, filepath.FromSlash("output-calibration-2020-03-06/3/run0/infections.txt"),
		CorrectionOutput(start, 3, 0))
	assert.Equal(t, filepath.FromSlash("output-calibration/7/run0/infections.txt"), MultiOutput(7))
	assert.Equal(t, filepath.FromSlash("output-strain-2020-03-06/2/run_1/run1.strains.tsv"),
		StrainOutput("strain", start, 2, 1, "strains.tsv"))
}
