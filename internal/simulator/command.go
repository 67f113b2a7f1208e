// Package simulator runs the external episim simulator as a subprocess.
package simulator

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"time"
)

// Command is a prepared simulator invocation.
type Command interface {
	// Run executes the command and returns the end of the combined output
	// (stdout+stderr).
	Run(ctx context.Context) ([]byte, error)

	// SetDir sets the working directory of the command.
	SetDir(dir string)

	// SetOutput streams the combined output to w while the command runs.
	SetOutput(w io.Writer)
}

// Builder creates commands. Tests substitute MockBuilder to capture the
// command lines of an objective without starting a JVM.
type Builder interface {
	// BuildCommand creates a Command running name with args.
	BuildCommand(name string, args ...string) Command

	// BuildShellCommand creates a Command running command via sh -c.
	BuildShellCommand(command string) Command
}

// waitDelay bounds how long Run waits for output pipes after the process
// was killed; children of the shell may hold them open.
const waitDelay = time.Second

// tailSize is the amount of output Run keeps for error reports. A JVM run
// logs far more than this over a long trial.
const tailSize = 64 * 1024

// RealCommand runs a process with os/exec.
type RealCommand struct {
	name   string
	args   []string
	dir    string
	output io.Writer
}

// Run executes the command and returns the last tailSize bytes of combined
// output. The process is killed when ctx is done.
func (r *RealCommand) Run(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.name, r.args...)
	cmd.Dir = r.dir
	cmd.WaitDelay = waitDelay

	tail := newTailBuffer(tailSize)
	var w io.Writer = tail
	if r.output != nil {
		w = io.MultiWriter(r.output, tail)
	}
	cmd.Stdout = w
	cmd.Stderr = w
	err := cmd.Run()
	return tail.Bytes(), err
}

// SetDir sets the working directory.
func (r *RealCommand) SetDir(dir string) {
	r.dir = dir
}

// SetOutput streams the output to w in addition to the returned tail.
func (r *RealCommand) SetOutput(w io.Writer) {
	r.output = w
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if n >= b.max {
		b.buf = append(b.buf[:0], p[n-b.max:]...)
		return n, nil
	}
	if over := len(b.buf) + n - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

// Bytes returns a copy of the kept output.
func (b *tailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf...)
}

// RealBuilder implements Builder using os/exec.
type RealBuilder struct{}

// NewRealBuilder creates a new RealBuilder.
func NewRealBuilder() *RealBuilder {
	return &RealBuilder{}
}

// BuildCommand creates a RealCommand for the given command and arguments.
func (b *RealBuilder) BuildCommand(name string, args ...string) Command {
	return &RealCommand{name: name, args: args}
}

// BuildShellCommand creates a RealCommand running through sh -c.
func (b *RealBuilder) BuildShellCommand(command string) Command {
	return &RealCommand{name: "sh", args: []string{"-c", command}}
}

// MockCommand implements Command for testing.
type MockCommand struct {
	// Output is returned from Run.
	Output []byte
	// Err is returned from Run.
	Err error
	// Dir holds the working directory that was set.
	Dir string
	// Writer holds the output writer that was set. Run copies Output to it.
	Writer io.Writer
	// RunCalled indicates whether Run was called.
	RunCalled bool
	// OnRun, when set, is called before Run returns. Tests use it to write
	// the output files the simulator would have produced.
	OnRun func() error
}

// Run returns the configured output and error.
func (m *MockCommand) Run(ctx context.Context) ([]byte, error) {
	m.RunCalled = true
	if err := ctx.Err(); err != nil {
		return m.Output, err
	}
	if m.Writer != nil && len(m.Output) > 0 {
		if _, err := m.Writer.Write(m.Output); err != nil {
			return m.Output, err
		}
	}
	if m.OnRun != nil {
		if err := m.OnRun(); err != nil {
			return m.Output, err
		}
	}
	return m.Output, m.Err
}

// SetDir records the working directory.
func (m *MockCommand) SetDir(dir string) {
	m.Dir = dir
}

// SetOutput records the output writer.
func (m *MockCommand) SetOutput(w io.Writer) {
	m.Writer = w
}

// MockBuilder implements Builder for testing.
type MockBuilder struct {
	// Commands records all commands that were built.
	Commands []BuiltCommand
	// Factory, when set, creates the command for each build call.
	Factory func(name string, args []string) *MockCommand
	// Next is returned by the next build call when Factory is nil.
	Next *MockCommand
}

// BuiltCommand records the details of a built command.
type BuiltCommand struct {
	Name    string
	Args    []string
	IsShell bool
}

// Line returns the command line as it would be passed to the shell.
func (c BuiltCommand) Line() string {
	if c.IsShell && len(c.Args) == 2 {
		return c.Args[1]
	}
	line := c.Name
	for _, a := range c.Args {
		line += " " + a
	}
	return line
}

// NewMockBuilder creates a new MockBuilder.
func NewMockBuilder() *MockBuilder {
	return &MockBuilder{}
}

// BuildCommand records the command and returns a MockCommand.
func (b *MockBuilder) BuildCommand(name string, args ...string) Command {
	b.Commands = append(b.Commands, BuiltCommand{Name: name, Args: args})
	return b.command(name, args)
}

// BuildShellCommand records the shell command and returns a MockCommand.
func (b *MockBuilder) BuildShellCommand(command string) Command {
	args := []string{"-c", command}
	b.Commands = append(b.Commands, BuiltCommand{Name: "sh", Args: args, IsShell: true})
	return b.command("sh", args)
}

func (b *MockBuilder) command(name string, args []string) *MockCommand {
	if b.Factory != nil {
		return b.Factory(name, args)
	}
	if b.Next != nil {
		c := b.Next
		b.Next = nil
		return c
	}
	return &MockCommand{}
}

// LastCommand returns the most recently built command, or nil if none.
func (b *MockBuilder) LastCommand() *BuiltCommand {
	if len(b.Commands) == 0 {
		return nil
	}
	return &b.Commands[len(b.Commands)-1]
}

// Lines returns the command lines of all built commands in order.
func (b *MockBuilder) Lines() []string {
	lines := make([]string, len(b.Commands))
	for i, c := range b.Commands {
		lines[i] = c.Line()
	}
	return lines
}
