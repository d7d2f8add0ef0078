package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/pipeboard/pipeboard/pkg/log"
)

const (
	// scanner limits sized for large tool-result events
	scanBufferInitial = 128 * 1024
	scanBufferMax     = 10 * 1024 * 1024

	stderrTailLimit = 4 * 1024
)

// CLIRuntime invokes an agent CLI as a subprocess and reads its
// newline-delimited JSON event stream from stdout.
type CLIRuntime struct {
	// Command is the agent binary, e.g. "claude".
	Command string
	// ExtraArgs are appended to every invocation.
	ExtraArgs []string
}

// NewCLIRuntime creates a runtime around the given agent binary.
func NewCLIRuntime(command string) *CLIRuntime {
	return &CLIRuntime{Command: command}
}

func (r *CLIRuntime) buildArgs(req Request) []string {
	args := []string{"-p", req.Prompt, "--output-format", "stream-json", "--verbose"}
	if req.Resume != "" {
		args = append(args, "--resume", req.Resume)
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}
	if req.PermissionMode != "" {
		args = append(args, "--permission-mode", req.PermissionMode)
	}
	return append(args, r.ExtraArgs...)
}

// Stream launches the subprocess and feeds its stdout lines as events.
// Cancelling ctx kills the process; the stream then closes with ctx's error.
func (r *CLIRuntime) Stream(ctx context.Context, req Request) (*Stream, error) {
	if r.Command == "" {
		return nil, fmt.Errorf("agent command is required")
	}

	cmd := exec.CommandContext(ctx, r.Command, r.buildArgs(req)...)
	if req.WorkingDirectory != "" {
		cmd.Dir = req.WorkingDirectory
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open agent stdout: %w", err)
	}
	stderr := &tailBuffer{limit: stderrTailLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent %q: %w", r.Command, err)
	}
	log.Debug("agent started", "command", r.Command, "resume", req.Resume)

	stream := NewStream()
	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, scanBufferInitial), scanBufferMax)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if !json.Valid([]byte(line)) {
				log.Debug("agent emitted non-JSON line, skipping", "line", line)
				continue
			}
			if !stream.Send(ctx, json.RawMessage(line)) {
				break
			}
		}

		waitErr := cmd.Wait()
		switch {
		case ctx.Err() != nil:
			stream.Close(ctx.Err())
		case waitErr != nil:
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				stream.Close(fmt.Errorf("agent failed: %w: %s", waitErr, msg))
			} else {
				stream.Close(fmt.Errorf("agent failed: %w", waitErr))
			}
		default:
			stream.Close(nil)
		}
	}()

	return stream, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}
