// -----------------------------------------------------------------------
// CLI Engine - reasoning engine subprocess execution (batch + streaming)
// -----------------------------------------------------------------------

package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praeco/internal/common"
	"github.com/ternarybob/praeco/internal/interfaces"
	"github.com/ternarybob/praeco/internal/models"
)

// resultEnvelope is the single-envelope batch output format. Extra fields
// emitted by the engine are ignored.
type resultEnvelope struct {
	IsError bool   `json:"is_error"`
	Result  string `json:"result"`
}

// CLIEngine executes the external reasoning engine as a subprocess, one
// process per task. The payload is piped through a temporary input file
// which is removed after exit regardless of outcome.
type CLIEngine struct {
	config      common.EngineConfig
	execTimeout time.Duration
	killGrace   time.Duration
	logger      arbor.ILogger
}

// NewCLIEngine creates a subprocess-backed engine.
func NewCLIEngine(config common.EngineConfig, logger arbor.ILogger) *CLIEngine {
	return &CLIEngine{
		config:      config,
		execTimeout: common.Duration(config.ExecTimeout, 4*time.Minute+30*time.Second),
		killGrace:   common.Duration(config.KillGrace, 5*time.Second),
		logger:      logger,
	}
}

// Verify verifies the engine binary can be resolved. A missing binary is
// fatal at startup but recoverable per task, so callers decide severity.
func (e *CLIEngine) Verify() error {
	if _, err := exec.LookPath(e.config.Binary); err != nil {
		return &SpawnError{Binary: e.config.Binary, Err: err}
	}
	return nil
}

// Execute runs one engine invocation and returns the extracted final text.
func (e *CLIEngine) Execute(ctx context.Context, req interfaces.ExecuteRequest) (string, error) {
	input, err := writePayloadFile(req.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to stage payload: %w", err)
	}
	defer func() {
		input.Close()
		os.Remove(input.Name())
	}()

	cmd := exec.Command(e.config.Binary, e.buildArgs(req.Streaming)...)
	cmd.Stdin = input
	// Own process group so kill escalation reaches children of the engine
	// process; an orphaned grandchild holding the stdout pipe would otherwise
	// block Wait past the timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if req.Streaming {
		return e.runStreaming(ctx, cmd, req)
	}
	return e.runBatch(ctx, cmd, req)
}

func (e *CLIEngine) buildArgs(streaming bool) []string {
	args := []string{"--print", "--output-format"}
	if streaming {
		args = append(args, "stream-json")
		if e.config.Verbose {
			args = append(args, "--verbose")
		}
	} else {
		args = append(args, "json")
	}
	if e.config.SkipPermissions {
		args = append(args, "--skip-permissions")
	}
	return args
}

func (e *CLIEngine) runBatch(ctx context.Context, cmd *exec.Cmd, req interfaces.ExecuteRequest) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", &SpawnError{Binary: e.config.Binary, Err: err}
	}
	e.announceSpawn(cmd, req)

	done := make(chan struct{})
	softTimedOut := e.supervise(ctx, cmd, done)

	waitErr := cmd.Wait()
	close(done)

	if softTimedOut.Load() {
		return "", ErrExecTimeout
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if waitErr != nil {
		return "", &ProcessExitError{
			ExitCode: exitCode(waitErr),
			Stdout:   truncate(stdout.String(), e.config.MaxOutputBytes),
			Stderr:   truncate(stderr.String(), e.config.MaxOutputBytes),
		}
	}

	var envelope resultEnvelope
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &envelope); err != nil {
		return "", &ParseError{Reason: fmt.Sprintf("invalid result envelope: %v", err)}
	}
	if envelope.IsError {
		return "", &EngineError{Message: envelope.Result}
	}

	return ExtractJSON(envelope.Result), nil
}

func (e *CLIEngine) runStreaming(ctx context.Context, cmd *exec.Cmd, req interfaces.ExecuteRequest) (string, error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", &SpawnError{Binary: e.config.Binary, Err: err}
	}
	e.announceSpawn(cmd, req)

	done := make(chan struct{})
	softTimedOut := e.supervise(ctx, cmd, done)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderrPipe)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				emitLog(req, models.TaskLogEntry{
					Timestamp: time.Now(),
					Stream:    models.LogStreamStderr,
					Content:   line,
				})
			}
		}
	}()

	interp := NewInterpreter()
	reader := bufio.NewReader(stdoutPipe)
	for {
		// ReadString returns any leftover partial line alongside io.EOF, so
		// the final unterminated buffer goes through the same parse path.
		line, readErr := reader.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			e.handleLine(trimmed, interp, req)
		}
		if readErr != nil {
			break
		}
	}

	wg.Wait()
	waitErr := cmd.Wait()
	close(done)

	if softTimedOut.Load() {
		return "", ErrExecTimeout
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if waitErr != nil {
		return "", &ProcessExitError{ExitCode: exitCode(waitErr)}
	}

	payload, ok := interp.Result()
	if !ok {
		return "", &ParseError{Reason: "stream ended without a result event"}
	}
	return ExtractJSON(payload), nil
}

func (e *CLIEngine) handleLine(line string, interp *Interpreter, req interfaces.ExecuteRequest) {
	event, err := DecodeStreamEvent([]byte(line))
	if err != nil {
		// Not an event record; surface the raw line verbatim.
		emitLog(req, models.TaskLogEntry{
			Timestamp: time.Now(),
			Stream:    models.LogStreamStdout,
			Content:   line,
		})
		return
	}
	for _, entry := range interp.Interpret(event) {
		emitLog(req, entry)
	}
}

// supervise watches for context cancellation and the local soft timeout,
// escalating SIGTERM then SIGKILL after the grace window. The returned flag
// reports whether the soft timeout fired.
func (e *CLIEngine) supervise(ctx context.Context, cmd *exec.Cmd, done <-chan struct{}) *atomic.Bool {
	timedOut := &atomic.Bool{}

	go func() {
		softTimer := time.NewTimer(e.execTimeout)
		defer softTimer.Stop()

		select {
		case <-done:
			return
		case <-ctx.Done():
		case <-softTimer.C:
			timedOut.Store(true)
			e.logger.Warn().
				Int("pid", cmd.Process.Pid).
				Dur("exec_timeout", e.execTimeout).
				Msg("Engine process exceeded execution timeout, sending SIGTERM")
		}

		signalTree(cmd, syscall.SIGTERM)

		select {
		case <-done:
		case <-time.After(e.killGrace):
			e.logger.Warn().
				Int("pid", cmd.Process.Pid).
				Msg("Engine process survived SIGTERM grace window, sending SIGKILL")
			signalTree(cmd, syscall.SIGKILL)
		}
	}()

	return timedOut
}

// signalTree signals the subprocess's whole process group. The engine CLI
// spawns its own children; signaling only the direct child would leave them
// holding the output pipes.
func signalTree(cmd *exec.Cmd, sig syscall.Signal) {
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		cmd.Process.Signal(sig)
	}
}

func (e *CLIEngine) announceSpawn(cmd *exec.Cmd, req interfaces.ExecuteRequest) {
	pid := cmd.Process.Pid
	e.logger.Debug().
		Str("task_id", req.TaskID).
		Int("pid", pid).
		Bool("streaming", req.Streaming).
		Msg("Engine process spawned")
	if req.OnSpawn != nil {
		req.OnSpawn(pid)
	}
}

func emitLog(req interfaces.ExecuteRequest, entry models.TaskLogEntry) {
	if req.OnLog != nil {
		req.OnLog(entry)
	}
}

// writePayloadFile stages the payload in a temp file opened for reading so
// it can be handed to the subprocess as stdin.
func writePayloadFile(payload string) (*os.File, error) {
	file, err := os.CreateTemp("", "praeco-payload-*.txt")
	if err != nil {
		return nil, err
	}
	if _, err := file.WriteString(payload); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, err
	}
	if _, err := file.Seek(0, 0); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, err
	}
	return file, nil
}

func exitCode(waitErr error) int {
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
