package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/envutil"
)

// ProcessLauncher spawns backend tool servers as child processes and wires
// their stdio into a StreamConn. Stdout carries the protocol (through the
// framer); stderr is drained into the log.
type ProcessLauncher struct {
	logger  *zap.Logger
	metrics domain.Metrics
}

func NewProcessLauncher(logger *zap.Logger, metrics domain.Metrics) *ProcessLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessLauncher{
		logger:  logger.Named("process"),
		metrics: metrics,
	}
}

func (l *ProcessLauncher) Start(ctx context.Context, spec domain.BackendSpec) (domain.Conn, error) {
	if len(spec.Cmd) == 0 {
		return nil, errors.New("cmd is required for a process backend")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The child's lifetime is owned by the returned conn's closer, not by
	// ctx: registration contexts end long before the backend should die.
	cmd := exec.Command(spec.Cmd[0], spec.Cmd[1:]...)
	if spec.Cwd != "" {
		cmd.Dir = spec.Cwd
	}
	cmd.Env = envutil.PatchPATHIfNeeded(envutil.Merge(os.Environ(), spec.Env))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Cmd[0], err)
	}

	go l.drainStderr(spec.Name, stderr)

	closer := func() error {
		_ = stdin.Close()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
		return nil
	}

	conn := NewStreamConn(stdout, stdin, closer, ConnOptions{
		Logger:  l.logger,
		Metrics: l.metrics,
		Backend: spec.Name,
	})
	return conn, nil
}

func (l *ProcessLauncher) drainStderr(backend string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		l.logger.Debug("backend stderr",
			zap.String("backend", backend),
			zap.String("line", scanner.Text()),
		)
	}
}
