package extraction

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// maxLoggedStderr caps the stderr kept in failure logs.
const maxLoggedStderr = 4 << 10

// Runner executes the OCR toolchain binaries. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// CommandObserver receives the tool name, wall time and outcome of every
// OCR command, for example to feed a latency histogram.
type CommandObserver func(tool string, duration time.Duration, err error)

// toolName strips the directory from a configured binary path so metrics
// labels stay stable across installs.
func toolName(bin string) string {
	return filepath.Base(bin)
}

type execRunner struct {
	logger *zap.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		fields := []interface{}{"tool", toolName(name), "error", err, "stderr", truncate(errb.String(), maxLoggedStderr)}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			fields = append(fields, "exit_code", exitErr.ExitCode())
		}
		r.logger.Sugar().Warnw("ocr command failed", fields...)
		return out.Bytes(), errb.Bytes(), err
	}
	return out.Bytes(), errb.Bytes(), nil
}

// observedRunner reports each command to an observer and logs its timing.
type observedRunner struct {
	next    Runner
	observe CommandObserver
	logger  *zap.Logger
}

func (r observedRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()
	out, errb, err := r.next.Run(ctx, name, args...)
	elapsed := time.Since(start)
	tool := toolName(name)
	if r.observe != nil {
		r.observe(tool, elapsed, err)
	}
	if err == nil {
		r.logger.Sugar().Debugw("ocr command finished", "tool", tool, "duration_ms", elapsed.Milliseconds(), "stdout_bytes", len(out))
	}
	return out, errb, err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
