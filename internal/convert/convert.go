// Package convert defines the contract with the external conversion tool
// and ships an exec-based implementation of it.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"go-subband-ingest/internal/model"
)

// Converter turns a complete set of subband files into one output product.
// Implementations must be idempotent when re-invoked with the same
// outputPath (overwrite is fine), must distinguish transient from fatal
// failures via the model error taxonomy, and must honor ctx cancellation.
type Converter interface {
	Convert(ctx context.Context, memberPaths []string, outputPath string) error
}

// Func adapts a plain function to the Converter interface.
type Func func(ctx context.Context, memberPaths []string, outputPath string) error

func (f Func) Convert(ctx context.Context, memberPaths []string, outputPath string) error {
	return f(ctx, memberPaths, outputPath)
}

// Sysexits code conventionally used by batch tools to signal "try again".
const exTempFail = 75

// Command runs an external conversion tool as a subprocess:
//
//	<tool> <outputPath> <member>...
//
// Exit status 75 (EX_TEMPFAIL) and context-deadline kills map to transient
// failures; any other non-zero exit is fatal. A tool that cannot be started
// at all is fatal too, retrying will not install it.
type Command struct {
	Tool string
}

func (c Command) Convert(ctx context.Context, memberPaths []string, outputPath string) error {
	args := append([]string{outputPath}, memberPaths...)
	cmd := exec.CommandContext(ctx, c.Tool, args...)

	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return model.TransientConversion(fmt.Errorf("conversion cancelled: %w", ctx.Err()))
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == exTempFail {
			return model.TransientConversion(fmt.Errorf("tool reported temporary failure: %s", tail(out)))
		}
		return model.FatalConversion(fmt.Errorf("tool exited %d: %s", exitErr.ExitCode(), tail(out)))
	}

	return model.FatalConversion(fmt.Errorf("cannot run %s: %w", c.Tool, err))
}

// tail keeps error output readable in lastError columns and log lines.
func tail(out []byte) string {
	const max = 512
	s := string(out)
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return s
}
