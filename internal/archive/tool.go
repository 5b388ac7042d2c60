package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/brensch/tenderscan/internal/apperr"
)

// Runner runs an external command and returns its exit code and combined
// output. A non-nil error means the command could not be run at all.
type Runner func(ctx context.Context, name string, args ...string) (code int, output []byte, err error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) (int, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ctx.Err() != nil {
			return -1, buf.Bytes(), ctx.Err()
		}
		return exitErr.ExitCode(), buf.Bytes(), nil
	}
	if err != nil {
		return -1, buf.Bytes(), err
	}
	return 0, buf.Bytes(), nil
}

// Tool exit codes that are not plain success.
const (
	unrarWarning    = 1
	unrarCRCError   = 3
	sevenZipWarning = 1
)

func (e *Extractor) runUnrar(ctx context.Context, first, dest string) error {
	code, out, err := e.run(ctx, e.unrar, "x", "-o+", "-y", "-p-", first, ensureSlash(dest))
	if err != nil {
		return toolError("unrar", first, err)
	}
	switch code {
	case 0:
		return nil
	case unrarWarning:
		e.logger.Warn("unrar finished with warnings.", "archive", first, "output", tail(out))
		return nil
	case unrarCRCError:
		return apperr.Errorf(apperr.KindArchiveCorrupt, "unrar", "archive is corrupt: %s", tail(out)).WithPath(first)
	default:
		return apperr.Errorf(apperr.KindArchiveCorrupt, "unrar", "exit %d: %s", code, tail(out)).WithPath(first)
	}
}

func (e *Extractor) run7z(ctx context.Context, first, dest string) error {
	code, out, err := e.run(ctx, e.sevenZip, "x", "-y", "-p-", "-o"+dest, first)
	if err != nil {
		return toolError("7z", first, err)
	}
	switch code {
	case 0:
		return nil
	case sevenZipWarning:
		e.logger.Warn("7z finished with warnings.", "archive", first, "output", tail(out))
		return nil
	default:
		return apperr.Errorf(apperr.KindArchiveCorrupt, "7z", "exit %d: %s", code, tail(out)).WithPath(first)
	}
}

func toolError(tool, path string, err error) error {
	if errors.Is(err, exec.ErrNotFound) {
		return apperr.New(apperr.KindConfiguration, tool, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.New(apperr.KindArchiveCorrupt, tool, err).WithPath(path)
}

func ensureSlash(dir string) string {
	if strings.HasSuffix(dir, "/") {
		return dir
	}
	return dir + "/"
}

// tail keeps the last few lines of tool output for error messages.
func tail(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	return strings.Join(lines, " / ")
}

// lookTool resolves a tool name to a path, reporting a configuration error
// when it is missing.
func lookTool(name string) (string, error) {
	p, err := exec.LookPath(name)
	if err != nil {
		return "", apperr.New(apperr.KindConfiguration, "check tools",
			fmt.Errorf("%s not found in PATH: %w", name, err))
	}
	return p, nil
}
