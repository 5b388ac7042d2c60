package sheet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/brensch/tenderscan/internal/apperr"
)

// Verifier checks that a document can be opened at all before the full pass.
type Verifier interface {
	Verify(ctx context.Context, path string) error
}

// VerifyFile reads at most maxCells cells of path. It is the body of the
// verification child process and of InlineVerifier.
func VerifyFile(ctx context.Context, r *Reader, path string, maxCells int) error {
	n := 0
	for _, err := range r.Cells(ctx, path) {
		if err != nil {
			return err
		}
		n++
		if n >= maxCells {
			break
		}
	}
	return nil
}

// InlineVerifier runs VerifyFile in a goroutine of this process. A parser
// stuck in a loop keeps its goroutine after the deadline, so prefer
// ProcessVerifier outside tests.
type InlineVerifier struct {
	Reader   *Reader
	MaxCells int
	Timeout  time.Duration
}

func (v InlineVerifier) Verify(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, v.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- apperr.Errorf(apperr.KindParse, "verify", "reader crashed: %v", r)
			}
		}()
		done <- VerifyFile(ctx, v.Reader, path, v.MaxCells)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return verifyTimeout(path, v.Timeout)
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return verifyTimeout(path, v.Timeout)
		}
		return ctx.Err()
	}
}

func verifyTimeout(path string, d time.Duration) error {
	return apperr.Errorf(apperr.KindVerificationTimeout, "verify", "timeout after %s", d).WithPath(path)
}

// ProcessVerifier runs verification in a child process that is killed at the
// deadline. Command is the program and leading arguments; the verifier
// appends "--max-cells N <path>". Env entries are added to the child's
// environment.
type ProcessVerifier struct {
	Command  []string
	Env      []string
	MaxCells int
	Timeout  time.Duration
}

// NewProcessVerifier re-executes the running binary's verify-file command.
func NewProcessVerifier(maxCells int, timeout time.Duration) (ProcessVerifier, error) {
	exe, err := os.Executable()
	if err != nil {
		return ProcessVerifier{}, apperr.New(apperr.KindConfiguration, "locate executable", err)
	}
	return ProcessVerifier{Command: []string{exe, "verify-file"}, MaxCells: maxCells, Timeout: timeout}, nil
}

func (v ProcessVerifier) Verify(ctx context.Context, path string) error {
	if len(v.Command) == 0 {
		return apperr.New(apperr.KindConfiguration, "verify", errors.New("no verification command"))
	}
	ctx, cancel := context.WithTimeout(ctx, v.Timeout)
	defer cancel()

	args := append(append([]string(nil), v.Command[1:]...), "--max-cells", strconv.Itoa(v.MaxCells), path)
	cmd := exec.CommandContext(ctx, v.Command[0], args...)
	cmd.Env = append(os.Environ(), v.Env...)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return verifyTimeout(path, v.Timeout)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		msg = err.Error()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && !exitErr.Exited() {
		// Killed by a signal: a crash inside a native parser.
		return apperr.Errorf(apperr.KindParse, "verify", "verifier crashed: %s", msg).WithPath(path)
	}
	return apperr.Errorf(apperr.KindParse, "verify", "%s", msg).WithPath(path)
}

// MemoryGuard rejects files whose estimated in-memory size exceeds Share of
// the currently available memory.
type MemoryGuard struct {
	Share     float64
	Available func() (uint64, error)
}

// NewMemoryGuard reads available memory from the OS.
func NewMemoryGuard(share float64) MemoryGuard {
	return MemoryGuard{
		Share: share,
		Available: func() (uint64, error) {
			vm, err := mem.VirtualMemory()
			if err != nil {
				return 0, err
			}
			return vm.Available, nil
		},
	}
}

// Zip-based workbooks inflate roughly tenfold once parsed.
func expansion(path string) uint64 {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return 10
	}
	return 3
}

// Check returns a KindResource error when path is too large to parse now.
// Failure to read memory statistics is not an error.
func (g MemoryGuard) Check(path string) error {
	if g.Share <= 0 || g.Available == nil {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return apperr.New(apperr.KindParse, "stat", err).WithPath(path)
	}
	avail, err := g.Available()
	if err != nil || avail == 0 {
		return nil
	}
	need := uint64(info.Size()) * expansion(path)
	if float64(need) > g.Share*float64(avail) {
		return apperr.Errorf(apperr.KindResource, "memory guard",
			"file needs ~%d MiB, %d MiB available", need>>20, avail>>20).WithPath(path)
	}
	return nil
}

// String helps logging show which verifier is active.
func (v ProcessVerifier) String() string {
	return fmt.Sprintf("process(%s)", strings.Join(v.Command, " "))
}
