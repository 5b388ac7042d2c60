package sheet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/tenderscan/internal/apperr"
)

// TestHelperProcess is the child side of ProcessVerifier tests. It behaves
// according to the base name of the file it is asked to verify.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("SHEET_WANT_HELPER_PROCESS") != "1" {
		return
	}
	path := os.Args[len(os.Args)-1]
	switch filepath.Base(path) {
	case "hang.xlsx":
		time.Sleep(time.Minute)
	case "bad.xlsx":
		fmt.Fprint(os.Stderr, "could not parse bad.xlsx: xlsx: zip: not a valid zip file")
		os.Exit(1)
	}
	os.Exit(0)
}

func helperVerifier(timeout time.Duration) ProcessVerifier {
	return ProcessVerifier{
		Command:  []string{os.Args[0], "-test.run=^TestHelperProcess$", "--"},
		Env:      []string{"SHEET_WANT_HELPER_PROCESS=1"},
		MaxCells: 50,
		Timeout:  timeout,
	}
}

func TestProcessVerifier(t *testing.T) {
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		require.NoError(t, helperVerifier(10*time.Second).Verify(ctx, "/data/good.xlsx"))
	})

	t.Run("child reports failure", func(t *testing.T) {
		err := helperVerifier(10*time.Second).Verify(ctx, "/data/bad.xlsx")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindParse))
		assert.Contains(t, err.Error(), "not a valid zip file")
	})

	t.Run("hung child is killed", func(t *testing.T) {
		start := time.Now()
		err := helperVerifier(300*time.Millisecond).Verify(ctx, "/data/hang.xlsx")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindVerificationTimeout))
		assert.Equal(t, apperr.FileErrorTimeout, apperr.FileErrorType(err))
		assert.Less(t, time.Since(start), 10*time.Second)
	})
}

// blockingStrategy never returns from Open until released.
type blockingStrategy struct{ release chan struct{} }

func (blockingStrategy) Name() string { return MethodXLSX }

func (b blockingStrategy) Open(string) (Workbook, error) {
	<-b.release
	return nil, errors.New("released")
}

func TestInlineVerifierTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stuck.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04"), 0o644))

	release := make(chan struct{})
	defer close(release)
	v := InlineVerifier{
		Reader:   NewReaderWith(discardLogger(), blockingStrategy{release: release}),
		MaxCells: 50,
		Timeout:  100 * time.Millisecond,
	}
	err := v.Verify(context.Background(), path)
	assert.True(t, apperr.Is(err, apperr.KindVerificationTimeout))
}

func TestInlineVerifierReadsBoundedCells(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.xlsx")
	rows := make([][]any, 200)
	for i := range rows {
		rows[i] = []any{"позиция", i}
	}
	writeXLSX(t, path, map[string][][]any{"S": rows}, "S")

	v := InlineVerifier{Reader: NewReader(discardLogger()), MaxCells: 50, Timeout: 5 * time.Second}
	assert.NoError(t, v.Verify(context.Background(), path))
}

func TestMemoryGuard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.xlsx")
	require.NoError(t, os.WriteFile(path, make([]byte, 1<<20), 0o644))

	g := MemoryGuard{Share: 0.5, Available: func() (uint64, error) { return 8 << 20, nil }}
	err := g.Check(path)
	require.Error(t, err)
	assert.Equal(t, apperr.FileErrorResource, apperr.FileErrorType(err))

	g.Available = func() (uint64, error) { return 1 << 30, nil }
	assert.NoError(t, g.Check(path))

	g.Available = func() (uint64, error) { return 0, errors.New("no /proc") }
	assert.NoError(t, g.Check(path))
}
