package cloud

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/tenderscan/internal/tender"
)

func TestObjectName(t *testing.T) {
	ref := tender.Ref{ID: 778, Registry: tender.Registry223}
	assert.Equal(t, "223fz/778/смета.xlsx", ObjectName(ref, "/work/223fz_778/out/смета.xlsx"))
}

func TestContentType(t *testing.T) {
	dir := t.TempDir()
	zipLike := filepath.Join(dir, "renamed.bin")
	require.NoError(t, os.WriteFile(zipLike, []byte("PK\x03\x04\x14\x00\x00\x00"), 0o644))
	plain := filepath.Join(dir, "notes.unknownext")
	require.NoError(t, os.WriteFile(plain, []byte("hello"), 0o644))

	assert.Equal(t, "application/zip", ContentType(zipLike))
	assert.Equal(t, "application/octet-stream", ContentType(plain))
}
