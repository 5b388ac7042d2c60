package analyser

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/tenderscan/internal/export"
	"github.com/brensch/tenderscan/internal/store"
)

func TestAnalyse(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	rows := []store.DetailRow{
		{TenderID: 1, RegistryType: "44fz", ProductName: "Гидроизоляция", Score: 100, MatchPercentage: 100, IsInteresting: true},
		{TenderID: 1, RegistryType: "44fz", ProductName: "Кабель ВВГнг", Score: 88, MatchPercentage: 100, IsInteresting: true},
		{TenderID: 2, RegistryType: "223fz", ProductName: "Гидроизоляция", Score: 90, MatchPercentage: 85, IsInteresting: true, HasError: true},
		{TenderID: 3, RegistryType: "44fz", ProductName: "Труба стальная", Score: 60},
	}
	seq := func(yield func(store.DetailRow, error) bool) {
		for _, r := range rows {
			if !yield(r, nil) {
				return
			}
		}
	}
	_, err := export.WriteDetails(filepath.Join(dir, export.DetailsFile), seq, logger)
	require.NoError(t, err)

	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	defer db.Close()

	s, err := Analyse(context.Background(), db, dir, 10, logger)
	require.NoError(t, err)
	assert.EqualValues(t, 4, s.Rows)
	assert.EqualValues(t, 3, s.Tenders)
	assert.EqualValues(t, 2, s.Interesting)
	assert.EqualValues(t, 1, s.WithErrors)
	assert.EqualValues(t, 1, s.Exact)
	assert.EqualValues(t, 2, s.Good)
	assert.EqualValues(t, 1, s.Partial)

	require.NotEmpty(t, s.Products)
	assert.Equal(t, "Гидроизоляция", s.Products[0].Product)
	assert.EqualValues(t, 2, s.Products[0].Tenders)
	assert.Equal(t, float64(100), s.Products[0].BestScore)

	require.Len(t, s.TopTenders, 3)
	assert.Equal(t, "44fz_1", s.TopTenders[0].Tender)
	assert.EqualValues(t, 2, s.TopTenders[0].Matches)

	var buf bytes.Buffer
	s.Print(&buf)
	assert.Contains(t, buf.String(), "Interesting: 2")
	assert.Contains(t, buf.String(), "223fz_2")
}
