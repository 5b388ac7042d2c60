package matcher

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/tenderscan/internal/sheet"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func cells(texts ...string) iter.Seq2[sheet.Cell, error] {
	return func(yield func(sheet.Cell, error) bool) {
		for i, t := range texts {
			c := sheet.Cell{
				Sheet:   "Лист1",
				Row:     i + 1,
				Column:  "B",
				Text:    sheet.Normalize(t),
				Display: t,
				Address: sheet.Address("Лист1", "B", i+1),
			}
			if !yield(c, nil) {
				return
			}
		}
	}
}

func TestPrepare(t *testing.T) {
	p, ok := Prepare("ДенсТоп ЭП 203 (Комплект_1)")
	require.True(t, ok)
	assert.Equal(t, "денстоп эп 203", p.Phrase)
	assert.Equal(t, []string{"денстоп"}, p.Tokens)

	p, ok = Prepare("Реолен  Адмикс Плюс реолен")
	require.True(t, ok)
	assert.Equal(t, []string{"реолен", "адмикс", "плюс"}, p.Tokens)

	_, ok = Prepare("(только скобки)")
	assert.False(t, ok)
	_, ok = Prepare("Эп")
	assert.False(t, ok)
}

func TestRatio(t *testing.T) {
	assert.InDelta(t, 100, Ratio("пенетрон", "пенетрон"), 0.001)
	assert.InDelta(t, 92.31, Ratio("гидроизоляция", "гидраизоляция"), 0.01)
	assert.InDelta(t, 0, Ratio("abc", "xyz"), 0.001)
}

func TestScoreTiers(t *testing.T) {
	product := func(name string) Product {
		p, ok := Prepare(name)
		require.True(t, ok)
		return p
	}

	tests := []struct {
		name    string
		product string
		text    string
		ok      bool
		full    bool
		score   float64
	}{
		{"exact phrase", "ДенсТоп ЭП 203 (Комплект_1)", "поставка денстоп эп 203 в упаковке", true, true, 100},
		{"two of three tokens", "Реолен Адмикс Плюс", "добавка реолен адмикс", true, false, 85 + (2.0/3-0.6)*15},
		{"fuzzy token", "Гидроизоляция Пенетрон", "гидраизоляция пенетрон", true, false, 91},
		{"weak coverage", "Реолен Адмикс Плюс", "реолен", true, false, 35 + (1.0/3-0.3)*50},
		{"one of four tokens", "Смесь Сухая Ремонтная Тиксотропная", "сухая", false, false, 0},
		{"nothing", "Пенетрон", "бетон м300", false, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ok := Score(sheet.Normalize(tt.text), product(tt.product))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.full, h.Full)
			assert.InDelta(t, tt.score, h.Score, 0.001)
		})
	}
}

func TestMatchCellsPrefersFullMatch(t *testing.T) {
	e := New(discardLogger(), NewCatalog([]string{"Пенетрон Адмикс Плюс", "Пенетрон"}), Options{})
	got, err := e.MatchCells(context.Background(), "a.xlsx", cells("Пенетрон Адмикс"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Пенетрон", got[0].ProductName)
	assert.Equal(t, 100.0, got[0].Score)
	assert.Equal(t, "a.xlsx", got[0].SourceFile)
	assert.Equal(t, "Лист1!B1", got[0].CellAddress)
}

func TestMatchCellsKeepsFirstOfEqualScores(t *testing.T) {
	e := New(discardLogger(), NewCatalog([]string{"Пенетрон"}), Options{})
	got, err := e.MatchCells(context.Background(), "a.xlsx", cells("пенетрон", "ПЕНЕТРОН 25 кг"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Row)
}

func TestMatchCellsKeepsBestPerProduct(t *testing.T) {
	e := New(discardLogger(), NewCatalog([]string{"Реолен Адмикс Плюс"}), Options{})
	got, err := e.MatchCells(context.Background(), "a.xlsx", cells("реолен адмикс", "Реолен Адмикс Плюс, 20 кг"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Row)
	assert.Equal(t, 100.0, got[0].Score)
}

func TestStopPhrasesSkipCell(t *testing.T) {
	e := New(discardLogger(), NewCatalog([]string{"Пенетрон"}), Options{StopPhrases: []string{"  Аналог  "}})
	got, err := e.MatchCells(context.Background(), "a.xlsx", cells("Пенетрон или АНАЛОГ"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFloorAndCap(t *testing.T) {
	e := New(discardLogger(), NewCatalog([]string{"Пенетрон", "Кальматрон", "Гидротэкс", "Реолен Адмикс Плюс"}),
		Options{MaxMatches: 2})
	got, err := e.MatchCells(context.Background(), "a.xlsx", cells("кальматрон", "пенетрон", "гидротэкс", "реолен"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Кальматрон", got[0].ProductName)
	assert.Equal(t, "Пенетрон", got[1].ProductName)
}

func TestNoMatchPercentage(t *testing.T) {
	e := New(discardLogger(), NewCatalog([]string{"Пенетрон"}), Options{})
	got, err := e.MatchCells(context.Background(), "a.xlsx", cells("бетон", "арматура а500"))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0.0, Percentage(got))
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 100.0, Percentage([]Match{{Score: 86}, {Score: 100}}))
	assert.Equal(t, 85.0, Percentage([]Match{{Score: 60}, {Score: 85}}))
	assert.Equal(t, 0.0, Percentage([]Match{{Score: 60}}))
}

func TestMergeOrderIndependent(t *testing.T) {
	e := New(discardLogger(), NewCatalog(nil), Options{})
	a := []Match{{ProductName: "A", Score: 86, SourceFile: "1"}, {ProductName: "B", Score: 100, SourceFile: "1"}}
	b := []Match{{ProductName: "A", Score: 100, SourceFile: "2"}, {ProductName: "C", Score: 60, SourceFile: "2"}}

	ab := e.Merge(a, b)
	ba := e.Merge(b, a)
	require.Len(t, ab, 3)
	assert.Equal(t, ab, ba)
	assert.Equal(t, "2", ab[0].SourceFile)
	assert.Equal(t, "C", ab[2].ProductName)

	tie := e.Merge([]Match{{ProductName: "A", Score: 90, SourceFile: "first"}}, []Match{{ProductName: "A", Score: 90, SourceFile: "second"}})
	require.Len(t, tie, 1)
	assert.Equal(t, "first", tie[0].SourceFile)
}

func TestMatchCellsPropagatesReadError(t *testing.T) {
	e := New(discardLogger(), NewCatalog([]string{"Пенетрон"}), Options{})
	boom := errors.New("boom")
	seq := func(yield func(sheet.Cell, error) bool) {
		yield(sheet.Cell{}, boom)
	}
	_, err := e.MatchCells(context.Background(), "a.xlsx", seq)
	assert.ErrorIs(t, err, boom)
}
