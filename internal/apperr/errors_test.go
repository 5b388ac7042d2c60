package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"classified", New(KindNotFound, "download", errors.New("404")), KindNotFound},
		{"wrapped classified", fmt.Errorf("tender 1: %w", New(KindParse, "open", nil)), KindParse},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), KindTransient},
		{"canceled", context.Canceled, KindUnknown},
		{"pg connection", &pgconn.PgError{Code: "08006"}, KindTransient},
		{"pg deadlock", &pgconn.PgError{Code: "40P01"}, KindTransient},
		{"pg constraint", &pgconn.PgError{Code: "23505"}, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(KindTransient, "db", errors.New("reset"))))
	assert.False(t, IsRetryable(New(KindParse, "xls", errors.New("bad header"))))
	assert.False(t, IsRetryable(New(KindNotFound, "download", nil)))
}

func TestErrorMessage(t *testing.T) {
	err := New(KindArchiveCorrupt, "extract", errors.New("crc mismatch")).WithPath("a.part1.rar")
	assert.Equal(t, "extract a.part1.rar: crc mismatch", err.Error())
	assert.Equal(t, "configuration", New(KindConfiguration, "", nil).Error())
}

func TestFileErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{New(KindVerificationTimeout, "verify", nil), FileErrorTimeout},
		{New(KindResource, "guard", nil), FileErrorResource},
		{New(KindParse, "cascade", errors.New("all readers failed")), FileErrorParse},
		{New(KindArchiveCorrupt, "unrar", nil), FileErrorOpen},
		{errors.New("read timeout exceeded"), FileErrorTimeout},
		{errors.New("Не удалось открыть файл"), FileErrorOpen},
		{errors.New("ошибка парсинга"), FileErrorParse},
		{errors.New("something odd"), FileErrorUnknown},
		{nil, FileErrorUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FileErrorType(tt.err), "%v", tt.err)
	}
}
