package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactDSN(t *testing.T) {
	tests := []struct{ in, want string }{
		{"postgres://scan:s3cret@db:5432/tenders?sslmode=disable", "postgres://scan:***@db:5432/tenders?sslmode=disable"},
		{"postgres://scan@db/tenders", "postgres://scan@db/tenders"},
		{"./tenderscan.db", "./tenderscan.db"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, redactDSN(tt.in), tt.in)
	}
}

func TestSameDir(t *testing.T) {
	assert.True(t, sameDir("./work", "work/"))
	assert.False(t, sameDir("./work", "./tenders"))
}
