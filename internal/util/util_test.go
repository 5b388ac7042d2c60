package util

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestParseLinks(t *testing.T) {
	page := `<html><body>
<a href="/files/smeta.XLSX">Смета</a>
<a href="/download?id=7">docs.part1.rar</a>
<a href="#top">top.xls</a>
<a href="javascript:void(0)">x.xls</a>
<a href="/about">About</a>
</body></html>`
	root, err := html.Parse(strings.NewReader(page))
	require.NoError(t, err)

	links := ParseLinks(root, ".xlsx", ".rar")
	require.Len(t, links, 2)
	assert.Equal(t, Link{Href: "/files/smeta.XLSX", Text: "Смета"}, links[0])
	assert.Equal(t, "docs.part1.rar", links[1].Text)

	assert.Len(t, ParseLinks(root), 3)
}

func TestFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			w.Write([]byte("payload"))
			return
		}
		http.Error(w, "gone for good", http.StatusGone)
	}))
	defer srv.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/ok", nil)
	require.NoError(t, err)
	body, err := DownloadFile(DefaultHTTPClient(), req)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))

	req, err = http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/missing", nil)
	require.NoError(t, err)
	_, err = DownloadFile(DefaultHTTPClient(), req)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusGone, se.Code)
	assert.Contains(t, se.Error(), "gone for good")
}
