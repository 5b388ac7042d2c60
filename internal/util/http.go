package util

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StatusError is a non-200 response. Body holds the first bytes of the
// response for context.
type StatusError struct {
	URL    string
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("bad status '%s' fetching %s", e.Status, e.URL)
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + body
	}
	return msg
}

// Fetch executes a pre-built request and streams a 200 body into w, returning
// the bytes written. The caller owns the request context and headers.
func Fetch(client *http.Client, req *http.Request, w io.Writer) (int64, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http do request for %s: %w", req.URL.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, &StatusError{URL: req.URL.String(), Code: resp.StatusCode, Status: resp.Status, Body: string(bodyBytes)}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed reading body from %s: %w", req.URL.String(), err)
	}
	return n, nil
}

// DownloadFile executes a pre-built request and returns the body bytes.
func DownloadFile(client *http.Client, req *http.Request) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := Fetch(client, req, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DefaultHTTPClient returns a client without an overall timeout; downloads
// bound themselves through the request context.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   30 * time.Second,
			ResponseHeaderTimeout: 2 * time.Minute,
		},
	}
}
