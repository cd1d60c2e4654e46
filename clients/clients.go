// Package clients talks to the speech, language and embedding services.
package clients

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

type HTTP struct{ c *http.Client }

func NewHTTP() *HTTP { return NewHTTPWithTimeout(60 * time.Second) }

func NewHTTPWithTimeout(d time.Duration) *HTTP { return &HTTP{c: &http.Client{Timeout: d}} }

// statusError reads a bounded error body from a non-2xx response.
func statusError(service string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return fmt.Errorf("%s %s: %s", service, resp.Status, string(body))
}
