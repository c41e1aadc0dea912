// Package upload appends captured text as a chunk to a knowledge-base document.
package upload

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"markestedt/clipkb/config"
)

const (
	// DefaultTimeout bounds one upload request
	DefaultTimeout = 10 * time.Second

	chunksPath   = "api/v1/datasets/%s/documents/%s/chunks"
	maxBodyBytes = 1 << 20
	maxMessage   = 4 << 10
)

// UserAgent is sent with every request
var UserAgent = "clipkb/dev"

// Kind classifies an upload outcome
type Kind int

const (
	Success Kind = iota
	HTTPError
	NetworkError
	Timeout
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case HTTPError:
		return "http_error"
	case NetworkError:
		return "network_error"
	case Timeout:
		return "timeout"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Network error reasons
const (
	ReasonRefused        = "connection refused"
	ReasonDNS            = "dns lookup failed"
	ReasonTLS            = "tls handshake failed"
	ReasonCanceled       = "canceled"
	ReasonInvalidRequest = "invalid request"
	ReasonOther          = "network error"
)

// Result is the classified outcome of one upload
type Result struct {
	Kind       Kind
	StatusCode int
	// Message is the server's error message, or its raw body when not JSON
	Message string
	// Reason names the network failure for NetworkError
	Reason   string
	Err      error
	Duration time.Duration
}

// OK reports whether the chunk was stored
func (r Result) OK() bool {
	return r.Kind == Success
}

func (r Result) String() string {
	switch r.Kind {
	case Success:
		return "uploaded"
	case HTTPError:
		if r.Message != "" {
			return fmt.Sprintf("server returned %d: %s", r.StatusCode, r.Message)
		}
		return fmt.Sprintf("server returned %d", r.StatusCode)
	case NetworkError:
		return fmt.Sprintf("%s: %v", r.Reason, r.Err)
	case Timeout:
		return fmt.Sprintf("no response within timeout: %v", r.Err)
	}
	return r.Kind.String()
}

// Client posts chunks to the knowledge-base API
type Client struct {
	client *http.Client
}

// NewClient creates a client with the given request timeout
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		client: &http.Client{Timeout: timeout},
	}
}

// NewClientWithHTTP wraps an existing http.Client
func NewClientWithHTTP(hc *http.Client) *Client {
	return &Client{client: hc}
}

// Endpoint builds the chunk URL for the configured knowledge base and document
func Endpoint(cfg *config.Config) (string, error) {
	base := strings.TrimSpace(cfg.APIURL)
	if base == "" {
		return "", errors.New("api_url is empty")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid api_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid api_url %q: scheme must be http or https", base)
	}

	path := fmt.Sprintf(chunksPath, url.PathEscape(cfg.KnowledgeBaseID), url.PathEscape(cfg.DocumentID))
	return strings.TrimRight(u.String(), "/") + "/" + path, nil
}

// Upload sends text as a new chunk. It makes exactly one attempt.
func (c *Client) Upload(ctx context.Context, text string, cfg *config.Config) (res Result) {
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
	}()

	endpoint, err := Endpoint(cfg)
	if err != nil {
		return Result{Kind: NetworkError, Reason: ReasonInvalidRequest, Err: err}
	}

	body, err := json.Marshal(struct {
		Content string `json:"content"`
	}{Content: text})
	if err != nil {
		return Result{Kind: NetworkError, Reason: ReasonInvalidRequest, Err: fmt.Errorf("failed to encode body: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Kind: NetworkError, Reason: ReasonInvalidRequest, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil && resp.StatusCode == http.StatusOK {
		// the chunk was accepted; a truncated acknowledgement does not change that
		err = nil
	}
	if err != nil {
		if isTimeout(err) {
			return Result{Kind: Timeout, StatusCode: resp.StatusCode, Err: err}
		}
		return Result{Kind: HTTPError, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return Result{
			Kind:       HTTPError,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
		}
	}

	return Result{Kind: Success, StatusCode: resp.StatusCode}
}

// errorMessage returns the JSON "message" field, or the trimmed raw body
func errorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "message"); msg.Type == gjson.String && msg.String() != "" {
			return msg.String()
		}
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxMessage {
		n := maxMessage
		for n > 0 && !utf8.RuneStart(msg[n]) {
			n--
		}
		msg = msg[:n] + "…"
	}
	return msg
}

func classifyTransportError(err error) Result {
	if isTimeout(err) {
		return Result{Kind: Timeout, Err: err}
	}

	res := Result{Kind: NetworkError, Reason: ReasonOther, Err: err}

	var dnsErr *net.DNSError
	var certErr *tls.CertificateVerificationError
	var recordErr tls.RecordHeaderError

	switch {
	case errors.Is(err, context.Canceled):
		res.Reason = ReasonCanceled
	case errors.Is(err, syscall.ECONNREFUSED):
		res.Reason = ReasonRefused
	case errors.As(err, &dnsErr):
		res.Reason = ReasonDNS
	case errors.As(err, &certErr), errors.As(err, &recordErr):
		res.Reason = ReasonTLS
	}
	return res
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
