package upload

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"markestedt/clipkb/config"
)

func testConfig(apiURL string) *config.Config {
	cfg := config.Default()
	cfg.APIURL = apiURL
	cfg.APIKey = "secret-key"
	cfg.KnowledgeBaseID = "kb1"
	cfg.DocumentID = "doc1"
	return cfg
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		apiURL  string
		kb, doc string
		want    string
	}{
		{"default", "http://localhost:8000", "kb1", "doc1", "http://localhost:8000/api/v1/datasets/kb1/documents/doc1/chunks"},
		{"trailing slash", "http://localhost:8000/", "kb1", "doc1", "http://localhost:8000/api/v1/datasets/kb1/documents/doc1/chunks"},
		{"base path", "https://example.com/rag", "a", "b", "https://example.com/rag/api/v1/datasets/a/documents/b/chunks"},
		{"escaped ids", "http://h", "kb/1", "doc 2", "http://h/api/v1/datasets/kb%2F1/documents/doc%202/chunks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(tt.apiURL)
			cfg.KnowledgeBaseID, cfg.DocumentID = tt.kb, tt.doc
			got, err := Endpoint(cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEndpointInvalid(t *testing.T) {
	for _, apiURL := range []string{"", "   ", "localhost:8000", "ftp://host", "http://[::1"} {
		_, err := Endpoint(testConfig(apiURL))
		assert.Error(t, err, apiURL)
	}
}

func TestUploadSuccess(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotType string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &gotBody)
		w.Write([]byte(`{"code":0,"data":{"chunk":{"id":"c1"}}}`))
	}))
	defer srv.Close()

	res := NewClient(time.Second).Upload(context.Background(), "hello", testConfig(srv.URL))

	assert.Equal(t, Success, res.Kind)
	assert.True(t, res.OK())
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/v1/datasets/kb1/documents/doc1/chunks", gotPath)
	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, map[string]any{"content": "hello"}, gotBody)
}

func TestUploadHTTPErrorJSONMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"not found"}`))
	}))
	defer srv.Close()

	res := NewClient(time.Second).Upload(context.Background(), "hello", testConfig(srv.URL))

	assert.Equal(t, HTTPError, res.Kind)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not found", res.Message)
	assert.Equal(t, "server returned 404: not found", res.String())
}

func TestUploadHTTPErrorRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("  upstream unavailable\n"))
	}))
	defer srv.Close()

	res := NewClient(time.Second).Upload(context.Background(), "hello", testConfig(srv.URL))

	assert.Equal(t, HTTPError, res.Kind)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, "upstream unavailable", res.Message)
}

func TestUploadNonOKSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	res := NewClient(time.Second).Upload(context.Background(), "hello", testConfig(srv.URL))
	assert.Equal(t, HTTPError, res.Kind)
	assert.Equal(t, http.StatusCreated, res.StatusCode)
}

func TestUploadConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	res := NewClient(time.Second).Upload(context.Background(), "hello", testConfig("http://"+addr))

	assert.Equal(t, NetworkError, res.Kind)
	require.Error(t, res.Err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, ReasonRefused, res.Reason)
	}
}

func TestUploadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	res := NewClient(50*time.Millisecond).Upload(context.Background(), "hello", testConfig(srv.URL))

	assert.Equal(t, Timeout, res.Kind)
	assert.Error(t, res.Err)
	assert.Less(t, res.Duration, 5*time.Second)
}

func TestUploadContextDeadlineIsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := NewClient(time.Minute).Upload(ctx, "hello", testConfig(srv.URL))
	assert.Equal(t, Timeout, res.Kind)
}

func TestUploadCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewClient(time.Second).Upload(ctx, "hello", testConfig("http://127.0.0.1:1"))
	assert.Equal(t, NetworkError, res.Kind)
	assert.Equal(t, ReasonCanceled, res.Reason)
}

func TestUploadInvalidEndpoint(t *testing.T) {
	res := NewClient(time.Second).Upload(context.Background(), "hello", testConfig("not a url"))
	assert.Equal(t, NetworkError, res.Kind)
	assert.Equal(t, ReasonInvalidRequest, res.Reason)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "bad token", errorMessage([]byte(`{"code":401,"message":"bad token"}`)))
	assert.Equal(t, `{"code":500}`, errorMessage([]byte(`{"code":500}`)))
	assert.Equal(t, `{"message":42}`, errorMessage([]byte(`{"message":42}`)))
	assert.Equal(t, "", errorMessage(nil))

	long := make([]byte, maxMessage+100)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, []rune(errorMessage(long)), maxMessage+1)
}

func TestErrorMessageTruncatesOnRuneBoundary(t *testing.T) {
	body := "xx" + strings.Repeat("错", maxMessage)

	msg := errorMessage([]byte(body))
	assert.True(t, utf8.ValidString(msg))
	assert.True(t, strings.HasSuffix(msg, "错…"))
	assert.LessOrEqual(t, len(msg), maxMessage+len("…"))
	assert.True(t, strings.HasPrefix(body, strings.TrimSuffix(msg, "…")))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "http_error", HTTPError.String())
	assert.Equal(t, "network_error", NetworkError.String())
	assert.Equal(t, "timeout", Timeout.String())
}
