package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"markestedt/clipkb/config"
	"markestedt/clipkb/notify"
	"markestedt/clipkb/platform"
	"markestedt/clipkb/platform/platformtest"
	"markestedt/clipkb/postprocess"
	"markestedt/clipkb/storage"
)

const waitFor = 3 * time.Second

type sink struct {
	ch chan notify.Notification
}

func newSink() *sink {
	return &sink{ch: make(chan notify.Notification, 32)}
}

func (s *sink) Notify(n notify.Notification) {
	s.ch <- n
}

func (s *sink) next(t *testing.T) notify.Notification {
	t.Helper()
	select {
	case n := <-s.ch:
		return n
	case <-time.After(waitFor):
		t.Fatal("no notification")
	}
	return notify.Notification{}
}

func (s *sink) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case n := <-s.ch:
		t.Fatalf("unexpected notification: %+v", n)
	case <-time.After(d):
	}
}

type history struct {
	mu      sync.Mutex
	records []*storage.Upload
}

func (h *history) SaveUpload(u *storage.Upload) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, u)
	return nil
}

func (h *history) all() []*storage.Upload {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*storage.Upload(nil), h.records...)
}

// kbServer records chunk uploads and answers with status and body
type kbServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	status   int
	body     string
	hold     chan struct{}
	received chan struct{}
}

func newKBServer(t *testing.T) *kbServer {
	t.Helper()
	s := &kbServer{status: http.StatusOK, body: `{"code":0}`, received: make(chan struct{}, 8)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, r)
		s.bodies = append(s.bodies, string(body))
		status, respBody, hold := s.status, s.body, s.hold
		s.mu.Unlock()

		s.received <- struct{}{}
		if hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
				return
			}
		}
		w.WriteHeader(status)
		io.WriteString(w, respBody)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *kbServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *kbServer) request(i int) *http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func (s *kbServer) content(t *testing.T, i int) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var body struct {
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal([]byte(s.bodies[i]), &body))
	return body.Content
}

type harness struct {
	agent     *Agent
	binder    *platformtest.Binder
	clipboard *platformtest.Clipboard
	copier    *platformtest.Copier
	sink      *sink
	spec      config.HotkeySpec
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
}

func testConfig(apiURL string) *config.Config {
	cfg := config.Default()
	cfg.APIURL = apiURL
	cfg.APIKey = "test-key"
	cfg.KnowledgeBaseID = "kb1"
	cfg.DocumentID = "doc1"
	cfg.SettleMs = 1
	cfg.FallbackToClipboard = false
	return cfg
}

func start(t *testing.T, cfg *config.Config, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		binder:    &platformtest.Binder{},
		clipboard: platformtest.NewClipboard("original"),
		sink:      newSink(),
		spec:      config.MustParseHotkey(cfg.Hotkey),
		done:      make(chan struct{}),
	}
	h.copier = &platformtest.Copier{Clipboard: h.clipboard}
	h.agent = New(cfg, h.binder, h.clipboard, h.copier, h.sink, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.err = h.agent.Run(ctx)
		close(h.done)
	}()

	require.Eventually(t, func() bool { return h.agent.Status().Status == StateListening }, waitFor, 5*time.Millisecond)
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(waitFor):
	}
}

func (h *harness) press(t *testing.T) {
	t.Helper()
	require.Equal(t, 1, h.binder.Press(h.spec))
}

func TestSelectionUploaded(t *testing.T) {
	srv := newKBServer(t)
	hist := &history{}
	h := start(t, testConfig(srv.URL), WithHistory(hist))
	h.copier.Selection = "hello world"

	h.press(t)
	n := h.sink.next(t)

	assert.Equal(t, notify.Info, n.Level)
	assert.Contains(t, n.Message, "hello world")

	require.Equal(t, 1, srv.count())
	req := srv.request(0)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/v1/datasets/kb1/documents/doc1/chunks", req.URL.Path)
	assert.Equal(t, "Bearer test-key", req.Header.Get("Authorization"))
	assert.Equal(t, "hello world", srv.content(t, 0))

	assert.Equal(t, "original", h.clipboard.Text())

	require.Eventually(t, func() bool { return len(hist.all()) == 1 }, waitFor, 5*time.Millisecond)
	rec := hist.all()[0]
	assert.Equal(t, "success", rec.Outcome)
	assert.True(t, rec.Success)
	assert.Equal(t, "selection", rec.CaptureSource)
	assert.Equal(t, 2, rec.WordCount)
	assert.Equal(t, "<ctrl>+<alt>+v", rec.Hotkey)
	assert.NotEmpty(t, rec.ActivationID)
}

func TestCopyWaitsForHotkeyRelease(t *testing.T) {
	srv := newKBServer(t)
	h := start(t, testConfig(srv.URL))
	h.copier.Selection = "held"

	require.Equal(t, 1, h.binder.Hold(h.spec))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.copier.Calls(), "copy sent while the hotkey modifiers were held")

	require.Equal(t, 1, h.binder.Release(h.spec))
	h.sink.next(t)
	assert.Equal(t, 1, h.copier.Calls())
	assert.Equal(t, "held", srv.content(t, 0))
}

func TestTextUploadedVerbatim(t *testing.T) {
	srv := newKBServer(t)
	h := start(t, testConfig(srv.URL))
	h.copier.Selection = "  line one  \r\n\r\n\r\nline two\n"

	h.press(t)
	h.sink.next(t)

	require.Equal(t, 1, srv.count())
	assert.Equal(t, "  line one  \r\n\r\n\r\nline two\n", srv.content(t, 0))
}

func TestTextCleanedWhenEnabled(t *testing.T) {
	srv := newKBServer(t)
	cfg := testConfig(srv.URL)
	cfg.CleanText = true
	h := start(t, cfg)
	h.copier.Selection = "  line one  \r\n\r\n\r\nline two\n"

	h.press(t)
	h.sink.next(t)

	require.Equal(t, 1, srv.count())
	assert.Equal(t, "line one\n\nline two", srv.content(t, 0))
}

func TestRulesAppliedWithoutCleaning(t *testing.T) {
	srv := newKBServer(t)
	rules := &postprocess.Rules{Entries: []postprocess.Rule{{Original: "acme corp", Replacement: "ACME"}}}
	h := start(t, testConfig(srv.URL), WithRules(rules))
	h.copier.Selection = " Acme Corp  \n"

	h.press(t)
	h.sink.next(t)

	require.Equal(t, 1, srv.count())
	assert.Equal(t, " ACME  \n", srv.content(t, 0))
}

func TestHTTPErrorNotified(t *testing.T) {
	srv := newKBServer(t)
	srv.status = http.StatusUnauthorized
	srv.body = `{"message":"invalid api key"}`

	hist := &history{}
	h := start(t, testConfig(srv.URL), WithHistory(hist))
	h.copier.Selection = "some text"

	h.press(t)
	n := h.sink.next(t)

	assert.Equal(t, notify.Error, n.Level)
	assert.Equal(t, "Upload rejected", n.Title)
	assert.Contains(t, n.Message, "401")
	assert.Contains(t, n.Message, "invalid api key")
	assert.Equal(t, "original", h.clipboard.Text())

	require.Eventually(t, func() bool { return len(hist.all()) == 1 }, waitFor, 5*time.Millisecond)
	rec := hist.all()[0]
	assert.Equal(t, "http_error", rec.Outcome)
	assert.Equal(t, http.StatusUnauthorized, rec.StatusCode)
	assert.False(t, rec.Success)
}

func TestNetworkErrorNotified(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	h := start(t, testConfig(url))
	h.copier.Selection = "some text"

	h.press(t)
	n := h.sink.next(t)

	assert.Equal(t, notify.Error, n.Level)
	assert.Equal(t, "Upload failed", n.Title)
	assert.Contains(t, n.Message, url)
	assert.Equal(t, "original", h.clipboard.Text())
}

func TestTimeoutNotified(t *testing.T) {
	srv := newKBServer(t)
	srv.hold = make(chan struct{})
	t.Cleanup(func() { close(srv.hold) })

	cfg := testConfig(srv.URL)
	cfg.TimeoutSeconds = 1
	h := start(t, cfg)
	h.copier.Selection = "slow"

	h.press(t)
	n := h.sink.next(t)

	assert.Equal(t, notify.Error, n.Level)
	assert.Equal(t, "Upload timed out", n.Title)
}

func TestNothingSelected(t *testing.T) {
	srv := newKBServer(t)
	h := start(t, testConfig(srv.URL))

	h.press(t)
	n := h.sink.next(t)

	assert.Equal(t, notify.Warning, n.Level)
	assert.Equal(t, "Nothing to upload", n.Title)
	assert.Zero(t, srv.count())
	assert.Equal(t, "original", h.clipboard.Text())
}

func TestClipboardFallback(t *testing.T) {
	srv := newKBServer(t)
	cfg := testConfig(srv.URL)
	cfg.FallbackToClipboard = true
	hist := &history{}
	h := start(t, cfg, WithHistory(hist))

	h.press(t)
	n := h.sink.next(t)

	assert.Equal(t, notify.Info, n.Level)
	require.Equal(t, 1, srv.count())
	assert.Equal(t, "original", srv.content(t, 0))

	require.Eventually(t, func() bool { return len(hist.all()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "clipboard", hist.all()[0].CaptureSource)
}

func TestIncompleteConfig(t *testing.T) {
	srv := newKBServer(t)
	cfg := testConfig(srv.URL)
	cfg.APIKey = ""
	cfg.DocumentID = ""
	h := start(t, cfg)
	h.copier.Selection = "text"

	h.press(t)
	n := h.sink.next(t)

	assert.Equal(t, notify.Warning, n.Level)
	assert.Equal(t, "Configuration incomplete", n.Title)
	assert.Contains(t, n.Message, "api_key")
	assert.Contains(t, n.Message, "document_id")
	assert.Zero(t, srv.count())
	assert.Zero(t, h.copier.Calls(), "clipboard is not touched")
}

func TestCaptureFailure(t *testing.T) {
	srv := newKBServer(t)
	h := start(t, testConfig(srv.URL))
	h.copier.Err = errors.New("no accessibility permission")

	h.press(t)
	n := h.sink.next(t)

	assert.Equal(t, notify.Warning, n.Level)
	assert.Contains(t, n.Message, "no accessibility permission")
	assert.Zero(t, srv.count())
	assert.Equal(t, "original", h.clipboard.Text())
}

func TestUnrestorableClipboardNotUploaded(t *testing.T) {
	srv := newKBServer(t)
	hist := &history{}
	cfg := testConfig(srv.URL)
	cfg.FallbackToClipboard = true
	h := start(t, cfg, WithHistory(hist))
	h.clipboard.Foreign = "text/html"
	h.copier.Selection = "selected"

	h.press(t)
	n := h.sink.next(t)

	assert.Equal(t, "Clipboard left untouched", n.Title)
	assert.Zero(t, h.copier.Calls())
	assert.Zero(t, srv.count())
	assert.Equal(t, "original", h.clipboard.Text())

	require.Eventually(t, func() bool { return len(hist.all()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, OutcomeCaptureFailed, hist.all()[0].Outcome)
}

func TestConcurrentPressDropped(t *testing.T) {
	srv := newKBServer(t)
	h := start(t, testConfig(srv.URL))
	h.copier.Selection = "text"
	h.copier.Block = make(chan struct{})

	h.press(t)
	require.Eventually(t, func() bool { return h.copier.Calls() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, StateBusy, h.agent.Status().Status)

	h.press(t)
	// let the dispatcher see the second press
	time.Sleep(100 * time.Millisecond)
	close(h.copier.Block)

	h.sink.next(t)
	h.sink.none(t, 200*time.Millisecond)
	assert.Equal(t, 1, h.copier.Calls())
	assert.Equal(t, 1, srv.count())

	require.Eventually(t, func() bool { return h.agent.Status().Status == StateListening }, waitFor, 5*time.Millisecond)
	h.copier.Block = nil
	h.press(t)
	h.sink.next(t)
	assert.Equal(t, 2, srv.count())
}

func TestPanicRecovered(t *testing.T) {
	srv := newKBServer(t)
	var calls atomic.Int32
	pipeline := postprocess.NewPipeline(func(ctx context.Context, text string) (string, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return text, nil
	})
	hist := &history{}
	h := start(t, testConfig(srv.URL), WithPipeline(pipeline), WithHistory(hist))
	h.copier.Selection = "text"

	h.press(t)
	n := h.sink.next(t)
	assert.Equal(t, notify.Error, n.Level)
	assert.Contains(t, n.Message, "boom")
	assert.Equal(t, "original", h.clipboard.Text())

	require.Eventually(t, func() bool { return h.agent.Status().Status == StateListening }, waitFor, 5*time.Millisecond)
	h.press(t)
	n = h.sink.next(t)
	assert.Equal(t, notify.Info, n.Level)

	require.Eventually(t, func() bool { return len(hist.all()) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, OutcomePanic, hist.all()[0].Outcome)
}

func TestReconfigureRebinds(t *testing.T) {
	srv := newKBServer(t)
	h := start(t, testConfig(srv.URL))

	cfg := h.agent.Config()
	cfg.Hotkey = "ctrl+shift+k"
	require.NoError(t, h.agent.Reconfigure(cfg))

	next := config.MustParseHotkey("ctrl+shift+k")
	assert.Equal(t, []config.HotkeySpec{next}, h.binder.Registered())
	assert.Zero(t, h.binder.Press(h.spec))
	assert.Equal(t, "Ctrl+Shift+K", h.agent.Status().Hotkey)

	h.copier.Selection = "text"
	require.Equal(t, 1, h.binder.Press(next))
	assert.Equal(t, notify.Info, h.sink.next(t).Level)
}

func TestReconfigureSameHotkeyKeepsBinding(t *testing.T) {
	srv := newKBServer(t)
	h := start(t, testConfig(srv.URL))

	cfg := h.agent.Config()
	cfg.Hotkey = "<CTRL>+<ALT>+V"
	cfg.DocumentID = "doc2"
	require.NoError(t, h.agent.Reconfigure(cfg))
	assert.Equal(t, []config.HotkeySpec{h.spec}, h.binder.Registered())

	h.copier.Selection = "text"
	h.press(t)
	h.sink.next(t)
	assert.Equal(t, "/api/v1/datasets/kb1/documents/doc2/chunks", srv.request(0).URL.Path)
}

func TestReconfigureInvalidHotkeyKeepsListener(t *testing.T) {
	srv := newKBServer(t)
	h := start(t, testConfig(srv.URL))

	cfg := h.agent.Config()
	cfg.Hotkey = "ctrl+alt"
	cfg.KnowledgeBaseID = "kb2"
	err := h.agent.Reconfigure(cfg)

	var perr *config.ParseError
	require.ErrorAs(t, err, &perr)
	n := h.sink.next(t)
	assert.Equal(t, "Invalid hotkey", n.Title)

	assert.Equal(t, []config.HotkeySpec{h.spec}, h.binder.Registered())
	assert.Equal(t, StateListening, h.agent.Status().Status)
	assert.Equal(t, "kb2", h.agent.Config().KnowledgeBaseID)
	assert.Equal(t, "<ctrl>+<alt>+v", h.agent.Config().Hotkey)
}

func TestReconfigureRegistrationFailure(t *testing.T) {
	srv := newKBServer(t)
	h := start(t, testConfig(srv.URL))
	h.binder.FailRegister = errors.New("hotkey already taken")

	cfg := h.agent.Config()
	cfg.Hotkey = "ctrl+shift+k"
	err := h.agent.Reconfigure(cfg)

	var rerr *platform.RegistrationError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, config.MustParseHotkey("ctrl+shift+k"), rerr.Spec)

	n := h.sink.next(t)
	assert.Equal(t, notify.Error, n.Level)
	assert.Equal(t, "Hotkey unavailable", n.Title)
	assert.Equal(t, StateIdle, h.agent.Status().Status)
	assert.Empty(t, h.binder.Registered())
}

func TestPauseResume(t *testing.T) {
	srv := newKBServer(t)
	var mu sync.Mutex
	var states []string
	h := start(t, testConfig(srv.URL), WithStatusObserver(func(s Status) {
		mu.Lock()
		states = append(states, s.Status)
		mu.Unlock()
	}))

	h.agent.Pause()
	assert.True(t, h.agent.Paused())
	assert.Equal(t, StatePaused, h.agent.Status().Status)
	assert.Empty(t, h.binder.Registered())

	// config changes while paused do not register
	require.NoError(t, h.agent.Reconfigure(h.agent.Config()))
	assert.Empty(t, h.binder.Registered())

	require.NoError(t, h.agent.Resume())
	assert.Equal(t, []config.HotkeySpec{h.spec}, h.binder.Registered())
	assert.Equal(t, StateListening, h.agent.Status().Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, StatePaused)
	assert.Equal(t, StateListening, states[len(states)-1])
}

func TestShutdownWaitsForUpload(t *testing.T) {
	srv := newKBServer(t)
	srv.hold = make(chan struct{})
	h := start(t, testConfig(srv.URL))
	h.copier.Selection = "in flight"

	h.press(t)
	select {
	case <-srv.received:
	case <-time.After(waitFor):
		t.Fatal("upload not started")
	}

	h.cancel()
	select {
	case <-h.done:
		t.Fatal("Run returned before the upload finished")
	case <-time.After(100 * time.Millisecond):
	}

	close(srv.hold)
	select {
	case <-h.done:
		assert.NoError(t, h.err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}

	n := h.sink.next(t)
	assert.Equal(t, notify.Info, n.Level)
	assert.Empty(t, h.binder.Registered())
}

func TestUploadObserver(t *testing.T) {
	srv := newKBServer(t)
	got := make(chan *storage.Upload, 1)
	h := start(t, testConfig(srv.URL), WithUploadObserver(func(u *storage.Upload) { got <- u }))
	h.copier.Selection = "observed"

	h.press(t)
	select {
	case u := <-got:
		assert.Equal(t, "observed", u.Preview)
		assert.GreaterOrEqual(t, u.TotalLatencyMs, u.UploadLatencyMs)
	case <-time.After(waitFor):
		t.Fatal("observer not called")
	}
}

func TestHistoryDisabledInConfig(t *testing.T) {
	srv := newKBServer(t)
	cfg := testConfig(srv.URL)
	cfg.History = false
	hist := &history{}
	h := start(t, cfg, WithHistory(hist))
	h.copier.Selection = "text"

	h.press(t)
	h.sink.next(t)
	h.stop()
	assert.Empty(t, hist.all())
}

func TestConfigFileReload(t *testing.T) {
	for _, name := range []string{"API_KEY", "API_URL", "KNOWLEDGE_BASE_ID", "DOCUMENT_ID", "HOTKEY"} {
		t.Setenv("CLIPKB_"+name, "")
	}

	srv := newKBServer(t)
	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	cfg.APIURL = srv.URL
	cfg.APIKey = "k"
	cfg.KnowledgeBaseID = "kb"
	cfg.DocumentID = "doc"
	require.NoError(t, cfg.Save())

	reloaded := make(chan *config.Config, 4)
	h := start(t, cfg, WithConfigObserver(func(c *config.Config) { reloaded <- c }))

	edit := cfg.Clone()
	edit.Hotkey = "<ctrl>+<shift>+k"
	require.NoError(t, edit.Save())

	next := config.MustParseHotkey("ctrl+shift+k")
	require.Eventually(t, func() bool {
		specs := h.binder.Registered()
		return len(specs) == 1 && specs[0] == next
	}, waitFor, 20*time.Millisecond)

	select {
	case c := <-reloaded:
		assert.Equal(t, "<ctrl>+<shift>+k", c.Hotkey)
	case <-time.After(waitFor):
		t.Fatal("config observer not called")
	}
}
