// Package agent ties the hotkey listener to the capture and upload pipeline.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"markestedt/clipkb/capture"
	"markestedt/clipkb/config"
	"markestedt/clipkb/notify"
	"markestedt/clipkb/platform"
	"markestedt/clipkb/postprocess"
	"markestedt/clipkb/storage"
	"markestedt/clipkb/upload"
)

// Outcomes recorded for activations that never reach the upload client.
// Upload outcomes use upload.Kind names.
const (
	OutcomeConfigIncomplete = "config_incomplete"
	OutcomeCaptureFailed    = "capture_failed"
	OutcomeEmpty            = "empty"
	OutcomePanic            = "panic"
)

// States reported by Status
const (
	StateIdle      = "idle"
	StateListening = "listening"
	StateBusy      = "busy"
	StatePaused    = "paused"
)

// Status describes what the agent is doing
type Status struct {
	Status      string `json:"status"`
	Hotkey      string `json:"hotkey,omitempty"`
	LastOutcome string `json:"lastOutcome,omitempty"`
}

// History stores activation records
type History interface {
	SaveUpload(u *storage.Upload) error
}

// Uploader sends one chunk
type Uploader interface {
	Upload(ctx context.Context, text string, cfg *config.Config) upload.Result
}

// Agent coordinates hotkey detection, text capture and upload
type Agent struct {
	listener  *platform.Listener
	clipboard platform.Clipboard
	copier    platform.SelectionCopier
	sink      notify.Sink
	rules     *postprocess.Rules
	pipeline  *postprocess.Pipeline
	history   History

	uploadObservers []func(*storage.Upload)
	statusObservers []func(Status)
	configObservers []func(*config.Config)

	// ctl serializes listener changes
	ctl sync.Mutex

	mu          sync.RWMutex
	cfg         *config.Config
	uploader    Uploader
	timeout     time.Duration
	paused      bool
	lastOutcome string
	base        context.Context

	busy atomic.Bool
	wg   sync.WaitGroup
}

// Option configures an Agent
type Option func(*Agent)

// WithHistory records every activation
func WithHistory(h History) Option {
	return func(a *Agent) {
		a.history = h
	}
}

// WithRules sets the replacement rules applied before upload
func WithRules(r *postprocess.Rules) Option {
	return func(a *Agent) {
		a.rules = r
	}
}

// WithPipeline replaces the pipeline otherwise built from the rules and
// the clean_text setting
func WithPipeline(p *postprocess.Pipeline) Option {
	return func(a *Agent) {
		a.pipeline = p
	}
}

// WithUploadObserver is called with each finished activation record
func WithUploadObserver(fn func(*storage.Upload)) Option {
	return func(a *Agent) {
		a.uploadObservers = append(a.uploadObservers, fn)
	}
}

// WithStatusObserver is called whenever the agent state changes
func WithStatusObserver(fn func(Status)) Option {
	return func(a *Agent) {
		a.statusObservers = append(a.statusObservers, fn)
	}
}

// WithConfigObserver is called after the config file is reloaded
func WithConfigObserver(fn func(*config.Config)) Option {
	return func(a *Agent) {
		a.configObservers = append(a.configObservers, fn)
	}
}

// New creates an agent. The listener is not started until Run.
func New(cfg *config.Config, binder platform.Binder, clipboard platform.Clipboard, copier platform.SelectionCopier, sink notify.Sink, opts ...Option) *Agent {
	a := &Agent{
		listener:  platform.NewListener(binder),
		clipboard: clipboard,
		copier:    copier,
		sink:      sink,
		cfg:       cfg.Clone(),
		base:      context.Background(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.sink == nil {
		a.sink = notify.Log{}
	}
	a.setUploader(cfg)
	return a
}

// Config returns the current configuration snapshot
func (a *Agent) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.Clone()
}

// Run starts the listener, follows config file changes and blocks until ctx
// is done. In-flight activations finish before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	a.base = ctx
	a.mu.Unlock()

	cfg := a.Config()

	var changes <-chan struct{}
	if path := cfg.Path(); path != "" {
		ch, err := config.Watch(ctx, path)
		if err != nil {
			slog.Warn("Config changes will not be picked up", "error", err)
		} else {
			changes = ch
		}
	}

	if err := a.Reconfigure(cfg); err != nil {
		slog.Warn("Hotkey not active", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil

		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			a.reload(cfg.Path())
		}
	}
}

func (a *Agent) shutdown() {
	a.ctl.Lock()
	a.listener.Stop()
	a.ctl.Unlock()

	if a.busy.Load() {
		slog.Info("Waiting for activation in progress")
	}
	a.wg.Wait()
}

func (a *Agent) reload(path string) {
	cfg, err := config.LoadFrom(path)
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		a.sink.Notify(notify.Notification{
			Level:   notify.Warning,
			Title:   "Settings not applied",
			Message: err.Error(),
		})
		return
	}

	slog.Info("Configuration reloaded", "path", path)
	if err := a.Reconfigure(cfg); err != nil {
		slog.Warn("Reconfiguration incomplete", "error", err)
	}
	for _, fn := range a.configObservers {
		fn(cfg.Clone())
	}
}

// Reconfigure adopts cfg for future activations and re-registers the hotkey
// when it changed. An unparsable hotkey keeps the current registration; a
// hotkey the OS refuses leaves the agent without one. Both are reported
// through the sink and returned.
func (a *Agent) Reconfigure(cfg *config.Config) error {
	a.ctl.Lock()
	defer a.ctl.Unlock()

	cfg = cfg.Clone()

	spec, err := cfg.HotkeySpec()
	if err != nil {
		a.mu.Lock()
		cfg.Hotkey = a.cfg.Hotkey
		a.cfg = cfg
		a.mu.Unlock()
		a.setUploader(cfg)

		a.sink.Notify(notify.Notification{
			Level:   notify.Warning,
			Title:   "Invalid hotkey",
			Message: err.Error(),
		})
		return err
	}

	a.mu.Lock()
	a.cfg = cfg
	paused := a.paused
	a.mu.Unlock()
	a.setUploader(cfg)

	if paused {
		return nil
	}
	return a.bind(spec)
}

// bind registers spec unless it is already registered. Caller holds ctl.
func (a *Agent) bind(spec config.HotkeySpec) error {
	if current, ok := a.listener.Spec(); ok && current == spec {
		return nil
	}

	a.listener.Stop()
	err := a.listener.Start(spec, a.onHotkey)
	a.publishStatus()

	if err != nil {
		a.sink.Notify(notify.Notification{
			Level:   notify.Error,
			Title:   "Hotkey unavailable",
			Message: err.Error(),
		})
		return err
	}

	slog.Info("Listening for hotkey", "hotkey", spec.Display())
	return nil
}

// Pause unregisters the hotkey until Resume
func (a *Agent) Pause() {
	a.ctl.Lock()
	defer a.ctl.Unlock()

	a.mu.Lock()
	a.paused = true
	a.mu.Unlock()

	a.listener.Stop()
	slog.Info("Hotkey paused")
	a.publishStatus()
}

// Resume registers the configured hotkey again
func (a *Agent) Resume() error {
	a.ctl.Lock()
	defer a.ctl.Unlock()

	a.mu.Lock()
	a.paused = false
	cfg := a.cfg
	a.mu.Unlock()

	spec, err := cfg.HotkeySpec()
	if err != nil {
		return err
	}
	return a.bind(spec)
}

// Paused reports whether the hotkey is paused
func (a *Agent) Paused() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.paused
}

// Status returns the current state. It must not be called from the hotkey
// callback.
func (a *Agent) Status() Status {
	spec, listening := a.listener.Spec()

	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Status{Status: StateIdle, LastOutcome: a.lastOutcome}
	switch {
	case a.paused:
		s.Status = StatePaused
	case a.busy.Load():
		s.Status = StateBusy
	case listening:
		s.Status = StateListening
	}
	if listening {
		s.Hotkey = spec.Display()
	}
	return s
}

func (a *Agent) publishStatus() {
	if len(a.statusObservers) == 0 {
		return
	}
	s := a.Status()
	for _, fn := range a.statusObservers {
		fn(s)
	}
}

func (a *Agent) setUploader(cfg *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.uploader != nil && a.timeout == cfg.Timeout() {
		return
	}
	a.timeout = cfg.Timeout()
	a.uploader = upload.NewClient(a.timeout)
}

// onHotkey runs on the listener goroutine and only hands off to a worker.
// A press while an activation is in flight is dropped.
func (a *Agent) onHotkey() {
	if !a.busy.CompareAndSwap(false, true) {
		slog.Info("Activation in progress, ignoring hotkey")
		return
	}

	a.mu.RLock()
	cfg := a.cfg.Clone()
	uploader := a.uploader
	ctx := context.WithoutCancel(a.base)
	a.mu.RUnlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			a.busy.Store(false)
			a.publishStatus()
		}()
		a.activate(ctx, cfg, uploader)
	}()
}

// activate runs one capture and upload and emits exactly one notification
func (a *Agent) activate(ctx context.Context, cfg *config.Config, uploader Uploader) {
	start := time.Now()
	rec := &storage.Upload{
		ActivationID:    uuid.NewString(),
		Timestamp:       start.UTC(),
		KnowledgeBaseID: cfg.KnowledgeBaseID,
		DocumentID:      cfg.DocumentID,
	}
	if spec, err := cfg.HotkeySpec(); err == nil {
		rec.Hotkey = spec.String()
	}

	log := slog.With("activation", rec.ActivationID)
	a.publishStatus()

	n := func() (n notify.Notification) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Activation panicked", "panic", r)
				rec.Outcome = OutcomePanic
				rec.ErrorMessage = fmt.Sprint(r)
				n = notify.Notification{
					Level:   notify.Error,
					Title:   "Upload failed",
					Message: fmt.Sprintf("Unexpected error: %v", r),
				}
			}
		}()
		return a.process(ctx, log, cfg, uploader, rec)
	}()

	rec.TotalLatencyMs = time.Since(start).Milliseconds()
	log.Info("Activation finished", "outcome", rec.Outcome, "duration", time.Since(start))

	a.sink.Notify(n)

	a.mu.Lock()
	a.lastOutcome = rec.Outcome
	a.mu.Unlock()

	if a.history != nil && cfg.History {
		if err := a.history.SaveUpload(rec); err != nil {
			log.Error("Failed to save upload record", "error", err)
		}
	}
	for _, fn := range a.uploadObservers {
		fn(rec)
	}
}

func (a *Agent) process(ctx context.Context, log *slog.Logger, cfg *config.Config, uploader Uploader, rec *storage.Upload) notify.Notification {
	if err := cfg.Validate(); err != nil {
		rec.Outcome = OutcomeConfigIncomplete
		rec.ErrorMessage = err.Error()
		log.Warn("Configuration incomplete", "error", err)
		return notify.Notification{
			Level:   notify.Warning,
			Title:   "Configuration incomplete",
			Message: fmt.Sprintf("Open settings and fill in the %s.", strings.TrimPrefix(err.Error(), "missing ")),
		}
	}

	acq := capture.NewAcquirer(a.clipboard, a.copier,
		capture.WithSettle(cfg.SettleDelay()),
		capture.WithClipboardFallback(cfg.FallbackToClipboard),
	)
	res := acq.Acquire(ctx)
	rec.CaptureLatencyMs = res.Duration.Milliseconds()
	rec.CaptureSource = string(res.Source)

	if res.RestoreErr != nil {
		log.Warn("Clipboard not restored", "error", res.RestoreErr)
	}
	if res.Err != nil {
		rec.Outcome = OutcomeCaptureFailed
		rec.ErrorMessage = res.Err.Error()
		log.Error("Capture failed", "copier", a.copier.Name(), "error", res.Err)
		if errors.Is(res.Err, platform.ErrClipboardUnrestorable) {
			return notify.Notification{
				Level:   notify.Warning,
				Title:   "Clipboard left untouched",
				Message: "The clipboard holds content that could not be put back after copying the selection. Copy some plain text, then press the hotkey again.",
			}
		}
		return notify.Notification{
			Level:   notify.Warning,
			Title:   "Could not read selection",
			Message: res.Err.Error(),
		}
	}

	pipeline := a.pipeline
	if pipeline == nil {
		pipeline = postprocess.Build(a.rules, cfg.CleanText)
	}
	text, err := pipeline.Process(ctx, res.Text)
	if err != nil {
		log.Warn("Text clean-up failed, uploading as captured", "error", err)
		text = res.Text
	}

	if strings.TrimSpace(text) == "" {
		rec.Outcome = OutcomeEmpty
		log.Info("Nothing selected")
		return notify.Notification{
			Level:   notify.Warning,
			Title:   "Nothing to upload",
			Message: "Select some text and press the hotkey again.",
		}
	}

	rec.SetText(text)
	log.Info("Uploading chunk", "source", res.Source, "characters", rec.CharacterCount)

	ures := uploader.Upload(ctx, text, cfg)
	rec.UploadLatencyMs = ures.Duration.Milliseconds()
	rec.StatusCode = ures.StatusCode
	rec.Outcome = ures.Kind.String()
	rec.Success = ures.OK()
	if !ures.OK() {
		rec.ErrorMessage = ures.String()
		log.Error("Upload failed", "kind", ures.Kind, "status", ures.StatusCode, "error", ures.String())
	}

	return uploadNotification(ures, cfg, rec)
}

func uploadNotification(res upload.Result, cfg *config.Config, rec *storage.Upload) notify.Notification {
	switch res.Kind {
	case upload.Success:
		return notify.Notification{
			Level:   notify.Info,
			Title:   "Added to knowledge base",
			Message: fmt.Sprintf("%s (%d words)", rec.Preview, rec.WordCount),
		}
	case upload.HTTPError:
		return notify.Notification{
			Level:   notify.Error,
			Title:   "Upload rejected",
			Message: res.String(),
		}
	case upload.Timeout:
		return notify.Notification{
			Level:   notify.Error,
			Title:   "Upload timed out",
			Message: fmt.Sprintf("No response from %s within %s. The server may be busy; try again or raise timeout_seconds.", cfg.APIURL, cfg.Timeout()),
		}
	}

	msg := fmt.Sprintf("Could not reach %s: %s. Check api_url and that the server is running.", cfg.APIURL, res.Reason)
	if errors.Is(res.Err, context.Canceled) {
		msg = "Upload canceled"
	}
	return notify.Notification{
		Level:   notify.Error,
		Title:   "Upload failed",
		Message: msg,
	}
}
