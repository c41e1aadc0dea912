package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"markestedt/clipkb/config"
	"markestedt/clipkb/storage"
)

// configView is the config as shown to the browser; the API key never leaves
type configView struct {
	APIURL              string   `json:"apiUrl"`
	KnowledgeBaseID     string   `json:"knowledgeBaseId"`
	DocumentID          string   `json:"documentId"`
	Hotkey              string   `json:"hotkey"`
	HotkeyDisplay       string   `json:"hotkeyDisplay"`
	HasAPIKey           bool     `json:"hasApiKey"`
	TimeoutSeconds      int      `json:"timeoutSeconds"`
	SettleMs            int      `json:"settleMs"`
	FallbackToClipboard bool     `json:"fallbackToClipboard"`
	CleanText           bool     `json:"cleanText"`
	Notifications       bool     `json:"notifications"`
	History             bool     `json:"history"`
	WebEnabled          bool     `json:"webEnabled"`
	WebPort             int      `json:"webPort"`
	Tray                bool     `json:"tray"`
	EnvOverrides        []string `json:"envOverrides"`
}

type configUpdate struct {
	APIURL              *string `json:"apiUrl"`
	APIKey              *string `json:"apiKey"`
	KnowledgeBaseID     *string `json:"knowledgeBaseId"`
	DocumentID          *string `json:"documentId"`
	Hotkey              *string `json:"hotkey"`
	TimeoutSeconds      *int    `json:"timeoutSeconds"`
	SettleMs            *int    `json:"settleMs"`
	FallbackToClipboard *bool   `json:"fallbackToClipboard"`
	CleanText           *bool   `json:"cleanText"`
	Notifications       *bool   `json:"notifications"`
	History             *bool   `json:"history"`
	WebEnabled          *bool   `json:"webEnabled"`
	WebPort             *int    `json:"webPort"`
	Tray                *bool   `json:"tray"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleConfig handles GET and PUT requests for configuration
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetConfig(w, r)
	case http.MethodPut:
		s.handlePutConfig(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func newConfigView(cfg *config.Config) configView {
	view := configView{
		APIURL:              cfg.APIURL,
		KnowledgeBaseID:     cfg.KnowledgeBaseID,
		DocumentID:          cfg.DocumentID,
		Hotkey:              cfg.Hotkey,
		HasAPIKey:           cfg.APIKey != "",
		TimeoutSeconds:      cfg.TimeoutSeconds,
		SettleMs:            cfg.SettleMs,
		FallbackToClipboard: cfg.FallbackToClipboard,
		CleanText:           cfg.CleanText,
		Notifications:       cfg.Notifications,
		History:             cfg.History,
		WebEnabled:          cfg.WebEnabled,
		WebPort:             cfg.WebPort,
		Tray:                cfg.Tray,
		EnvOverrides:        []string{},
	}
	if spec, err := cfg.HotkeySpec(); err == nil {
		view.HotkeyDisplay = spec.Display()
	}
	for _, name := range []string{"api_key", "api_url", "knowledge_base_id", "document_id", "hotkey"} {
		if cfg.Overridden(name) {
			view.EnvOverrides = append(view.EnvOverrides, name)
		}
	}
	return view
}

// handleGetConfig returns the current configuration
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newConfigView(s.GetConfig()))
}

// handlePutConfig validates and saves a partial configuration update
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var req configUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cfg := s.GetConfig().Clone()
	if err := applyUpdate(cfg, req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := cfg.Save(); err != nil {
		slog.Error("Failed to save config", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to save configuration")
		return
	}

	s.UpdateConfig(cfg)
	slog.Info("Configuration updated from web UI")

	if s.onConfigChange != nil {
		s.onConfigChange(cfg.Clone())
	}

	writeJSON(w, http.StatusOK, newConfigView(cfg))
}

// applyUpdate copies the provided fields into cfg. Edited fields stop being
// environment overrides so the new value is what gets saved.
func applyUpdate(cfg *config.Config, req configUpdate) error {
	setString := func(name string, dst *string, v *string) {
		if v == nil {
			return
		}
		*dst = *v
		cfg.ClearOverride(name)
	}

	if req.Hotkey != nil {
		spec, err := config.ParseHotkey(*req.Hotkey)
		if err != nil {
			return err
		}
		canonical := spec.String()
		req.Hotkey = &canonical
	}
	if req.APIURL != nil {
		u, err := url.Parse(*req.APIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid api url %q", *req.APIURL)
		}
	}
	if req.TimeoutSeconds != nil && *req.TimeoutSeconds <= 0 {
		return errors.New("timeout must be positive")
	}
	if req.SettleMs != nil && *req.SettleMs <= 0 {
		return errors.New("settle delay must be positive")
	}
	if req.WebPort != nil && (*req.WebPort <= 0 || *req.WebPort > 65535) {
		return fmt.Errorf("invalid web port %d", *req.WebPort)
	}

	setString("hotkey", &cfg.Hotkey, req.Hotkey)
	setString("api_url", &cfg.APIURL, req.APIURL)
	setString("knowledge_base_id", &cfg.KnowledgeBaseID, req.KnowledgeBaseID)
	setString("document_id", &cfg.DocumentID, req.DocumentID)
	// an empty key from the form means "unchanged"
	if req.APIKey != nil && *req.APIKey != "" {
		setString("api_key", &cfg.APIKey, req.APIKey)
	}

	if req.TimeoutSeconds != nil {
		cfg.TimeoutSeconds = *req.TimeoutSeconds
	}
	if req.SettleMs != nil {
		cfg.SettleMs = *req.SettleMs
	}
	if req.FallbackToClipboard != nil {
		cfg.FallbackToClipboard = *req.FallbackToClipboard
	}
	if req.CleanText != nil {
		cfg.CleanText = *req.CleanText
	}
	if req.Notifications != nil {
		cfg.Notifications = *req.Notifications
	}
	if req.History != nil {
		cfg.History = *req.History
	}
	if req.WebEnabled != nil {
		cfg.WebEnabled = *req.WebEnabled
	}
	if req.WebPort != nil {
		cfg.WebPort = *req.WebPort
	}
	if req.Tray != nil {
		cfg.Tray = *req.Tray
	}
	return nil
}

func queryInt(r *http.Request, key string, def, floor int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= floor {
			return n
		}
	}
	return def
}

// handleStats returns statistics for the specified time range
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "History is disabled")
		return
	}

	days := queryInt(r, "days", 7, 1)

	overall, err := s.db.GetOverallStats(days)
	if err != nil {
		slog.Error("Failed to get overall stats", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get statistics")
		return
	}

	daily, err := s.db.GetDailyStats(days)
	if err != nil {
		slog.Error("Failed to get daily stats", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get statistics")
		return
	}

	outcomes, err := s.db.GetOutcomeStats(days)
	if err != nil {
		slog.Error("Failed to get outcome stats", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get statistics")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"days":     days,
		"overall":  overall,
		"daily":    daily,
		"outcomes": outcomes,
	})
}

// handleGetHistory returns paginated upload history
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "History is disabled")
		return
	}

	limit := min(queryInt(r, "limit", 50, 1), 500)
	offset := queryInt(r, "offset", 0, 0)

	uploads, err := s.db.GetUploads(limit, offset)
	if err != nil {
		slog.Error("Failed to get uploads", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get history")
		return
	}

	total, err := s.db.GetUploadCount()
	if err != nil {
		slog.Error("Failed to get upload count", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"uploads": uploads,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// handleDeleteHistory deletes an upload record by ID
func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "History is disabled")
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid ID")
		return
	}

	if err := s.db.DeleteUpload(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Upload not found")
			return
		}
		slog.Error("Failed to delete upload", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "Failed to delete upload")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// handleStatus returns the current agent status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.status == nil {
		writeJSON(w, http.StatusOK, StatusMessage{Status: "idle"})
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}
