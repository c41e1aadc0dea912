package systray

import (
	"log/slog"
	"os/exec"
	"runtime"
	"sync"

	"github.com/getlantern/systray"
)

// Controller is the part of the agent the tray menu drives
type Controller interface {
	Pause()
	Resume() error
	Paused() bool
}

// SystrayManager manages the system tray icon and menu
type SystrayManager struct {
	controller Controller
	webURL     string
	iconData   []byte
	quit       chan struct{}
	quitOnce   sync.Once

	mu      sync.Mutex
	ready   bool
	tooltip string
	status  *systray.MenuItem
}

// NewSystrayManager creates a new systray manager. webURL may be empty when
// the web UI is disabled.
func NewSystrayManager(controller Controller, webURL string) *SystrayManager {
	return &SystrayManager{
		controller: controller,
		webURL:     webURL,
		iconData:   iconData,
		quit:       make(chan struct{}),
		tooltip:    "ClipKB",
	}
}

// Run starts the system tray (blocking call). It must run on the main thread.
func (m *SystrayManager) Run() {
	systray.Run(m.onReady, m.onExit)
}

// Stop stops the system tray
func (m *SystrayManager) Stop() {
	systray.Quit()
}

// WaitForQuit returns a channel that will be closed when user clicks Quit
func (m *SystrayManager) WaitForQuit() <-chan struct{} {
	return m.quit
}

// SetStatus updates the tooltip and the status line of the menu
func (m *SystrayManager) SetStatus(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tooltip = "ClipKB - " + text
	if !m.ready {
		return
	}
	systray.SetTooltip(m.tooltip)
	m.status.SetTitle(text)
}

// onReady is called when the systray is ready
func (m *SystrayManager) onReady() {
	if len(m.iconData) > 0 {
		systray.SetIcon(m.iconData)
	}

	// macOS shows the title next to the icon
	if runtime.GOOS != "darwin" {
		systray.SetTitle("ClipKB")
	}

	m.mu.Lock()
	systray.SetTooltip(m.tooltip)
	m.status = systray.AddMenuItem(m.tooltip, "Hotkey status")
	m.status.Disable()
	m.ready = true
	m.mu.Unlock()

	systray.AddSeparator()

	var openCh <-chan struct{}
	if m.webURL != "" {
		mOpen := systray.AddMenuItem("Open Settings", "Open the ClipKB settings and history")
		openCh = mOpen.ClickedCh
	}
	mPause := systray.AddMenuItemCheckbox("Pause Hotkey", "Stop listening for the hotkey", m.controller.Paused())
	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Quit", "Exit ClipKB")

	// Handle menu clicks
	go func() {
		for {
			select {
			case <-openCh:
				openBrowser(m.webURL)

			case <-mPause.ClickedCh:
				m.togglePause(mPause)

			case <-mQuit.ClickedCh:
				slog.Info("User requested quit from system tray")
				m.quitOnce.Do(func() { close(m.quit) })
				systray.Quit()
				return
			}
		}
	}()
}

func (m *SystrayManager) togglePause(item *systray.MenuItem) {
	if m.controller.Paused() {
		if err := m.controller.Resume(); err != nil {
			slog.Error("Failed to resume hotkey", "error", err)
		}
	} else {
		m.controller.Pause()
	}

	if m.controller.Paused() {
		item.Check()
	} else {
		item.Uncheck()
	}
}

// onExit is called when the systray is exiting
func (m *SystrayManager) onExit() {
	slog.Info("System tray exited")
	m.quitOnce.Do(func() { close(m.quit) })
}

// openBrowser opens url in the default browser
func openBrowser(url string) {
	slog.Info("Opening settings", "url", url)

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux", "freebsd", "openbsd":
		cmd = exec.Command("xdg-open", url)
	default:
		slog.Error("Unsupported platform for opening browser", "platform", runtime.GOOS)
		return
	}

	if err := cmd.Start(); err != nil {
		slog.Error("Failed to open settings", "error", err)
		return
	}
	go cmd.Wait()
}
