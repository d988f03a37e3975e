package telegram

import (
	"io"
	"sync"
)

// TerminalWebApp hosts the mini-app in a terminal. The init data comes from
// configuration; it counts as available only when init data is present.
type TerminalWebApp struct {
	initData string
	version  string
	bell     io.Writer

	mu      sync.Mutex
	closeFn func()
	button  *TerminalMainButton
}

func NewTerminalWebApp(initData string, bell io.Writer) *TerminalWebApp {
	return &TerminalWebApp{
		initData: initData,
		version:  "terminal",
		bell:     bell,
		button:   &TerminalMainButton{},
	}
}

// SetCloseHandler registers what Close does, typically quitting the program.
func (t *TerminalWebApp) SetCloseHandler(fn func()) {
	t.mu.Lock()
	t.closeFn = fn
	t.mu.Unlock()
}

func (t *TerminalWebApp) Available() bool { return t.initData != "" }
func (t *TerminalWebApp) Ready() {}
func (t *TerminalWebApp) Expand() {}
func (t *TerminalWebApp) InitData() string {
	return t.initData
}
func (t *TerminalWebApp) Version() string { return t.version }

func (t *TerminalWebApp) Close() {
	t.mu.Lock()
	fn := t.closeFn
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *TerminalWebApp) MainButton() MainButton { return t.button }

// Button returns the concrete main button so the UI can render and press it.
func (t *TerminalWebApp) Button() *TerminalMainButton { return t.button }

// ImpactOccurred has no terminal equivalent.
func (t *TerminalWebApp) ImpactOccurred(string) {}

// NotificationOccurred rings the bell for errors and warnings.
func (t *TerminalWebApp) NotificationOccurred(kind string) {
	if t.bell == nil || kind == HapticSuccess {
		return
	}
	_, _ = t.bell.Write([]byte("\a"))
}

// TerminalMainButton keeps the button state for rendering.
type TerminalMainButton struct {
	mu      sync.Mutex
	visible bool
	text    string
	onClick func()
}

func (b *TerminalMainButton) Show() {
	b.mu.Lock()
	b.visible = true
	b.mu.Unlock()
}

func (b *TerminalMainButton) Hide() {
	b.mu.Lock()
	b.visible = false
	b.mu.Unlock()
}

func (b *TerminalMainButton) SetText(text string) {
	b.mu.Lock()
	b.text = text
	b.mu.Unlock()
}

func (b *TerminalMainButton) OnClick(fn func()) {
	b.mu.Lock()
	b.onClick = fn
	b.mu.Unlock()
}

// State returns whether the button is shown and its label.
func (b *TerminalMainButton) State() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visible, b.text
}

// Press invokes the click handler when the button is visible.
func (b *TerminalMainButton) Press() bool {
	b.mu.Lock()
	fn, visible := b.onClick, b.visible
	b.mu.Unlock()
	if !visible || fn == nil {
		return false
	}
	fn()
	return true
}
