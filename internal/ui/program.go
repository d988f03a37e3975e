package ui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"bundlealert-miniapp/internal/features/verification/models"
)

// Notifier forwards controller toasts to the running program. Toasts raised
// before the program starts are queued.
type Notifier struct {
	mu      sync.Mutex
	p       *tea.Program
	pending []models.Toast
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

func (n *Notifier) Notify(t models.Toast) {
	n.mu.Lock()
	p := n.p
	if p == nil {
		n.pending = append(n.pending, t)
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()
	go p.Send(toastMsg(t))
}

func (n *Notifier) attach(p *tea.Program) {
	n.mu.Lock()
	n.p = p
	pending := n.pending
	n.pending = nil
	n.mu.Unlock()
	for _, t := range pending {
		go p.Send(toastMsg(t))
	}
}

// Run starts the terminal program and blocks until it quits.
func Run(ctx context.Context, flow Flow, notifier *Notifier, opts Options, progOpts ...tea.ProgramOption) error {
	progOpts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, progOpts...)
	p := tea.NewProgram(New(ctx, flow, opts), progOpts...)

	if notifier != nil {
		notifier.attach(p)
	}
	// Send must not run under the controller lock.
	unsubscribe := flow.Subscribe(func(models.Snapshot) { go p.Send(snapshotMsg{}) })
	defer unsubscribe()

	if opts.Host != nil {
		opts.Host.SetCloseHandler(p.Quit)
	}

	_, err := p.Run()
	return err
}
