package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"bundlealert-miniapp/internal/common/constants"
	"bundlealert-miniapp/internal/features/verification/models"
	walletmodels "bundlealert-miniapp/internal/features/wallet/models"
	"bundlealert-miniapp/internal/platform/botapi"
	"bundlealert-miniapp/internal/platform/telegram"
)

// Flow is the controller surface the screens drive.
type Flow interface {
	Start(ctx context.Context) error
	Snapshot() models.Snapshot
	Subscribe(fn func(models.Snapshot)) func()
	Connect(ctx context.Context, kind walletmodels.Kind) (*botapi.VerificationResult, error)
	Retry()
	RestoreSession(ctx context.Context) bool
	StartFresh(ctx context.Context)
	ViewStatus(ctx context.Context) error
	StartVerification()
	Disconnect(ctx context.Context) error
	ReturnToBot()
}

type Options struct {
	// RequireTelegram gates the flow behind a detected host.
	RequireTelegram bool
	IsTelegram      bool
	Host            *telegram.TerminalWebApp
	// Reset wipes local state from the crash screen.
	Reset func(ctx context.Context)
	Log   zerolog.Logger
}

type (
	snapshotMsg     struct{}
	toastMsg        models.Toast
	toastExpiredMsg struct{ id string }
	flowDoneMsg     struct{ err error }
	resetDoneMsg    struct{}
)

type action struct {
	label   string
	variant ButtonVariant
	run     func() tea.Cmd
}

// Model is the bubbletea model of the mini-app.
type Model struct {
	ctx  context.Context
	flow Flow
	opts Options
	log  zerolog.Logger

	snap     models.Snapshot
	spin     spinner.Model
	help     help.Model
	keys     keyMap
	faq      FAQAccordion
	toasts   ToastStack
	focus    int
	crashed  string
	quitting bool
	width    int
}

func New(ctx context.Context, flow Flow, opts Options) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(cAccent)

	return Model{
		ctx:  ctx,
		flow: flow,
		opts: opts,
		log:  opts.Log.With().Str("component", "ui").Logger(),
		snap: flow.Snapshot(),
		spin: sp,
		help: help.New(),
		keys: keys,
		faq:  NewFAQAccordion(constants.FAQs),
	}
}

func (m Model) gated() bool {
	return m.opts.RequireTelegram && !m.opts.IsTelegram
}

func (m Model) Init() tea.Cmd {
	if m.gated() {
		return nil
	}
	return tea.Batch(m.spin.Tick, m.run(func() error { return m.flow.Start(m.ctx) }))
}

func (m Model) run(fn func() error) tea.Cmd {
	return func() tea.Msg {
		return flowDoneMsg{err: fn()}
	}
}

// Update recovers panics into the crash screen.
func (m Model) Update(msg tea.Msg) (next tea.Model, cmd tea.Cmd) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("ui update panicked")
			m.crashed = fmt.Sprint(r)
			m.focus = 0
			next, cmd = m, nil
		}
	}()
	return m.update(msg)
}

func (m Model) update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case snapshotMsg:
		m.setSnapshot(m.flow.Snapshot())
		return m, nil

	case flowDoneMsg:
		if msg.err != nil {
			m.log.Debug().Err(msg.err).Msg("flow action finished with error")
		}
		m.setSnapshot(m.flow.Snapshot())
		return m, nil

	case toastMsg:
		t := models.Toast(msg)
		m.toasts.Push(t)
		return m, tea.Tick(toastTTL, func(time.Time) tea.Msg { return toastExpiredMsg{id: t.ID} })

	case toastExpiredMsg:
		m.toasts.Dismiss(msg.id)
		return m, nil

	case resetDoneMsg:
		m.crashed = ""
		m.focus = 0
		m.setSnapshot(m.flow.Snapshot())
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) setSnapshot(s models.Snapshot) {
	if s.State != m.snap.State {
		m.focus = 0
	}
	m.snap = s
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Main):
		if m.opts.Host != nil {
			m.opts.Host.Button().Press()
		}
		return m, nil
	}
	if m.gated() {
		return m, nil
	}

	acts := m.actions()
	switch {
	case key.Matches(msg, m.keys.Up):
		if len(acts) > 0 {
			m.focus = (m.focus - 1 + len(acts)) % len(acts)
		}
	case key.Matches(msg, m.keys.Down):
		if len(acts) > 0 {
			m.focus = (m.focus + 1) % len(acts)
		}
	case key.Matches(msg, m.keys.Select):
		if m.focus < len(acts) {
			return m, acts[m.focus].run()
		}
	case key.Matches(msg, m.keys.FAQ):
		if m.crashed == "" && m.snap.State == models.StateWelcome {
			m.faq.Toggle(int(msg.String()[0] - '1'))
		}
	}
	return m, nil
}

// actions lists the buttons of the current screen in focus order.
func (m Model) actions() []action {
	if m.crashed != "" {
		return []action{{label: "Reset local state", variant: ButtonPrimary, run: m.reset}}
	}

	ctx := m.ctx
	viewStatus := action{label: "View Status", variant: ButtonOutline, run: func() tea.Cmd {
		return m.run(func() error { return m.flow.ViewStatus(ctx) })
	}}
	disconnect := action{label: "Disconnect Wallet", variant: ButtonSecondary, run: func() tea.Cmd {
		return m.run(func() error { return m.flow.Disconnect(ctx) })
	}}
	returnToBot := action{label: "Return to Bot", variant: ButtonPrimary, run: func() tea.Cmd {
		return m.run(func() error { m.flow.ReturnToBot(); return nil })
	}}
	startFresh := action{label: "Clear Session & Start Over", variant: ButtonOutline, run: func() tea.Cmd {
		return m.run(func() error { m.flow.StartFresh(ctx); return nil })
	}}

	switch m.snap.State {
	case models.StateWelcome:
		acts := make([]action, 0, len(constants.WalletProviders)+1)
		for _, p := range constants.WalletProviders {
			kind, ok := walletmodels.ParseKind(p.ID)
			if !ok {
				continue
			}
			acts = append(acts, action{label: p.Name, variant: ButtonSecondary, run: func() tea.Cmd {
				return m.run(func() error {
					_, err := m.flow.Connect(ctx, kind)
					return err
				})
			}})
		}
		return append(acts, viewStatus)
	case models.StateConnecting, models.StateVerifying:
		return []action{startFresh}
	case models.StateSuccess:
		return []action{returnToBot, disconnect, viewStatus}
	case models.StateError:
		if m.snap.Error.SessionLost() {
			return []action{
				{label: "Try to Restore", variant: ButtonPrimary, run: func() tea.Cmd {
					return m.run(func() error { m.flow.RestoreSession(ctx); return nil })
				}},
				{label: "Start Fresh", variant: ButtonOutline, run: func() tea.Cmd {
					return m.run(func() error { m.flow.StartFresh(ctx); return nil })
				}},
			}
		}
		return []action{{label: "Try Again", variant: ButtonPrimary, run: func() tea.Cmd {
			return m.run(func() error { m.flow.Retry(); return nil })
		}}}
	case models.StateStatus:
		acts := []action{{label: "Verify Another Wallet", variant: ButtonPrimary, run: func() tea.Cmd {
			return m.run(func() error { m.flow.StartVerification(); return nil })
		}}}
		if st := m.snap.Status; st != nil && (len(st.Wallets) > 0 || st.HasAction(botapi.ActionDisconnectWallet)) {
			acts = append(acts, disconnect)
		}
		return append(acts, returnToBot)
	}
	return nil
}

func (m Model) reset() tea.Cmd {
	ctx := m.ctx
	reset := m.opts.Reset
	return func() tea.Msg {
		if reset != nil {
			reset(ctx)
		}
		return resetDoneMsg{}
	}
}

func (m Model) renderActions(acts []action) string {
	lines := make([]string, len(acts))
	for i, a := range acts {
		lines[i] = Button(a.label, a.variant, i == m.focus)
	}
	return strings.Join(lines, "\n")
}

// View recovers panics into the crash card.
func (m Model) View() (out string) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("ui view panicked")
			out = CrashCard(fmt.Sprint(r), Button("Reset local state", ButtonPrimary, true))
		}
	}()
	if m.quitting {
		return ""
	}
	return m.view()
}

func (m Model) view() string {
	var screen string
	acts := m.actions()
	spin := m.spin.View()

	switch {
	case m.crashed != "":
		screen = CrashCard(m.crashed, m.renderActions(acts))
	case m.gated():
		screen = NonTelegramCard()
	default:
		switch m.snap.State {
		case models.StateLoading:
			screen = LoadingCard(spin)
		case models.StateWelcome:
			providers := len(acts) - 1
			options := WalletOptions(constants.WalletProviders, m.focus)
			if m.focus >= providers {
				options = WalletOptions(constants.WalletProviders, -1)
			}
			statusBtn := Button(acts[providers].label, acts[providers].variant, m.focus == providers)
			screen = WelcomeCard(m.snap.Status, m.snap.Status == nil, spin, options+"\n"+statusBtn, m.faq.View())
		case models.StateConnecting:
			screen = ConnectingCard(m.snap.Kind, spin, m.renderActions(acts))
		case models.StateVerifying:
			screen = VerifyingCard(m.snap.Connection, spin)
		case models.StateSuccess:
			screen = SuccessCard(m.snap.Result, m.snap.Connection, m.renderActions(acts))
		case models.StateError:
			screen = ErrorCard(m.snap.Error, m.renderActions(acts))
		case models.StateStatus:
			body := m.renderActions(acts)
			if m.snap.Busy {
				body = spin + " " + mutedStyle.Render(constants.LoadingProcessing) + "\n" + body
			}
			screen = StatusCard(m.snap.Status, body)
		}
	}

	parts := []string{screen}
	if m.opts.Host != nil {
		if visible, text := m.opts.Host.Button().State(); visible {
			parts = append(parts, Button(text+" (m)", ButtonPrimary, false))
		}
	}
	if t := m.toasts.View(); t != "" {
		parts = append(parts, t)
	}
	parts = append(parts, m.help.View(m.keys))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
