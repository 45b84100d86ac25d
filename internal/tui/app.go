// internal/tui/app.go
//
// This is the terminal view for the sarafan client.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: the last store snapshot, run records, and the compose inputs
// 2. Update: turns keys into intents and folds in fresh snapshots
// 3. View: renders the feed or compose screen plus the log panel
//
// The view never calls the backend for feed or compose work: it dispatches
// intents and re-renders whatever the store says.

package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/sarafan/internal/backend"
	"github.com/kingrea/sarafan/internal/intent"
	"github.com/kingrea/sarafan/internal/logbook"
	"github.com/kingrea/sarafan/internal/magnet"
	"github.com/kingrea/sarafan/internal/orchestrator"
	"github.com/kingrea/sarafan/internal/store"
)

// screen represents which view is shown.
type screen int

const (
	screenFeed    screen = iota // paginated publications
	screenCompose               // draft, estimate, publish
)

const (
	runsRefreshInterval = 500 * time.Millisecond
	authTimeout         = 10 * time.Second
	logPanelLines       = 6
)

// IntentDispatcher accepts intents from the view. *intent.Router satisfies it.
type IntentDispatcher interface {
	Dispatch(in intent.Intent) (intent.Intent, error)
}

// StateSource exposes store snapshots. *store.Store satisfies it.
type StateSource interface {
	Snapshot() store.State
	Subscribe() *store.Subscription
}

// RunSource exposes workflow progress. *orchestrator.Orchestrator satisfies it.
type RunSource interface {
	Runs() []orchestrator.Run
	ActiveDraft() (orchestrator.Draft, bool)
}

// Authenticator verifies a private key. *backend.Client satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, privateKey string) (backend.Identity, error)
}

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithAuthenticator enables ctrl+k key verification on the compose screen.
func WithAuthenticator(auth Authenticator) AppOption {
	return func(a *App) {
		a.auth = auth
	}
}

// WithLogbook attaches the log panel.
func WithLogbook(lb *logbook.Logbook) AppOption {
	return func(a *App) {
		a.logbook = lb
	}
}

// WithRuns attaches workflow progress for spinners and compose status.
func WithRuns(runs RunSource) AppOption {
	return func(a *App) {
		a.runs = runs
	}
}

// WithAutoPublishToggle wires ctrl+a on the compose screen. The callback
// receives the new value and reports whether it was applied.
func WithAutoPublishToggle(initial bool, toggle func(bool) error) AppOption {
	return func(a *App) {
		a.autoPublish = initial
		a.toggleAutoPublish = toggle
	}
}

type stateMsg struct {
	state store.State
}

type runsTickMsg struct{}

type authResultMsg struct {
	identity string
	err      error
}

// App is the main application model.
type App struct {
	screen  screen
	intents IntentDispatcher
	state   StateSource
	runs    RunSource
	auth    Authenticator
	logbook *logbook.Logbook
	sub     *store.Subscription

	snapshot        store.State
	draft           orchestrator.Draft
	hasDraft        bool
	fetching        bool
	composeIntentID string
	identity        string
	authPending     bool

	autoPublish       bool
	toggleAutoPublish func(bool) error

	text      textarea.Model
	key       textinput.Model
	keyFocus  bool
	spinner   spinner.Model
	feedTop   int
	statusMsg string
	err       error

	width  int
	height int
}

// NewApp creates the view over the given intent and state surfaces.
func NewApp(intents IntentDispatcher, state StateSource, opts ...AppOption) (*App, error) {
	if intents == nil {
		return nil, fmt.Errorf("tui: intent dispatcher is required")
	}
	if state == nil {
		return nil, fmt.Errorf("tui: state source is required")
	}
	text := textarea.New()
	text.Placeholder = "What's on your mind?"
	text.CharLimit = 4096
	text.ShowLineNumbers = false
	text.SetHeight(6)

	key := textinput.New()
	key.Placeholder = "private key"
	key.EchoMode = textinput.EchoPassword
	key.EchoCharacter = '•'

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))

	app := &App{
		screen:   screenFeed,
		intents:  intents,
		state:    state,
		snapshot: state.Snapshot(),
		text:     text,
		key:      key,
		spinner:  spin,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	app.sub = state.Subscribe()
	return app, nil
}

// Close releases the store subscription.
func (a *App) Close() {
	if a.sub != nil {
		a.sub.Close()
	}
}

// Init is called once when the program starts. An empty feed asks for the
// first page right away.
func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.waitForState(), a.scheduleRunsRefresh(), a.spinner.Tick}
	if len(a.snapshot.Publications) == 0 && !a.snapshot.UIState.Ended {
		a.requestNextPage()
	}
	return tea.Batch(cmds...)
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.text.SetWidth(max(20, msg.Width-8))
		a.key.Width = max(20, msg.Width-20)
		return a, nil

	case stateMsg:
		a.snapshot = msg.state
		a.clampFeed()
		return a, a.waitForState()

	case runsTickMsg:
		a.refreshRuns()
		return a, a.scheduleRunsRefresh()

	case authResultMsg:
		a.authPending = false
		if msg.err != nil {
			a.err = msg.err
			a.statusMsg = ""
			a.logWarn("key verification failed: %v", msg.err)
			return a, nil
		}
		a.err = nil
		a.identity = msg.identity
		a.statusMsg = fmt.Sprintf("Key verified for %s", msg.identity)
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		if a.screen == screenCompose {
			return a.updateCompose(msg)
		}
		return a.updateFeed(msg)
	}

	if a.screen == screenCompose {
		return a, a.forwardToInputs(msg)
	}
	return a, nil
}

func (a *App) updateFeed(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return a, tea.Quit
	case "r":
		a.requestNextPage()
	case "c", "tab":
		return a, a.openCompose()
	case "up", "k":
		if a.feedTop > 0 {
			a.feedTop--
		}
	case "down", "j":
		if a.feedTop < len(a.snapshot.Publications)-1 {
			a.feedTop++
		}
	}
	return a, nil
}

func (a *App) updateCompose(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.screen = screenFeed
		a.text.Blur()
		a.key.Blur()
		return a, nil
	case "tab":
		return a, a.toggleFocus()
	case "ctrl+s":
		a.requestEstimate()
		return a, nil
	case "ctrl+k":
		return a, a.verifyKey()
	case "ctrl+a":
		a.flipAutoPublish()
		return a, nil
	case "enter":
		if a.awaitingConfirm() {
			a.confirmPublish()
			return a, nil
		}
	}
	return a, a.forwardToInputs(msg)
}

func (a *App) forwardToInputs(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	if a.keyFocus {
		a.key, cmd = a.key.Update(msg)
		return cmd
	}
	a.text, cmd = a.text.Update(msg)
	return cmd
}

func (a *App) openCompose() tea.Cmd {
	a.screen = screenCompose
	a.keyFocus = false
	a.key.Blur()
	return a.text.Focus()
}

func (a *App) toggleFocus() tea.Cmd {
	a.keyFocus = !a.keyFocus
	if a.keyFocus {
		a.text.Blur()
		return a.key.Focus()
	}
	a.key.Blur()
	return a.text.Focus()
}

// requestNextPage asks for the page after the current cursor unless the feed
// has ended.
func (a *App) requestNextPage() {
	if a.snapshot.UIState.Ended {
		a.statusMsg = "End of feed"
		return
	}
	in, err := a.intents.Dispatch(intent.FeedFetch(a.snapshot.UIState.Cursor))
	if err != nil {
		a.err = err
		return
	}
	a.err = nil
	a.fetching = true
	a.statusMsg = "Loading posts..."
	a.logInfo("feed fetch requested (%s)", in.ID)
}

func (a *App) requestEstimate() {
	text := a.text.Value()
	if strings.TrimSpace(text) == "" {
		a.err = fmt.Errorf("write something before estimating")
		return
	}
	in, err := a.intents.Dispatch(intent.CreatePost(text, a.key.Value()))
	if err != nil {
		a.err = err
		return
	}
	a.err = nil
	a.composeIntentID = in.ID
	a.statusMsg = "Estimating..."
	a.logInfo("create post requested (%s)", in.ID)
}

func (a *App) confirmPublish() {
	in, err := a.intents.Dispatch(intent.PublishEstimated())
	if err != nil {
		a.err = err
		return
	}
	a.err = nil
	a.statusMsg = "Publishing..."
	a.logInfo("publish confirmed (%s)", in.ID)
}

func (a *App) verifyKey() tea.Cmd {
	if a.auth == nil {
		a.err = fmt.Errorf("key verification is not available")
		return nil
	}
	key := a.key.Value()
	if strings.TrimSpace(key) == "" {
		a.err = fmt.Errorf("enter a private key first")
		return nil
	}
	if a.authPending {
		return nil
	}
	a.authPending = true
	a.statusMsg = "Verifying key..."
	auth := a.auth
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
		defer cancel()
		identity, err := auth.Authenticate(ctx, key)
		return authResultMsg{identity: identity.Identity, err: err}
	}
}

func (a *App) flipAutoPublish() {
	if a.toggleAutoPublish == nil {
		return
	}
	next := !a.autoPublish
	if err := a.toggleAutoPublish(next); err != nil {
		a.err = err
		return
	}
	a.autoPublish = next
	a.statusMsg = fmt.Sprintf("Auto publish %s", onOff(next))
}

func (a *App) awaitingConfirm() bool {
	return a.hasDraft && a.draft.RunPhase == orchestrator.PhaseAwaitingConfirm
}

// refreshRuns folds workflow progress into the view: the fetch spinner, the
// compose draft, and the outcome of the last compose run.
func (a *App) refreshRuns() {
	if a.runs == nil {
		return
	}
	a.draft, a.hasDraft = a.runs.ActiveDraft()
	fetching := false
	for _, run := range a.runs.Runs() {
		if run.Workflow == orchestrator.WorkflowFetch && !run.Phase.Terminal() {
			fetching = true
		}
		if run.Workflow != orchestrator.WorkflowCompose || run.IntentID != a.composeIntentID || a.composeIntentID == "" {
			continue
		}
		switch run.Phase {
		case orchestrator.PhaseAwaitingConfirm:
			a.statusMsg = "Estimated. Press enter to publish."
		case orchestrator.PhaseDone:
			a.statusMsg = "Published"
			a.text.Reset()
			a.composeIntentID = ""
		case orchestrator.PhaseFailed:
			a.err = fmt.Errorf("%s", run.Error)
			a.statusMsg = ""
			a.composeIntentID = ""
		case orchestrator.PhaseSuperseded:
			a.composeIntentID = ""
		}
	}
	if a.fetching && !fetching {
		a.statusMsg = ""
	}
	a.fetching = fetching
}

func (a *App) waitForState() tea.Cmd {
	sub := a.sub
	if sub == nil {
		return nil
	}
	return func() tea.Msg {
		state, ok := <-sub.C()
		if !ok {
			return nil
		}
		return stateMsg{state: state}
	}
}

func (a *App) scheduleRunsRefresh() tea.Cmd {
	return tea.Tick(runsRefreshInterval, func(time.Time) tea.Msg { return runsTickMsg{} })
}

func (a *App) clampFeed() {
	if n := len(a.snapshot.Publications); a.feedTop >= n {
		a.feedTop = max(0, n-1)
	}
}

func (a *App) logInfo(format string, args ...any) {
	a.logbook.Info(format, args...)
}

func (a *App) logWarn(format string, args ...any) {
	a.logbook.Warn(format, args...)
}

// View renders the current screen.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ SARAFAN")
	var content string
	switch a.screen {
	case screenCompose:
		content = a.renderCompose(width - 4)
	default:
		content = a.renderFeed(width - 4)
	}
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Width(max(20, width-2)).
		Render(content)
	parts := []string{header, box, a.renderStatus()}
	if panel := a.renderLogPanel(); panel != "" {
		parts = append(parts, panel)
	}
	parts = append(parts, a.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (a *App) renderFeed(width int) string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("FEED · %d posts", len(a.snapshot.Publications)))
	posts := a.snapshot.Publications
	if len(posts) == 0 {
		note := lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Render("No posts yet.")
		return lipgloss.JoinVertical(lipgloss.Left, title, note)
	}
	visible := a.visiblePosts()
	end := min(len(posts), a.feedTop+visible)
	lines := make([]string, 0, end-a.feedTop)
	addr := lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	body := lipgloss.NewStyle().Width(max(20, width))
	for _, post := range posts[a.feedTop:end] {
		lines = append(lines, addr.Render(magnet.Short(post.Magnet))+"\n"+body.Render(post.Content))
	}
	tail := ""
	if a.snapshot.UIState.Ended {
		tail = addr.Render("· end of feed ·")
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n\n"), tail)
}

func (a *App) visiblePosts() int {
	if a.height <= 0 {
		return 10
	}
	return max(1, (a.height-16)/3)
}

func (a *App) renderCompose(width int) string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render("COMPOSE")
	label := lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	lines := []string{title, a.text.View(), label.Render("Key: ") + a.key.View()}
	if a.identity != "" {
		lines = append(lines, label.Render("Identity: "+a.identity))
	}
	if a.hasDraft && a.draft.Phase == orchestrator.DraftEstimated {
		estimate := fmt.Sprintf("Magnet %s · size %d · cost %d", magnet.Short(a.draft.Magnet), a.draft.Size, a.draft.Cost)
		lines = append(lines, lipgloss.NewStyle().Width(max(20, width)).Foreground(lipgloss.Color("#7FD962")).Render(estimate))
	}
	lines = append(lines, label.Render(fmt.Sprintf("Auto publish: %s", onOff(a.autoPublish))))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (a *App) renderStatus() string {
	if a.err != nil {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Render("Error: " + a.err.Error())
	}
	status := a.statusMsg
	if a.fetching || a.authPending || (a.hasDraft && !a.draft.RunPhase.Terminal() && !a.awaitingConfirm()) {
		status = a.spinner.View() + " " + status
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).Render(status)
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, total := a.logbook.Tail(logPanelLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s · %d lines", fileName, total))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func (a *App) renderFooter() string {
	var hints string
	switch a.screen {
	case screenCompose:
		hints = "ctrl+s estimate · enter publish · ctrl+k verify key · ctrl+a auto publish · tab switch field · esc feed"
	default:
		hints = "r next page · c compose · ↑/↓ scroll · q quit"
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		Render(hints)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
