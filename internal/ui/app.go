package ui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/waitwiki/internal/model"
	"github.com/abelbrown/waitwiki/internal/otel"
)

// DefaultRetryDelay is how long the empty state waits before asking again.
const DefaultRetryDelay = 3 * time.Second

// CardSource is the part of the engine the TUI needs.
type CardSource interface {
	RequestCard(forceNew bool) (model.Item, bool)
}

// RequestCmd adapts src into the command factory App expects. The engine
// call never blocks on the network, but it still runs off the UI goroutine.
func RequestCmd(src CardSource) func(forceNew bool) tea.Cmd {
	return func(forceNew bool) tea.Cmd {
		return func() tea.Msg {
			item, ok := src.RequestCard(forceNew)
			return CardLoaded{Item: item, OK: ok}
		}
	}
}

// ObsConfig wires observability into the App.
type ObsConfig struct {
	Ring   *otel.RingBuffer
	Logger *otel.Logger
}

// AppConfig configures an App.
type AppConfig struct {
	RequestCard func(forceNew bool) tea.Cmd
	RetryDelay  time.Duration
	Obs         ObsConfig
}

// App is the root Bubble Tea model.
// App does not hold the engine. It receives cards via messages.
type App struct {
	requestCard func(forceNew bool) tea.Cmd
	retryDelay  time.Duration
	ring        *otel.RingBuffer
	logger      *otel.Logger

	item         model.Item
	hasItem      bool
	shown        int
	loading      bool
	empty        bool
	spinner      spinner.Model
	width        int
	height       int
	ready        bool
	debugVisible bool
}

// NewApp creates an App that loads cards through requestCard.
func NewApp(requestCard func(forceNew bool) tea.Cmd) App {
	return NewAppWithConfig(AppConfig{RequestCard: requestCard})
}

// NewAppWithConfig creates an App from cfg.
func NewAppWithConfig(cfg AppConfig) App {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle
	return App{
		requestCard: cfg.RequestCard,
		retryDelay:  cfg.RetryDelay,
		ring:        cfg.Obs.Ring,
		logger:      cfg.Obs.Logger,
		spinner:     s,
	}
}

// Init asks for the current card.
func (a App) Init() tea.Cmd {
	if a.requestCard == nil {
		return nil
	}
	return tea.Batch(a.spinner.Tick, a.requestCard(false))
}

// Update handles messages and returns the updated model and any commands.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.ready = true
		return a, nil

	case CardLoaded:
		a.loading = false
		if !msg.OK {
			a.empty = true
			return a, tea.Tick(a.retryDelay, func(time.Time) tea.Msg { return RetryTick{} })
		}
		if !a.hasItem || msg.Item != a.item {
			a.shown++
		}
		a.item = msg.Item
		a.hasItem = true
		a.empty = false
		return a, nil

	case RetryTick:
		if a.hasItem || a.loading {
			return a, nil
		}
		return a.load(false)

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	return a, nil
}

func (a App) load(forceNew bool) (tea.Model, tea.Cmd) {
	if a.requestCard == nil || a.loading {
		return a, nil
	}
	a.loading = true
	return a, a.requestCard(forceNew)
}

// handleKeyMsg processes keyboard input.
func (a App) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	a.logger.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindKeyPress, Comp: "ui", Msg: key})

	switch key {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "d", "?":
		a.debugVisible = !a.debugVisible
		return a, nil

	case "n", "enter", " ":
		return a.load(true)
	}

	return a, nil
}

// View renders the UI.
func (a App) View() string {
	if !a.ready {
		return "Loading..."
	}

	if a.debugVisible {
		return debugOverlay(a.ring, a.width, a.height-1) + "\n" + debugStatusBar(a.width)
	}

	contentHeight := a.height - 1
	var content string
	switch {
	case a.hasItem:
		content = RenderCard(a.item, a.width, contentHeight)
	case a.loading:
		content = lipgloss.Place(a.width, contentHeight, lipgloss.Center, lipgloss.Center,
			a.spinner.View()+" Fetching a card...")
	case a.empty:
		content = lipgloss.Place(a.width, contentHeight, lipgloss.Center, lipgloss.Center,
			HelpStyle.Render("Nothing cached yet. Sources are being refilled, retrying shortly."))
	default:
		content = lipgloss.Place(a.width, contentHeight, lipgloss.Center, lipgloss.Center,
			HelpStyle.Render("Press n for a card."))
	}

	status := ""
	if a.loading {
		status = a.spinner.View() + " Loading..."
	}
	return content + "\n" + RenderStatusBar(a.shown, a.width, status)
}

// Item returns the displayed card (for testing).
func (a App) Item() (model.Item, bool) {
	return a.item, a.hasItem
}

// Shown returns how many distinct cards were displayed (for testing).
func (a App) Shown() int {
	return a.shown
}
