package panel

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/lumen/internal/command"
	"github.com/muurk/lumen/internal/discovery"
	"github.com/muurk/lumen/internal/protocol"
	"github.com/muurk/lumen/internal/registry"
)

// Backend is what the panel drives. controller.Controller implements it.
type Backend interface {
	DiscoverAndPopulate(ctx context.Context) error
	Registry() *registry.Registry
	Apply(index int, job command.Job, done func(error)) error
}

// Messages for async operations
type scanDoneMsg struct{ err error }

type resultMsg struct {
	device string
	job    command.Job
	err    error
}

// deviceItem wraps a registry entry for use with bubbles/list
type deviceItem struct {
	index  int
	device discovery.Device
}

func (d deviceItem) FilterValue() string { return d.device.DisplayName() }
func (d deviceItem) Title() string       { return d.device.DisplayName() }

func (d deviceItem) Description() string {
	desc := fmt.Sprintf("%s • %s", d.device.ID, d.device.HostPort())
	if d.device.LabelErr != nil {
		desc += " • label unavailable"
	}
	return desc
}

// Model is the control panel state
type Model struct {
	backend    Backend
	ctx        context.Context
	transition time.Duration

	Devices  list.Model
	Sliders  []Slider
	Focus    int
	PowerOn  bool
	Scanning bool

	// Pending counts submitted commands whose outcome has not arrived.
	Pending int
	Status  string
	Failed  bool
	Err     error

	Width   int
	Height  int
	Spinner spinner.Model
	Bar     progress.Model
	Help    help.Model
	Keys    keyMap

	results chan resultMsg
}

// Option configures New.
type Option func(*Model)

// WithTransition sets the fade duration of applied colors.
func WithTransition(d time.Duration) Option {
	return func(m *Model) { m.transition = d }
}

// New creates the panel. Discovery starts in Init; ctx bounds it and every
// result delivery.
func New(ctx context.Context, b Backend, opts ...Option) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	delegate := list.NewDefaultDelegate()
	devices := list.New(nil, delegate, 0, 0)
	devices.Title = "Lights"
	devices.SetShowStatusBar(false)
	devices.SetFilteringEnabled(false)
	devices.SetShowHelp(false)
	devices.Styles.Title = TitleStyle

	m := Model{
		backend:  b,
		ctx:      ctx,
		Devices:  devices,
		Sliders:  newSliders(),
		PowerOn:  true,
		Scanning: true,
		Spinner:  s,
		Bar:      progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage(), progress.WithWidth(30)),
		Help:     help.New(),
		Keys:     newKeyMap(),
		results:  make(chan resultMsg, 16),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Init starts discovery
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.scan(), m.Spinner.Tick, m.waitForResult())
}

func (m Model) scan() tea.Cmd {
	b, ctx := m.backend, m.ctx
	return func() tea.Msg {
		return scanDoneMsg{err: b.DiscoverAndPopulate(ctx)}
	}
}

func (m Model) waitForResult() tea.Cmd {
	ch, ctx := m.results, m.ctx
	return func() tea.Msg {
		select {
		case r := <-ch:
			return r
		case <-ctx.Done():
			return nil
		}
	}
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Devices.SetSize(msg.Width/2-2, msg.Height-8)
		return m, nil

	case tea.KeyMsg:
		return m.updateKeys(msg)

	case scanDoneMsg:
		m.Scanning = false
		m.Err = msg.err
		changed := m.refreshDevices()
		switch {
		case msg.err != nil:
			m.setStatus("Scan failed: "+msg.err.Error(), true)
		case len(m.Devices.Items()) == 0:
			m.setStatus("No lights found", true)
		case !changed:
			m.setStatus(fmt.Sprintf("Found %d lights, unchanged", len(m.Devices.Items())), false)
		default:
			m.setStatus(fmt.Sprintf("Found %d lights", len(m.Devices.Items())), false)
		}
		return m, nil

	case resultMsg:
		if m.Pending > 0 {
			m.Pending--
		}
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("%s: %v", msg.device, msg.err), true)
		} else {
			m.setStatus(fmt.Sprintf("%s: %s", msg.device, msg.job), false)
		}
		return m, m.waitForResult()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.Keys.Quit) {
		return m, tea.Quit
	}
	if m.Scanning {
		return m, nil
	}

	s := &m.Sliders[m.Focus]
	switch {
	case key.Matches(msg, m.Keys.NextField):
		m.Focus = (m.Focus + 1) % len(m.Sliders)
	case key.Matches(msg, m.Keys.PrevField):
		m.Focus = (m.Focus + len(m.Sliders) - 1) % len(m.Sliders)
	case key.Matches(msg, m.Keys.IncBig):
		s.Adjust(s.BigStep)
	case key.Matches(msg, m.Keys.DecBig):
		s.Adjust(-s.BigStep)
	case key.Matches(msg, m.Keys.Increase):
		s.Adjust(s.Step)
	case key.Matches(msg, m.Keys.Decrease):
		s.Adjust(-s.Step)
	case key.Matches(msg, m.Keys.Power):
		m.PowerOn = !m.PowerOn
	case key.Matches(msg, m.Keys.Apply):
		m.apply()
	case key.Matches(msg, m.Keys.Rescan):
		m.Scanning = true
		m.Err = nil
		m.setStatus("", false)
		return m, tea.Batch(m.scan(), m.Spinner.Tick)
	default:
		var cmd tea.Cmd
		m.Devices, cmd = m.Devices.Update(msg)
		return m, cmd
	}
	return m, nil
}

// apply snapshots the working state into a job and submits it. It never
// waits for the network.
func (m *Model) apply() {
	item, ok := m.Devices.SelectedItem().(deviceItem)
	if !ok {
		m.setStatus("No light selected", true)
		return
	}
	job := command.NewJob(m.PowerOn, m.Color(), m.transition)
	name := item.device.DisplayName()
	ch, ctx := m.results, m.ctx

	err := m.backend.Apply(item.index, job, func(err error) {
		select {
		case ch <- resultMsg{device: name, job: job, err: err}:
		case <-ctx.Done():
		}
	})
	if err != nil {
		m.setStatus(fmt.Sprintf("%s: %v", name, err), true)
		return
	}
	m.Pending++
	m.setStatus(fmt.Sprintf("Sending to %s…", name), false)
}

// Color returns the working color.
func (m Model) Color() protocol.HSBK {
	return colorOf(m.Sliders)
}

func (m *Model) setStatus(s string, failed bool) {
	m.Status = s
	m.Failed = failed
}

// refreshDevices reloads the list from the registry and reports whether
// it changed. An unchanged list is left alone, selection included.
func (m *Model) refreshDevices() bool {
	devices := m.backend.Registry().Devices()
	shown := make([]discovery.Device, 0, len(m.Devices.Items()))
	for _, it := range m.Devices.Items() {
		if d, ok := it.(deviceItem); ok {
			shown = append(shown, d.device)
		}
	}
	if registry.SameDevices(shown, devices) {
		return false
	}

	items := make([]list.Item, len(devices))
	for i, d := range devices {
		items[i] = deviceItem{index: i, device: d}
	}
	selected := m.Devices.Index()
	m.Devices.SetItems(items)
	if selected < len(items) {
		m.Devices.Select(selected)
	}
	return true
}

// Run starts the panel full screen and blocks until the user quits.
func Run(ctx context.Context, b Backend, opts ...Option) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p := tea.NewProgram(New(ctx, b, opts...), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
