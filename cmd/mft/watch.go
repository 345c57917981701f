package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/subcommands"
	psutil "github.com/shirou/gopsutil/v3/cpu"
	psmem "github.com/shirou/gopsutil/v3/mem"

	"mft/internal/logevent"
	"mft/internal/watcher"
)

type watchCmd struct{}

func (*watchCmd) Name() string     { return "watch" }
func (*watchCmd) Synopsis() string { return "live pane of attached devices and their classification" }
func (*watchCmd) Usage() string    { return "Usage: watch\n" }
func (*watchCmd) SetFlags(f *flag.FlagSet) {}

var (
	watchHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#2563EB")).
				Padding(0, 1)

	watchStatusStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#9CA3AF")).
				Padding(0, 1)

	watchCopyNoticeStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#10B981")).
				Padding(0, 1)

	watchSelectedItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#2563EB")).
				Bold(true)
)

// deviceItem satisfies list.Item for one currently classified device.
type deviceItem struct {
	key  watcher.DeviceKey
	kind watcher.Kind
}

func (i deviceItem) Title() string {
	return fmt.Sprintf("%s  (vid=%s pid=%s)", i.kind, i.key.VID, i.key.PID)
}
func (i deviceItem) Description() string { return "port " + i.key.Port }
func (i deviceItem) FilterValue() string { return string(i.kind) }

type watchResourceMsg string

type watchEventMsg struct {
	line string
	ok   bool
}

type watchCopyDoneMsg struct{ ok bool }

type watchModel struct {
	ctx      context.Context
	w        *watcher.Watcher
	events   <-chan watcher.Event
	devices  list.Model
	current  map[watcher.DeviceKey]watcher.Kind
	resource string
	log      []string
	copyNote string
	width    int
	height   int
}

func newWatchModel(ctx context.Context, w *watcher.Watcher) watchModel {
	l := list.New(nil, list.NewDefaultDelegate(), 40, 12)
	l.Title = "attached devices"
	l.SetShowHelp(false)
	return watchModel{
		ctx:     ctx,
		w:       w,
		events:  w.Events(),
		devices: l,
		current: w.Snapshot(),
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), m.tickResource(), m.refreshList())
}

func (m watchModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
			return watchEventMsg{ok: false}
		case ev, ok := <-m.events:
			if !ok {
				return watchEventMsg{ok: false}
			}
			verb := "arrived"
			if ev.Kind == watcher.EventRemove {
				verb = "removed"
			}
			return watchEventMsg{
				line: fmt.Sprintf("%s  %-12s %s", time.Now().Format("15:04:05"), ev.Device, verb+" @ "+ev.Key.Port),
				ok:   true,
			}
		}
	}
}

func (m watchModel) tickResource() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		cpuPercent, _ := psutil.Percent(0, false)
		memInfo, _ := psmem.VirtualMemory()
		var cpu float64
		if len(cpuPercent) > 0 {
			cpu = cpuPercent[0]
		}
		return watchResourceMsg(fmt.Sprintf("cpu %.1f%%  mem %.1f%%", cpu, memInfo.UsedPercent))
	})
}

func (m watchModel) refreshList() tea.Cmd {
	return func() tea.Msg {
		return nil
	}
}

func (m watchModel) rebuildItems() []list.Item {
	items := make([]list.Item, 0, len(m.current))
	for k, v := range m.current {
		items = append(items, deviceItem{key: k, kind: v})
	}
	return items
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.devices.SetSize(msg.Width-2, msg.Height-10)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.w.Stop()
			return m, tea.Quit
		case "c":
			if sel, ok := m.devices.SelectedItem().(deviceItem); ok {
				port := sel.key.Port
				return m, func() tea.Msg {
					err := clipboard.WriteAll(port)
					return watchCopyDoneMsg{ok: err == nil}
				}
			}
			return m, nil
		}

	case watchEventMsg:
		if !msg.ok {
			m.w.Stop()
			return m, tea.Quit
		}
		m.log = append(m.log, msg.line)
		if len(m.log) > 200 {
			m.log = m.log[len(m.log)-200:]
		}
		m.current = m.w.Snapshot()
		m.devices.SetItems(m.rebuildItems())
		return m, m.waitForEvent()

	case watchResourceMsg:
		m.resource = string(msg)
		return m, m.tickResource()

	case watchCopyDoneMsg:
		if msg.ok {
			m.copyNote = "copied port path to clipboard"
		} else {
			m.copyNote = "clipboard unavailable"
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.devices, cmd = m.devices.Update(msg)
	return m, cmd
}

func (m watchModel) View() string {
	header := watchHeaderStyle.Render("mft watch — live device pane")
	status := watchStatusStyle.Render(m.resource)

	tail := m.log
	if len(tail) > 8 {
		tail = tail[len(tail)-8:]
	}
	var eventLines string
	for _, l := range tail {
		eventLines += l + "\n"
	}

	note := ""
	if m.copyNote != "" {
		note = watchCopyNoticeStyle.Render(m.copyNote)
	}

	help := watchStatusStyle.Render("↑/↓ select · c copy port · q quit")

	return fmt.Sprintf(
		"%s\n%s\n\n%s\n\nrecent events:\n%s\n%s\n%s\n",
		header, status, m.devices.View(), eventLines, note, help,
	)
}

func (c *watchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	log := logFromContext(ctx)
	if log != nil {
		log.Infof(logevent.CategoryOrchestrator, "watch: starting device pane")
	}

	w := watcher.New(log)
	w.Start(ctx)
	defer w.Stop()

	p := tea.NewProgram(newWatchModel(ctx, w), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		fmt.Println("watch: " + err.Error())
		return subcommands.ExitFailure
	}
	if ctx.Err() != nil {
		return exitCancelled
	}
	return exitOK
}
