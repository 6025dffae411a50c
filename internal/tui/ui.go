// Package tui is a small tview dashboard over a pool's diagnostic event
// stream, adapted from the teacher's internal/tui functional-options
// shape (Option, New(opts...), a single scrolling table).
package tui

import (
	"fmt"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lattice-run/procio/internal/diag"
)

// Option configures a UI at construction time.
type Option func(*UI)

// WithTitle overrides the frame's header text.
func WithTitle(title string) Option {
	return func(u *UI) { u.title = title }
}

// UI renders diagnostic events as a live-scrolling table.
type UI struct {
	app   *tview.Application
	table *tview.Table
	title string

	mu   sync.Mutex
	rows int
}

// New constructs a UI. Call Consume to start feeding it events and Run to
// block until the user quits (q or Esc).
func New(opts ...Option) *UI {
	u := &UI{app: tview.NewApplication(), table: tview.NewTable(), title: "procio"}
	for _, opt := range opts {
		opt(u)
	}

	for col, header := range []string{"TIME", "PID", "PROC", "LEVEL", "MESSAGE"} {
		u.table.SetCell(0, col, tview.NewTableCell(header).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false))
	}
	u.table.SetFixed(1, 0)

	frame := tview.NewFrame(u.table).SetBorders(0, 0, 0, 0, 1, 1)
	frame.AddText(u.title, true, tview.AlignCenter, tcell.ColorWhite)
	frame.AddText("q or Esc to quit", false, tview.AlignCenter, tcell.ColorGray)

	u.app.SetRoot(frame, true)
	u.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyEscape || ev.Rune() == 'q' {
			u.app.Stop()
			return nil
		}
		return ev
	})
	return u
}

// Consume starts a goroutine that appends every event from events to the
// table until the channel closes.
func (u *UI) Consume(events <-chan diag.Event) {
	go func() {
		for evt := range events {
			u.appendRow(evt)
		}
	}()
}

func (u *UI) appendRow(evt diag.Event) {
	u.mu.Lock()
	u.rows++
	row := u.rows
	u.mu.Unlock()

	color := tcell.ColorWhite
	switch evt.Level {
	case diag.LevelWarn:
		color = tcell.ColorYellow
	case diag.LevelError:
		color = tcell.ColorRed
	}
	msg := evt.Message
	if evt.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, evt.Err)
	}

	u.app.QueueUpdateDraw(func() {
		u.table.SetCell(row, 0, tview.NewTableCell(evt.Timestamp.Format("15:04:05.000")))
		u.table.SetCell(row, 1, tview.NewTableCell(fmt.Sprintf("%d", evt.PID)))
		u.table.SetCell(row, 2, tview.NewTableCell(fmt.Sprintf("%d", evt.Processor)))
		u.table.SetCell(row, 3, tview.NewTableCell(string(evt.Level)).SetTextColor(color))
		u.table.SetCell(row, 4, tview.NewTableCell(msg))
		u.table.ScrollToEnd()
	})
}

// Run blocks until the user quits.
func (u *UI) Run() error { return u.app.Run() }

// Stop ends the UI loop from outside, e.g. on a signal.
func (u *UI) Stop() { u.app.Stop() }
