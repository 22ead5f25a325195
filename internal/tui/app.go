// Package tui provides the terminal UI building blocks for the setup wizard.
package tui

import (
	"context"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// App wraps tview.Application with the borgsave theme applied.
type App struct {
	*tview.Application
}

// NewApp creates a themed TUI application.
func NewApp() *App {
	app := &App{
		Application: tview.NewApplication(),
	}
	app.EnableMouse(true)

	tview.Styles.PrimitiveBackgroundColor = tcell.ColorBlack
	tview.Styles.ContrastBackgroundColor = tcell.ColorBlack
	tview.Styles.MoreContrastBackgroundColor = tcell.ColorDarkSlateGray
	tview.Styles.BorderColor = AccentGreen
	tview.Styles.TitleColor = AccentGreen
	tview.Styles.GraphicsColor = AccentGreen
	tview.Styles.PrimaryTextColor = tcell.ColorWhite
	tview.Styles.SecondaryTextColor = tcell.ColorLightGray
	tview.Styles.TertiaryTextColor = tcell.ColorGray
	tview.Styles.InverseTextColor = tcell.ColorBlack
	tview.Styles.ContrastSecondaryTextColor = tcell.ColorWhite

	bindAbortContext(app)
	return app
}

var (
	abortContextMu sync.RWMutex
	abortContext   context.Context
)

// SetAbortContext registers a process-wide context that stops any running
// TUI app when canceled (e.g. Ctrl+C), so the wizard does not need its own
// signal handling.
func SetAbortContext(ctx context.Context) {
	abortContextMu.Lock()
	abortContext = ctx
	abortContextMu.Unlock()
}

func getAbortContext() context.Context {
	abortContextMu.RLock()
	ctx := abortContext
	abortContextMu.RUnlock()
	return ctx
}

func bindAbortContext(app *App) {
	ctx := getAbortContext()
	if ctx == nil {
		return
	}
	go func() {
		<-ctx.Done()
		app.Stop()
	}()
}
