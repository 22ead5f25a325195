package tui

import (
	"github.com/gdamore/tcell/v2"
)

// borgsave color palette
var (
	// Primary accent
	AccentGreen = tcell.NewRGBColor(64, 160, 43) // #40A02B

	// Neutral colors
	Dark  = tcell.NewRGBColor(40, 40, 40)    // #282828
	Light = tcell.NewRGBColor(200, 200, 200) // #C8C8C8

	// Status colors
	ErrorRed = tcell.NewRGBColor(239, 68, 68) // #EF4444
)

// SymbolError prefixes inline form errors.
const SymbolError = "✗"
