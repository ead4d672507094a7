package cuebridge

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// GetTTY opens and initializes the terminal screen
func GetTTY() (tcell.Screen, error) {
	defStyle := tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorPink)

	s, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("could not get new screen: %w", err)
	}

	if err := s.Init(); err != nil {
		return nil, fmt.Errorf("could not initialize screen: %w", err)
	}
	s.SetStyle(defStyle)
	s.Clear()

	return s, nil
}

// WriteBar shows a long bar for the amount entered
// x1 = starting X axis (from left), x2 = ending X axis (from left)
// y1 = starting Y axis (from top), y2 = ending Y axis (from top)
func WriteBar(s tcell.Screen, x1, y1, x2, y2 int, style tcell.Style) {
	for row := y1; row < y2; row++ {
		for col := x1; col < x2; col++ {
			s.SetContent(col, row, ' ', nil, style)
		}
	}
}

// fit cuts a string to n runes
func fit(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
