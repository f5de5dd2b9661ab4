package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/scienceol/barista/internal/protocol"
)

// ANSI color/style codes
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	cyan   = "\033[36m"
	green  = "\033[32m"
	yellow = "\033[33m"
	red    = "\033[31m"
	white  = "\033[97m"
	gray   = "\033[90m"
)

// isTTY returns true if stderr is a terminal.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// s wraps text with ANSI codes only when stderr is a TTY.
func s(codes, text string) string {
	if !isTTY() {
		return text
	}
	return codes + text + reset
}

// Banner prints the startup banner.
//
//	 barista v0.1.0
func Banner(version string) {
	fmt.Fprintf(os.Stderr, "\n  %s %s\n", s(bold+cyan, "barista"), s(dim, "v"+version))
}

// UpdateNotice prints a boxed update notice.
//
//	 ┌ Update available: 0.1.0 → 0.2.0
//	 └ https://github.com/ClementTsang/Barista/releases/tag/v0.2.0
func UpdateNotice(current, latest, releaseURL string) {
	fmt.Fprintf(os.Stderr, "\n  %s %s %s %s %s\n",
		s(yellow, "┌"),
		s(dim, "Update available:"),
		s(dim, current),
		s(yellow, "→"),
		s(bold+green, latest),
	)
	fmt.Fprintf(os.Stderr, "  %s %s\n",
		s(yellow, "└"),
		s(dim, releaseURL),
	)
}

// KeyValue prints a labeled line:  ▸ label  value
func KeyValue(label, value string) {
	fmt.Fprintf(os.Stderr, "  %s %-11s %s\n", s(cyan, "▸"), s(dim, label), s(white, value))
}

// Info prints an info line:  ● message
func Info(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	fmt.Fprintf(os.Stderr, "  %s %s\n", s(cyan, "●"), msg)
}

// Success prints a success line:  ✔ message
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	fmt.Fprintf(os.Stderr, "  %s %s\n", s(green, "✔"), msg)
}

// Warn prints a warning line:  ▲ message
func Warn(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	fmt.Fprintf(os.Stderr, "  %s %s\n", s(yellow, "▲"), msg)
}

// Error prints an error line:  ✖ message
func Error(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	fmt.Fprintf(os.Stderr, "  %s %s\n", s(red, "✖"), msg)
}

// Separator prints a dim horizontal line.
func Separator() {
	fmt.Fprintf(os.Stderr, "  %s\n", s(dim, strings.Repeat("─", 48)))
}

// StatusLine describes the supervisor the way the menu shows it, e.g.
// "Barista is running (PID: 4242)".
func StatusLine(st protocol.StatusPayload) string {
	if st.Failed {
		return "Barista failed to start: " + strings.TrimPrefix(st.Error, "failed to start: ")
	}
	if st.Active {
		return fmt.Sprintf("Barista is %s (PID: %d)", st.Phase, st.PID)
	}
	return "Barista is off"
}

// Status prints StatusLine with a marker colored by phase.
func Status(st protocol.StatusPayload) {
	marker := s(gray, "○")
	switch {
	case st.Failed:
		marker = s(red, "✖")
	case st.Phase == "running":
		marker = s(green, "●")
	case st.Active:
		marker = s(yellow, "◐")
	}
	fmt.Fprintf(os.Stderr, "  %s %s\n", marker, StatusLine(st))
	if !st.Failed && st.Error != "" {
		fmt.Fprintf(os.Stderr, "    %s\n", s(dim, st.Error))
	}
}
