// Package cliui renders wsrelay CLI output: lipgloss styles, the connect
// spinner, and the per-turn outcome line shown by "wsrelay chat".
package cliui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/papercomputeco/wsrelay/pkg/llm"
)

var (
	SuccessMark = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Render("✓")
	FailMark    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")

	KeyStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	ValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	DimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	ErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	PromptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))

	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	elapsedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

const spinnerTick = 80 * time.Millisecond

// Step runs fn behind a spinner labelled msg, then rewrites the line with a
// mark and the elapsed time. fn's error is returned unchanged.
func Step(w io.Writer, msg string, fn func() error) error {
	var (
		mu   sync.Mutex
		done = make(chan struct{})
		wg   sync.WaitGroup
	)
	draw := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "\r  %s", line)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(spinnerTick)
		defer ticker.Stop()
		for frame := 0; ; frame++ {
			draw(spinnerStyle.Render(spinnerFrames[frame%len(spinnerFrames)]) + " " + msg)
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()

	start := time.Now()
	err := fn()
	close(done)
	wg.Wait()

	draw(fmt.Sprintf("%s %s %s\n", Mark(err), msg, elapsedStyle.Render("("+FormatDuration(time.Since(start))+")")))
	return err
}

// Mark returns ✓ for a nil error and ✗ otherwise.
func Mark(err error) string {
	if err != nil {
		return FailMark
	}
	return SuccessMark
}

// FormatDuration prints sub-second durations in ms and longer ones in
// tenths of a second.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// Field prints an indented "Label: value" line.
func Field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", KeyStyle.Render(label+":"), ValueStyle.Render(value))
}

// Outcome describes how a relay turn finished. ok is false when the reply
// should not join the conversation history. note is empty for a clean stop.
func Outcome(reason string) (note string, ok bool) {
	switch reason {
	case llm.FinishStop:
		return "", true
	case llm.FinishLength:
		return DimStyle.Render("(truncated at the token limit)"), true
	case llm.FinishTimeout:
		return failed(reason, "upstream stalled"), false
	case llm.FinishError:
		return failed(reason, "upstream request failed"), false
	default:
		return failed(reason, ""), false
	}
}

func failed(reason, detail string) string {
	msg := "relay finished with " + reason
	if detail != "" {
		msg += " (" + detail + ")"
	}
	return FailMark + " " + ErrorStyle.Render(msg)
}
