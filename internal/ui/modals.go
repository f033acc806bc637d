package ui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/glebovdev/openspot/internal/config"
	"github.com/rivo/tview"
)

func friendlyErrorMessage(errStr string) string {
	if strings.Contains(errStr, "no such host") {
		return "Unable to connect to server.\nPlease check your internet connection."
	}
	if strings.Contains(errStr, "connection refused") {
		return "Connection refused by server.\nThe service may be temporarily unavailable."
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "Connection timed out.\nPlease check your internet connection."
	}
	if strings.Contains(errStr, "network is unreachable") || strings.Contains(errStr, "network read error") {
		return "Network is unreachable.\nPlease check your internet connection."
	}
	if strings.Contains(errStr, "status 401") {
		return "Track access denied (401)."
	}
	if strings.Contains(errStr, "status 403") {
		return "Track access forbidden (403)."
	}
	if strings.Contains(errStr, "status 404") {
		return "Track not found (404)."
	}
	if strings.Contains(errStr, "status 429") {
		return "Too many requests (429).\nPlease wait a moment and try again."
	}
	if strings.Contains(errStr, "status 5") {
		return "The music service is having trouble.\nPlease try again later."
	}
	if strings.Contains(errStr, "no playable source") {
		return "No playable source for this track."
	}

	if idx := strings.Index(errStr, ": dial"); idx > 0 {
		return errStr[:idx]
	}
	if len(errStr) > 100 {
		return errStr[:100] + "..."
	}
	return errStr
}

func (ui *UI) showError(err error) {
	ui.showPlaybackErrorModal(friendlyErrorMessage(err.Error()))
}

func (ui *UI) dismissModal(name string) {
	ui.pages.RemovePage(name)
	ui.app.SetFocus(ui.trackList)
}

// centered wraps frame in a flex that places it in the middle of the screen.
func (ui *UI) centered(frame tview.Primitive, width, height int) *tview.Flex {
	modal := tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(frame, height, 0, true).
			AddItem(nil, 0, 1, false),
			width, 0, true).
		AddItem(nil, 0, 1, false)
	modal.SetBackgroundColor(ui.colors.background)
	return modal
}

func (ui *UI) showPlaybackErrorModal(message string) {
	doRetry := func() {
		ui.dismissModal("error-modal")
		if ui.queue.Current() != nil {
			ui.playCurrent()
		}
	}

	messageView := tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetDynamicColors(true).
		SetText(fmt.Sprintf("\n[::b]Error[::-]\n\n%s", message))
	messageView.SetTextColor(ui.colors.foreground)
	messageView.SetBackgroundColor(ui.colors.modalBackground)

	hintView := tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetDynamicColors(true).
		SetText("[::d]Press [::b]R[::d] to retry  •  Press [::b]Esc[::d] to dismiss[::-]")
	hintView.SetTextColor(tcell.ColorDarkGray)
	hintView.SetBackgroundColor(ui.colors.modalBackground)

	content := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(messageView, 0, 1, false).
		AddItem(hintView, 1, 0, false).
		AddItem(nil, 1, 0, false)
	content.SetBackgroundColor(ui.colors.modalBackground)

	frame := tview.NewFrame(content).
		SetBorders(0, 0, 1, 1, 1, 1)
	frame.SetBorder(true).
		SetBorderColor(ui.colors.highlight).
		SetBackgroundColor(ui.colors.modalBackground).
		SetTitle(" Error ").
		SetTitleColor(ui.colors.highlight).
		SetTitleAlign(tview.AlignCenter)

	modalHeight := 10
	if lines := strings.Count(message, "\n") + 1; lines > 2 {
		modalHeight += lines - 2
	}
	modalHeight = min(modalHeight, 15)

	modal := ui.centered(frame, 50, modalHeight)
	modal.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape, tcell.KeyEnter:
			ui.dismissModal("error-modal")
			return nil
		case tcell.KeyRune:
			if event.Rune() == 'r' || event.Rune() == 'R' {
				doRetry()
				return nil
			}
		}
		return event
	})

	ui.pages.RemovePage("error-modal")
	ui.pages.AddPage("error-modal", modal, true, true)
	ui.app.SetFocus(modal)
}

func (ui *UI) showHelpModal() {
	k := ui.colors.helpHotkey.String()
	configPath, _ := config.GetConfigPath()

	row := func(keys, desc string) string {
		return fmt.Sprintf("  [%s]%-10s[-] %s\n", k, keys, desc)
	}
	section := func(name string) string {
		return fmt.Sprintf("\n[%s]%s[-]\n", k, name)
	}

	var b strings.Builder
	b.WriteString("[::b]KEYBOARD SHORTCUTS[::-]\n")
	b.WriteString(section("PLAYBACK"))
	b.WriteString(row("Enter", "Play selected track"))
	b.WriteString(row("Space", "Pause / Resume"))
	b.WriteString(row("n / p", "Next / previous track"))
	b.WriteString(row("← / →", "Seek back / forward"))
	b.WriteString(row("s", "Toggle shuffle"))
	b.WriteString(row("r", "Cycle repeat mode"))
	b.WriteString(section("VOLUME"))
	b.WriteString(row("+ / -", "Volume up / down"))
	b.WriteString(row("m", "Mute / Unmute"))
	b.WriteString(section("TRACKS"))
	b.WriteString(row("/", "Search"))
	b.WriteString(row("L", "Load more results"))
	b.WriteString(row("h", "High quality only"))
	b.WriteString(row("a", "Add to queue"))
	b.WriteString(row("d", "Remove from queue"))
	b.WriteString(row("l", "Like / Unlike"))
	b.WriteString(row("1 2 3", "Results, queue, liked"))
	b.WriteString(section("APPLICATION"))
	b.WriteString(row("?", "Show this help"))
	b.WriteString(row("i", "About "+config.AppName))
	b.WriteString(row("q / Esc", "Quit"))
	fmt.Fprintf(&b, "\n[%s]CONFIG[-]: %s", k, configPath)

	ui.showInfoModal("Help", b.String())
}

func (ui *UI) showAboutModal() {
	linkColor := "skyblue"
	dimColor := "gray"

	aboutText := fmt.Sprintf(`[::b]%s[::-]
[%s]%s[-]

Version: %s
Project: [%s:::%s]%s[-:::-]
License: MIT

───────────────────────────────────────────

[%s]%s[-]`,
		config.AppName,
		dimColor, config.AppTagline,
		config.AppVersion,
		linkColor, config.AppProjectURL, strings.TrimPrefix(config.AppProjectURL, "https://"),
		dimColor, config.AppDescription)

	ui.showInfoModal("About", aboutText)
}

func (ui *UI) showInfoModal(title, message string) {
	messageView := tview.NewTextView().
		SetTextAlign(tview.AlignLeft).
		SetDynamicColors(true).
		SetWordWrap(true).
		SetText("\n" + message)
	messageView.SetTextColor(ui.colors.foreground)
	messageView.SetBackgroundColor(ui.colors.modalBackground)

	hintView := tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetDynamicColors(true).
		SetText("[::d]Press any key to close[::-]")
	hintView.SetTextColor(tcell.ColorDarkGray)
	hintView.SetBackgroundColor(ui.colors.modalBackground)

	content := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(messageView, 0, 1, false).
		AddItem(nil, 2, 0, false).
		AddItem(hintView, 1, 0, false).
		AddItem(nil, 1, 0, false)
	content.SetBackgroundColor(ui.colors.modalBackground)

	frame := tview.NewFrame(content).
		SetBorders(1, 0, 1, 1, 2, 2)
	frame.SetBorder(true).
		SetBorderColor(ui.colors.borders).
		SetBackgroundColor(ui.colors.modalBackground).
		SetTitle(" " + title + " ").
		SetTitleColor(ui.colors.highlight).
		SetTitleAlign(tview.AlignCenter)

	lines := strings.Count(message, "\n") + 1
	modalHeight := min(lines+10, 38)

	modal := ui.centered(frame, 50, modalHeight)
	modal.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		ui.dismissModal("modal")
		return nil
	})

	ui.pages.RemovePage("modal")
	ui.pages.AddPage("modal", modal, true, true)
	ui.app.SetFocus(modal)
}
