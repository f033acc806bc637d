package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/glebovdev/openspot/internal/player"
	"github.com/glebovdev/openspot/internal/track"
	"github.com/rivo/tview"
)

const progressBarWidth = 40

// StatusSource provides playback snapshots.
type StatusSource interface {
	Status() player.Status
}

type StatusRenderer struct {
	source        StatusSource
	animFrame     int
	maxAnimFrame  int
	tickCount     int
	ticksPerFrame int

	primaryColor string
}

func NewStatusRenderer(source StatusSource) *StatusRenderer {
	return &StatusRenderer{
		source:        source,
		maxAnimFrame:  4,
		ticksPerFrame: 4, // Slow down animation (4 ticks per frame)
	}
}

func (s *StatusRenderer) SetPrimaryColor(color string) {
	s.primaryColor = color
}

func (s *StatusRenderer) AdvanceAnimation() {
	s.tickCount++
	if s.tickCount >= s.ticksPerFrame {
		s.tickCount = 0
		s.animFrame = (s.animFrame + 1) % s.maxAnimFrame
	}
}

func (s *StatusRenderer) Render() string {
	if s.source == nil {
		return s.renderIdle(player.Status{})
	}

	status := s.source.Status()

	switch status.State {
	case player.StateLoading:
		return s.renderLoading(status)
	case player.StateBuffering:
		return s.renderBuffering(status)
	case player.StatePlaying:
		return s.renderPlaying(status)
	case player.StatePaused:
		return s.renderPaused(status)
	case player.StateError:
		return s.renderError(status)
	default:
		return s.renderIdle(status)
	}
}

func (s *StatusRenderer) renderIdle(status player.Status) string {
	if status.Muted {
		return "○ IDLE │ [red]MUTED[-] │ Search for a track"
	}
	return "○ IDLE │ Search for a track"
}

func (s *StatusRenderer) renderLoading(status player.Status) string {
	circles := []string{"◐", "◓", "◑", "◒"}
	return fmt.Sprintf("%s LOADING", circles[s.animFrame])
}

func (s *StatusRenderer) renderBuffering(status player.Status) string {
	circles := []string{"◐", "◓", "◑", "◒"}
	return joinParts([]string{
		fmt.Sprintf("%s BUFFERING", circles[s.animFrame]),
		formatDownload(status),
	})
}

func (s *StatusRenderer) renderPlaying(status player.Status) string {
	dots := []string{"●", "◉", "○", "◉"}
	dot := dots[s.animFrame]

	if s.primaryColor != "" {
		dot = fmt.Sprintf("[%s]%s[-]", s.primaryColor, dot)
	}

	parts := []string{dot + " PLAYING"}
	if status.Muted {
		parts = append(parts, "[red]MUTED[-]")
	}
	parts = append(parts, sourceLabel(status), formatDownload(status))

	return joinParts(parts)
}

func (s *StatusRenderer) renderPaused(status player.Status) string {
	parts := []string{PauseIcon + " PAUSED"}
	if status.Muted {
		parts = append(parts, "[red]MUTED[-]")
	}
	parts = append(parts, sourceLabel(status))
	return joinParts(parts)
}

func (s *StatusRenderer) renderError(status player.Status) string {
	errMsg := status.LastError
	if errMsg == "" {
		errMsg = "ERROR"
	}
	return fmt.Sprintf("✗ %s", errMsg)
}

// sourceLabel names where audio is coming from.
func sourceLabel(status player.Status) string {
	switch status.Source {
	case player.SourceChunk:
		return "PREVIEW"
	case player.SourceFull:
		return "FULL"
	case player.SourceRemote:
		return "STREAM"
	default:
		return ""
	}
}

// formatDownload renders full-file download progress as signal bars.
func formatDownload(status player.Status) string {
	if status.FullReady {
		return "▁▂▃▅▇"
	}

	signalBars := []string{"▁", "▂", "▃", "▅", "▇"}
	const numBars = 5

	filled := (status.DownloadProgress * numBars) / 100
	if filled > numBars {
		filled = numBars
	}

	var b strings.Builder
	for i := 0; i < numBars; i++ {
		if i < filled {
			b.WriteString(signalBars[i])
		} else {
			b.WriteString("▁")
		}
	}
	return fmt.Sprintf("%s %d%%", b.String(), status.DownloadProgress)
}

func joinParts(parts []string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " │ ")
}

// renderProgress draws "m:ss ━━━━──── m:ss" with a marker at the download level.
func renderProgress(status player.Status, color string) string {
	if status.Track == nil {
		return ""
	}

	pos, dur := status.Position, status.Duration
	filled := 0
	if dur > 0 {
		filled = int(int64(pos) * progressBarWidth / int64(dur))
	}
	filled = max(0, min(filled, progressBarWidth))

	bar := strings.Repeat("━", filled) + strings.Repeat("─", progressBarWidth-filled)
	if color != "" {
		bar = fmt.Sprintf("[%s]%s[-]%s", color, bar[:len("━")*filled], bar[len("━")*filled:])
	}

	seekHint := ""
	if !status.CanSeek {
		seekHint = "  [::d]seek unavailable[::-]"
	}

	return fmt.Sprintf("%s %s %s%s",
		formatClock(pos), bar, formatClock(dur), seekHint)
}

func formatClock(d time.Duration) string {
	return track.FormatDuration(int(d / time.Second))
}

func (ui *UI) getPlaybackHint(keyColor string) string {
	switch ui.player.Status().State {
	case player.StatePaused:
		return fmt.Sprintf("[%s]Enter[-] play  [%s]Space[-] resume", keyColor, keyColor)
	case player.StatePlaying, player.StateBuffering, player.StateLoading:
		return fmt.Sprintf("[%s]Enter[-] play  [%s]Space[-] pause", keyColor, keyColor)
	default:
		return fmt.Sprintf("[%s]Enter[-] play", keyColor)
	}
}

func (ui *UI) getHelpText() string {
	keyColor := ui.colors.helpHotkey.String()
	playbackHint := ui.getPlaybackHint(keyColor)

	muteText := "mute"
	if ui.player.Status().Muted {
		muteText = "unmute"
	}

	return fmt.Sprintf(" %s  [%s]/[-] search  [%s]n/p[-] next/prev  [%s]+/-[-] vol  [%s]m[-] %s  [%s]?[-] help  [%s]q[-] quit ",
		playbackHint, keyColor, keyColor, keyColor, keyColor, muteText, keyColor, keyColor)
}

func (ui *UI) footerStatusText() string {
	status := ui.statusRenderer.Render()
	if flash := ui.currentFlash(); flash != "" {
		status = joinParts([]string{flash, status})
	}
	return " " + status + " "
}

func (ui *UI) handleFooterResize(width int) {
	isWide := width >= FooterBreakpoint
	wasWide := ui.lastFooterWidth >= FooterBreakpoint

	if ui.lastFooterWidth > 0 && isWide != wasWide && ui.contentLayout != nil {
		newHeight := FooterHeightWide
		if !isWide {
			newHeight = FooterHeightNarrow
		}
		ui.contentLayout.ResizeItem(ui.helpPanel, newHeight, 0)
	}
	ui.lastFooterWidth = width
}

func (ui *UI) fillRect(screen tcell.Screen, x, y, width, height int, bg tcell.Color) {
	style := tcell.StyleDefault.Background(bg)
	for row := y; row < y+height; row++ {
		for col := x; col < x+width; col++ {
			screen.SetContent(col, row, ' ', nil, style)
		}
	}
}

func (ui *UI) drawWideFooter(screen tcell.Screen, x, y, width, height int, helpText, statusText string) {
	helpWidth := width / 2
	statusWidth := width - helpWidth

	ui.fillRect(screen, x, y, helpWidth, height, ui.colors.helpBackground)
	ui.fillRect(screen, x+helpWidth, y, statusWidth, height, ui.colors.background)

	centerY := y + height/2
	tview.Print(screen, helpText, x, centerY, helpWidth, tview.AlignCenter, ui.colors.helpForeground)
	tview.Print(screen, statusText, x+helpWidth, centerY, statusWidth-2, tview.AlignRight, ui.colors.foreground)
}

func (ui *UI) drawNarrowFooter(screen tcell.Screen, x, y, width, height int, helpText, statusText string) {
	helpHeight := max(height/2, 1)
	statusHeight := height - helpHeight
	helpBoxEnd := y + helpHeight

	ui.fillRect(screen, x, y, width, helpHeight, ui.colors.helpBackground)
	ui.fillRect(screen, x, helpBoxEnd, width, statusHeight, ui.colors.background)

	tview.Print(screen, helpText, x, y+helpHeight/2, width, tview.AlignCenter, ui.colors.helpForeground)

	if statusHeight > 0 {
		tview.Print(screen, statusText, x, helpBoxEnd+statusHeight/2, width-2, tview.AlignRight, ui.colors.foreground)
	}
}

func (ui *UI) createFooter() *tview.Box {
	box := tview.NewBox().SetBackgroundColor(ui.colors.background)

	box.SetDrawFunc(func(screen tcell.Screen, x, y, width, height int) (int, int, int, int) {
		ui.handleFooterResize(width)

		helpText := ui.getHelpText()
		statusText := ui.footerStatusText()

		isWide := width >= FooterBreakpoint
		if isWide {
			usedHeight := min(height, FooterHeightWide)
			ui.drawWideFooter(screen, x, y, width, usedHeight, helpText, statusText)
		} else {
			ui.drawNarrowFooter(screen, x, y, width, height, helpText, statusText)
		}

		return x, y, width, height
	})

	return box
}
