package ui

import (
	"fmt"
	"math"

	"github.com/gdamore/tcell/v2"
	"github.com/glebovdev/openspot/internal/config"
	"github.com/glebovdev/openspot/internal/player"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"
)

const volumeBarHeight = 10

func volumePercent(v float64) int {
	return config.ClampVolume(int(math.Round(v * 100)))
}

func (ui *UI) buildVolumeBar(container *tview.Flex, displayVolume int, isMuted bool) {
	filledLines := (displayVolume * volumeBarHeight) / 100
	emptyLines := volumeBarHeight - filledLines

	createText := func(text string, color tcell.Color) *tview.TextView {
		tv := tview.NewTextView()
		tv.SetText(text)
		tv.SetTextAlign(tview.AlignRight)
		tv.SetTextColor(color)
		tv.SetBackgroundColor(ui.colors.background)
		return tv
	}

	barColor := ui.colors.highlight
	if isMuted {
		barColor = ui.colors.mutedVolume
	}

	createBarLine := func(barText string, color tcell.Color, showPercent bool) *tview.Flex {
		line := tview.NewFlex().SetDirection(tview.FlexColumn)
		line.SetBackgroundColor(ui.colors.background)

		if showPercent {
			percentView := createText(fmt.Sprintf("%d%%", displayVolume), barColor)
			if isMuted {
				percentView.SetTextStyle(tcell.StyleDefault.
					Foreground(barColor).
					Background(ui.colors.background).
					Attributes(tcell.AttrStrikeThrough))
			}
			line.AddItem(percentView, 4, 0, false)
		} else {
			line.AddItem(createText("    ", ui.colors.foreground), 4, 0, false)
		}

		line.AddItem(createText(barText, color), 0, 1, false)
		return line
	}

	container.AddItem(createText("   max", ui.colors.foreground), 1, 0, false)
	for i := 0; i < emptyLines; i++ {
		container.AddItem(createBarLine(" ░░", ui.colors.foreground, false), 1, 0, false)
	}
	for i := 0; i < filledLines; i++ {
		container.AddItem(createBarLine(" ██", barColor, i == 0), 1, 0, false)
	}
	container.AddItem(createText("   min", ui.colors.foreground), 1, 0, false)
	container.AddItem(nil, 0, 1, false)
}

func (ui *UI) createGraphicalVolumeBar() *tview.Flex {
	volumeContainer := tview.NewFlex().SetDirection(tview.FlexRow)
	volumeContainer.SetBackgroundColor(ui.colors.background)

	status := ui.player.Status()
	ui.lastVolume = volumePercent(status.Volume)
	ui.lastMuted = status.Muted
	ui.buildVolumeBar(volumeContainer, ui.lastVolume, ui.lastMuted)
	return volumeContainer
}

// updateVolumeDisplay rebuilds the bar only when volume or mute changed.
func (ui *UI) updateVolumeDisplay(status player.Status) {
	if ui.volumeView == nil {
		return
	}
	pct := volumePercent(status.Volume)
	if pct == ui.lastVolume && status.Muted == ui.lastMuted {
		return
	}
	ui.lastVolume = pct
	ui.lastMuted = status.Muted

	ui.volumeView.Clear()
	ui.buildVolumeBar(ui.volumeView, pct, status.Muted)
}

func (ui *UI) adjustVolume(delta int) {
	status := ui.player.Status()
	if status.Muted {
		ui.player.ToggleMute()
		ui.updateVolumeDisplay(ui.player.Status())
		log.Debug().Msgf("Auto-unmuted, restored volume to %d%%", volumePercent(status.Volume))
		return
	}

	pct := config.ClampVolume(volumePercent(status.Volume) + delta)
	ui.player.SetVolume(float64(pct) / 100)
	ui.config.Volume = pct
	ui.updateVolumeDisplay(ui.player.Status())
	ui.SaveConfig()
	log.Debug().Msgf("Volume adjusted to %d%%", pct)
}

func (ui *UI) toggleMute() {
	muted := ui.player.ToggleMute()
	ui.updateVolumeDisplay(ui.player.Status())
	if muted {
		ui.setFlash("Muted")
	}
	log.Debug().Bool("muted", muted).Msg("Mute toggled")
}
