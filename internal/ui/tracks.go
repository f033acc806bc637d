package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/glebovdev/openspot/internal/player"
	"github.com/glebovdev/openspot/internal/track"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"
)

// View selects what the track table lists.
type View int

const (
	ViewResults View = iota
	ViewQueue
	ViewLiked
)

func (v View) String() string {
	switch v {
	case ViewResults:
		return "Results"
	case ViewQueue:
		return "Queue"
	case ViewLiked:
		return "Liked"
	default:
		return "Unknown"
	}
}

func (v View) next() View {
	return (v + 1) % 3
}

func (ui *UI) createTrackTable() *tview.Table {
	table := tview.NewTable().
		SetBorders(false).
		SetSeparator(' ').
		SetSelectable(true, false).
		SetFixed(1, 0)

	table.SetBorder(true).
		SetBorderColor(ui.colors.borders).
		SetTitleColor(ui.colors.foreground).
		SetBackgroundColor(ui.colors.background).
		SetBorderPadding(1, 0, 1, 1)

	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(ui.colors.background).
		Background(ui.colors.highlight))

	headers := []struct {
		text   string
		expand int
		right  bool
	}{
		{" ", 0, false},
		{" ", 0, false},
		{"Title", 2, false},
		{"Artist", 1, false},
		{"Album", 1, false},
		{"Quality", 0, false},
		{"Time", 0, true},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetTextColor(ui.colors.listHeaderFg).
			SetBackgroundColor(ui.colors.listHeaderBg).
			SetSelectable(false)
		if h.right {
			cell.SetAlign(tview.AlignRight)
		}
		if h.expand > 0 {
			cell.SetExpansion(h.expand)
		}
		table.SetCell(0, col, cell)
	}

	return table
}

// setView switches the table to v and reloads its rows.
func (ui *UI) setView(v View) {
	ui.view = v
	if v == ViewLiked {
		liked, err := ui.library.LikedTracks()
		if err != nil {
			log.Error().Err(err).Msg("Failed to load liked songs")
			ui.showError(err)
			liked = nil
		}
		ui.liked = liked
	}
	ui.refreshTrackTable()
	ui.trackList.Select(1, 0)
	ui.trackList.ScrollToBeginning()
}

// rowsFor returns the tracks the given view lists.
func (ui *UI) rowsFor(v View) []track.Track {
	switch v {
	case ViewQueue:
		queued := ui.queue.Tracks()
		rows := make([]track.Track, len(queued))
		for i, t := range queued {
			rows[i] = *t
		}
		return rows
	case ViewLiked:
		return ui.liked
	default:
		if ui.hqOnly {
			return ui.library.HighQualityResults()
		}
		return ui.library.Results()
	}
}

func (ui *UI) refreshTrackTable() {
	ui.rows = ui.rowsFor(ui.view)

	for row := ui.trackList.GetRowCount() - 1; row > 0; row-- {
		ui.trackList.RemoveRow(row)
	}
	for i := range ui.rows {
		ui.setTrackRow(i+1, i)
	}

	title := fmt.Sprintf(" %s (%d) ", ui.view, len(ui.rows))
	if ui.view == ViewResults {
		if q := ui.library.Query(); q != "" {
			title = fmt.Sprintf(" Results for %q (%d) ", q, len(ui.rows))
		}
		if ui.hqOnly {
			title = fmt.Sprintf(" HQ results for %q (%d of %d) ", ui.library.Query(), len(ui.rows), ui.library.ResultCount())
		}
		if ui.library.HasMore() {
			title += "[L] more "
		}
	}
	ui.trackList.SetTitle(title)
}

// isCurrentRow reports whether the row at index is the track in the player.
func (ui *UI) isCurrentRow(index int, status player.Status) bool {
	if status.Track == nil || index < 0 || index >= len(ui.rows) {
		return false
	}
	if ui.view == ViewQueue {
		return index == ui.queue.CurrentIndex()
	}
	return ui.rows[index].ID == status.Track.ID
}

func (ui *UI) setTrackRow(row int, index int) {
	t := ui.rows[index]

	likeIcon := " "
	if ui.library.IsLiked(&t) {
		likeIcon = "♥"
	}
	ui.trackList.SetCell(row, 0, tview.NewTableCell(likeIcon).
		SetTextColor(ui.colors.highlight).
		SetMaxWidth(2))

	ui.trackList.SetCell(row, 1, tview.NewTableCell(ui.playIcon(index, ui.player.Status())).
		SetTextColor(ui.colors.foreground).
		SetMaxWidth(2))

	ui.trackList.SetCell(row, 2, tview.NewTableCell(t.Title).
		SetTextColor(ui.colors.foreground).
		SetMaxWidth(40).
		SetExpansion(2))

	ui.trackList.SetCell(row, 3, tview.NewTableCell(t.Artist).
		SetTextColor(ui.colors.foreground).
		SetMaxWidth(28).
		SetExpansion(1))

	ui.trackList.SetCell(row, 4, tview.NewTableCell(t.AlbumTitle).
		SetTextColor(ui.colors.foreground).
		SetMaxWidth(28).
		SetExpansion(1))

	ui.trackList.SetCell(row, 5, tview.NewTableCell(t.QualityBadge()).
		SetTextColor(ui.colors.qualityBadge))

	ui.trackList.SetCell(row, 6, tview.NewTableCell(track.FormatDuration(t.Duration)).
		SetTextColor(ui.colors.foreground).
		SetAlign(tview.AlignRight))
}

func (ui *UI) playIcon(index int, status player.Status) string {
	if !ui.isCurrentRow(index, status) {
		return " "
	}
	switch status.State {
	case player.StatePaused:
		return PauseIcon
	case player.StateLoading, player.StateBuffering:
		return ui.getPlayingIndicator()
	case player.StatePlaying:
		return "➤"
	default:
		return " "
	}
}

func (ui *UI) updatePlayingIndicator() {
	status := ui.player.Status()
	for i := range ui.rows {
		if cell := ui.trackList.GetCell(i+1, 1); cell != nil {
			cell.SetText(ui.playIcon(i, status))
		}
	}
}

// selectedIndex returns the index into ui.rows of the selected row, or -1.
func (ui *UI) selectedIndex() int {
	row, _ := ui.trackList.GetSelection()
	if row <= 0 || row > len(ui.rows) {
		return -1
	}
	return row - 1
}

// activateSelection plays the selected row. Results and liked songs replace
// the queue; in the queue view the selection becomes the current track.
func (ui *UI) activateSelection() {
	index := ui.selectedIndex()
	if index < 0 {
		return
	}

	if ui.view == ViewQueue {
		if err := ui.queue.SetCurrentIndex(index); err != nil {
			log.Debug().Err(err).Int("index", index).Msg("Invalid queue index")
			return
		}
		ui.playCurrent()
		return
	}

	tracks := make([]*track.Track, len(ui.rows))
	for i := range ui.rows {
		t := ui.rows[i]
		tracks[i] = &t
	}
	ui.queue.SetTracks(tracks, index)
	ui.playCurrent()
}

// selectPlaying moves the selection to the playing track if the results list it.
func (ui *UI) selectPlaying() {
	cur := ui.player.Status().Track
	if cur == nil || ui.view != ViewResults || ui.hqOnly {
		return
	}
	if i := ui.library.FindIndexByID(cur.ID); i >= 0 {
		ui.trackList.Select(i+1, 0)
	}
}

func (ui *UI) toggleHighQuality() {
	ui.hqOnly = !ui.hqOnly
	ui.setFlash("High quality only " + onOff(ui.hqOnly))
	if ui.view == ViewResults {
		ui.refreshTrackTable()
		ui.trackList.Select(1, 0)
	}
}

func (ui *UI) enqueueSelected() {
	index := ui.selectedIndex()
	if index < 0 || ui.view == ViewQueue {
		return
	}
	row := ui.rows[index]
	t := &row
	if ui.view == ViewResults && !ui.hqOnly {
		if r := ui.library.Result(index); r != nil {
			t = r
		}
	}
	ui.queue.Add(t)
	ui.setFlash("Added to queue: " + t.DisplayName())
}

func (ui *UI) removeSelected() {
	index := ui.selectedIndex()
	if index < 0 || ui.view != ViewQueue {
		return
	}

	wasCurrent := index == ui.queue.CurrentIndex()
	if err := ui.queue.RemoveAt(index); err != nil {
		log.Debug().Err(err).Int("index", index).Msg("Failed to remove from queue")
		return
	}
	if wasCurrent {
		if ui.queue.Len() == 0 {
			ui.player.Stop()
		} else if ui.player.Status().Track != nil {
			ui.playCurrent()
		}
	}
	ui.refreshTrackTable()
}

func (ui *UI) toggleLikeSelected() {
	var t *track.Track
	if index := ui.selectedIndex(); index >= 0 {
		row := ui.rows[index]
		t = &row
	} else {
		t = ui.player.Status().Track
	}
	if t == nil {
		return
	}

	liked, err := ui.library.ToggleLike(t)
	if err != nil {
		log.Error().Err(err).Msg("Failed to update liked songs")
		ui.showError(err)
		return
	}
	if liked {
		ui.setFlash("Liked " + t.DisplayName())
	} else {
		ui.setFlash("Removed " + t.DisplayName() + " from liked songs")
	}

	if ui.view == ViewLiked {
		ui.setView(ViewLiked)
		return
	}
	ui.refreshTrackTable()
}
