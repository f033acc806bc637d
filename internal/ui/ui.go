package ui

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/glebovdev/openspot/internal/config"
	"github.com/glebovdev/openspot/internal/library"
	"github.com/glebovdev/openspot/internal/player"
	"github.com/glebovdev/openspot/internal/playqueue"
	"github.com/glebovdev/openspot/internal/storage"
	"github.com/glebovdev/openspot/internal/track"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"
)

const (
	VolumeStep         = 5
	SeekStep           = 10 * time.Second
	HeaderHeight       = 3
	FooterHeightWide   = 3 // Wide: 1 row with padding (top + text + bottom)
	FooterHeightNarrow = 6 // Narrow: 2 rows × 3 lines each
	PlayerPanelHeight  = 9
	FooterBreakpoint   = 130 // Width threshold for responsive footer
	RefreshInterval    = 100 * time.Millisecond
	FlashDuration      = 3 * time.Second
	SearchTimeout      = 30 * time.Second
)

// PauseIcon uses platform-specific character (Windows renders ⏸ as emoji)
var PauseIcon = func() string {
	if runtime.GOOS == "windows" {
		return "❚❚"
	}
	return "⏸"
}()

// Player is the playback engine the UI drives.
type Player interface {
	Load(ctx context.Context, t *track.Track) error
	Stop()
	TogglePause()
	Seek(d time.Duration) error
	SetVolume(v float64)
	ToggleMute() bool
	Status() player.Status
	Session() player.SessionState
	OnTrackEnd(fn func(*track.Track))
}

// SessionStore persists what the player was doing between runs.
type SessionStore interface {
	SaveSession(state player.SessionState) error
	SaveQueue(q storage.SavedQueue) error
	LoadQueue() (storage.SavedQueue, error)
}

type UI struct {
	app       *tview.Application
	player    Player
	library   *library.Library
	queue     *playqueue.Queue
	sessions  SessionStore
	config    *config.Config
	ctx       context.Context
	cancel    context.CancelFunc
	view      View
	rows      []track.Track
	liked     []track.Track
	searching bool
	hqOnly    bool

	searchInput    *tview.InputField
	trackList      *tview.Table
	nowPlayingView *tview.TextView
	progressView   *tview.TextView
	volumeView     *tview.Flex
	helpPanel      *tview.Box
	contentLayout  *tview.Flex
	mainLayout     *tview.Flex
	pages          *tview.Pages

	lastFooterWidth int // Track width to detect layout changes
	lastVolume      int
	lastMuted       bool
	flash           string
	flashUntil      time.Time
	stopUpdates     chan struct{}
	stopOnce        sync.Once
	mu              sync.Mutex
	animationFrame  int
	playingSpinner  *PlayingSpinner
	statusRenderer  *StatusRenderer
	colors          struct {
		background       tcell.Color
		foreground       tcell.Color
		borders          tcell.Color
		highlight        tcell.Color
		headerBackground tcell.Color
		listHeaderBg     tcell.Color
		listHeaderFg     tcell.Color
		helpBackground   tcell.Color
		helpForeground   tcell.Color
		helpHotkey       tcell.Color
		qualityBadge     tcell.Color
		modalBackground  tcell.Color
		mutedVolume      tcell.Color
	}
}

// NewUI wires the UI to a player, library and (optional) session store.
func NewUI(cfg *config.Config, p Player, lib *library.Library, q *playqueue.Queue, sessions SessionStore) *UI {
	ctx, cancel := context.WithCancel(context.Background())

	ui := &UI{
		app:         tview.NewApplication(),
		player:      p,
		library:     lib,
		queue:       q,
		sessions:    sessions,
		config:      cfg,
		ctx:         ctx,
		cancel:      cancel,
		view:        ViewResults,
		stopUpdates: make(chan struct{}),
		lastVolume:  -1,
	}

	ui.colors.background = config.GetColor(cfg.Theme.Background)
	ui.colors.foreground = config.GetColor(cfg.Theme.Foreground)
	ui.colors.borders = config.GetColor(cfg.Theme.Borders)
	ui.colors.highlight = config.GetColor(cfg.Theme.Highlight)
	ui.colors.headerBackground = config.GetColor(cfg.Theme.HeaderBackground)
	ui.colors.listHeaderBg = config.GetColor(cfg.Theme.ListHeaderBg)
	ui.colors.listHeaderFg = config.GetColor(cfg.Theme.ListHeaderFg)
	ui.colors.helpBackground = config.GetColor(cfg.Theme.HelpBackground)
	ui.colors.helpForeground = config.GetColor(cfg.Theme.HelpForeground)
	ui.colors.helpHotkey = config.GetColor(cfg.Theme.HelpHotkey)
	ui.colors.qualityBadge = config.GetColor(cfg.Theme.QualityBadge)
	ui.colors.modalBackground = config.GetColor(cfg.Theme.ModalBackground)
	ui.colors.mutedVolume = config.GetColor(cfg.Theme.MutedVolume)

	p.SetVolume(float64(config.ClampVolume(cfg.Volume)) / 100)

	ui.statusRenderer = NewStatusRenderer(p)
	ui.statusRenderer.SetPrimaryColor(ui.colors.highlight.String())

	p.OnTrackEnd(func(t *track.Track) {
		log.Debug().Str("track", t.DisplayName()).Msg("Track finished")
		ui.app.QueueUpdateDraw(func() {
			ui.playNext(true)
		})
	})

	return ui
}

func (ui *UI) SaveConfig() {
	if err := ui.config.Save(); err != nil {
		log.Error().Err(err).Msg("Failed to save config")
	}
}

func (ui *UI) saveSession() {
	if ui.sessions == nil {
		return
	}
	if err := ui.sessions.SaveSession(ui.player.Session()); err != nil {
		log.Error().Err(err).Msg("Failed to save player session")
	}

	saved := storage.SavedQueue{Current: ui.queue.CurrentIndex()}
	for _, t := range ui.queue.Tracks() {
		saved.Tracks = append(saved.Tracks, *t)
	}
	if err := ui.sessions.SaveQueue(saved); err != nil {
		log.Error().Err(err).Msg("Failed to save play queue")
	}
}

func (ui *UI) restoreQueue() {
	if ui.sessions == nil {
		return
	}
	saved, err := ui.sessions.LoadQueue()
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Msg("Failed to load saved queue")
		}
		return
	}
	tracks := make([]*track.Track, len(saved.Tracks))
	for i := range saved.Tracks {
		tracks[i] = &saved.Tracks[i]
	}
	ui.queue.SetTracks(tracks, saved.Current)
	log.Debug().Int("tracks", len(tracks)).Msg("Restored play queue")
}

func (ui *UI) stop() {
	ui.stopOnce.Do(func() {
		ui.saveSession()
		ui.SaveConfig()
		ui.cancel()
		ui.player.Stop()
		close(ui.stopUpdates)
		ui.app.Stop()
	})
}

// Shutdown stops the UI gracefully from external callers (e.g., signal handlers).
func (ui *UI) Shutdown() {
	ui.app.QueueUpdateDraw(func() {
		ui.stop()
	})
}

func (ui *UI) Run() error {
	ui.restoreQueue()
	ui.setupUI()
	ui.configureScreen()

	if ui.queue.Len() > 0 {
		ui.setView(ViewQueue)
	}
	ui.startRefreshLoop()

	ui.app.SetRoot(ui.pages, true).EnableMouse(true)
	ui.app.SetFocus(ui.searchInput)
	return ui.app.Run()
}

func (ui *UI) configureScreen() {
	bgStyle := tcell.StyleDefault.Background(ui.colors.background)
	ui.app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		screen.SetStyle(bgStyle)
		screen.Clear()
		return false
	})

	var titleSet sync.Once
	ui.app.SetAfterDrawFunc(func(screen tcell.Screen) {
		titleSet.Do(func() { screen.SetTitle(config.AppName) })
	})
}

func (ui *UI) setupUI() {
	header := ui.createHeader()
	ui.searchInput = ui.createSearchInput()
	playerPanel := ui.createPlayerPanel()
	ui.trackList = ui.createTrackTable()
	ui.helpPanel = ui.createFooter()

	ui.contentLayout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, HeaderHeight, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(playerPanel, PlayerPanelHeight, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(ui.searchInput, 1, 0, true).
		AddItem(nil, 1, 0, false).
		AddItem(ui.trackList, 0, 1, false).
		AddItem(ui.helpPanel, FooterHeightWide, 0, false)
	ui.contentLayout.SetBackgroundColor(ui.colors.background)

	wrapper := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(nil, 3, 0, false).
		AddItem(ui.contentLayout, 0, 1, true).
		AddItem(nil, 3, 0, false)
	wrapper.SetBackgroundColor(ui.colors.background)

	ui.mainLayout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 1, 0, false).
		AddItem(wrapper, 0, 1, true).
		AddItem(nil, 1, 0, false)
	ui.mainLayout.SetBackgroundColor(ui.colors.background)

	ui.pages = tview.NewPages().
		AddPage("main", ui.mainLayout, true, true)
	ui.pages.SetBackgroundColor(ui.colors.background)

	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if ui.pages.HasPage("modal") || ui.pages.HasPage("error-modal") {
			return event
		}
		if ui.app.GetFocus() == ui.searchInput {
			return ui.searchInputHandler(event)
		}
		return ui.globalInputHandler(event)
	})
}

func (ui *UI) createHeader() tview.Primitive {
	titleView := tview.NewTextView()
	titleView.SetText(" " + config.AppName + "  " + config.AppTagline)
	titleView.SetTextAlign(tview.AlignLeft)
	titleView.SetTextColor(ui.colors.foreground)
	titleView.SetBackgroundColor(ui.colors.headerBackground)

	versionView := tview.NewTextView()
	versionView.SetText("v" + config.AppVersion + " ")
	versionView.SetTextAlign(tview.AlignRight)
	versionView.SetTextColor(ui.colors.foreground)
	versionView.SetBackgroundColor(ui.colors.headerBackground)

	textFlex := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(titleView, 0, 1, false).
		AddItem(versionView, 10, 0, false)
	textFlex.SetBackgroundColor(ui.colors.headerBackground)

	textWithPadding := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(tview.NewBox().SetBackgroundColor(ui.colors.headerBackground), 1, 0, false).
		AddItem(textFlex, 0, 1, false).
		AddItem(tview.NewBox().SetBackgroundColor(ui.colors.headerBackground), 1, 0, false)
	textWithPadding.SetBackgroundColor(ui.colors.headerBackground)

	headerFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(tview.NewBox().SetBackgroundColor(ui.colors.headerBackground), 1, 0, false).
		AddItem(textWithPadding, 1, 0, false).
		AddItem(tview.NewBox().SetBackgroundColor(ui.colors.headerBackground), 1, 0, false)
	headerFlex.SetBackgroundColor(ui.colors.headerBackground)

	return headerFlex
}

func (ui *UI) createSearchInput() *tview.InputField {
	input := tview.NewInputField().
		SetLabel(" Search: ").
		SetPlaceholder("artist, album or track, then Enter")
	input.SetLabelColor(ui.colors.highlight).
		SetFieldBackgroundColor(ui.colors.listHeaderBg).
		SetFieldTextColor(ui.colors.foreground).
		SetPlaceholderTextColor(ui.colors.helpForeground).
		SetBackgroundColor(ui.colors.background)
	return input
}

func (ui *UI) createPlayerPanel() *tview.Flex {
	ui.nowPlayingView = tview.NewTextView()
	ui.nowPlayingView.SetDynamicColors(true)
	ui.nowPlayingView.SetWrap(false)
	ui.nowPlayingView.SetTextColor(ui.colors.foreground)
	ui.nowPlayingView.SetBackgroundColor(ui.colors.background)

	ui.progressView = tview.NewTextView()
	ui.progressView.SetDynamicColors(true)
	ui.progressView.SetWrap(false)
	ui.progressView.SetTextColor(ui.colors.foreground)
	ui.progressView.SetBackgroundColor(ui.colors.background)

	info := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(ui.nowPlayingView, 0, 1, false).
		AddItem(ui.progressView, 2, 0, false)
	info.SetBackgroundColor(ui.colors.background)

	ui.volumeView = ui.createGraphicalVolumeBar()

	panel := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(nil, 2, 0, false).
		AddItem(info, 0, 1, false).
		AddItem(ui.volumeView, 7, 0, false).
		AddItem(nil, 2, 0, false)
	panel.SetBackgroundColor(ui.colors.background)
	panel.SetBorder(true).
		SetBorderColor(ui.colors.borders).
		SetTitle(" Now Playing ").
		SetTitleColor(ui.colors.foreground)

	return panel
}

func (ui *UI) renderNowPlaying(status player.Status) string {
	hl := ui.colors.highlight.String()
	if status.Track == nil {
		return fmt.Sprintf("\n [%s]Nothing playing[-]\n Search with [%s]/[-] and press [%s]Enter[-] on a track", hl, hl, hl)
	}

	t := status.Track
	badge := ""
	if b := t.QualityBadge(); b != "" {
		badge = fmt.Sprintf(" [%s::b]%s[-::-]", ui.colors.qualityBadge.String(), b)
	}
	album := t.AlbumTitle
	if album == "" {
		album = "N/A"
	}

	mode := fmt.Sprintf("shuffle %s  repeat %s", onOff(ui.queue.Shuffled()), ui.queue.Repeat())
	position := ""
	if idx := ui.queue.CurrentIndex(); idx >= 0 {
		position = fmt.Sprintf("  track %d/%d", idx+1, ui.queue.Len())
	}

	return fmt.Sprintf(" [%s::b]%s[-::-]%s\n %s\n [::d]%s[::-]\n\n [::d]%s%s[::-]",
		hl, t.Title, badge, t.Artist, album, mode, position)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

type PlayingSpinner struct {
	Frames []string
	FPS    time.Duration
}

func NewPlayingSpinner() *PlayingSpinner {
	return &PlayingSpinner{
		Frames: []string{"⣾ ", "⣽ ", "⣻ ", "⢿ ", "⡿ ", "⣟ ", "⣯ ", "⣷ "},
		FPS:    time.Second / 10,
	}
}

func (ui *UI) getPlayingIndicator() string {
	if ui.playingSpinner == nil {
		ui.playingSpinner = NewPlayingSpinner()
	}

	ui.mu.Lock()
	frame := ui.animationFrame
	ui.mu.Unlock()
	return ui.playingSpinner.Frames[frame%len(ui.playingSpinner.Frames)]
}

// startRefreshLoop redraws playback state until the UI stops.
func (ui *UI) startRefreshLoop() {
	go func() {
		ticker := time.NewTicker(RefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ui.stopUpdates:
				return
			case <-ticker.C:
				ui.mu.Lock()
				ui.animationFrame++
				ui.mu.Unlock()

				ui.statusRenderer.AdvanceAnimation()

				ui.app.QueueUpdateDraw(func() {
					ui.refreshPlayerPanel()
				})
			}
		}
	}()
}

func (ui *UI) refreshPlayerPanel() {
	status := ui.player.Status()
	ui.nowPlayingView.SetText(ui.renderNowPlaying(status))
	ui.progressView.SetText(" " + renderProgress(status, ui.colors.highlight.String()))
	ui.updateVolumeDisplay(status)
	ui.updatePlayingIndicator()
}

func (ui *UI) setFlash(msg string) {
	ui.mu.Lock()
	ui.flash = msg
	ui.flashUntil = time.Now().Add(FlashDuration)
	ui.mu.Unlock()
}

func (ui *UI) currentFlash() string {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	if time.Now().After(ui.flashUntil) {
		return ""
	}
	return ui.flash
}

// playCurrent loads the queue's current track in the background.
func (ui *UI) playCurrent() {
	t := ui.queue.Current()
	if t == nil {
		ui.player.Stop()
		return
	}
	ui.refreshTrackTable()

	go func() {
		log.Info().Msgf("Starting playback: %s", t.DisplayName())
		err := ui.player.Load(ui.ctx, t)
		if err == nil || errors.Is(err, player.ErrSuperseded) || errors.Is(err, context.Canceled) {
			return
		}
		log.Error().Err(err).Msg("Failed to play track")
		ui.app.QueueUpdateDraw(func() {
			ui.showError(err)
		})
	}()
}

func (ui *UI) playNext(auto bool) {
	if ui.queue.Next() == nil {
		if auto {
			log.Debug().Msg("Reached end of queue")
			ui.player.Stop()
		}
		ui.refreshTrackTable()
		return
	}
	ui.playCurrent()
}

func (ui *UI) playPrevious() {
	if ui.queue.Previous() == nil {
		return
	}
	ui.playCurrent()
}

func (ui *UI) seekBy(delta time.Duration) {
	status := ui.player.Status()
	target := status.Position + delta
	if target < 0 {
		target = 0
	}
	if status.Duration > 0 && target > status.Duration {
		target = status.Duration
	}
	if err := ui.player.Seek(target); err != nil {
		if errors.Is(err, player.ErrSeekUnavailable) {
			ui.setFlash("Seeking is available once the track has loaded")
		}
		log.Debug().Err(err).Msg("Seek rejected")
	}
}

func (ui *UI) toggleShuffle() {
	on := ui.queue.ToggleShuffle()
	ui.setFlash("Shuffle " + onOff(on))
	ui.refreshTrackTable()
}

func (ui *UI) toggleRepeat() {
	mode := ui.queue.ToggleRepeat()
	ui.setFlash("Repeat " + mode.String())
}

func (ui *UI) runSearch(query string) {
	ui.mu.Lock()
	if ui.searching {
		ui.mu.Unlock()
		return
	}
	ui.searching = true
	ui.mu.Unlock()

	ui.setFlash("Searching…")
	go func() {
		ctx, cancel := context.WithTimeout(ui.ctx, SearchTimeout)
		defer cancel()

		results, err := ui.library.Search(ctx, query)

		ui.mu.Lock()
		ui.searching = false
		ui.mu.Unlock()

		ui.app.QueueUpdateDraw(func() {
			if err != nil {
				log.Error().Err(err).Str("query", query).Msg("Search failed")
				ui.showError(err)
				return
			}
			if len(results) == 0 {
				ui.setFlash("No results")
			} else {
				ui.setFlash(fmt.Sprintf("%d results", len(results)))
			}
			ui.setView(ViewResults)
			ui.selectPlaying()
			ui.app.SetFocus(ui.trackList)
		})
	}()
}

func (ui *UI) loadMore() {
	if ui.view != ViewResults || !ui.library.HasMore() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(ui.ctx, SearchTimeout)
		defer cancel()

		added, err := ui.library.LoadMore(ctx)
		ui.app.QueueUpdateDraw(func() {
			if err != nil {
				if !errors.Is(err, library.ErrNoMoreResults) {
					ui.showError(err)
				}
				return
			}
			ui.setFlash(fmt.Sprintf("Loaded %d more", len(added)))
			ui.refreshTrackTable()
		})
	}()
}

func (ui *UI) searchInputHandler(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyEnter:
		if query := ui.searchInput.GetText(); query != "" {
			ui.runSearch(query)
		}
		return nil
	case tcell.KeyEscape, tcell.KeyTab, tcell.KeyDown:
		ui.app.SetFocus(ui.trackList)
		return nil
	}
	return event
}

func (ui *UI) globalInputHandler(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			ui.stop()
			return nil
		case '/':
			ui.app.SetFocus(ui.searchInput)
			return nil
		case ' ':
			if ui.player.Status().Track != nil {
				ui.player.TogglePause()
				ui.updatePlayingIndicator()
			} else {
				ui.activateSelection()
			}
			return nil
		case 'n', '>':
			ui.playNext(false)
			return nil
		case 'p', '<':
			ui.playPrevious()
			return nil
		case 's', 'S':
			ui.toggleShuffle()
			return nil
		case 'r', 'R':
			ui.toggleRepeat()
			return nil
		case 'l':
			ui.toggleLikeSelected()
			return nil
		case 'a', 'A':
			ui.enqueueSelected()
			return nil
		case 'd', 'D':
			ui.removeSelected()
			return nil
		case 'L':
			ui.loadMore()
			return nil
		case 'h', 'H':
			ui.toggleHighQuality()
			return nil
		case '1':
			ui.setView(ViewResults)
			return nil
		case '2':
			ui.setView(ViewQueue)
			return nil
		case '3':
			ui.setView(ViewLiked)
			return nil
		case '+', '=':
			ui.adjustVolume(VolumeStep)
			return nil
		case '-', '_':
			ui.adjustVolume(-VolumeStep)
			return nil
		case 'm', 'M':
			ui.toggleMute()
			return nil
		case '?':
			ui.showHelpModal()
			return nil
		case 'i', 'I':
			ui.showAboutModal()
			return nil
		}
	case tcell.KeyEnter:
		ui.activateSelection()
		return nil
	case tcell.KeyTab:
		ui.setView(ui.view.next())
		return nil
	case tcell.KeyDelete:
		ui.removeSelected()
		return nil
	case tcell.KeyEscape:
		ui.stop()
		return nil
	case tcell.KeyRight:
		ui.seekBy(SeekStep)
		return nil
	case tcell.KeyLeft:
		ui.seekBy(-SeekStep)
		return nil
	}
	return event
}
