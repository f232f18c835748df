// Package playlist implements the Playlist Controller: it bridges the
// host's "play these items" / playstate / general-command requests onto a
// single Device Session, owns the playlist cursor, pipelines gapless
// playback via QueueNext, and drives photo slideshow timing.
//
// Grounded on server/sonos_cast/api.go's castTrack flow (library lookup ->
// stream URL build -> DIDL metadata -> PlayURI), generalized from "one
// Subsonic track" to an arbitrary playlist per SPEC_FULL.md §4.4.
package playlist

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/dlnacast/engine/core/devicesession"
	"github.com/dlnacast/engine/core/external"
	"github.com/dlnacast/engine/log"
	"github.com/dlnacast/engine/model"
)

// PlayCommandKind is the Play-request command of SPEC_FULL.md §4.4.
type PlayCommandKind string

const (
	PlayNow        PlayCommandKind = "PlayNow"
	PlayNext       PlayCommandKind = "PlayNext"
	PlayLast       PlayCommandKind = "PlayLast"
	PlayInstantMix PlayCommandKind = "PlayInstantMix"
	PlayShuffle    PlayCommandKind = "PlayShuffle"
)

// PlaystateCommandKind is a transport-level playstate request.
type PlaystateCommandKind string

const (
	PlaystateStop          PlaystateCommandKind = "Stop"
	PlaystatePause         PlaystateCommandKind = "Pause"
	PlaystateUnpause       PlaystateCommandKind = "Unpause"
	PlaystatePlayPause     PlaystateCommandKind = "PlayPause"
	PlaystateSeek          PlaystateCommandKind = "Seek"
	PlaystateNextTrack     PlaystateCommandKind = "NextTrack"
	PlaystatePreviousTrack PlaystateCommandKind = "PreviousTrack"
)

// GeneralCommandKind is a volume/mute/stream-index command.
type GeneralCommandKind string

const (
	GeneralVolumeUp              GeneralCommandKind = "VolumeUp"
	GeneralVolumeDown            GeneralCommandKind = "VolumeDown"
	GeneralMute                   GeneralCommandKind = "Mute"
	GeneralUnmute                 GeneralCommandKind = "Unmute"
	GeneralToggleMute             GeneralCommandKind = "ToggleMute"
	GeneralSetVolume              GeneralCommandKind = "SetVolume"
	GeneralSetAudioStreamIndex    GeneralCommandKind = "SetAudioStreamIndex"
	GeneralSetSubtitleStreamIndex GeneralCommandKind = "SetSubtitleStreamIndex"
)

// PlayRequest is the host's "play these items" request.
type PlayRequest struct {
	ItemIDs              []string
	StartIndex           int
	StartPositionTicks   int64
	AudioStreamIndex     int
	SubtitleStreamIndex  int
	Command              PlayCommandKind
}

// Config carries the playlist-controller-relevant tunables of
// SPEC_FULL.md §6.6.
type Config struct {
	PhotoTransitionalTimeout time.Duration
	MaxResumePct             float64
}

// Controller is one renderer's Playlist Controller.
type Controller struct {
	mu sync.Mutex

	sessionID string
	session   *devicesession.Session
	profile   *external.DeviceProfile
	resolver  external.LibraryResolver
	streamer  external.StreamBuilder
	didl      external.DIDLBuilder
	host      external.Host
	cfg       Config

	playlist *model.Playlist

	slideshowTimer  *time.Timer
	slideshowActive bool
	slideshowPaused bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Controller bound to session and wires it as the session's
// Callbacks subscriber.
func New(parent context.Context, sessionID string, session *devicesession.Session, profile *external.DeviceProfile, resolver external.LibraryResolver, streamer external.StreamBuilder, didl external.DIDLBuilder, host external.Host, cfg Config) *Controller {
	ctx, cancel := context.WithCancel(parent)
	return &Controller{
		sessionID: sessionID,
		session:   session,
		profile:   profile,
		resolver:  resolver,
		streamer:  streamer,
		didl:      didl,
		host:      host,
		cfg:       cfg,
		playlist:  model.NewPlaylist(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Dispose stops the slideshow timer and any background work owned here
// (the Device Session's own lifecycle is managed separately by the
// registry).
func (c *Controller) Dispose() {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopSlideshowLocked()
}

// HandlePlayRequest implements SPEC_FULL.md §4.4's Play request.
func (c *Controller) HandlePlayRequest(ctx context.Context, req PlayRequest) error {
	items, err := c.resolver.Resolve(ctx, req.ItemIDs)
	if err != nil {
		return model.NewError(model.ErrKindHostRejected, err)
	}

	var built []model.PlaylistItem
	for _, item := range items {
		if !c.profile.Supports(item.MediaType) {
			continue
		}
		pi, ok := c.CreatePlaylistItem(ctx, item, 0, req.AudioStreamIndex, req.SubtitleStreamIndex)
		if !ok {
			continue
		}
		built = append(built, pi)
	}
	if len(built) == 0 {
		return nil
	}

	switch req.Command {
	case PlayShuffle, PlayInstantMix:
		shuffle(built)
		fallthrough
	case PlayNow:
		c.mu.Lock()
		c.playlist = &model.Playlist{Items: built}
		c.mu.Unlock()
		if req.StartIndex > 0 && req.StartIndex < len(built) {
			c.SetPlaylistIndex(ctx, req.StartIndex)
		} else {
			c.SetPlaylistIndex(ctx, 0)
		}

	case PlayLast:
		c.mu.Lock()
		alreadyPlaying := c.playlist.Cursor >= 0
		c.playlist.Items = append(c.playlist.Items, built...)
		c.mu.Unlock()
		if !alreadyPlaying {
			c.SetPlaylistIndex(ctx, 0)
		}

	case PlayNext:
		c.mu.Lock()
		alreadyPlaying := c.playlist.Cursor >= 0
		insertAt := c.playlist.Cursor + 1
		if insertAt < 0 {
			insertAt = len(c.playlist.Items)
		}
		c.playlist.Items = append(c.playlist.Items[:insertAt], append(append([]model.PlaylistItem{}, built...), c.playlist.Items[insertAt:]...)...)
		c.mu.Unlock()
		if !alreadyPlaying {
			c.SetPlaylistIndex(ctx, 0)
		}
	}
	return nil
}

// CreatePlaylistItem builds one playlist item from a library item, per
// SPEC_FULL.md §4.4.1. It returns ok=false if the stream builder could not
// produce a routable URL.
func (c *Controller) CreatePlaylistItem(ctx context.Context, item external.LibraryItem, positionTicks int64, audioIdx, subIdx int) (model.PlaylistItem, bool) {
	if item.MediaType == model.MediaPhoto {
		url, err := c.streamer.BuildImageURL(ctx, item)
		if err != nil || url == "" {
			return model.PlaylistItem{}, false
		}
		return model.PlaylistItem{
			ItemID:    item.ItemID,
			StreamURL: url,
			MediaType: model.MediaPhoto,
			Metadata:  c.didl.Build(item, external.StreamInfo{URL: url}),
		}, true
	}

	stream, err := c.streamer.BuildStream(ctx, item, c.profile, positionTicks, audioIdx, subIdx)
	if err != nil || stream.URL == "" {
		return model.PlaylistItem{}, false
	}

	url := stream.URL
	if item.MediaType == model.MediaAudio || item.MediaType == model.MediaVideo {
		url += "&dlna=true"
	}

	return model.PlaylistItem{
		ItemID:              item.ItemID,
		StreamURL:           url,
		ContentFeatures:     stream.ContentFeatures,
		Metadata:            c.didl.Build(item, stream),
		MediaType:           item.MediaType,
		StartPositionTicks:  positionTicks,
		IsDirectStream:      stream.IsDirectStream,
		AudioStreamIndex:    audioIdx,
		SubtitleStreamIndex: subIdx,
		DurationTicks:       stream.DurationTicks,
	}, true
}

// SetPlaylistIndex moves the cursor to i, loads the item on the Device
// Session, pipelines the next item via QueueNext, and arms the slideshow
// timer for photos, per SPEC_FULL.md §4.4.1.
func (c *Controller) SetPlaylistIndex(ctx context.Context, i int) {
	c.mu.Lock()
	ok := c.playlist.SetIndex(i)
	c.stopSlideshowLocked()
	if !ok {
		c.mu.Unlock()
		c.session.Stop()
		return
	}
	item := c.playlist.Items[i]
	hasNext, next := c.playlist.HasNext(), model.PlaylistItem{}
	if hasNext {
		next, _ = c.playlist.Next()
	}
	c.mu.Unlock()

	c.session.QueueMedia(model.MediaData{
		URL:            item.StreamURL,
		Headers:        map[string]string{"contentFeatures.dlna.org": item.ContentFeatures},
		Metadata:       item.Metadata,
		MediaType:      item.MediaType,
		ResetPlayback:  i > 0,
		PositionTicks:  startPositionFor(item),
		IsDirectStream: item.IsDirectStream,
	})

	if hasNext {
		c.session.QueueNext(model.MediaData{
			URL:            next.StreamURL,
			Headers:        map[string]string{"contentFeatures.dlna.org": next.ContentFeatures},
			Metadata:       next.Metadata,
			MediaType:      next.MediaType,
			IsDirectStream: next.IsDirectStream,
		})
	}

	if item.MediaType == model.MediaPhoto {
		c.armSlideshow(ctx)
	}
}

func startPositionFor(item model.PlaylistItem) int64 {
	if item.IsDirectStream {
		return item.StartPositionTicks
	}
	return 0
}

// HandlePlaystate implements SPEC_FULL.md §4.4's Playstate request,
// intercepting slideshow navigation when a photo is active.
func (c *Controller) HandlePlaystate(ctx context.Context, cmd PlaystateCommandKind, seekTicks int64) {
	c.mu.Lock()
	slideshow := c.slideshowActive
	cursor := c.playlist.Cursor
	c.mu.Unlock()

	if slideshow {
		switch cmd {
		case PlaystateStop:
			c.mu.Lock()
			c.playlist.Clear()
			c.stopSlideshowLocked()
			c.mu.Unlock()
			c.session.Stop()
		case PlaystatePause:
			c.mu.Lock()
			c.pauseSlideshowLocked()
			c.mu.Unlock()
		case PlaystateUnpause, PlaystatePlayPause:
			c.mu.Lock()
			c.resumeSlideshowLocked(ctx)
			c.mu.Unlock()
		case PlaystateNextTrack:
			c.SetPlaylistIndex(ctx, cursor+1)
		case PlaystatePreviousTrack:
			c.SetPlaylistIndex(ctx, cursor-1)
		}
		return
	}

	switch cmd {
	case PlaystateStop:
		c.session.Stop()
	case PlaystatePause:
		c.session.Pause()
	case PlaystateUnpause, PlaystatePlayPause:
		c.session.Play()
	case PlaystateSeek:
		c.handleSeek(ctx, seekTicks)
	case PlaystateNextTrack:
		c.SetPlaylistIndex(ctx, cursor+1)
	case PlaystatePreviousTrack:
		c.SetPlaylistIndex(ctx, cursor-1)
	}
}

// handleSeek rebuilds the playlist item when the current stream is
// transcoded (its URL encodes the start position), otherwise issues a
// direct AVTransport Seek.
func (c *Controller) handleSeek(ctx context.Context, ticks int64) {
	c.mu.Lock()
	item, ok := c.playlist.Current()
	c.mu.Unlock()
	if !ok {
		return
	}
	if item.IsDirectStream {
		c.session.Seek(ticks)
		return
	}

	rebuilt, built := c.CreatePlaylistItem(ctx, external.LibraryItem{ItemID: item.ItemID, MediaType: item.MediaType}, ticks, item.AudioStreamIndex, item.SubtitleStreamIndex)
	if !built {
		return
	}
	c.mu.Lock()
	c.playlist.Items[c.playlist.Cursor] = rebuilt
	c.mu.Unlock()
	c.session.QueueMedia(model.MediaData{
		URL:            rebuilt.StreamURL,
		Headers:        map[string]string{"contentFeatures.dlna.org": rebuilt.ContentFeatures},
		Metadata:       rebuilt.Metadata,
		MediaType:      rebuilt.MediaType,
		PositionTicks:  ticks,
		IsDirectStream: rebuilt.IsDirectStream,
	})
}

// HandleGeneralCommand implements SPEC_FULL.md §4.4's general command.
func (c *Controller) HandleGeneralCommand(ctx context.Context, cmd GeneralCommandKind, intParam int) {
	switch cmd {
	case GeneralVolumeUp:
		c.session.SetVolume(clamp(intParam, 0, 100))
	case GeneralVolumeDown:
		c.session.SetVolume(clamp(intParam, 0, 100))
	case GeneralSetVolume:
		c.session.SetVolume(clamp(intParam, 0, 100))
	case GeneralMute:
		c.session.Mute()
	case GeneralUnmute:
		c.session.Unmute()
	case GeneralToggleMute:
		c.session.ToggleMute()
	case GeneralSetAudioStreamIndex:
		c.rebuildForStreamIndexChange(ctx, intParam, -1)
	case GeneralSetSubtitleStreamIndex:
		c.rebuildForStreamIndexChange(ctx, -1, intParam)
	}
}

func (c *Controller) rebuildForStreamIndexChange(ctx context.Context, audioIdx, subIdx int) {
	c.mu.Lock()
	item, ok := c.playlist.Current()
	c.mu.Unlock()
	if !ok {
		return
	}
	positionTicks := c.session.Snapshot(ctx).PositionTicks
	if audioIdx < 0 {
		audioIdx = item.AudioStreamIndex
	}
	if subIdx < 0 {
		subIdx = item.SubtitleStreamIndex
	}

	rebuilt, built := c.CreatePlaylistItem(ctx, external.LibraryItem{ItemID: item.ItemID, MediaType: item.MediaType}, positionTicks, audioIdx, subIdx)
	if !built {
		return
	}
	c.mu.Lock()
	c.playlist.Items[c.playlist.Cursor] = rebuilt
	c.mu.Unlock()

	c.session.QueueMedia(model.MediaData{
		URL:            rebuilt.StreamURL,
		Headers:        map[string]string{"contentFeatures.dlna.org": rebuilt.ContentFeatures},
		Metadata:       rebuilt.Metadata,
		MediaType:      rebuilt.MediaType,
		PositionTicks:  positionTicks,
		IsDirectStream: rebuilt.IsDirectStream,
	})
	if rebuilt.IsDirectStream {
		go c.seekAfterTransportChange(c.ctx, positionTicks)
	}
}

// seekAfterTransportChange polls the session's cached transport state for
// IsPlaying every 500ms, up to 15s, before issuing Seek. A stream-index
// rebuild re-sends SetAVTransportURI, and the renderer needs time to finish
// loading the new URI before it will honor a Seek.
func (c *Controller) seekAfterTransportChange(ctx context.Context, ticks int64) {
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if c.session.IsPlaying() {
			c.session.Seek(ticks)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
	c.session.Seek(ticks)
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// -- devicesession.Callbacks implementation --

func (c *Controller) OnPlaybackStart(media model.CurrentMedia) {
	c.host.LogSessionActivity(c.sessionID)
	c.host.OnPlaybackStart(external.PlaybackInfo{SessionID: c.sessionID, ItemID: media.ItemID})
}

func (c *Controller) OnPlaybackProgress(media model.CurrentMedia, positionTicks int64) {
	c.host.OnPlaybackProgress(external.PlaybackInfo{SessionID: c.sessionID, ItemID: media.ItemID, PositionTicks: positionTicks})
}

// OnPlaybackStopped implements the playback-completed handling of
// SPEC_FULL.md §4.4: auto-advance on natural completion, otherwise treat
// as a user stop and clear the playlist. Photos always report position 1
// tick so the host does not record a resume position.
func (c *Controller) OnPlaybackStopped(media model.CurrentMedia, positionTicks int64) {
	c.mu.Lock()
	item, ok := c.playlist.Current()
	cursor := c.playlist.Cursor
	c.mu.Unlock()

	reportPos := positionTicks
	if ok && item.MediaType == model.MediaPhoto {
		reportPos = 1
	}
	c.host.OnPlaybackStopped(external.PlaybackInfo{SessionID: c.sessionID, ItemID: media.ItemID, PositionTicks: reportPos})

	if !ok {
		return
	}
	playedToCompletion := positionTicks == 0
	if item.DurationTicks > 0 {
		pct := absFloat(1-float64(positionTicks)/float64(item.DurationTicks)) * 100
		playedToCompletion = playedToCompletion || pct <= c.cfg.MaxResumePct
	}

	if playedToCompletion {
		c.SetPlaylistIndex(c.ctx, cursor+1)
		return
	}

	c.mu.Lock()
	c.playlist.Clear()
	c.mu.Unlock()
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func (c *Controller) OnMediaChanged(old, new model.CurrentMedia) {
	log.Debug(c.ctx, "media changed", "session", c.sessionID, "from", old.ItemID, "to", new.ItemID)
}

func (c *Controller) OnDeviceUnavailable() {
	c.host.ReportSessionEnded(c.sessionID)
}

// -- slideshow timer --

func (c *Controller) armSlideshow(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slideshowActive = true
	c.slideshowPaused = false
	c.resetSlideshowTimerLocked(ctx)
}

func (c *Controller) resetSlideshowTimerLocked(ctx context.Context) {
	if c.slideshowTimer != nil {
		c.slideshowTimer.Stop()
	}
	timeout := c.cfg.PhotoTransitionalTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c.slideshowTimer = time.AfterFunc(timeout, func() {
		c.mu.Lock()
		cursor := c.playlist.Cursor
		c.mu.Unlock()
		c.SetPlaylistIndex(ctx, cursor+1)
	})
}

func (c *Controller) pauseSlideshowLocked() {
	if c.slideshowTimer != nil {
		c.slideshowTimer.Stop()
	}
	c.slideshowPaused = true
}

func (c *Controller) resumeSlideshowLocked(ctx context.Context) {
	if !c.slideshowActive {
		return
	}
	c.slideshowPaused = false
	c.resetSlideshowTimerLocked(ctx)
}

func (c *Controller) stopSlideshowLocked() {
	if c.slideshowTimer != nil {
		c.slideshowTimer.Stop()
		c.slideshowTimer = nil
	}
	c.slideshowActive = false
	c.slideshowPaused = false
}

// shuffle performs an in-place Fisher-Yates shuffle using a
// cryptographically secure RNG with rejection sampling to avoid modulo
// bias, per SPEC_FULL.md §9.
func shuffle(items []model.PlaylistItem) {
	for i := len(items) - 1; i > 0; i-- {
		j := secureIntn(i + 1)
		items[i], items[j] = items[j], items[i]
	}
}

func secureIntn(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
