package devicesession

import (
	"context"
	"encoding/xml"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/dlnacast/engine/core/soaptransport"
	"github.com/dlnacast/engine/log"
	"github.com/dlnacast/engine/model"
)

const maxConsecutiveFailures = 3

// runPolling is the Device Session's polling-timer goroutine. It fires at
// DevicePollingInterval, or immediately after pulsePoll requests a
// short-interval follow-up poll right after a self-induced transition.
func (s *Session) runPolling() {
	defer s.wg.Done()
	interval := s.cfg.DevicePollingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s.mu.Lock()
	s.pollTimer = time.NewTimer(interval)
	s.mu.Unlock()

	for {
		select {
		case <-s.ctx.Done():
			s.mu.Lock()
			if s.pollTimer != nil {
				s.pollTimer.Stop()
			}
			s.mu.Unlock()
			return
		case <-s.pollTimer.C:
			next := s.pollOnce(s.ctx)
			s.mu.Lock()
			s.pollTimer.Reset(next)
			s.mu.Unlock()
		}
	}
}

// pulsePoll reschedules the next poll to fire after d, used right after a
// self-induced Play/Pause/Stop/media-change so the reconciler catches up
// quickly instead of waiting a full polling interval.
func (s *Session) pulsePoll(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollTimer == nil {
		return
	}
	if !s.pollTimer.Stop() {
		select {
		case <-s.pollTimer.C:
		default:
		}
	}
	s.pollTimer.Reset(d)
}

// pollOnce performs one GetTransportInfo/GetPositionInfo round and returns
// the delay before the next poll should fire.
func (s *Session) pollOnce(ctx context.Context) time.Duration {
	normal := s.cfg.DevicePollingInterval
	if normal <= 0 {
		normal = 30 * time.Second
	}

	av, ok := s.desc.Service(model.ServiceAVTransport)
	if !ok {
		return normal
	}
	schema := s.schemaFor(model.ServiceAVTransport)

	info, err := s.transport.Invoke(ctx, av, schema, "GetTransportInfo", []soaptransport.ArgValue{
		{Arg: model.ActionArgument{Name: "InstanceID"}},
	}, nil)
	if err != nil {
		return s.onPollFailure()
	}
	s.mu.Lock()
	s.consecutiveFailures = 0
	s.mu.Unlock()

	state := model.TransportState(strings.ToUpper(info.Values["CurrentTransportState"]))
	if state == model.StateError {
		return normal
	}
	if state.IsStopped() {
		s.updateMediaInfo(model.CurrentMedia{})
		return 24 * time.Hour // wait for a subscription event to wake us
	}

	pos, err := s.transport.Invoke(ctx, av, schema, "GetPositionInfo", []soaptransport.ArgValue{
		{Arg: model.ActionArgument{Name: "InstanceID"}},
	}, nil)
	if err == nil {
		s.applyPositionInfo(ctx, pos)
	}

	s.mu.Lock()
	s.transportState = state
	s.mu.Unlock()

	return normal
}

func (s *Session) onPollFailure() time.Duration {
	s.mu.Lock()
	s.consecutiveFailures++
	fail := s.consecutiveFailures
	s.mu.Unlock()

	if fail >= maxConsecutiveFailures {
		log.Error(s.ctx, "device unavailable after repeated poll failures", "uuid", s.desc.UDN)
		s.callbacks.OnDeviceUnavailable()
	}
	normal := s.cfg.DevicePollingInterval
	if normal <= 0 {
		normal = 30 * time.Second
	}
	return normal
}

// applyPositionInfo records the polled position/duration, then resolves the
// currently-loaded item per SPEC_FULL.md §4.3: extract DIDL-Lite from the
// reply's TrackMetaData if present, else fall back to AVTransport#GetMediaInfo.
func (s *Session) applyPositionInfo(ctx context.Context, res soaptransport.InvokeResult) {
	duration := parseHMS(res.Values["TrackDuration"])
	position := parseHMS(res.Values["RelTime"])

	s.mu.Lock()
	s.durationTicks = duration
	s.positionTicks = position + res.PositionOffset().Nanoseconds()/100
	s.posMeasuredAt = time.Now()
	s.mu.Unlock()

	itemID, resURL, ok := parseDIDLLite(res.Values["TrackMetaData"])
	if !ok {
		itemID, resURL, ok = s.fetchMediaInfo(ctx)
	}
	if !ok {
		return
	}
	s.updateMediaInfo(model.CurrentMedia{ItemID: itemID, URL: resURL})
}

// fetchMediaInfo calls AVTransport#GetMediaInfo, the fallback used when a
// polled or eventive reply carried no parseable DIDL-Lite metadata.
func (s *Session) fetchMediaInfo(ctx context.Context) (itemID, resURL string, ok bool) {
	av, svcOK := s.desc.Service(model.ServiceAVTransport)
	if !svcOK {
		return "", "", false
	}
	schema := s.schemaFor(model.ServiceAVTransport)
	res, err := s.transport.Invoke(ctx, av, schema, "GetMediaInfo", []soaptransport.ArgValue{
		{Arg: model.ActionArgument{Name: "InstanceID"}},
	}, nil)
	if err != nil {
		log.Debug(ctx, "GetMediaInfo failed", "uuid", s.desc.UDN, err)
		return "", "", false
	}
	if itemID, resURL, ok = parseDIDLLite(res.Values["CurrentURIMetaData"]); ok {
		return itemID, resURL, true
	}
	if res.Values["CurrentURI"] != "" {
		return "", res.Values["CurrentURI"], true
	}
	return "", "", false
}

// parseDIDLLite extracts the item id and resource URL from an XML-escaped
// DIDL-Lite metadata blob, the shape a renderer embeds in TrackMetaData,
// CurrentURIMetaData, and AVTransportURIMetaData.
func parseDIDLLite(raw string) (itemID, resURL string, ok bool) {
	if raw == "" {
		return "", "", false
	}
	unescaped := html.UnescapeString(raw)
	var didl struct {
		Item struct {
			ID  string `xml:"id,attr"`
			Res string `xml:"res"`
		} `xml:"item"`
	}
	if err := xml.Unmarshal([]byte(unescaped), &didl); err != nil {
		return "", "", false
	}
	if didl.Item.Res == "" {
		return "", "", false
	}
	return didl.Item.ID, didl.Item.Res, true
}

func parseHMS(s string) int64 {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	sec, _ := strconv.Atoi(parts[2])
	return int64((h*3600+m*60+sec) * 10_000_000)
}

// HandleEvent is the Session Registry's entry point for a posted LastChange
// XML event body. It is not ordered relative to queue dispatch; the
// Transitioning guard (only set by the media-change protocol while it
// issues SetAVTransportURI) prevents it from reverting a state transition
// the queue worker just initiated.
func (s *Session) HandleEvent(ctx context.Context, lastChangeXML string) {
	values := flattenLastChange(lastChangeXML)

	s.mu.Lock()
	guardActive := s.transitioningInternal
	s.mu.Unlock()

	if mute, ok := values["Mute.val"]; ok {
		s.mu.Lock()
		s.muted = mute == "1" || strings.EqualFold(mute, "true")
		s.mu.Unlock()
	}
	if vol, ok := values["Volume.val"]; ok {
		if v, err := strconv.Atoi(vol); err == nil {
			s.mu.Lock()
			s.volume = v
			s.mu.Unlock()
		}
	}

	stateStr := values["TransportState.val"]
	if stateStr == "" {
		stateStr = values["CurrentTransportState.val"]
	}
	if stateStr != "" && !guardActive {
		newState := model.TransportState(strings.ToUpper(stateStr))
		s.mu.Lock()
		changed := s.transportState != newState
		s.transportState = newState
		s.mu.Unlock()
		if changed && newState.IsStopped() {
			s.updateMediaInfo(model.CurrentMedia{})
			s.pulsePoll(0)
		}
	}

	if pos, ok := values["RelativeTimePosition.val"]; ok {
		s.mu.Lock()
		s.positionTicks = parseHMS(pos)
		s.posMeasuredAt = time.Now()
		s.mu.Unlock()
	}
	if dur, ok := values["CurrentTrackDuration.val"]; ok {
		s.mu.Lock()
		s.durationTicks = parseHMS(dur)
		s.mu.Unlock()
	}

	metaXML := values["CurrentTrackMetaData.val"]
	if metaXML == "" {
		metaXML = values["AVTransportURIMetaData.val"]
	}
	if itemID, resURL, ok := parseDIDLLite(metaXML); ok {
		s.updateMediaInfo(model.CurrentMedia{ItemID: itemID, URL: resURL})
	} else if url, ok := values["TrackURI.val"]; ok && url != "" {
		s.updateMediaInfo(model.CurrentMedia{URL: url})
	} else if stateStr != "" && !guardActive {
		if itemID, resURL, ok := s.fetchMediaInfo(ctx); ok {
			s.updateMediaInfo(model.CurrentMedia{ItemID: itemID, URL: resURL})
		}
	}

	if av, ok := s.desc.Service(model.ServiceAVTransport); ok {
		s.mu.Lock()
		sid := s.avSID
		s.mu.Unlock()
		if sid != "" {
			if newSID, err := s.transport.Subscribe(ctx, av, s.callbackURL(), sid, time.Minute); err == nil {
				s.mu.Lock()
				s.avSID = newSID
				s.mu.Unlock()
			}
		}
	}
}

// updateMediaInfo applies the transition table of SPEC_FULL.md §4.3 and
// invokes the matching callback. It does not filter its input: an empty
// newMedia always reports PlaybackStopped for known media. Its callers pass
// an empty CurrentMedia only when the renderer reports a stopped state and
// otherwise call it only with a non-empty URL.
func (s *Session) updateMediaInfo(newMedia model.CurrentMedia) {
	s.mu.Lock()
	old := s.currentMedia
	position := s.positionTicks
	s.currentMedia = newMedia
	s.mu.Unlock()

	switch {
	case old.Empty() && !newMedia.Empty():
		s.callbacks.OnPlaybackStart(newMedia)
	case !old.Empty() && newMedia.Empty():
		s.callbacks.OnPlaybackStopped(old, position)
	case !old.Empty() && !newMedia.Empty() && old.SameItem(newMedia):
		s.callbacks.OnPlaybackProgress(newMedia, position)
	case !old.Empty() && !newMedia.Empty() && !old.SameItem(newMedia):
		s.callbacks.OnMediaChanged(old, newMedia)
	}
}

// flattenLastChange extracts "Variable.val" pairs from a UPnP LastChange
// event body, whose inner <InstanceID><Variable val="..."/></InstanceID>
// shape encodes state changes as attributes rather than element text.
func flattenLastChange(xmlBody string) map[string]string {
	values := map[string]string{}
	remaining := xmlBody
	for {
		start := strings.Index(remaining, "<")
		if start < 0 {
			break
		}
		remaining = remaining[start+1:]
		end := strings.Index(remaining, ">")
		if end < 0 {
			break
		}
		tag := remaining[:end]
		remaining = remaining[end+1:]
		if tag == "" || tag[0] == '/' || strings.HasPrefix(tag, "?") {
			continue
		}
		name, val, ok := extractNameAndVal(tag)
		if ok {
			values[name+".val"] = val
		}
	}
	return values
}

func extractNameAndVal(tag string) (name, val string, ok bool) {
	sp := strings.IndexAny(tag, " \t")
	if sp < 0 {
		return "", "", false
	}
	name = tag[:sp]
	valIdx := strings.Index(tag, `val="`)
	if valIdx < 0 {
		return "", "", false
	}
	valIdx += len(`val="`)
	end := strings.Index(tag[valIdx:], `"`)
	if end < 0 {
		return "", "", false
	}
	return name, tag[valIdx : valIdx+end], true
}
