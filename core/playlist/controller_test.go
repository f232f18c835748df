package playlist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlnacast/engine/core/devicesession"
	"github.com/dlnacast/engine/core/external"
	"github.com/dlnacast/engine/core/soaptransport"
	"github.com/dlnacast/engine/model"
)

const testSCPD = `<?xml version="1.0"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <actionList>
    <action><name>SetVolume</name><argumentList></argumentList></action>
  </actionList>
  <serviceStateTable>
    <stateVariable sendEvents="yes"><name>Volume</name><dataType>ui2</dataType>
      <allowedValueRange><minimum>0</minimum><maximum>100</maximum><step>1</step></allowedValueRange>
    </stateVariable>
  </serviceStateTable>
</scpd>`

func soapOK(w http.ResponseWriter, r *http.Request) {
	action := soapActionOf(r)
	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><u:` + action +
		`Response xmlns:u="urn:schemas-upnp-org:service:AVTransport:1"></u:` + action + `Response></s:Body></s:Envelope>`))
}

func soapActionOf(r *http.Request) string {
	action := strings.Trim(r.Header.Get("SOAPACTION"), `"`)
	if idx := strings.LastIndex(action, "#"); idx >= 0 {
		return action[idx+1:]
	}
	return action
}

func newTestDeviceSession(t *testing.T, cbs devicesession.Callbacks) *devicesession.Session {
	mux := http.NewServeMux()
	mux.HandleFunc("/RenderingControl.xml", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(testSCPD)) })
	mux.HandleFunc("/RenderingControl/control", soapOK)
	mux.HandleFunc("/RenderingControl/event", func(w http.ResponseWriter, r *http.Request) { w.Header().Set("SID", "uuid:rc") })
	mux.HandleFunc("/AVTransport/control", soapOK)
	mux.HandleFunc("/AVTransport/event", func(w http.ResponseWriter, r *http.Request) { w.Header().Set("SID", "uuid:av") })

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	desc := model.DeviceDescription{
		UDN:          "uuid:test",
		FriendlyName: "Test Renderer",
		Services: map[model.ServiceKind]model.ServiceDescription{
			model.ServiceAVTransport: {
				Kind:        model.ServiceAVTransport,
				ServiceType: "urn:schemas-upnp-org:service:AVTransport:1",
				ControlURL:  srv.URL + "/AVTransport/control",
				EventSubURL: srv.URL + "/AVTransport/event",
				SCPDURL:     srv.URL + "/AVTransport.xml",
			},
			model.ServiceRenderingControl: {
				Kind:        model.ServiceRenderingControl,
				ServiceType: "urn:schemas-upnp-org:service:RenderingControl:1",
				ControlURL:  srv.URL + "/RenderingControl/control",
				EventSubURL: srv.URL + "/RenderingControl/event",
				SCPDURL:     srv.URL + "/RenderingControl.xml",
			},
		},
	}

	transport := soaptransport.New(2*time.Second, "test/1.0")
	sess := devicesession.New(t.Context(), desc, "sess-1", transport, cbs, devicesession.Config{
		DevicePollingInterval:   time.Hour,
		QueueProcessingInterval: 5 * time.Millisecond,
		CallbackBaseURL:         srv.URL,
	})
	require.NoError(t, sess.Start())
	t.Cleanup(func() { sess.Dispose() })
	return sess
}

type fakeResolver struct{ items map[string]external.LibraryItem }

func (f *fakeResolver) Resolve(_ context.Context, ids []string) ([]external.LibraryItem, error) {
	var out []external.LibraryItem
	for _, id := range ids {
		out = append(out, f.items[id])
	}
	return out, nil
}

type fakeStreamBuilder struct{ unroutable map[string]bool }

func (f *fakeStreamBuilder) BuildStream(_ context.Context, item external.LibraryItem, _ *external.DeviceProfile, pos int64, _, _ int) (external.StreamInfo, error) {
	if f.unroutable[item.ItemID] {
		return external.StreamInfo{}, nil
	}
	return external.StreamInfo{URL: "http://stream/" + item.ItemID, IsDirectStream: true, DurationTicks: item.DurationTicks}, nil
}
func (f *fakeStreamBuilder) BuildImageURL(_ context.Context, item external.LibraryItem) (string, error) {
	return "http://image/" + item.ItemID, nil
}

type fakeDIDL struct{}

func (fakeDIDL) Build(item external.LibraryItem, _ external.StreamInfo) string {
	return "<DIDL-Lite>" + item.Title + "</DIDL-Lite>"
}

type fakeHost struct {
	starts, stops, progresses int
	sessionsEnded             []string
	lastStopPosition          int64
}

func (h *fakeHost) LogSessionActivity(string)             {}
func (h *fakeHost) ReportCapabilities(string, []string)    {}
func (h *fakeHost) OnPlaybackStart(external.PlaybackInfo)  { h.starts++ }
func (h *fakeHost) OnPlaybackProgress(external.PlaybackInfo) { h.progresses++ }
func (h *fakeHost) OnPlaybackStopped(info external.PlaybackInfo) {
	h.stops++
	h.lastStopPosition = info.PositionTicks
}
func (h *fakeHost) ReportSessionEnded(id string)           { h.sessionsEnded = append(h.sessionsEnded, id) }

func newTestController(t *testing.T, resolver external.LibraryResolver, streamer external.StreamBuilder, host external.Host) *Controller {
	profile := &external.DeviceProfile{SupportedMediaTypes: []model.MediaType{model.MediaAudio, model.MediaVideo, model.MediaPhoto}}
	c := New(t.Context(), "sess-1", nil, profile, resolver, streamer, fakeDIDL{}, host, Config{
		PhotoTransitionalTimeout: 30 * time.Millisecond,
		MaxResumePct:             2,
	})
	sess := newTestDeviceSession(t, c)
	c.session = sess
	return c
}

func TestCreatePlaylistItem_DropsUnroutableStream(t *testing.T) {
	streamer := &fakeStreamBuilder{unroutable: map[string]bool{"bad": true}}
	c := newTestController(t, &fakeResolver{}, streamer, &fakeHost{})

	_, ok := c.CreatePlaylistItem(t.Context(), external.LibraryItem{ItemID: "bad", MediaType: model.MediaAudio}, 0, 0, 0)
	assert.False(t, ok)

	item, ok := c.CreatePlaylistItem(t.Context(), external.LibraryItem{ItemID: "good", MediaType: model.MediaAudio, Title: "Song"}, 0, 0, 0)
	require.True(t, ok)
	assert.Equal(t, "http://stream/good&dlna=true", item.StreamURL)
	assert.Contains(t, item.Metadata, "Song")
}

func TestCreatePlaylistItem_PhotoUsesImageURL(t *testing.T) {
	streamer := &fakeStreamBuilder{}
	c := newTestController(t, &fakeResolver{}, streamer, &fakeHost{})

	item, ok := c.CreatePlaylistItem(t.Context(), external.LibraryItem{ItemID: "pic", MediaType: model.MediaPhoto}, 0, 0, 0)
	require.True(t, ok)
	assert.Equal(t, "http://image/pic", item.StreamURL)
}

func TestHandlePlayRequest_PlayNow_BuildsPlaylistAndStartsSession(t *testing.T) {
	resolver := &fakeResolver{items: map[string]external.LibraryItem{
		"a": {ItemID: "a", Title: "A", MediaType: model.MediaAudio},
		"b": {ItemID: "b", Title: "B", MediaType: model.MediaAudio},
	}}
	host := &fakeHost{}
	c := newTestController(t, resolver, &fakeStreamBuilder{}, host)

	err := c.HandlePlayRequest(t.Context(), PlayRequest{ItemIDs: []string{"a", "b"}, Command: PlayNow})
	require.NoError(t, err)

	c.mu.Lock()
	cursor := c.playlist.Cursor
	itemCount := len(c.playlist.Items)
	c.mu.Unlock()
	assert.Equal(t, 0, cursor)
	assert.Equal(t, 2, itemCount)
}

func TestHandlePlayRequest_PlayNowSkipsUnsupportedMediaType(t *testing.T) {
	resolver := &fakeResolver{items: map[string]external.LibraryItem{
		"photo-item": {ItemID: "photo-item", MediaType: model.MediaPhoto},
	}}
	profile := &external.DeviceProfile{SupportedMediaTypes: []model.MediaType{model.MediaAudio}}
	host := &fakeHost{}
	c := New(t.Context(), "sess-1", nil, profile, resolver, &fakeStreamBuilder{}, fakeDIDL{}, host, Config{})
	sess := newTestDeviceSession(t, c)
	c.session = sess

	err := c.HandlePlayRequest(t.Context(), PlayRequest{ItemIDs: []string{"photo-item"}, Command: PlayNow})
	require.NoError(t, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, 0, len(c.playlist.Items))
}

func TestOnPlaybackStopped_AutoAdvancesWhenPlayedToCompletion(t *testing.T) {
	host := &fakeHost{}
	c := newTestController(t, &fakeResolver{}, &fakeStreamBuilder{}, host)

	c.playlist = &model.Playlist{
		Items: []model.PlaylistItem{
			{ItemID: "a", StreamURL: "http://stream/a", DurationTicks: 10_000_000},
			{ItemID: "b", StreamURL: "http://stream/b"},
		},
		Cursor: 0,
	}

	c.OnPlaybackStopped(model.CurrentMedia{ItemID: "a", URL: "http://stream/a"}, 9_990_000)

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.playlist.Cursor == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, host.stops)
}

func TestOnPlaybackStopped_ClearsPlaylistOnMidPlaybackStop(t *testing.T) {
	host := &fakeHost{}
	c := newTestController(t, &fakeResolver{}, &fakeStreamBuilder{}, host)

	c.playlist = &model.Playlist{
		Items: []model.PlaylistItem{
			{ItemID: "a", StreamURL: "http://stream/a", DurationTicks: 100_000_000},
		},
		Cursor: 0,
	}

	c.OnPlaybackStopped(model.CurrentMedia{ItemID: "a", URL: "http://stream/a"}, 50_000_000)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, -1, c.playlist.Cursor)
}

func TestOnPlaybackStopped_PhotoReportsPositionOfOneTick(t *testing.T) {
	host := &fakeHost{}
	c := newTestController(t, &fakeResolver{}, &fakeStreamBuilder{}, host)
	c.playlist = &model.Playlist{
		Items:  []model.PlaylistItem{{ItemID: "pic", MediaType: model.MediaPhoto}},
		Cursor: 0,
	}
	c.OnPlaybackStopped(model.CurrentMedia{ItemID: "pic"}, 0)
	assert.Equal(t, 1, host.stops)
	assert.Equal(t, int64(1), host.lastStopPosition)
}

func TestHandlePlaystate_SlideshowStopClearsPlaylist(t *testing.T) {
	host := &fakeHost{}
	c := newTestController(t, &fakeResolver{}, &fakeStreamBuilder{}, host)
	c.playlist = &model.Playlist{Items: []model.PlaylistItem{{ItemID: "pic", MediaType: model.MediaPhoto}}, Cursor: 0}
	c.slideshowActive = true

	c.HandlePlaystate(t.Context(), PlaystateStop, 0)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, -1, c.playlist.Cursor)
	assert.False(t, c.slideshowActive)
}

func TestHandlePlaystate_SlideshowPauseStopsTimerWithoutAdvancing(t *testing.T) {
	host := &fakeHost{}
	c := newTestController(t, &fakeResolver{}, &fakeStreamBuilder{}, host)
	c.playlist = &model.Playlist{Items: []model.PlaylistItem{{ItemID: "pic", MediaType: model.MediaPhoto}}, Cursor: 0}
	c.armSlideshow(t.Context())

	c.HandlePlaystate(t.Context(), PlaystatePause, 0)

	c.mu.Lock()
	paused := c.slideshowPaused
	cursor := c.playlist.Cursor
	c.mu.Unlock()
	assert.True(t, paused)
	assert.Equal(t, 0, cursor)

	time.Sleep(60 * time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, 0, c.playlist.Cursor)
}

func TestShuffle_PreservesElementsAsAPermutation(t *testing.T) {
	items := []model.PlaylistItem{
		{ItemID: "1"}, {ItemID: "2"}, {ItemID: "3"}, {ItemID: "4"}, {ItemID: "5"},
	}
	shuffle(items)

	seen := map[string]bool{}
	for _, it := range items {
		seen[it.ItemID] = true
	}
	assert.Len(t, seen, 5)
}

func TestHandleSeek_DirectStreamIssuesSeekWithoutRebuild(t *testing.T) {
	host := &fakeHost{}
	streamer := &fakeStreamBuilder{}
	c := newTestController(t, &fakeResolver{}, streamer, host)
	c.playlist = &model.Playlist{
		Items:  []model.PlaylistItem{{ItemID: "a", StreamURL: "http://stream/a", IsDirectStream: true}},
		Cursor: 0,
	}

	c.HandlePlaystate(t.Context(), PlaystateSeek, 5_000_000)

	time.Sleep(20 * time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, "http://stream/a", c.playlist.Items[0].StreamURL)
}

func TestSeekAfterTransportChange_WaitsForPlayingBeforeSeeking(t *testing.T) {
	host := &fakeHost{}
	c := newTestController(t, &fakeResolver{}, &fakeStreamBuilder{}, host)
	c.session.HandleEvent(t.Context(), `<Event><InstanceID val="0"><TransportState val="TRANSITIONING"/></InstanceID></Event>`)

	done := make(chan struct{})
	go func() {
		c.seekAfterTransportChange(t.Context(), 5_000_000)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.session.IsPlaying())

	c.session.HandleEvent(t.Context(), `<Event><InstanceID val="0"><TransportState val="PLAYING"/></InstanceID></Event>`)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("seekAfterTransportChange did not return after state became playing")
	}
}

func TestRebuildForStreamIndexChange_DirectStreamRebuildsWithNewAudioIndex(t *testing.T) {
	host := &fakeHost{}
	streamer := &fakeStreamBuilder{}
	c := newTestController(t, &fakeResolver{}, streamer, host)
	c.playlist = &model.Playlist{
		Items:  []model.PlaylistItem{{ItemID: "a", StreamURL: "http://stream/a", IsDirectStream: true, StartPositionTicks: 1_000_000}},
		Cursor: 0,
	}
	c.session.HandleEvent(t.Context(), `<Event><InstanceID val="0"><TransportState val="PLAYING"/></InstanceID></Event>`)

	c.HandleGeneralCommand(t.Context(), GeneralSetAudioStreamIndex, 1)

	c.mu.Lock()
	item := c.playlist.Items[0]
	c.mu.Unlock()
	assert.True(t, item.IsDirectStream)
	assert.Equal(t, 1, item.AudioStreamIndex)
}
