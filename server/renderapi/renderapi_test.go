package renderapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlnacast/engine/core/external"
	"github.com/dlnacast/engine/core/registry"
	"github.com/dlnacast/engine/core/soaptransport"
)

const testSCPD = `<?xml version="1.0"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <actionList></actionList>
  <serviceStateTable></serviceStateTable>
</scpd>`

func deviceDescriptionXML(baseURL string) string {
	return `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
    <friendlyName>Kitchen Speaker</friendlyName>
    <UDN>uuid:kitchen</UDN>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
        <SCPDURL>` + baseURL + `/AVTransport.xml</SCPDURL>
        <controlURL>` + baseURL + `/AVTransport/control</controlURL>
        <eventSubURL>` + baseURL + `/AVTransport/event</eventSubURL>
      </service>
      <service>
        <serviceType>urn:schemas-upnp-org:service:RenderingControl:1</serviceType>
        <SCPDURL>` + baseURL + `/RenderingControl.xml</SCPDURL>
        <controlURL>` + baseURL + `/RenderingControl/control</controlURL>
        <eventSubURL>` + baseURL + `/RenderingControl/event</eventSubURL>
      </service>
    </serviceList>
  </device>
</root>`
}

func soapOK(w http.ResponseWriter, r *http.Request) {
	action := strings.Trim(r.Header.Get("SOAPACTION"), `"`)
	if idx := strings.LastIndex(action, "#"); idx >= 0 {
		action = action[idx+1:]
	}
	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><u:` + action +
		`Response xmlns:u="urn:schemas-upnp-org:service:AVTransport:1"></u:` + action + `Response></s:Body></s:Envelope>`))
}

func newTestRenderer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/description.xml", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(deviceDescriptionXML(srv.URL))) })
	mux.HandleFunc("/AVTransport.xml", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(testSCPD)) })
	mux.HandleFunc("/RenderingControl.xml", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(testSCPD)) })
	mux.HandleFunc("/AVTransport/control", soapOK)
	mux.HandleFunc("/RenderingControl/control", soapOK)
	mux.HandleFunc("/AVTransport/event", func(w http.ResponseWriter, r *http.Request) { w.Header().Set("SID", "uuid:av") })
	mux.HandleFunc("/RenderingControl/event", func(w http.ResponseWriter, r *http.Request) { w.Header().Set("SID", "uuid:rc") })
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type fakeDiscoverySource struct{ ch chan external.DiscoveryEvent }

func (f *fakeDiscoverySource) Events() <-chan external.DiscoveryEvent { return f.ch }

type noopHost struct{}

func (noopHost) LogSessionActivity(string)               {}
func (noopHost) ReportCapabilities(string, []string)      {}
func (noopHost) OnPlaybackStart(external.PlaybackInfo)    {}
func (noopHost) OnPlaybackProgress(external.PlaybackInfo) {}
func (noopHost) OnPlaybackStopped(external.PlaybackInfo)  {}
func (noopHost) ReportSessionEnded(string)                {}

type noopResolver struct{}

func (noopResolver) Resolve(context.Context, []string) ([]external.LibraryItem, error) { return nil, nil }

type noopStreamBuilder struct{}

func (noopStreamBuilder) BuildStream(context.Context, external.LibraryItem, *external.DeviceProfile, int64, int, int) (external.StreamInfo, error) {
	return external.StreamInfo{}, nil
}
func (noopStreamBuilder) BuildImageURL(context.Context, external.LibraryItem) (string, error) {
	return "", nil
}

type noopDIDL struct{}

func (noopDIDL) Build(external.LibraryItem, external.StreamInfo) string { return "" }

func newTestRegistry(t *testing.T) (*registry.Registry, *fakeDiscoverySource) {
	transport := soaptransport.New(2*time.Second, "test/1.0")
	profiles := external.NewInMemoryProfileRepository()
	reg := registry.New(t.Context(), transport, profiles, nil, noopHost{}, noopResolver{}, noopStreamBuilder{}, noopDIDL{}, registry.Config{
		QueueProcessingInterval: 5 * time.Millisecond,
		DevicePollingInterval:   time.Hour,
		CallbackBaseURL:         "http://callback.test",
	})
	t.Cleanup(reg.Shutdown)
	source := &fakeDiscoverySource{ch: make(chan external.DiscoveryEvent, 1)}
	reg.Run(source)
	return reg, source
}

func TestList_EmptyRegistryReturnsEmptyArray(t *testing.T) {
	reg, _ := newTestRegistry(t)
	router := New(reg)

	srv := httptest.NewServer(router.Routes())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body []RendererResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Empty(t, body)
}

func TestGet_UnknownUUIDReturns404(t *testing.T) {
	reg, _ := newTestRegistry(t)
	router := New(reg)
	srv := httptest.NewServer(router.Routes())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/uuid:nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestList_ReportsDiscoveredRenderer(t *testing.T) {
	renderer := newTestRenderer(t)
	reg, source := newTestRegistry(t)
	router := New(reg)
	srv := httptest.NewServer(router.Routes())
	t.Cleanup(srv.Close)

	source.ch <- external.DiscoveryEvent{Kind: external.DeviceDiscovered, Device: external.DiscoveredDevice{
		Location: renderer.URL + "/description.xml", USN: "uuid:kitchen",
	}}

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body []RendererResponse
		json.NewDecoder(resp.Body).Decode(&body)
		return len(body) == 1 && body[0].FriendlyName == "Kitchen Speaker"
	}, time.Second, 10*time.Millisecond)
}

func TestRemove_UnknownUUIDReturns404(t *testing.T) {
	reg, _ := newTestRegistry(t)
	router := New(reg)
	srv := httptest.NewServer(router.Routes())
	t.Cleanup(srv.Close)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/uuid:nope", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
