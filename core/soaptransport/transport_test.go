package soaptransport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlnacast/engine/model"
)

func TestInvoke_SuccessFlattensResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `"urn:schemas-upnp-org:service:AVTransport:1#Play"`, r.Header.Get("SOAPACTION"))
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(`<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <u:PlayResponse xmlns:u="urn:schemas-upnp-org:service:AVTransport:1"></u:PlayResponse>
  </s:Body>
</s:Envelope>`))
	}))
	defer srv.Close()

	tr := New(5*time.Second, "test-agent/1.0")
	service := model.ServiceDescription{
		ServiceType: "urn:schemas-upnp-org:service:AVTransport:1",
		ControlURL:  srv.URL,
	}
	schema := model.NewActionSchema()

	res, err := tr.Invoke(t.Context(), service, schema, "Play", []ArgValue{
		{Arg: model.ActionArgument{Name: "InstanceID"}, Value: "0"},
		{Arg: model.ActionArgument{Name: "Speed"}, Value: "1"},
	}, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.RoundTrip, time.Duration(0))
}

func TestInvoke_SendsContentFeaturesAndTransferModeHeaders(t *testing.T) {
	var gotContentFeatures, gotTransferMode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentFeatures = r.Header.Get("contentFeatures.dlna.org")
		gotTransferMode = r.Header.Get("transferMode.dlna.org")
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><u:SetAVTransportURIResponse xmlns:u="urn:schemas-upnp-org:service:AVTransport:1"></u:SetAVTransportURIResponse></s:Body></s:Envelope>`))
	}))
	defer srv.Close()

	tr := New(5*time.Second, "test-agent/1.0")
	service := model.ServiceDescription{
		ServiceType: "urn:schemas-upnp-org:service:AVTransport:1",
		ControlURL:  srv.URL,
	}
	schema := model.NewActionSchema()

	_, err := tr.Invoke(t.Context(), service, schema, "SetAVTransportURI", []ArgValue{
		{Arg: model.ActionArgument{Name: "InstanceID"}, Value: "0"},
	}, map[string]string{"contentFeatures.dlna.org": "DLNA.ORG_PN=MP3"})
	require.NoError(t, err)
	assert.Equal(t, "DLNA.ORG_PN=MP3", gotContentFeatures)
	assert.Equal(t, "Streaming", gotTransferMode)
}

func TestInvoke_FaultParsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`<s:Envelope><s:Body><s:Fault><detail><UPnPError><errorCode>701</errorCode><errorDescription>NoSuchObject</errorDescription></UPnPError></detail></s:Fault></s:Body></s:Envelope>`))
	}))
	defer srv.Close()

	tr := New(5*time.Second, "")
	service := model.ServiceDescription{ServiceType: "urn:x", ControlURL: srv.URL}
	schema := model.NewActionSchema()

	_, err := tr.Invoke(t.Context(), service, schema, "Seek", nil, nil)
	require.Error(t, err)
	assert.Equal(t, model.ErrKindSoapFault, model.KindOf(err))
	var fault *model.SoapFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, 701, fault.Code)
}

func TestSubscribe_ReturnsSID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SUBSCRIBE", r.Method)
		w.Header().Set("SID", "uuid:abc-123")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := New(5*time.Second, "")
	service := model.ServiceDescription{EventSubURL: srv.URL}

	sid, err := tr.Subscribe(t.Context(), service, "http://host/cb", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "uuid:abc-123", sid)
}

func TestFetchXML_DecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<root><value>42</value></root>`)
	}))
	defer srv.Close()

	tr := New(5*time.Second, "")
	var dest struct {
		Value string `xml:"value"`
	}
	err := tr.FetchXML(t.Context(), srv.URL, &dest)
	require.NoError(t, err)
	assert.Equal(t, "42", dest.Value)
}
