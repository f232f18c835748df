package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceDescription_RejectsNonMediaRenderer(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
    <friendlyName>Some NAS</friendlyName>
    <UDN>uuid:nas-box</UDN>
  </device>
</root>`)

	_, err := parseDeviceDescription(body, "http://192.168.1.10:8200/description.xml")
	require.ErrorIs(t, err, errNotMediaRenderer)
}

func TestParseDeviceDescription_NormalizesFriendlyName(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
    <friendlyName>Living Room TV (AA:BB:CC:DD:EE:FF)</friendlyName>
    <UDN>uuid:living-room</UDN>
  </device>
</root>`)

	desc, err := parseDeviceDescription(body, "http://192.168.1.20:7676/description.xml")
	require.NoError(t, err)
	assert.Equal(t, "Living Room TV", desc.FriendlyName)
}

func TestNormalizeFriendlyName(t *testing.T) {
	cases := map[string]string{
		"Living Room TV (AA:BB:CC:DD:EE:FF)": "Living Room TV",
		"Bedroom [A1-B2-C3-D4-E5-F6]":        "Bedroom",
		"Kitchen Speaker":                    "Kitchen Speaker",
		"  Extra   Spaces  ":                 "Extra Spaces",
	}
	for input, want := range cases {
		assert.Equal(t, want, normalizeFriendlyName(input), input)
	}
}
