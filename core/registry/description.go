package registry

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/dlnacast/engine/model"
)

// errNotMediaRenderer means a discovered device's root description exists
// and parses, but its deviceType is not a MediaRenderer.
var errNotMediaRenderer = errors.New("device is not a MediaRenderer")

const mediaRendererTypePrefix = "urn:schemas-upnp-org:device:MediaRenderer:"

var (
	macAddressPattern = regexp.MustCompile(`(?:[0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}`)
	emptyGroupPattern = regexp.MustCompile(`\(\s*\)|\[\s*\]`)
)

// normalizeFriendlyName strips embedded MAC addresses (some renderers bake
// theirs into the advertised name) and the empty "()"/"[]" groups left
// behind once the MAC is gone, per SPEC_FULL.md §4.5.
func normalizeFriendlyName(name string) string {
	name = macAddressPattern.ReplaceAllString(name, "")
	name = emptyGroupPattern.ReplaceAllString(name, "")
	return strings.Join(strings.Fields(name), " ")
}

type descriptionDoc struct {
	Device struct {
		DeviceType   string `xml:"deviceType"`
		FriendlyName string `xml:"friendlyName"`
		Manufacturer string `xml:"manufacturer"`
		ModelName    string `xml:"modelName"`
		ModelNumber  string `xml:"modelNumber"`
		UDN          string `xml:"UDN"`
		ServiceList  struct {
			Service []struct {
				ServiceType string `xml:"serviceType"`
				ServiceID   string `xml:"serviceId"`
				SCPDURL     string `xml:"SCPDURL"`
				ControlURL  string `xml:"controlURL"`
				EventSubURL string `xml:"eventSubURL"`
			} `xml:"service"`
		} `xml:"serviceList"`
	} `xml:"device"`
}

var serviceTypeKind = map[string]model.ServiceKind{
	"AVTransport":      model.ServiceAVTransport,
	"RenderingControl": model.ServiceRenderingControl,
	"ConnectionManager": model.ServiceConnectionManager,
}

// parseDeviceDescription parses a UPnP root device description document
// into a model.DeviceDescription, resolving every service's relative URLs
// against location (the URL the document was fetched from), per
// SPEC_FULL.md §4.5.
func parseDeviceDescription(body []byte, location string) (model.DeviceDescription, error) {
	var doc descriptionDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return model.DeviceDescription{}, fmt.Errorf("parse device description: %w", err)
	}
	if doc.Device.UDN == "" {
		return model.DeviceDescription{}, fmt.Errorf("device description missing UDN")
	}
	if !strings.HasPrefix(doc.Device.DeviceType, mediaRendererTypePrefix) {
		return model.DeviceDescription{}, errNotMediaRenderer
	}

	base, err := url.Parse(location)
	if err != nil {
		return model.DeviceDescription{}, fmt.Errorf("parse device description location: %w", err)
	}

	desc := model.DeviceDescription{
		UDN:          doc.Device.UDN,
		FriendlyName: normalizeFriendlyName(doc.Device.FriendlyName),
		Manufacturer: doc.Device.Manufacturer,
		ModelName:    doc.Device.ModelName,
		ModelNumber:  doc.Device.ModelNumber,
		BaseURL:      base.Scheme + "://" + base.Host,
		Services:     map[model.ServiceKind]model.ServiceDescription{},
	}

	for _, svc := range doc.Device.ServiceList.Service {
		kind, ok := kindOfServiceType(svc.ServiceType)
		if !ok {
			continue
		}
		desc.Services[kind] = model.ServiceDescription{
			Kind:        kind,
			ServiceType: svc.ServiceType,
			ServiceID:   svc.ServiceID,
			SCPDURL:     resolve(base, svc.SCPDURL),
			ControlURL:  resolve(base, svc.ControlURL),
			EventSubURL: resolve(base, svc.EventSubURL),
		}
	}
	return desc, nil
}

func kindOfServiceType(serviceType string) (model.ServiceKind, bool) {
	for suffix, kind := range serviceTypeKind {
		if strings.Contains(serviceType, ":"+suffix+":") {
			return kind, true
		}
	}
	return "", false
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
