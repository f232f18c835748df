package model

// ServiceKind names one of the three UPnP services this module speaks to.
type ServiceKind string

const (
	ServiceAVTransport     ServiceKind = "AVTransport"
	ServiceRenderingControl ServiceKind = "RenderingControl"
	ServiceConnectionManager ServiceKind = "ConnectionManager"
)

// ServiceDescription is one <service> entry from a device description
// document, as served by any UPnP MediaRenderer.
type ServiceDescription struct {
	Kind           ServiceKind
	ServiceType    string
	ServiceID      string
	SCPDURL        string
	ControlURL     string
	EventSubURL    string
}

// DeviceDescription is the immutable result of parsing a renderer's root
// device XML. It is replaced wholesale, never mutated, on refresh.
type DeviceDescription struct {
	UDN          string
	FriendlyName string
	Manufacturer string
	ModelName    string
	ModelNumber  string
	BaseURL      string
	Services     map[ServiceKind]ServiceDescription
}

// Service looks up one of the three known services, returning ok=false if
// the device description never advertised it.
func (d *DeviceDescription) Service(kind ServiceKind) (ServiceDescription, bool) {
	if d == nil || d.Services == nil {
		return ServiceDescription{}, false
	}
	s, ok := d.Services[kind]
	return s, ok
}
