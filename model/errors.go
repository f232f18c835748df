package model

import "errors"

// ErrorKind classifies failures from the SOAP Transport and Device Session
// layers so callers can decide whether to retry, fall back, or surface a
// user-visible notification.
type ErrorKind string

const (
	ErrKindNetwork          ErrorKind = "Network"
	ErrKindMalformedXML     ErrorKind = "MalformedXML"
	ErrKindSoapFault        ErrorKind = "SoapFault"
	ErrKindDeviceUnsupported ErrorKind = "DeviceUnsupported"
	ErrKindCancelled        ErrorKind = "Cancelled"
	ErrKindHostRejected     ErrorKind = "HostRejected"
)

// SoapFault carries the renderer's own error code/description, parsed from
// a SOAP fault envelope.
type SoapFault struct {
	Kind        ErrorKind
	Code        int
	Description string
	Err         error
}

func (f *SoapFault) Error() string {
	if f.Description != "" {
		return f.Description
	}
	if f.Err != nil {
		return f.Err.Error()
	}
	return string(f.Kind)
}

func (f *SoapFault) Unwrap() error { return f.Err }

// NewError builds a plain error of the given kind wrapping cause.
func NewError(kind ErrorKind, cause error) error {
	return &SoapFault{Kind: kind, Err: cause}
}

// KindOf extracts the ErrorKind from err, defaulting to ErrKindNetwork for
// errors this package did not itself produce.
func KindOf(err error) ErrorKind {
	var f *SoapFault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ErrKindNetwork
}

// ErrNotFound is returned by repositories when a lookup misses.
var ErrNotFound = errors.New("not found")

// ErrDeviceNotFound is returned when a UUID has no live session.
var ErrDeviceNotFound = errors.New("device not found")
