// Package external defines the narrow collaborator contracts SPEC_FULL.md
// §6 treats as out-of-scope: SSDP discovery, the device profile
// repository, the host session manager / media source resolver, and the
// DIDL-Lite / StreamInfo builders. This repository only supplies inputs
// to, and consumes outputs from, these contracts.
package external

import (
	"context"

	"github.com/dlnacast/engine/model"
)

// DeviceInfo is the subset of a device description used for profile
// matching (SPEC_FULL.md §6.2).
type DeviceInfo struct {
	FriendlyName     string
	Manufacturer     string
	ManufacturerURL  string
	ModelDescription string
	ModelName        string
	ModelNumber      string
	ModelURL         string
	SerialNumber     string
}

// DeviceProfile narrows what a renderer can play and how item metadata
// must be shaped for it.
type DeviceProfile struct {
	ID                  string
	Name                string
	SupportedMediaTypes []model.MediaType
	RequiresEncodedMeta bool
}

// Supports reports whether the profile lists mt among its supported media
// types.
func (p *DeviceProfile) Supports(mt model.MediaType) bool {
	if p == nil {
		return true
	}
	for _, t := range p.SupportedMediaTypes {
		if t == mt {
			return true
		}
	}
	return false
}

// ProfileRepository resolves a device's profile, matching DeviceInfo
// fields case-insensitively (every non-empty DeviceInfo field must match;
// empty input fields never match), per SPEC_FULL.md §6.2.
type ProfileRepository interface {
	GetProfile(info DeviceInfo, protocolInfo string, autoCreate bool) (*DeviceProfile, error)
	DeleteProfile(id string) error
}

// LibraryItem is what the host application's media library resolves an
// item id to.
type LibraryItem struct {
	ItemID        string
	Title         string
	Artist        string
	Album         string
	MediaType     model.MediaType
	DurationTicks int64
}

// LibraryResolver resolves item ids to LibraryItems, the "media source
// resolver" external collaborator of SPEC_FULL.md §6.3.
type LibraryResolver interface {
	Resolve(ctx context.Context, itemIDs []string) ([]LibraryItem, error)
}

// StreamInfo is what the stream builder produces for one LibraryItem.
type StreamInfo struct {
	URL             string
	ContentFeatures string
	IsDirectStream  bool
	DurationTicks   int64
}

// StreamBuilder builds a playable URL for a library item against a device
// profile, at a given start position and stream-index selection. A nil
// StreamInfo.URL (empty string) means "unsupported/unroutable"; the
// caller drops the item silently.
type StreamBuilder interface {
	BuildStream(ctx context.Context, item LibraryItem, profile *DeviceProfile, positionTicks int64, audioIdx, subIdx int) (StreamInfo, error)
	BuildImageURL(ctx context.Context, item LibraryItem) (string, error)
}

// DIDLBuilder formats one item's metadata as a DIDL-Lite XML fragment.
type DIDLBuilder interface {
	Build(item LibraryItem, stream StreamInfo) string
}

// DiscoveredDevice is one SSDP sighting.
type DiscoveredDevice struct {
	Location string
	Endpoint string
	USN      string
	Headers  map[string]string
}

// DiscoveryEventKind distinguishes arrival from departure.
type DiscoveryEventKind string

const (
	DeviceDiscovered DiscoveryEventKind = "Discovered"
	DeviceLeft       DiscoveryEventKind = "Left"
)

// DiscoveryEvent is one event from a DiscoverySource.
type DiscoveryEvent struct {
	Kind   DiscoveryEventKind
	Device DiscoveredDevice
}

// DiscoverySource is the out-of-scope SSDP discovery collaborator of
// SPEC_FULL.md §6.1, modeled as a channel of events.
type DiscoverySource interface {
	Events() <-chan DiscoveryEvent
}

// PlaybackInfo is passed to the host session manager's progress callbacks.
type PlaybackInfo struct {
	SessionID     string
	ItemID        string
	PositionTicks int64
	IsPaused      bool
}

// Host is the host application's session manager / media source resolver
// collaborator of SPEC_FULL.md §6.3.
type Host interface {
	LogSessionActivity(sessionID string)
	ReportCapabilities(sessionID string, commands []string)
	OnPlaybackStart(info PlaybackInfo)
	OnPlaybackProgress(info PlaybackInfo)
	OnPlaybackStopped(info PlaybackInfo)
	ReportSessionEnded(sessionID string)
}
