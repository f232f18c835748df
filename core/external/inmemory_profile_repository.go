package external

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dlnacast/engine/model"
	"github.com/dlnacast/engine/model/id"
)

// InMemoryProfileRepository is a minimal ProfileRepository sufficient for
// tests and for a host that has not wired a real one, per SPEC_FULL.md
// §6.2. Matching is case-insensitive substring matching over every
// non-empty DeviceInfo field; all non-empty fields must match.
type InMemoryProfileRepository struct {
	mu       sync.RWMutex
	profiles map[string]*DeviceProfile
	matches  map[string]DeviceInfo
}

// NewInMemoryProfileRepository returns an empty repository that always
// falls back to a generic profile when autoCreate is true.
func NewInMemoryProfileRepository() *InMemoryProfileRepository {
	return &InMemoryProfileRepository{
		profiles: map[string]*DeviceProfile{},
		matches:  map[string]DeviceInfo{},
	}
}

// Register associates a profile with a matching criteria; an empty field
// in match never matches (the caller must specify what it cares about).
func (r *InMemoryProfileRepository) Register(profile *DeviceProfile, match DeviceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.ID] = profile
	r.matches[profile.ID] = match
}

func (r *InMemoryProfileRepository) GetProfile(info DeviceInfo, protocolInfo string, autoCreate bool) (*DeviceProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, match := range r.matches {
		if matches(match, info) {
			return r.profiles[id], nil
		}
	}

	if !autoCreate {
		return nil, fmt.Errorf("no profile matches device %q", info.FriendlyName)
	}

	return &DeviceProfile{
		ID:   id.NewRandom(),
		Name: "Generic DLNA Renderer",
		SupportedMediaTypes: []model.MediaType{
			model.MediaAudio, model.MediaVideo, model.MediaPhoto,
		},
	}, nil
}

func (r *InMemoryProfileRepository) DeleteProfile(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.profiles, id)
	delete(r.matches, id)
	return nil
}

func matches(criteria, info DeviceInfo) bool {
	fields := [][2]string{
		{criteria.FriendlyName, info.FriendlyName},
		{criteria.Manufacturer, info.Manufacturer},
		{criteria.ManufacturerURL, info.ManufacturerURL},
		{criteria.ModelDescription, info.ModelDescription},
		{criteria.ModelName, info.ModelName},
		{criteria.ModelNumber, info.ModelNumber},
		{criteria.ModelURL, info.ModelURL},
		{criteria.SerialNumber, info.SerialNumber},
	}
	matchedAny := false
	for _, f := range fields {
		if f[0] == "" {
			continue
		}
		if !strings.Contains(strings.ToLower(f[1]), strings.ToLower(f[0])) {
			return false
		}
		matchedAny = true
	}
	return matchedAny
}
