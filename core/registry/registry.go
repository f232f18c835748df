// Package registry implements the Session Registry: it consumes discovery
// sightings, resolves each renderer's device profile, constructs and
// disposes its Device Session and Playlist Controller, and demuxes GENA
// event NOTIFYs to the right session by id.
//
// Grounded on server/sonos_cast/discovery.go (SSDP scan -> device
// description fetch -> cache lifecycle) and server/dlna/dlna.go's
// Router (mu sync.RWMutex guarding a running flag and a lifecycle
// context/cancel pair).
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dlnacast/engine/core/devicesession"
	"github.com/dlnacast/engine/core/external"
	"github.com/dlnacast/engine/core/playlist"
	"github.com/dlnacast/engine/core/soaptransport"
	"github.com/dlnacast/engine/log"
	"github.com/dlnacast/engine/model"
	"github.com/dlnacast/engine/model/id"
)

// Config carries the tunables of SPEC_FULL.md §6.6 relevant to the
// registry and the sessions/controllers it constructs.
type Config struct {
	CommunicationTimeout     time.Duration
	DevicePollingInterval    time.Duration
	QueueProcessingInterval  time.Duration
	UserAgent                string
	CallbackBaseURL          string
	PhotoTransitionalTimeout time.Duration
	MaxResumePct             float64
}

// entry is one live renderer binding.
type entry struct {
	uuid       string
	sessionID  string
	desc       model.DeviceDescription
	profile    *external.DeviceProfile
	session    *devicesession.Session
	controller *playlist.Controller
}

// Registry is the Session Registry. One process runs exactly one; it owns
// every live Device Session and Playlist Controller.
type Registry struct {
	mu          sync.RWMutex
	byUUID      map[string]*entry
	bySessionID map[string]*entry

	transport *soaptransport.Transport
	profiles  external.ProfileRepository
	pairings  model.DevicePairingRepository
	host      external.Host
	resolver  external.LibraryResolver
	streamer  external.StreamBuilder
	didl      external.DIDLBuilder
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an idle Registry. Call Run with a DiscoverySource to
// start consuming sightings.
func New(parent context.Context, transport *soaptransport.Transport, profiles external.ProfileRepository, pairings model.DevicePairingRepository, host external.Host, resolver external.LibraryResolver, streamer external.StreamBuilder, didl external.DIDLBuilder, cfg Config) *Registry {
	ctx, cancel := context.WithCancel(parent)
	return &Registry{
		byUUID:      map[string]*entry{},
		bySessionID: map[string]*entry{},
		transport:   transport,
		profiles:    profiles,
		pairings:    pairings,
		host:        host,
		resolver:    resolver,
		streamer:    streamer,
		didl:        didl,
		cfg:         cfg,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run consumes discovery events until the registry's context is cancelled.
// It returns immediately; the consuming loop runs on its own goroutine.
func (r *Registry) Run(source external.DiscoverySource) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.ctx.Done():
				return
			case ev, ok := <-source.Events():
				if !ok {
					return
				}
				switch ev.Kind {
				case external.DeviceDiscovered:
					r.handleDiscovered(ev.Device)
				case external.DeviceLeft:
					r.handleLeft(ev.Device)
				}
			}
		}
	}()
}

// Shutdown tears down every live session and stops the discovery consumer.
func (r *Registry) Shutdown() {
	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	entries := make([]*entry, 0, len(r.byUUID))
	for _, e := range r.byUUID {
		entries = append(entries, e)
	}
	r.byUUID = map[string]*entry{}
	r.bySessionID = map[string]*entry{}
	r.mu.Unlock()

	for _, e := range entries {
		r.dispose(e)
	}
}

func (r *Registry) handleDiscovered(dev external.DiscoveredDevice) {
	ctx, cancel := context.WithTimeout(r.ctx, r.communicationTimeout())
	defer cancel()

	body, err := r.transport.FetchRaw(ctx, dev.Location)
	if err != nil {
		log.Warn(r.ctx, "failed to fetch device description", "location", dev.Location, err)
		return
	}
	desc, err := parseDeviceDescription(body, dev.Location)
	if err != nil {
		if errors.Is(err, errNotMediaRenderer) {
			log.Debug(r.ctx, "ignoring non-MediaRenderer device", "location", dev.Location)
		} else {
			log.Warn(r.ctx, "failed to parse device description", "location", dev.Location, err)
		}
		return
	}

	r.mu.RLock()
	existing, exists := r.byUUID[desc.UDN]
	r.mu.RUnlock()
	if exists {
		if existing.desc.BaseURL != desc.BaseURL {
			log.Info(r.ctx, "renderer base URL changed, refreshing session", "uuid", desc.UDN, "old", existing.desc.BaseURL, "new", desc.BaseURL)
			existing.session.UpdateDescription(desc)
			r.mu.Lock()
			existing.desc = desc
			r.mu.Unlock()
			r.upsertPairing(desc, existing.profile)
		}
		r.touchLastSeen(dev)
		return
	}

	profile, err := r.profiles.GetProfile(external.DeviceInfo{
		FriendlyName: desc.FriendlyName,
		Manufacturer: desc.Manufacturer,
		ModelName:    desc.ModelName,
		ModelNumber:  desc.ModelNumber,
	}, dev.Headers["protocolInfo"], true)
	if err != nil {
		log.Warn(r.ctx, "failed to resolve device profile", "uuid", desc.UDN, err)
		return
	}

	sessionID := id.NewRandom()

	callbacksHolder := &controllerCallbacks{}
	sess := devicesession.New(r.ctx, desc, sessionID, r.transport, callbacksHolder, devicesession.Config{
		CommunicationTimeout:    r.cfg.CommunicationTimeout,
		DevicePollingInterval:   r.cfg.DevicePollingInterval,
		QueueProcessingInterval: r.cfg.QueueProcessingInterval,
		UserAgent:               r.cfg.UserAgent,
		CallbackBaseURL:         r.cfg.CallbackBaseURL,
	})

	ctrl := playlist.New(r.ctx, sessionID, sess, profile, r.resolver, r.streamer, r.didl, r.host, playlist.Config{
		PhotoTransitionalTimeout: r.cfg.PhotoTransitionalTimeout,
		MaxResumePct:             r.cfg.MaxResumePct,
	})
	callbacksHolder.target = ctrl

	if err := sess.Start(); err != nil {
		log.Warn(r.ctx, "failed to start device session", "uuid", desc.UDN, err)
		return
	}

	e := &entry{uuid: desc.UDN, sessionID: sessionID, desc: desc, profile: profile, session: sess, controller: ctrl}
	r.mu.Lock()
	r.byUUID[desc.UDN] = e
	r.bySessionID[sessionID] = e
	r.mu.Unlock()

	r.upsertPairing(desc, profile)
	log.Info(r.ctx, "renderer bound", "uuid", desc.UDN, "name", desc.FriendlyName)
}

func (r *Registry) touchLastSeen(dev external.DiscoveredDevice) {
	if r.pairings == nil {
		return
	}
	p, err := r.pairings.GetByUUID(dev.USN)
	if err != nil || p == nil {
		return
	}
	_ = r.pairings.UpdateLastSeen(p.ID, time.Now())
}

func (r *Registry) upsertPairing(desc model.DeviceDescription, profile *external.DeviceProfile) {
	if r.pairings == nil {
		return
	}
	existing, err := r.pairings.GetByUUID(desc.UDN)
	now := time.Now()
	if err == nil && existing != nil {
		existing.FriendlyName = desc.FriendlyName
		existing.BaseURL = desc.BaseURL
		existing.ProfileID = profile.ID
		existing.LastSeenAt = now
		existing.UpdatedAt = now
		if err := r.pairings.Put(existing); err != nil {
			log.Warn(r.ctx, "failed to update device pairing", "uuid", desc.UDN, err)
		}
		return
	}

	p := &model.DevicePairing{
		ID:           id.NewRandom(),
		UUID:         desc.UDN,
		FriendlyName: desc.FriendlyName,
		BaseURL:      desc.BaseURL,
		ProfileID:    profile.ID,
		LastSeenAt:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.pairings.Put(p); err != nil {
		log.Warn(r.ctx, "failed to create device pairing", "uuid", desc.UDN, err)
	}
}

func (r *Registry) handleLeft(dev external.DiscoveredDevice) {
	r.mu.Lock()
	e, ok := r.byUUID[dev.USN]
	if ok {
		delete(r.byUUID, dev.USN)
		delete(r.bySessionID, e.sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.dispose(e)
	log.Info(r.ctx, "renderer left", "uuid", dev.USN)
}

func (r *Registry) dispose(e *entry) {
	e.controller.Dispose()
	if err := e.session.Dispose(); err != nil {
		log.Warn(r.ctx, "error disposing device session", "uuid", e.uuid, err)
	}
}

func (r *Registry) communicationTimeout() time.Duration {
	if r.cfg.CommunicationTimeout > 0 {
		return r.cfg.CommunicationTimeout
	}
	return 5 * time.Second
}

// HandleEventNotify routes a GENA NOTIFY body to the session it targets,
// per SPEC_FULL.md §6.4's event ingress.
func (r *Registry) HandleEventNotify(ctx context.Context, sessionID string, lastChangeXML string) error {
	r.mu.RLock()
	e, ok := r.bySessionID[sessionID]
	r.mu.RUnlock()
	if !ok {
		return model.ErrDeviceNotFound
	}
	e.session.HandleEvent(ctx, lastChangeXML)
	return nil
}

// Snapshot is a read-only view of one registered renderer, for the native
// API.
type Snapshot struct {
	UUID         string
	FriendlyName string
	SessionID    string
	ProfileName  string
	devicesession.Snapshot
}

// List returns a snapshot of every currently-registered renderer.
func (r *Registry) List(ctx context.Context) []Snapshot {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.byUUID))
	for _, e := range r.byUUID {
		entries = append(entries, e)
	}
	r.mu.RUnlock()
	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, r.snapshotOf(ctx, e))
	}
	return out
}

// Get returns the snapshot for one renderer by UUID.
func (r *Registry) Get(ctx context.Context, uuid string) (Snapshot, error) {
	r.mu.RLock()
	e, ok := r.byUUID[uuid]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, model.ErrDeviceNotFound
	}
	return r.snapshotOf(ctx, e), nil
}

func (r *Registry) snapshotOf(ctx context.Context, e *entry) Snapshot {
	profileName := ""
	if e.profile != nil {
		profileName = e.profile.Name
	}
	return Snapshot{
		UUID:         e.uuid,
		FriendlyName: e.desc.FriendlyName,
		SessionID:    e.sessionID,
		ProfileName:  profileName,
		Snapshot:     e.session.Snapshot(ctx),
	}
}

// Remove unregisters and disposes a renderer explicitly (the native API's
// DELETE /api/renderers/{uuid}), and deletes its pairing record.
func (r *Registry) Remove(uuid string) error {
	r.mu.Lock()
	e, ok := r.byUUID[uuid]
	if ok {
		delete(r.byUUID, uuid)
		delete(r.bySessionID, e.sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return model.ErrDeviceNotFound
	}
	r.dispose(e)

	if r.pairings != nil {
		if p, err := r.pairings.GetByUUID(uuid); err == nil && p != nil {
			_ = r.pairings.Delete(p.ID)
		}
	}
	return nil
}

// Refresh re-fetches a renderer's device description and SCPDs by
// disposing and re-discovering it, the native API's
// POST /api/renderers/{uuid}/refresh.
func (r *Registry) Refresh(uuid string) error {
	r.mu.RLock()
	e, ok := r.byUUID[uuid]
	r.mu.RUnlock()
	if !ok {
		return model.ErrDeviceNotFound
	}
	baseURL := e.desc.BaseURL
	if err := r.Remove(uuid); err != nil {
		return err
	}
	r.handleDiscovered(external.DiscoveredDevice{Location: fmt.Sprintf("%s/description.xml", baseURL), USN: uuid})
	return nil
}

// controllerCallbacks forwards devicesession.Callbacks to a
// *playlist.Controller set after construction, breaking the
// Session<->Controller construction cycle (the session must exist before
// the controller can be built, but the session needs its callbacks at
// construction time).
type controllerCallbacks struct {
	target devicesession.Callbacks
}

func (c *controllerCallbacks) OnPlaybackStart(m model.CurrentMedia) { c.target.OnPlaybackStart(m) }
func (c *controllerCallbacks) OnPlaybackProgress(m model.CurrentMedia, pos int64) {
	c.target.OnPlaybackProgress(m, pos)
}
func (c *controllerCallbacks) OnPlaybackStopped(m model.CurrentMedia, pos int64) {
	c.target.OnPlaybackStopped(m, pos)
}
func (c *controllerCallbacks) OnMediaChanged(old, new model.CurrentMedia) {
	c.target.OnMediaChanged(old, new)
}
func (c *controllerCallbacks) OnDeviceUnavailable() { c.target.OnDeviceUnavailable() }
