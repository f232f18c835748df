package external

import (
	"time"
)

// StaticDiscoverySource re-announces a fixed list of device description
// URLs as synthetic discoveries, per SPEC_FULL.md §6.6's staticDevices
// escape hatch for networks where SSDP multicast doesn't reach (or isn't
// implemented, since real SSDP is out of scope here). It fires once after
// initialDelay and then every interval, so a renderer that misses the
// first announcement (still booting, still joining the LAN) is picked up
// on the next pass.
type StaticDiscoverySource struct {
	ch chan DiscoveryEvent
}

// NewStaticDiscoverySource starts a background goroutine that announces
// locations once initialDelay has passed and re-announces them every
// interval until stop is closed.
func NewStaticDiscoverySource(locations []string, initialDelay, interval time.Duration, stop <-chan struct{}) *StaticDiscoverySource {
	s := &StaticDiscoverySource{ch: make(chan DiscoveryEvent, len(locations)+1)}
	if len(locations) == 0 {
		return s
	}

	go func() {
		timer := time.NewTimer(initialDelay)
		defer timer.Stop()
		for {
			select {
			case <-stop:
				return
			case <-timer.C:
				s.announce(locations, stop)
				timer.Reset(interval)
			}
		}
	}()

	return s
}

func (s *StaticDiscoverySource) announce(locations []string, stop <-chan struct{}) {
	for _, loc := range locations {
		ev := DiscoveryEvent{Kind: DeviceDiscovered, Device: DiscoveredDevice{Location: loc, USN: loc}}
		select {
		case s.ch <- ev:
		case <-stop:
			return
		}
	}
}

// Events implements DiscoverySource.
func (s *StaticDiscoverySource) Events() <-chan DiscoveryEvent { return s.ch }
