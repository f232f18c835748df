package model

// MediaType distinguishes the three payload shapes the Playlist Controller
// understands; photos get slideshow timing instead of transport events.
type MediaType string

const (
	MediaAudio MediaType = "Audio"
	MediaVideo MediaType = "Video"
	MediaPhoto MediaType = "Photo"
)

// CurrentMedia is what the renderer reports (via event or poll) as loaded.
// Equality is on URL; an empty URL means "nothing loaded".
type CurrentMedia struct {
	ItemID string
	URL    string
	Title  string
}

// Empty reports whether this represents "no media loaded".
func (m CurrentMedia) Empty() bool { return m.URL == "" }

// SameItem reports whether two CurrentMedia values refer to the same
// loaded resource.
func (m CurrentMedia) SameItem(other CurrentMedia) bool {
	return m.URL == other.URL
}

// MediaData is the request shape handed to a Device Session to load (or
// reposition within) a piece of media, per the media change protocol.
type MediaData struct {
	URL            string
	Headers        map[string]string
	Metadata       string
	MediaType      MediaType
	ResetPlayback  bool
	PositionTicks  int64
	IsDirectStream bool
}
