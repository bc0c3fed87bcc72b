package types

import "time"

// ItemID is the stable key associating annotations with a logical video item.
// Platform-qualified when an adapter can extract a native id, otherwise a
// hash of the normalized page URL under the "web" platform.
type ItemID struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
}

// Key returns the canonical storage key, e.g. "youtube:dQw4w9WgXcQ".
func (i ItemID) Key() string { return i.Platform + ":" + i.ID }

func (i ItemID) String() string { return i.Key() }

// IsZero reports whether no item has been identified.
func (i ItemID) IsZero() bool { return i.Platform == "" && i.ID == "" }

// Marker categories. Free-form strings are allowed; these are the ones the
// agent itself produces.
const (
	CategoryVoice  = "voice"
	CategoryManual = "manual"
)

// Marker is one timestamped annotation. Marker data is authoritative: the
// rendered node on the scrubber is a projection that may be destroyed and
// recreated any number of times without touching this record.
type Marker struct {
	ID        string    `json:"id"`
	ItemKey   string    `json:"item_key"`
	Position  float64   `json:"position"` // seconds from media start
	Category  string    `json:"category"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}
