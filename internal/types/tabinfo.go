package types

// TabInfo describes a tracked browser tab as mapped from a page target.
type TabInfo struct {
	TabID    string  `json:"tab_id"`
	URL      string  `json:"url"`
	Title    string  `json:"title,omitempty"`
	Adapter  string  `json:"adapter"`
	State    string  `json:"state"`
	Item     *ItemID `json:"item,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}
