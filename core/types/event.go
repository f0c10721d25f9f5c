package types

// Event is the flattened representation of a state change published to
// downstream consumers (gateway read models, dashboards, indexers).
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
