package domain

// DeliveryMessage is an item on the in-process express queue.
// It is never persisted: a crash loses anything still queued, which is
// acceptable because this path only carries immediately re-issuable
// content such as one-time codes.
type DeliveryMessage struct {
	To       string            `json:"to"`
	Body     string            `json:"body"`
	Priority Priority          `json:"priority"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
