// Package payload defines one concrete payload type per job kind and a
// codec keyed by queue name. Malformed payloads surface as
// domain.ValidationError at dequeue time, never as a worker crash.
package payload

import (
	"encoding/json"

	"github.com/courtbook/relay/internal/domain"
)

// Payload is implemented by every job payload type.
type Payload interface {
	Validate() error
}

// MediaMove relocates a published listing's media objects to their
// permanent location. Re-moving an already-moved object is a no-op.
type MediaMove struct {
	ListingID  string   `json:"listing_id"`
	SourceKeys []string `json:"source_keys"`
	DestPrefix string   `json:"dest_prefix"`
}

func (p *MediaMove) Validate() error {
	switch {
	case p.ListingID == "":
		return &domain.ValidationError{Queue: domain.QueueMediaMove, Reason: "listing_id is required"}
	case len(p.SourceKeys) == 0:
		return &domain.ValidationError{Queue: domain.QueueMediaMove, Reason: "source_keys must not be empty"}
	case p.DestPrefix == "":
		return &domain.ValidationError{Queue: domain.QueueMediaMove, Reason: "dest_prefix is required"}
	}
	return nil
}

// Thumbnail generates a resized rendition of one media object.
type Thumbnail struct {
	ListingID string `json:"listing_id"`
	SourceKey string `json:"source_key"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

func (p *Thumbnail) Validate() error {
	switch {
	case p.ListingID == "":
		return &domain.ValidationError{Queue: domain.QueueThumbnail, Reason: "listing_id is required"}
	case p.SourceKey == "":
		return &domain.ValidationError{Queue: domain.QueueThumbnail, Reason: "source_key is required"}
	case p.Width < 0 || p.Height < 0:
		return &domain.ValidationError{Queue: domain.QueueThumbnail, Reason: "dimensions must not be negative"}
	}
	return nil
}

// PayoutBank submits updated bank details for one payout account to the
// third-party payout API.
type PayoutBank struct {
	AccountID string `json:"account_id"`
}

func (p *PayoutBank) Validate() error {
	if p.AccountID == "" {
		return &domain.ValidationError{Queue: domain.QueuePayoutBank, Reason: "account_id is required"}
	}
	return nil
}

// Delivery carries one channel's rendering of a notification.
type Delivery struct {
	NotificationID string            `json:"notification_id"`
	Channel        domain.Channel    `json:"channel"`
	To             string            `json:"to"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Data           map[string]string `json:"data,omitempty"`
}

func (p *Delivery) Validate() error {
	q := domain.DeliveryQueue(p.Channel)
	switch {
	case !p.Channel.IsValid():
		return &domain.ValidationError{Queue: "delivery", Reason: "unknown channel"}
	case p.NotificationID == "":
		return &domain.ValidationError{Queue: q, Reason: "notification_id is required"}
	case p.To == "" && p.Channel != domain.ChannelPush:
		return &domain.ValidationError{Queue: q, Reason: "recipient address is required"}
	}
	return nil
}

// Decode parses and validates the payload for the given queue.
// Unknown queue names and malformed JSON both come back as
// domain.ValidationError so the worker fails the job terminally.
func Decode(queue string, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch queue {
	case domain.QueueMediaMove:
		p = &MediaMove{}
	case domain.QueueThumbnail:
		p = &Thumbnail{}
	case domain.QueuePayoutBank:
		p = &PayoutBank{}
	default:
		if isDeliveryQueue(queue) {
			p = &Delivery{}
			break
		}
		return nil, &domain.ValidationError{Queue: queue, Reason: "no payload type registered"}
	}

	if err := json.Unmarshal(raw, p); err != nil {
		return nil, &domain.ValidationError{Queue: queue, Reason: err.Error()}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func isDeliveryQueue(queue string) bool {
	for _, ch := range domain.AllChannels {
		if queue == domain.DeliveryQueue(ch) {
			return true
		}
	}
	return false
}
