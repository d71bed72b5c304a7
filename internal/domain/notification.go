package domain

import "time"

// Channel is a delivery medium with its own payload shape and
// availability precondition (phone for sms/whatsapp, address for email).
type Channel string

const (
	ChannelPush     Channel = "push"
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelPush, ChannelSMS, ChannelEmail, ChannelWhatsApp:
		return true
	}
	return false
}

// AllChannels is the default channel set when a dispatch request names none.
var AllChannels = []Channel{ChannelPush, ChannelSMS, ChannelEmail, ChannelWhatsApp}

// RecipientType is the logical recipient descriptor resolved by the dispatcher.
type RecipientType string

const (
	RecipientUser    RecipientType = "user"
	RecipientAcademy RecipientType = "academy"
	RecipientRole    RecipientType = "role"
)

func (r RecipientType) IsValid() bool {
	switch r {
	case RecipientUser, RecipientAcademy, RecipientRole:
		return true
	}
	return false
}

// Notification is one persisted message addressed to one resolved user.
// Sent=true means dispatch was at least queued on every requested channel
// that had usable contact data; a later channel failure does not unset it.
type Notification struct {
	ID            string            `json:"id"`
	RecipientType RecipientType     `json:"recipient_type"`
	RecipientRef  string            `json:"recipient_ref"`
	UserID        string            `json:"user_id"`
	Title         string            `json:"title"`
	Body          string            `json:"body"`
	Channels      []Channel         `json:"channels"`
	Priority      Priority          `json:"priority"`
	Data          map[string]string `json:"data,omitempty"`
	Sent          bool              `json:"sent"`
	SentAt        *time.Time        `json:"sent_at,omitempty"`
	Error         *string           `json:"error,omitempty"`
	IsRead        bool              `json:"is_read"`
	ReadAt        *time.Time        `json:"read_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// DispatchInput is the request handed to the dispatcher by business flows.
type DispatchInput struct {
	RecipientType RecipientType     `json:"recipient_type"`
	RecipientID   string            `json:"recipient_id"`
	Roles         []string          `json:"roles,omitempty"`
	Title         string            `json:"title"`
	Body          string            `json:"body"`
	Channels      []Channel         `json:"channels,omitempty"`
	Priority      Priority          `json:"priority,omitempty"`
	Data          map[string]string `json:"data,omitempty"`
}

func (in *DispatchInput) Validate() error {
	if !in.RecipientType.IsValid() {
		return ErrInvalidRecipientType
	}
	if in.RecipientType == RecipientRole {
		if len(in.Roles) == 0 {
			return ErrNoRolesGiven
		}
	} else if in.RecipientID == "" {
		return ErrInvalidRecipient
	}
	if in.Title == "" || in.Body == "" {
		return ErrEmptyMessage
	}
	if in.Priority != "" && !in.Priority.IsValid() {
		return ErrInvalidPriority
	}
	for _, ch := range in.Channels {
		if !ch.IsValid() {
			return ErrInvalidChannel
		}
	}
	return nil
}
