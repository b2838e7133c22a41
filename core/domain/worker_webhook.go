package domain

// Google push notification resource states.
const (
	ResourceStateSync      = "sync"
	ResourceStateExists    = "exists"
	ResourceStateNotExists = "not_exists"
)

// WebhookNotification carries the X-Goog-* headers of one push delivery.
type WebhookNotification struct {
	ChannelID     string
	ResourceID    string
	ResourceState string
	MessageNumber string
	ChannelToken  string
}

// WatchChannel is a registered push channel.
type WatchChannel struct {
	ChannelID  string
	ResourceID string
	Expiration int64 // unix millis, as returned by Google
}
