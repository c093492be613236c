// Package broadcast fans real-time session events out to browsers subscribed to private
// per-user channels, optionally across API instances through Redis.
package broadcast

import (
	"strings"
	"time"
)

const privatePrefix = "private-"

// ChannelName returns the private channel of a local user.
func ChannelName(namespace, userID string) string {
	return privatePrefix + namespace + "." + userID
}

// ChannelUserID extracts the user id following the last '.' of a private channel name.
func ChannelUserID(channel string) (string, bool) {
	if !strings.HasPrefix(channel, privatePrefix) {
		return "", false
	}
	idx := strings.LastIndex(channel, ".")
	if idx < 0 || idx == len(channel)-1 {
		return "", false
	}
	return channel[idx+1:], true
}

// Message is one event addressed to a channel.
type Message struct {
	Channel string         `json:"channel"`
	Event   string         `json:"event"`
	Data    map[string]any `json:"data"`
	SentAt  time.Time      `json:"sent_at"`
	// Origin names the publishing instance so relays can skip their own echoes.
	Origin string `json:"origin,omitempty"`
}
