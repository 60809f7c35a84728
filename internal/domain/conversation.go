package domain

import (
	"errors"
	"time"
)

// ErrMissingKey is returned by stores for items without a conversation or
// item id. Retrying cannot fix it.
var ErrMissingKey = errors.New("conversation id and item id are required")

// Channel tags where an inbound message came from.
type Channel string

const (
	ChannelWeb       Channel = "web"
	ChannelMessaging Channel = "messaging"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelWeb || c == ChannelMessaging
}

// ConversationTurn is a single persisted exchange unit. Turns are append-only:
// the inbound patient text and the agent reply are stored as separate turns,
// so one of UserText/AgentText is usually empty.
type ConversationTurn struct {
	ID             string
	ConversationID string
	UserID         string
	Channel        Channel
	UserText       string
	AgentText      string
	CreatedAt      time.Time
}
