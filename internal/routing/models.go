package routing

import (
	"time"

	"beacon/internal/channel"
)

// Rule overrides the default channel plan for events matching its CEL
// expression. Rules are evaluated in ascending Priority order; the first
// match wins and its channel list replaces the default plan wholesale.
type Rule struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Expression string    `json:"expression"`
	Channels   []string  `json:"channels"`
	Priority   int       `json:"priority"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Preference is a recipient's registration on one channel. A disabled
// preference removes the channel from the recipient's plans; a missing one
// leaves the channel in with an empty endpoint.
type Preference struct {
	RecipientID string    `json:"recipient_id"`
	Channel     string    `json:"channel"`
	Enabled     bool      `json:"enabled"`
	Endpoint    string    `json:"endpoint"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// defaultPlans maps each priority to its ordered channel plan.
var defaultPlans = map[string][]channel.Type{
	"urgent": {channel.TypePush, channel.TypeRealtime, channel.TypeWebhook},
	"high":   {channel.TypePush, channel.TypeRealtime},
	"normal": {channel.TypePush},
	"low":    {channel.TypePush},
}
