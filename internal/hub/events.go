package hub

import (
	"time"

	"github.com/hearthchat/hearth/internal/domain"
)

// Event payloads carried on the broadcast topic. chatMessage carries a
// domain.Message and buddyListUpdate a []domain.SafeUser directly.

// StatusUpdate is the payload of a userStatusUpdate event.
type StatusUpdate struct {
	UserID   string        `json:"userId"`
	Status   domain.Status `json:"status"`
	LastSeen time.Time     `json:"lastSeen"`
}
