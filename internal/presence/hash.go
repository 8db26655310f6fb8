package presence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/hearthchat/hearth/internal/domain"
)

// hashBuddyList computes a structural digest of the serialized user list.
// Two snapshots with the same serialized form hash identically, which is
// what gates redundant broadcasts.
func hashBuddyList(users []domain.SafeUser) (string, error) {
	data, err := json.Marshal(users)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
