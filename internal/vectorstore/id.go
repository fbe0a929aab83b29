package vectorstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateID produces a collision-resistant vector identifier combining the
// entity type, an optional entity id, a timestamp, and a random suffix.
// Repeated calls with identical arguments never collide.
func GenerateID(entityType, entityID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if entityID == "" {
		return fmt.Sprintf("%s_%d_%s", entityType, time.Now().UnixNano(), suffix)
	}
	return fmt.Sprintf("%s_%s_%d_%s", entityType, entityID, time.Now().UnixNano(), suffix)
}

// pointUUID maps a record id to a stable store point id so that re-upserting
// the same id replaces the prior record.
func pointUUID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}
