package annotation

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
)

// DeterministicUUID returns a version 4 UUID whose random bits are drawn from
// a hash of the data row key and the annotation's position in its label.
// Serializing the same label twice yields the same uuids.
func DeterministicUUID(dataRowKey string, index int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%v\x00%v", dataRowKey, index)))
	id, err := uuid.NewRandomFromReader(bytes.NewReader(h[:16]))
	if err != nil {
		// Only possible if the reader runs dry, and 16 bytes is exactly enough
		panic(err)
	}
	return id.String()
}

// IsUUID is true if s parses as a UUID
func IsUUID(s string) bool {
	return uuid.Validate(s) == nil
}
