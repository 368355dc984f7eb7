package utils

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateSearchID returns an ID such as "search-20240102-150405-1a2b3c4d".
// The suffix is the random tail of a UUIDv7, so IDs created within the same
// second stay distinct.
func GenerateSearchID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	s := strings.ReplaceAll(id.String(), "-", "")
	return "search-" + time.Now().Format("20060102-150405") + "-" + s[len(s)-8:]
}

// GenerateSessionID returns a random UUID naming a results session
func GenerateSessionID() string {
	return uuid.NewString()
}
