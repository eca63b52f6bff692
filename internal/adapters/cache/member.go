package cache

import "github.com/google/uuid"

// newMember returns a unique sorted-set member so that two hits in the same
// millisecond are both counted.
func newMember() string {
	return uuid.NewString()
}
