package scheduler

import (
	"math/rand"
	"strconv"
)

// newRunID generates a 12-digit decimal run identifier with a non-zero
// leading digit. Ids are advisory: collision handling is the caller's
// concern, not the engine's.
func newRunID() string {
	// Uniform over [100000000000, 999999999999].
	n := int64(100000000000) + rand.Int63n(900000000000)
	return strconv.FormatInt(n, 10)
}
