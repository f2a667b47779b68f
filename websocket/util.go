package websocket

import (
	"crypto/subtle"
	"time"

	"github.com/google/uuid"
)

// aLongTimeAgo is used to poke a blocked net.Conn read/write into returning
// immediately once a caller's context is done, per the cancellation idiom
// also used by net/http's transport.
var aLongTimeAgo = time.Unix(1, 0)

// maskBytes applies RFC 6455 §5.3 XOR masking to data starting at running
// offset pos in the logical payload, returning the new running offset mod 4.
func maskBytes(key [4]byte, pos int, data []byte) int {
	for i := range data {
		data[i] ^= key[(pos+i)%4]
	}
	return (pos + len(data)) % 4
}

// constantTimeEqual reports whether a and b are equal using a comparison
// whose running time does not depend on where they first differ, per
// spec §4.6 step 8 and the testable property in spec §8.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// newCorrelationID returns a fresh per-connection id for callers that want
// to correlate their own logging with a specific Client instance. The
// library itself never logs; this exists only to be read by a caller.
func newCorrelationID() string {
	return uuid.NewString()
}
