package delivery

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// newDeliveryID generates a deliveryId in the spec's cross-language stable
// format: "del_" + decimal(unixNanos) + "_" + 8 random base62 characters.
func newDeliveryID(now time.Time) string {
	return fmt.Sprintf("del_%s_%s", strconv.FormatInt(now.UnixNano(), 10), base62Random(8))
}

func base62Random(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(base62Alphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing is unrecoverable; a zero-filled id is
			// still unique-enough given the nanosecond-timestamp prefix.
			b[i] = base62Alphabet[0]
			continue
		}
		b[i] = base62Alphabet[idx.Int64()]
	}
	return string(b)
}
