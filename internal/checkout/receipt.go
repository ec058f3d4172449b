package checkout

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// receiptPrefix is the store chain code carried on every printed receipt.
const receiptPrefix = "GS"

// NewReceiptNumber builds a human-readable receipt number of the form
// GS-YYYYMMDD-RRRR with a zero-padded random 4-digit suffix. The suffix is a
// display convenience, not a uniqueness guarantee; the sale document id is the
// durable identifier.
func NewReceiptNumber(at time.Time) string {
	return fmt.Sprintf("%s-%s-%04d", receiptPrefix, at.Format("20060102"), rand.IntN(10000))
}
