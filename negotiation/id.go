package negotiation

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// agreementNamespace scopes name-based agreement ids.
var agreementNamespace = uuid.MustParse("6f1c2a4e-8d3b-5e7f-9a1c-2b4d6e8f0a1c")

// NewAgreementID derives an id from the caller identity and the mediation
// time. A random nonce keeps two mediations in the same nanosecond by the
// same caller apart.
func NewAgreementID(identity string, at time.Time) string {
	var nonce [8]byte
	_, _ = rand.Read(nonce[:])
	name := identity + "|" + strconv.FormatInt(at.UnixNano(), 10) + "|" + hex.EncodeToString(nonce[:])
	return uuid.NewSHA1(agreementNamespace, []byte(name)).String()
}
