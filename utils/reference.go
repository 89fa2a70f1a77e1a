package utils

import (
	"strings"

	"github.com/google/uuid"
)

// Reference prefixes sent to providers as tx_ref.
const (
	OrderReferencePrefix  = "ORD_"
	WalletReferencePrefix = "WAL_"
)

// NewReference returns prefix followed by 24 upper-case hex characters.
func NewReference(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + strings.ToUpper(id[:24])
}
