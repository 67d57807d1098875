package ledger

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// normalizeText trims surrounding whitespace and applies NFC so visually
// identical input produces identical state on every replica.
func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
