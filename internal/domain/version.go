package domain

import "strings"

// retificationKeys are the per-origin spellings under which a re-certified
// import declaration carries its revision number.
var retificationKeys = []string{
	"retificationNumber",  // live API
	"retification_number", // replica
	"nr_retification",     // legacy cache
}

// ResolveVersion extracts the optional revision key distinguishing
// re-certified documents. Only import declarations mine a retification number
// from origin-specific keys; every other kind propagates an explicit version
// field verbatim when one is present. Empty strings normalize to absent.
func ResolveVersion(kind DocumentKind, payload Payload) string {
	if kind == KindImportDeclaration {
		for _, key := range retificationKeys {
			if v := strings.TrimSpace(payload.String(key)); v != "" {
				return v
			}
		}
	}
	return strings.TrimSpace(payload.String("version"))
}
