package store

import "strings"

// NormalizeKey derives a storage key from an email address: trimmed,
// lowercased, with every character outside [a-z0-9] replaced by an
// underscore. The result contains only characters the function maps to
// themselves, so applying it twice yields the same key. Every read and write
// path that takes an email must go through this.
func NormalizeKey(email string) string {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ConversationID builds the composite conversation identifier from the
// customer's email and the listing id. Stable across storage backends.
func ConversationID(customerEmail, listingID string) string {
	return NormalizeKey(customerEmail) + "_" + NormalizeKey(listingID)
}
