package dispatch

import (
	"net/mail"
	"strings"
)

// ParseRecipients splits raw newline- or comma-separated input into a cleaned
// recipient list. Entries are trimmed, blank lines dropped, duplicates
// removed case-insensitively, and syntactically invalid addresses returned
// separately so the caller can report them without aborting the batch.
func ParseRecipients(raw string) (valid, invalid []string) {
	seen := make(map[string]struct{})
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ','
	})
	for _, f := range fields {
		addr := strings.TrimSpace(f)
		if addr == "" {
			continue
		}
		key := strings.ToLower(addr)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, err := mail.ParseAddress(addr); err != nil {
			invalid = append(invalid, addr)
			continue
		}
		valid = append(valid, addr)
	}
	return valid, invalid
}
