package email

import (
	"strings"
)

// Normalize trims and lower-cases an address for storage and lookups.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// LocalPart returns the part of an address before '@', or the whole input when
// there is none.
func LocalPart(address string) string {
	address = strings.TrimSpace(address)
	if at := strings.IndexByte(address, '@'); at > 0 {
		return address[:at]
	}
	return address
}

// DisplayName picks the account display name for a purchase: the buyer's name when
// present, otherwise the local part of the address.
func DisplayName(name *string, address string) string {
	if name != nil {
		if trimmed := strings.TrimSpace(*name); trimmed != "" {
			return trimmed
		}
	}
	return LocalPart(address)
}
