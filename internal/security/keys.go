package security

import (
	"regexp"
	"strings"
)

const (
	// KeyPrefix is the product prefix every license key starts with.
	KeyPrefix = "PRO"

	keySegments   = 5
	maskedSegment = "****"
)

var keyFormat = regexp.MustCompile(`^PRO-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// MaskKey hides the middle of a license key so it can be shown or logged.
//
//	PRO-ABCD-EFGH-IJKL-MNOP -> PRO-ABCD-****-****-MNOP
//	ABCDEFGHIJKLMNOP        -> ABCD-****-****-MNOP
//	ABC                     -> ****
func MaskKey(key string) string {
	if key == "" {
		return "****-****-****-****"
	}

	parts := strings.Split(key, "-")
	if len(parts) == keySegments {
		return strings.Join([]string{parts[0], parts[1], maskedSegment, maskedSegment, parts[4]}, "-")
	}

	if len(key) > 8 {
		return key[:4] + "-" + maskedSegment + "-" + maskedSegment + "-" + key[len(key)-4:]
	}
	return maskedSegment
}

// ValidateKeyFormat reports whether key has the PRO-XXXX-XXXX-XXXX-XXXX shape
// with uppercase alphanumeric segments.
func ValidateKeyFormat(key string) bool {
	return keyFormat.MatchString(key)
}
