package protocol

import (
	"fmt"
	"regexp"
	"strings"
)

var validHex = regexp.MustCompile(`^[0-9A-F]+$`)

// ParseSerial normalizes a hex serial number from various formats to
// colon-separated uppercase hex.
// Supports: "04:ab:cd:ef", "04ABCDEF", "04 AB CD EF", "04-AB-CD-EF"
// Returns: "04:AB:CD:EF"
func ParseSerial(serial string) (string, error) {
	if serial == "" {
		return "", fmt.Errorf("empty serial number")
	}

	cleaned := strings.NewReplacer(":", "", " ", "", "-", "").Replace(serial)
	cleaned = strings.ToUpper(cleaned)

	if !validHex.MatchString(cleaned) {
		return "", fmt.Errorf("serial number contains invalid characters: %s", serial)
	}
	if len(cleaned)%2 != 0 {
		return "", fmt.Errorf("serial number has odd number of hex characters: %s", serial)
	}

	var result strings.Builder
	for i := 0; i < len(cleaned); i += 2 {
		if i > 0 {
			result.WriteByte(':')
		}
		result.WriteString(cleaned[i : i+2])
	}
	return result.String(), nil
}

// NormalizeSerial returns the ParseSerial form of serial, or serial unchanged
// when it is not hex. Some hosts report opaque serial strings.
func NormalizeSerial(serial string) string {
	if parsed, err := ParseSerial(serial); err == nil {
		return parsed
	}
	return serial
}
