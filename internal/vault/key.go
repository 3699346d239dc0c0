package vault

import (
	"encoding/base64"
	"strings"

	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// ParseKey accepts a base64-encoded 32-byte key, or the 32 raw bytes.
func ParseKey(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ierrors.New(ierrors.ErrCodeInvalidKey, "encryption key is empty", nil)
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if key, err := enc.DecodeString(trimmed); err == nil && len(key) == KeySize {
			return key, nil
		}
	}
	if len(raw) == KeySize {
		return []byte(raw), nil
	}
	return nil, ierrors.New(ierrors.ErrCodeInvalidKey, "encryption key must be 32 bytes, raw or base64", nil).
		WithSuggestion("supply the per-user key as base64 of 32 random bytes")
}

func checkKey(key []byte) error {
	if len(key) != KeySize {
		return ierrors.New(ierrors.ErrCodeInvalidKey, "encryption key must be 32 bytes", nil)
	}
	return nil
}
