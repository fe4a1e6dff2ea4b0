package common

import (
	"encoding/base64"
	"fmt"
)

// Message listings page through Scylla with opaque paging state. These
// helpers round-trip that state as URL-safe page tokens.

// EncodeBase64 encodes paging state into a page token.
func EncodeBase64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeBase64 decodes a page token back into paging state.
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return data, nil
}
