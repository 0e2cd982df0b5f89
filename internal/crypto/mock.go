package crypto

import (
	"context"
	"encoding/base64"
	"strings"
)

const mockPrefix = "mock:"

// MockEncryptor implements Encryptor for local development and tests. It only
// encodes; the prefix makes unsealed values easy to spot.
type MockEncryptor struct{}

func NewMockEncryptor() *MockEncryptor {
	return &MockEncryptor{}
}

func (m *MockEncryptor) Encrypt(_ context.Context, plaintext string) (string, error) {
	return base64.RawURLEncoding.EncodeToString([]byte(mockPrefix + plaintext)), nil
}

func (m *MockEncryptor) Decrypt(_ context.Context, ciphertext string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrMalformed
	}
	plaintext, ok := strings.CutPrefix(string(raw), mockPrefix)
	if !ok {
		return "", ErrMalformed
	}
	return plaintext, nil
}
