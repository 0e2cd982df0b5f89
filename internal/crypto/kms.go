// Package crypto seals small opaque values, such as pagination cursors, so
// clients can hand them back without being able to read or forge them.
package crypto

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// ErrMalformed is returned when a ciphertext cannot be decoded or decrypted.
var ErrMalformed = errors.New("malformed ciphertext")

// Encryptor seals and opens strings. Ciphertexts are URL-safe.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// KMSClient is the subset of *kms.Client used by KMSService.
type KMSClient interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSService implements Encryptor with a symmetric AWS KMS key.
type KMSService struct {
	client KMSClient
	keyID  string
	// purpose is bound as encryption context; a ciphertext minted for one
	// purpose does not decrypt under another.
	purpose string
}

// NewKMSService creates a KMSService. keyID can be a key ID, ARN or alias
// such as "alias/memories-cursor-key".
func NewKMSService(client KMSClient, keyID, purpose string) *KMSService {
	return &KMSService{client: client, keyID: keyID, purpose: purpose}
}

func (s *KMSService) encryptionContext() map[string]string {
	return map[string]string{"purpose": s.purpose}
}

// Encrypt returns the base64url ciphertext of plaintext.
func (s *KMSService) Encrypt(ctx context.Context, plaintext string) (string, error) {
	out, err := s.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(s.keyID),
		Plaintext:         []byte(plaintext),
		EncryptionContext: s.encryptionContext(),
	})
	if err != nil {
		return "", fmt.Errorf("kms encrypt: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(out.CiphertextBlob), nil
}

// Decrypt reverses Encrypt.
func (s *KMSService) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	blob, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	out, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob:    blob,
		KeyId:             aws.String(s.keyID),
		EncryptionContext: s.encryptionContext(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: kms decrypt: %v", ErrMalformed, err)
	}
	return string(out.Plaintext), nil
}
