package crypto

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKMS "encrypts" by reversing the plaintext and records the context it saw.
type fakeKMS struct {
	lastContext map[string]string
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

func (f *fakeKMS) Encrypt(_ context.Context, in *kms.EncryptInput, _ ...func(*kms.Options)) (*kms.EncryptOutput, error) {
	f.lastContext = in.EncryptionContext
	return &kms.EncryptOutput{CiphertextBlob: append([]byte(in.EncryptionContext["purpose"]+":"), reverse(in.Plaintext)...), KeyId: in.KeyId}, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	prefix := []byte(in.EncryptionContext["purpose"] + ":")
	if !bytes.HasPrefix(in.CiphertextBlob, prefix) {
		return nil, errors.New("InvalidCiphertextException")
	}
	return &kms.DecryptOutput{Plaintext: reverse(in.CiphertextBlob[len(prefix):]), KeyId: aws.String("key")}, nil
}

func TestKMSService_RoundTrip(t *testing.T) {
	client := &fakeKMS{}
	svc := NewKMSService(client, "alias/memories-cursor-key", "cursor")
	ctx := context.Background()

	sealed, err := svc.Encrypt(ctx, `{"o":"u1"}`)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "u1")
	assert.Equal(t, map[string]string{"purpose": "cursor"}, client.lastContext)

	opened, err := svc.Decrypt(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"o":"u1"}`, opened)
}

func TestKMSService_PurposeIsBound(t *testing.T) {
	client := &fakeKMS{}
	ctx := context.Background()

	sealed, err := NewKMSService(client, "k", "cursor").Encrypt(ctx, "value")
	require.NoError(t, err)

	_, err = NewKMSService(client, "k", "other").Decrypt(ctx, sealed)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestKMSService_Decrypt_BadEncoding(t *testing.T) {
	_, err := NewKMSService(&fakeKMS{}, "k", "cursor").Decrypt(context.Background(), "not base64!")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMockEncryptor_RoundTrip(t *testing.T) {
	m := NewMockEncryptor()
	ctx := context.Background()

	sealed, err := m.Encrypt(ctx, "hello")
	require.NoError(t, err)

	opened, err := m.Decrypt(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello", opened)

	_, err = m.Decrypt(ctx, "aGVsbG8") // "hello" without the mock prefix
	assert.ErrorIs(t, err, ErrMalformed)
}
