package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jun/memories/internal/crypto"
)

// CursorCodec seals a store position into an opaque cursor bound to one
// owner.
type CursorCodec struct {
	enc crypto.Encryptor
}

type cursorPayload struct {
	Owner string            `json:"o"`
	Key   map[string]string `json:"k"`
}

// NewCursorCodec creates a CursorCodec sealing with enc.
func NewCursorCodec(enc crypto.Encryptor) *CursorCodec {
	return &CursorCodec{enc: enc}
}

// Encode seals key for ownerID. An empty key encodes to "".
func (c *CursorCodec) Encode(ctx context.Context, ownerID string, key map[string]string) (string, error) {
	if len(key) == 0 {
		return "", nil
	}
	b, err := json.Marshal(cursorPayload{Owner: ownerID, Key: key})
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	sealed, err := c.enc.Encrypt(ctx, string(b))
	if err != nil {
		return "", fmt.Errorf("seal cursor: %w", err)
	}
	return sealed, nil
}

// Decode opens a cursor issued by Encode for the same owner. An empty cursor
// decodes to a nil key.
func (c *CursorCodec) Decode(ctx context.Context, ownerID, cursor string) (map[string]string, error) {
	if cursor == "" {
		return nil, nil
	}
	plain, err := c.enc.Decrypt(ctx, cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var p cursorPayload
	if err := json.Unmarshal([]byte(plain), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if p.Owner != ownerID || len(p.Key) == 0 {
		return nil, ErrInvalidCursor
	}
	return p.Key, nil
}
