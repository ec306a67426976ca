// Package docstore writes accepted uploads under server-generated keys.
package docstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"

	"gestloc/internal/intake"
	"gestloc/pkg/storage"
)

var extPattern = regexp.MustCompile(`^[a-z0-9]{1,5}$`)

// Persister stores document bytes in an ObjectStore.
type Persister struct {
	objects storage.ObjectStore
}

// NewPersister wraps objects.
func NewPersister(objects storage.ObjectStore) (*Persister, error) {
	if objects == nil {
		return nil, errors.New("object store is required")
	}
	return &Persister{objects: objects}, nil
}

// Key builds the storage key for the seq-th upload of a candidature.
// Nothing in the key comes from the client.
func Key(candidatureID int64, seq int, ext string) (string, error) {
	if candidatureID <= 0 || seq <= 0 {
		return "", fmt.Errorf("invalid document key input: candidature=%d seq=%d", candidatureID, seq)
	}
	if !extPattern.MatchString(ext) {
		return "", fmt.Errorf("invalid extension %q", ext)
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("random name: %w", err)
	}
	return fmt.Sprintf("candidatures/%d/doc_%d_%s.%s", candidatureID, seq, hex.EncodeToString(b), ext), nil
}

// Save writes the file and returns its storage-relative key.
func (p *Persister) Save(ctx context.Context, candidatureID int64, seq int, file intake.Accepted) (string, error) {
	key, err := Key(candidatureID, seq, file.Ext)
	if err != nil {
		return "", err
	}
	if err := p.objects.Put(ctx, key, bytes.NewReader(file.Data), file.Size, file.MIME); err != nil {
		return "", fmt.Errorf("store document: %w", err)
	}
	return key, nil
}

// Remove deletes a previously saved key.
func (p *Persister) Remove(ctx context.Context, key string) error {
	return p.objects.Delete(ctx, key)
}
