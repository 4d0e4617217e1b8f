package security

import (
	"context"
	"errors"
	"fmt"

	"github.com/formbridge/formbridge/core"
)

// KeyringSecretProvider encrypts with the current key and decrypts with the
// current key first, then any retired keys. It exists so the application key
// can be rotated without re-encrypting every stored credential up front:
// old envelopes stay readable until the rows are rewritten.
type KeyringSecretProvider struct {
	current core.SecretProvider
	retired []core.SecretProvider
}

func NewKeyringSecretProvider(current core.SecretProvider, retired ...core.SecretProvider) (*KeyringSecretProvider, error) {
	if current == nil {
		return nil, fmt.Errorf("security: current secret provider is required")
	}
	keys := make([]core.SecretProvider, 0, len(retired))
	for _, provider := range retired {
		if provider == nil {
			continue
		}
		keys = append(keys, provider)
	}
	return &KeyringSecretProvider{current: current, retired: keys}, nil
}

func (p *KeyringSecretProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if p == nil || p.current == nil {
		return nil, fmt.Errorf("security: keyring is not configured")
	}
	return p.current.Encrypt(ctx, plaintext)
}

func (p *KeyringSecretProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil || p.current == nil {
		return nil, fmt.Errorf("security: keyring is not configured")
	}
	plaintext, err := p.current.Decrypt(ctx, ciphertext)
	if err == nil {
		return plaintext, nil
	}
	combined := err
	for _, provider := range p.retired {
		plaintext, retiredErr := provider.Decrypt(ctx, ciphertext)
		if retiredErr == nil {
			return plaintext, nil
		}
		combined = errors.Join(combined, retiredErr)
	}
	return nil, fmt.Errorf("security: no key in the ring can decrypt the payload: %w", combined)
}

var _ core.SecretProvider = (*KeyringSecretProvider)(nil)
