package payments

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// MetadataCipher encrypts payment metadata at rest as compact JWE using
// direct AES-256-GCM. The stored column never holds plaintext card or
// customer details.
type MetadataCipher struct {
	key       []byte
	encrypter jose.Encrypter
}

// NewMetadataCipher builds a cipher from a base64-encoded 256-bit key. An
// empty key generates an ephemeral one, which keeps development setups
// working but makes stored metadata unreadable after a restart.
func NewMetadataCipher(encodedKey string) (*MetadataCipher, error) {
	var key []byte
	if encodedKey == "" {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate metadata key: %w", err)
		}
	} else {
		decoded, err := base64.StdEncoding.DecodeString(encodedKey)
		if err != nil {
			return nil, fmt.Errorf("metadata encryption key is not valid base64: %w", err)
		}
		if len(decoded) != 32 {
			return nil, fmt.Errorf("metadata encryption key must be 32 bytes, got %d", len(decoded))
		}
		key = decoded
	}

	encrypter, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: key},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metadata encrypter: %w", err)
	}

	return &MetadataCipher{key: key, encrypter: encrypter}, nil
}

// Encrypt serializes data to JSON and seals it into a compact JWE string.
func (c *MetadataCipher) Encrypt(data map[string]interface{}) (string, error) {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode payment metadata: %w", err)
	}

	obj, err := c.encrypter.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt payment metadata: %w", err)
	}

	serialized, err := obj.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize payment metadata: %w", err)
	}
	return serialized, nil
}

// Decrypt opens a compact JWE produced by Encrypt. An empty blob yields an
// empty map so callers can append to metadata that was never written.
func (c *MetadataCipher) Decrypt(blob string) (map[string]interface{}, error) {
	if blob == "" {
		return map[string]interface{}{}, nil
	}

	obj, err := jose.ParseEncrypted(
		blob,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{jose.A256GCM},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse payment metadata: %w", err)
	}

	plaintext, err := obj.Decrypt(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payment metadata: %w", err)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("failed to decode payment metadata: %w", err)
	}
	return data, nil
}
