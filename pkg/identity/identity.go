// Package identity creates and persists the node's placeholder identity:
// a friendly username and a fingerprint derived from random key bytes.
// Nothing here is used for authentication.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"
)

// KeySize is the length of the random key material
const KeySize = 32

var ErrInvalidIdentity = errors.New("invalid identity file")

var adjectives = []string{
	"Swift", "Quiet", "Bright", "Silent", "Brave", "Calm", "Bold", "Gentle",
	"Wild", "Wise", "Golden", "Silver", "Crimson", "Misty", "Stormy", "Lucky",
	"Sunny", "Frosty", "Hidden", "Nimble", "Steady", "Clever", "Rapid", "Amber",
}

var nouns = []string{
	"Fox", "Wolf", "Bear", "Eagle", "Hawk", "Owl", "Raven", "Lynx",
	"Tiger", "Otter", "Falcon", "Heron", "Badger", "Marten", "Orca", "Puma",
	"Comet", "Nova", "Ember", "Willow", "Cedar", "Harbor", "Summit", "Breeze",
}

// Identity is a username plus the key bytes its fingerprint derives from
type Identity struct {
	Username    string    `json:"username"`
	Fingerprint string    `json:"fingerprint"`
	Key         string    `json:"key"` // hex
	CreatedAt   time.Time `json:"created_at"`
}

// Generate creates a fresh identity with a random adjective+noun username
func Generate() (*Identity, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	username, err := RandomUsername()
	if err != nil {
		return nil, err
	}

	return &Identity{
		Username:    username,
		Fingerprint: Fingerprint(key),
		Key:         hex.EncodeToString(key),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// RandomUsername picks an adjective and a noun, e.g. "SwiftFox"
func RandomUsername() (string, error) {
	adj, err := pick(adjectives)
	if err != nil {
		return "", err
	}
	noun, err := pick(nouns)
	if err != nil {
		return "", err
	}
	return adj + noun, nil
}

func pick(words []string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return "", fmt.Errorf("failed to pick word: %w", err)
	}
	return words[n.Int64()], nil
}

// Fingerprint is the hex of the first 16 bytes of BLAKE2b-256(key)
func Fingerprint(key []byte) string {
	sum := blake2b.Sum256(key)
	return hex.EncodeToString(sum[:16])
}

// Validate checks that the fingerprint matches the key
func (id *Identity) Validate() error {
	if id.Username == "" {
		return fmt.Errorf("%w: empty username", ErrInvalidIdentity)
	}
	key, err := hex.DecodeString(id.Key)
	if err != nil || len(key) != KeySize {
		return fmt.Errorf("%w: bad key", ErrInvalidIdentity)
	}
	if Fingerprint(key) != id.Fingerprint {
		return fmt.Errorf("%w: fingerprint does not match key", ErrInvalidIdentity)
	}
	return nil
}

// Save writes the identity as JSON with owner-only permissions
func (id *Identity) Save(path string) error {
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create identity dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write identity: %w", err)
	}
	return nil
}

// Load reads and validates an identity file
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return &id, nil
}

// LoadOrCreate loads the identity at path, generating and saving one if absent
func LoadOrCreate(path string) (*Identity, bool, error) {
	id, err := Load(path)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	id, err = Generate()
	if err != nil {
		return nil, false, err
	}
	if err := id.Save(path); err != nil {
		return nil, false, err
	}
	return id, true, nil
}
