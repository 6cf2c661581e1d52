package ledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Credential is the dedicated service identity used to sign read-only
// submissions. It is never used for mutating calls.
type Credential struct {
	key ed25519.PrivateKey
}

// CredentialFromSeed builds a credential from a 32-byte hex seed.
func CredentialFromSeed(seedHex string) (*Credential, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("ledger credential: decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ledger credential: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Credential{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// Address returns the hex-encoded public key identifying this credential on
// the ledger.
func (c *Credential) Address() string {
	return hex.EncodeToString(c.key.Public().(ed25519.PublicKey))
}

// SignInvocation signs the canonical JSON encoding of the invocation and
// returns the hex signature.
func (c *Credential) SignInvocation(inv *Invocation) (string, error) {
	payload, err := json.Marshal(inv)
	if err != nil {
		return "", fmt.Errorf("ledger credential: encode invocation: %w", err)
	}
	return hex.EncodeToString(ed25519.Sign(c.key, payload)), nil
}
