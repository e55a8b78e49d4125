package mixer

import (
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"math/rand"

	"golang.org/x/crypto/hkdf"
)

// seededRandom is a Random backed by a math/rand generator.
type seededRandom struct {
	rnd *rand.Rand
}

// NewRandom returns a deterministic Random for the given seed.
func NewRandom(seed int64) Random {
	return &seededRandom{rnd: rand.New(rand.NewSource(seed))}
}

// NewCryptoSeededRandom returns a Random seeded from crypto/rand.
func NewCryptoSeededRandom() (Random, error) {
	var seed [8]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("reading seed: %w", err)
	}
	return NewRandom(int64(binary.LittleEndian.Uint64(seed[:]))), nil
}

// DeriveSessionRandom derives a per-session Random from an operator secret,
// so that a session's routing can be replayed by whoever holds the secret.
func DeriveSessionRandom(secret []byte, sessionID string) (Random, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty seed secret")
	}

	kdf := hkdf.New(sha256.New, secret, []byte(sessionID), []byte("ledgermix session seed"))
	var seed [8]byte
	if _, err := io.ReadFull(kdf, seed[:]); err != nil {
		return nil, err
	}
	return NewRandom(int64(binary.LittleEndian.Uint64(seed[:]))), nil
}

func (r *seededRandom) IntN(n int) int {
	return r.rnd.Intn(n)
}

func (r *seededRandom) BigIntN(n *big.Int) *big.Int {
	return new(big.Int).Rand(r.rnd, n)
}
