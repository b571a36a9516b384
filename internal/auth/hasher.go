package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Hasher derives offline credential hashes with argon2id.
type Hasher struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultHasher returns argon2id parameters sized for till hardware.
func DefaultHasher() Hasher {
	return Hasher{
		Time:    2,
		Memory:  19 * 1024,
		Threads: 1,
		KeyLen:  32,
		SaltLen: 16,
	}
}

// Hash derives a hash of password under a fresh random salt.
func (h Hasher) Hash(password string) (hash, salt []byte, err error) {
	salt = make([]byte, h.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("generate salt: %w", err)
	}
	return h.derive(password, salt), salt, nil
}

// Verify recomputes the hash of password under salt and compares it with
// want in constant time.
func (h Hasher) Verify(password string, want, salt []byte) bool {
	if len(want) == 0 || len(salt) == 0 {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, h.Time, h.Memory, h.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func (h Hasher) derive(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, h.Time, h.Memory, h.Threads, h.KeyLen)
}
