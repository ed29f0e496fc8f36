// Package crypt hashes and verifies passwords with bcrypt.
package crypt

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// PrefixA and PrefixB are the accepted bcrypt version prefixes.
	PrefixA = "$2a$"
	PrefixB = "$2b$"

	// DefaultCost is the work factor used when none is given.
	DefaultCost = 6
	// MinCost and MaxCost bound the accepted work factor.
	MinCost = bcrypt.MinCost
	MaxCost = bcrypt.MaxCost

	// MaxPasswordLen is the longest password bcrypt accepts, in bytes.
	MaxPasswordLen = 72

	saltBytes = 16
)

var (
	ErrPasswordTooLong = errors.New("password exceeds 72 bytes")
	ErrInvalidCost     = errors.New("invalid bcrypt cost")
	ErrInvalidPrefix   = errors.New("invalid bcrypt prefix")
	ErrMalformedHash   = errors.New("malformed bcrypt hash")
)

// bcrypt uses its own base64 alphabet without padding.
var saltEncoding = base64.NewEncoding("./ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789").
	WithPadding(base64.NoPadding)

// Hasher produces bcrypt hashes with a fixed prefix and cost.
type Hasher struct {
	prefix string
	cost   int
}

// NewHasher validates prefix and cost and returns a Hasher.
func NewHasher(prefix string, cost int) (*Hasher, error) {
	if err := checkPrefix(prefix); err != nil {
		return nil, err
	}
	if err := checkCost(cost); err != nil {
		return nil, err
	}
	return &Hasher{prefix: prefix, cost: cost}, nil
}

// Hash returns the bcrypt hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) > MaxPasswordLen {
		return "", ErrPasswordTooLong
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	encoded := string(out)
	if h.prefix != PrefixA {
		encoded = h.prefix + strings.TrimPrefix(encoded, PrefixA)
	}
	return encoded, nil
}

// Verify reports whether password matches encoded. A mismatch is not an
// error.
func (h *Hasher) Verify(encoded, password string) (bool, error) {
	return Verify(encoded, password)
}

// NeedsUpgrade reports whether encoded was produced with a lower cost than h.
func (h *Hasher) NeedsUpgrade(encoded string) (bool, error) {
	cost, err := Cost(encoded)
	if err != nil {
		return false, err
	}
	return cost < h.cost, nil
}

// Hash returns the bcrypt hash of password with the $2a$ prefix.
func Hash(password string, cost int) (string, error) {
	h, err := NewHasher(PrefixA, cost)
	if err != nil {
		return "", err
	}
	return h.Hash(password)
}

// Verify reports whether password matches encoded.
func Verify(encoded, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
}

// Cost returns the work factor encoded in a bcrypt hash.
func Cost(encoded string) (int, error) {
	cost, err := bcrypt.Cost([]byte(encoded))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	return cost, nil
}

// GenSalt returns a bcrypt salt string such as "$2a$06$" followed by 22
// characters drawn from 16 random bytes.
func GenSalt(prefix string, cost int) (string, error) {
	return genSalt(rand.Reader, prefix, cost)
}

func genSalt(random io.Reader, prefix string, cost int) (string, error) {
	if err := checkPrefix(prefix); err != nil {
		return "", err
	}
	if err := checkCost(cost); err != nil {
		return "", err
	}
	raw := make([]byte, saltBytes)
	if _, err := io.ReadFull(random, raw); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return fmt.Sprintf("%s%02d$%s", prefix, cost, saltEncoding.EncodeToString(raw)), nil
}

func checkPrefix(prefix string) error {
	if prefix != PrefixA && prefix != PrefixB {
		return fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	return nil
}

func checkCost(cost int) error {
	if cost < MinCost || cost > MaxCost {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidCost, cost, MinCost, MaxCost)
	}
	return nil
}
