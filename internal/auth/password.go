package auth

import (
	"errors"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 8

var weakPasswordParts = []string{"password", "qwerty", "admin", "12345678", "letmein"}

// CheckPasswordPolicy returns a human readable violation, or "" when the password is acceptable.
func CheckPasswordPolicy(password string) string {
	if len(password) < minPasswordLen {
		return "password must be at least 8 characters long"
	}
	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsSpace(r):
			return "password must not contain whitespace"
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	folded := strings.ToLower(password)
	for _, weak := range weakPasswordParts {
		if strings.Contains(folded, weak) {
			return "password contains a common pattern"
		}
	}
	switch {
	case !lower:
		return "password must contain a lowercase letter"
	case !upper:
		return "password must contain an uppercase letter"
	case !digit:
		return "password must contain a digit"
	case !symbol:
		return "password must contain a symbol"
	}
	if hasAscendingRun(folded, 3) {
		return "password must not contain sequential characters"
	}
	return ""
}

// hasAscendingRun detects runs like "abc" or "456" of at least n characters.
func hasAscendingRun(s string, n int) bool {
	run := 1
	for i := 1; i < len(s); i++ {
		prev, cur := s[i-1], s[i]
		if cur == prev+1 && sameClass(prev, cur) {
			run++
			if run >= n {
				return true
			}
			continue
		}
		run = 1
	}
	return false
}

func sameClass(a, b byte) bool {
	isDigit := func(c byte) bool { return c >= '0' && c <= '9' }
	isLetter := func(c byte) bool { return c >= 'a' && c <= 'z' }
	return (isDigit(a) && isDigit(b)) || (isLetter(a) && isLetter(b))
}

// Hasher hashes and verifies passwords with bcrypt.
type Hasher struct {
	cost      int
	dummyOnce sync.Once
	dummy     []byte
}

// NewHasher returns a Hasher with the given bcrypt cost; out of range costs fall back to the default.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash hashes a plaintext password.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares a plaintext password with a stored hash. An empty hash never matches
// but still costs one bcrypt comparison.
func (h *Hasher) Verify(hash, password string) bool {
	if hash == "" {
		h.burn(password)
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// burn performs a comparison against a throwaway hash of the same cost.
func (h *Hasher) burn(password string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("casa-dummy-password"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}
