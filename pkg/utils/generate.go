package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// ==================== OTP ====================

// GenerateOTP returns a uniformly random numeric code of the given length,
// zero-padded, so "000000" through "999999" are all possible for length 6.
func GenerateOTP(length int) (string, error) {
	if length <= 0 {
		length = 6
	}

	upper := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, upper)
	if err != nil {
		return "", fmt.Errorf("generate OTP: %w", err)
	}

	code := n.String()
	if len(code) < length {
		code = strings.Repeat("0", length-len(code)) + code
	}
	return code, nil
}

// ==================== EMAIL ====================

// NormalizeEmail trims and lowercases an address so it can be used as a unique key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
