package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// CodeGenerator produces one-time access codes.
type CodeGenerator interface {
	Generate() (string, error)
}

// DigitCodeGenerator draws each digit from crypto/rand.
type DigitCodeGenerator struct {
	Length int
}

func (g DigitCodeGenerator) Generate() (string, error) {
	n := g.Length
	if n <= 0 {
		n = 6
	}
	ten := big.NewInt(10)

	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// FixedCodeGenerator always returns Code. Tests use it to make the one-time
// code predictable.
type FixedCodeGenerator struct {
	Code string
}

func (g FixedCodeGenerator) Generate() (string, error) { return g.Code, nil }

func newGrantSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate grant secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func validCode(code string, length int) bool {
	if length > 0 && len(code) != length {
		return false
	}
	if code == "" {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
