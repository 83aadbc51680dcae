package services

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// CodeAlphabet has 32 symbols; 0/O and 1/I are left out so codes survive being read
// aloud across a gym.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	CodeLength      = 6
	maxCodeAttempts = 10
)

// CodeGenerator produces candidate party codes.
type CodeGenerator func() (string, error)

// GenerateCode draws CodeLength symbols from CodeAlphabet using crypto/rand.
func GenerateCode() (string, error) {
	code := make([]byte, CodeLength)
	max := big.NewInt(int64(len(CodeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = CodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

// NormalizeCode makes lookups case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code could have come from GenerateCode.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(CodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
