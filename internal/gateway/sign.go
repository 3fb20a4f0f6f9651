package gateway

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

func hmacSHA256(key, msg []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(msg)
	return m.Sum(nil)
}

func hmacSHA256Hex(key, msg string) string {
	return hex.EncodeToString(hmacSHA256([]byte(key), []byte(msg)))
}

func hmacSHA256Base64(key, msg string) string {
	return base64.StdEncoding.EncodeToString(hmacSHA256([]byte(key), []byte(msg)))
}

func hmacSHA1Hex(key, msg string) string {
	m := hmac.New(sha1.New, []byte(key))
	m.Write([]byte(msg))
	return hex.EncodeToString(m.Sum(nil))
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha512Hex(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}

// equalHex compares two hex or base64 digests in constant time, ignoring hex case.
func equalHex(got, want string) bool {
	return hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(got))), []byte(strings.ToLower(want)))
}

func equalExact(got, want string) bool {
	return hmac.Equal([]byte(strings.TrimSpace(got)), []byte(want))
}

// formatMajor renders whole units as the two-decimal string form providers expect.
func formatMajor(amount int64) string {
	return fmt.Sprintf("%d.00", amount)
}

// parseMajorToMinor parses "49.00" or "49" into 4900.
func parseMajorToMinor(s string) (int64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(f * 100)), nil
}
