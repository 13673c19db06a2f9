package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressPrefix is the standard prefix for EVM addresses
const AddressPrefix = "0x"

// ValidAddress checks that an address is 0x-prefixed 20-byte hex
func ValidAddress(address string) bool {
	if len(address) != 42 || !strings.HasPrefix(address, AddressPrefix) {
		return false
	}

	_, err := hex.DecodeString(address[2:])
	return err == nil
}

// NormalizeAddress lowercases an address for map keys and comparisons
func NormalizeAddress(address string) string {
	return strings.ToLower(address)
}

// RandomAddress generates a random EVM-compatible address.
// Used by the memory backend and tests for synthetic accounts.
func RandomAddress() (string, error) {
	bytes := make([]byte, 20)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return AddressPrefix + hex.EncodeToString(bytes), nil
}
