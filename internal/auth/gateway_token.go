package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const gatewayTokenPrefix = "sig_"

// Format: sig_<uuid>_<64 hex chars>
const gatewayTokenLength = len(gatewayTokenPrefix) + 36 + 1 + 64

type GatewayTokenGenerator struct{}

func NewGatewayTokenGenerator() *GatewayTokenGenerator {
	return &GatewayTokenGenerator{}
}

// Generate returns the plaintext token and the hash to persist.
func (g *GatewayTokenGenerator) Generate() (string, string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate secret: %w", err)
	}

	token := fmt.Sprintf("%s%s_%s", gatewayTokenPrefix, uuid.NewString(), hex.EncodeToString(secretBytes))
	return token, g.HashToken(token), nil
}

// HashToken hashes a gateway token for storage
func (g *GatewayTokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if token has correct format
func (g *GatewayTokenGenerator) ValidateTokenFormat(token string) bool {
	if len(token) != gatewayTokenLength || !strings.HasPrefix(token, gatewayTokenPrefix) {
		return false
	}
	rest := token[len(gatewayTokenPrefix):]
	if _, err := uuid.Parse(rest[:36]); err != nil {
		return false
	}
	if rest[36] != '_' {
		return false
	}
	_, err := hex.DecodeString(rest[37:])
	return err == nil
}
