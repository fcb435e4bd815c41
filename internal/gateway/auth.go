package gateway

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"os"

	"github.com/soyeahso/compass/internal/config"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth holds the resolved auth configuration for the gateway.
type ResolvedAuth struct {
	Token string
	// Generated is set when no token was configured and one was minted
	// for this run.
	Generated bool
}

// ResolveAuth resolves the gateway token.
// Precedence: config value → COMPASS_GATEWAY_TOKEN → random token.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	if cfg.Token != "" {
		return ResolvedAuth{Token: cfg.Token}
	}
	if v := os.Getenv("COMPASS_GATEWAY_TOKEN"); v != "" {
		return ResolvedAuth{Token: v}
	}
	buf := make([]byte, 16)
	rand.Read(buf)
	return ResolvedAuth{Token: hex.EncodeToString(buf), Generated: true}
}

// Authorize checks the provided ConnectAuth against the resolved server auth.
func Authorize(serverAuth ResolvedAuth, clientAuth *ConnectAuth) AuthResult {
	if clientAuth == nil {
		return AuthResult{OK: false, Reason: "no credentials provided"}
	}
	if serverAuth.Token == "" {
		return AuthResult{OK: false, Reason: "server token not configured"}
	}
	if clientAuth.Token == "" {
		return AuthResult{OK: false, Reason: "token required"}
	}
	if !safeEqual(clientAuth.Token, serverAuth.Token) {
		return AuthResult{OK: false, Reason: "token_mismatch"}
	}
	return AuthResult{OK: true, Method: "token"}
}

// safeEqual performs a constant-time string comparison. Length is compared
// with ConstantTimeEq so a mismatch does not return early.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
