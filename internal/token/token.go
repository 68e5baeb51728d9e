// Package token inspects access tokens issued by the SkillPath backend.
//
// The client never verifies signatures (it has no key material); it only
// reads the registered claims so callers can display identity information
// and decide whether a token is worth sending at all.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Info is the subset of access-token claims the client cares about.
type Info struct {
	// Subject is the token's sub claim (the backend's signin identifier)
	Subject string

	// IssuedAt is when the token was minted (zero if the claim is absent)
	IssuedAt time.Time

	// ExpiresAt is when the token expires (zero if the claim is absent)
	ExpiresAt time.Time
}

// Inspect parses tokenStr without verifying its signature and returns the
// registered claims. An error means the string is not a well-formed JWT,
// not that the token is invalid or expired.
func Inspect(tokenStr string) (*Info, error) {
	parser := jwt.NewParser()

	claims := &jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}

	info := &Info{Subject: claims.Subject}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}

// ExpiresWithin reports whether the token expires within d of now. Tokens
// without an exp claim never report as expiring; malformed tokens always do,
// so callers refresh rather than send garbage.
func ExpiresWithin(tokenStr string, d time.Duration) bool {
	info, err := Inspect(tokenStr)
	if err != nil {
		return true
	}
	if info.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(info.ExpiresAt) < d
}
