package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes understood by the review API.
const (
	ScopeDraftsRead   = "drafts:read"
	ScopeDraftsReview = "drafts:review"
	ScopeDraftsSubmit = "drafts:submit"
)

// KnownScopes lists every scope in the order a reviewer typically needs them.
var KnownScopes = []string{ScopeDraftsRead, ScopeDraftsReview, ScopeDraftsSubmit}

// ParseScopes splits a comma or space separated list and rejects scopes the
// API does not check.
func ParseScopes(value string) ([]string, error) {
	fields := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) == 0 {
		return nil, errors.New("no scopes given")
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(KnownScopes, f) {
			return nil, fmt.Errorf("unknown scope %q", f)
		}
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out, nil
}

// IssueToken signs an HS256 token that ParseClaims accepts under the same Config.
func IssueToken(cfg Config, subject string, scopes []string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}
	claims := jwt.MapClaims{
		"sub":    subject,
		"iss":    cfg.Issuer,
		"iat":    now.Unix(),
		"exp":    now.Add(ttl).Unix(),
		"scopes": strings.Join(scopes, " "),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}
