package auth

import "time"

// Token is the result of a token endpoint exchange. It is never mutated;
// a refresh produces a new Token.
type Token struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    time.Duration
	RefreshToken string
	Scope        string
	IssuedAt     time.Time
}

// ExpiresAt is the instant from which the token is considered expired,
// already adjusted by ExpirySafetyMargin.
func (t *Token) ExpiresAt() time.Time {
	return t.IssuedAt.Add(t.ExpiresIn - ExpirySafetyMargin)
}

// IsExpired reports whether now >= IssuedAt + ExpiresIn - ExpirySafetyMargin.
func (t *Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt())
}
