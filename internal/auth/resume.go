package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ResumeClaims are embedded in the token handed out with a plan-review
// interrupt. The client presents the token to resume the paused workflow, so
// a resume request can only target the run it was issued for.
type ResumeClaims struct {
	JobID      string `json:"job_id"`
	WorkflowID string `json:"workflow_id"`
	jwt.RegisteredClaims
}

// ResumeTokens mints and verifies workflow resume tokens.
type ResumeTokens struct {
	secret []byte
	ttl    time.Duration
}

func NewResumeTokens(secret string, ttl time.Duration) *ResumeTokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ResumeTokens{secret: []byte(secret), ttl: ttl}
}

// Mint creates a signed token binding a job to its workflow execution.
func (rt *ResumeTokens) Mint(jobID, workflowID string) (string, error) {
	now := time.Now()
	claims := ResumeClaims{
		JobID:      jobID,
		WorkflowID: workflowID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(rt.ttl)),
			Issuer:    "fathom",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(rt.secret)
}

// Verify parses and validates a resume token.
func (rt *ResumeTokens) Verify(tokenString string) (*ResumeClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ResumeClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return rt.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid resume token: %w", err)
	}
	claims, ok := token.Claims.(*ResumeClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid resume token")
	}
	return claims, nil
}
