package pubsub

import (
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidSubscriberToken = errors.New("pubsub: invalid subscriber token")
	ErrTopicNotAllowed        = errors.New("pubsub: topic not allowed")
)

// SubscriberClaims autoriza la suscripción a una lista de topics.
type SubscriberClaims struct {
	Topics []string `json:"topics"`
	jwtv5.RegisteredClaims
}

// Allows indica si topic está en la lista.
func (c *SubscriberClaims) Allows(topic string) bool {
	for _, t := range c.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// TokenIssuer firma y valida JWT HS256 de suscripción.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer crea un issuer. ttl <= 0 usa 30m.
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &TokenIssuer{secret: secret, ttl: ttl, now: time.Now}
}

// Issue firma un token para subject (user id) con los topics dados.
func (i *TokenIssuer) Issue(subject string, topics ...string) (string, error) {
	now := i.now()
	claims := SubscriberClaims{
		Topics: topics,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(i.ttl)),
		},
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	tk.Header["typ"] = "JWT"
	signed, err := tk.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("pubsub: sign subscriber token: %w", err)
	}
	return signed, nil
}

// Verify valida firma y expiración y devuelve los claims.
func (i *TokenIssuer) Verify(raw string) (*SubscriberClaims, error) {
	claims := &SubscriberClaims{}
	_, err := jwtv5.ParseWithClaims(raw, claims, func(t *jwtv5.Token) (any, error) {
		return i.secret, nil
	}, jwtv5.WithValidMethods([]string{"HS256"}), jwtv5.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubscriberToken, err)
	}
	return claims, nil
}

// Authorize valida raw y exige que topic esté permitido.
func (i *TokenIssuer) Authorize(raw, topic string) (*SubscriberClaims, error) {
	claims, err := i.Verify(raw)
	if err != nil {
		return nil, err
	}
	if !claims.Allows(topic) {
		return nil, ErrTopicNotAllowed
	}
	return claims, nil
}
