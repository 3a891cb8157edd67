package devapi

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

var (
	errInvalidToken   = errors.New("invalid access token")
	errExpiredToken   = errors.New("access token expired")
	errUnknownRefresh = errors.New("refresh token not recognised")
)

type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenReply is the body of a successful login or refresh.
type TokenReply struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	User         User      `json:"user"`
}

// issuer signs HS256 access tokens and keeps single-use refresh tokens.
type issuer struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time

	mu      sync.Mutex
	refresh map[string]User
}

func newIssuer(secret []byte, accessTTL time.Duration, now func() time.Time) *issuer {
	return &issuer{
		secret:    secret,
		accessTTL: accessTTL,
		now:       now,
		refresh:   map[string]User{},
	}
}

func (i *issuer) issue(user User) (TokenReply, error) {
	now := i.now()
	exp := jwt.NewNumericDate(now.Add(i.accessTTL))

	claims := accessClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: exp,
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return TokenReply{}, fmt.Errorf("signing access token: %w", err)
	}

	refresh := rand.Text()
	i.mu.Lock()
	i.refresh[refresh] = user
	i.mu.Unlock()

	return TokenReply{
		AccessToken:  signed,
		RefreshToken: refresh,
		ExpiresAt:    exp.Time.UTC(),
		User:         user,
	}, nil
}

// rotate exchanges a refresh token for a new pair. The presented token is
// spent either way.
func (i *issuer) rotate(refresh string) (TokenReply, error) {
	i.mu.Lock()
	user, ok := i.refresh[refresh]
	delete(i.refresh, refresh)
	i.mu.Unlock()

	if !ok {
		return TokenReply{}, errUnknownRefresh
	}
	return i.issue(user)
}

func (i *issuer) verify(token string) (accessClaims, error) {
	var claims accessClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		return accessClaims{}, fmt.Errorf("%w: %w", errInvalidToken, err)
	}

	// expiry is checked against the injectable clock rather than jwt.TimeFunc
	if !claims.VerifyExpiresAt(i.now(), true) {
		return accessClaims{}, errExpiredToken
	}

	return claims, nil
}
