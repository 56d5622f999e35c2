package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/r1hq/r1/internal/crypto"
	"github.com/r1hq/r1/internal/model"
	"github.com/r1hq/r1/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
)

// AuthService handles account registration, password login, and the JWT
// bearer-token path. Emails are sealed with the cipher before they reach the
// store; lookup at login goes through the blind index.
type AuthService struct {
	store     *store.Store
	cipher    *crypto.Cipher
	jwtSecret []byte
	tokenTTL  time.Duration
}

// NewAuthService creates an AuthService.
func NewAuthService(st *store.Store, cipher *crypto.Cipher, jwtSecret string, tokenTTL time.Duration) *AuthService {
	return &AuthService{
		store:     st,
		cipher:    cipher,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

// Register creates a new user account. The email is stored encrypted with a
// blind index for login lookup; the password is stored as a bcrypt hash.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || !strings.Contains(email, "@") || len(password) < 8 {
		return nil, ErrInvalidCredentials
	}

	index := s.cipher.EmailIndex(email)
	if _, err := s.store.GetUserByEmailIndex(ctx, index); err == nil {
		return nil, ErrUserExists
	}

	sealed, err := s.cipher.Seal(email)
	if err != nil {
		return nil, fmt.Errorf("seal email: %w", err)
	}
	hash, err := crypto.HashSecret(password)
	if err != nil {
		return nil, err
	}

	u := &model.User{
		ID:           uuid.NewString(),
		Username:     username,
		EmailCipher:  sealed,
		EmailIndex:   index,
		PasswordHash: hash,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Login verifies an email/password pair and issues a JWT on success. All
// failure modes surface as ErrInvalidCredentials so the endpoint cannot be
// used to probe which emails are registered.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *model.User, error) {
	u, err := s.store.GetUserByEmailIndex(ctx, s.cipher.EmailIndex(email))
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if !crypto.VerifySecret(u.PasswordHash, password) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.IssueJWT(ctx, u.ID)
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}

	_ = s.store.UpdateUserLastLogin(ctx, u.ID)
	return token, u, nil
}

// IssueJWT creates a signed HS256 token for the given user. The token
// carries identity only; the admin flag is resolved from the store on every
// authenticated request, so revoking admin takes effect immediately.
func (s *AuthService) IssueJWT(ctx context.Context, userID string) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			Issuer:    "r1",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// Authenticate verifies a bearer token and resolves the principal, loading
// the user's admin flag fresh from the store. Returns ErrInvalidCredentials
// for any token problem and ErrUserNotFound when the token is valid but the
// referenced user no longer exists.
func (s *AuthService) Authenticate(ctx context.Context, tokenStr string) (*model.Principal, error) {
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}

	u, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	return &model.Principal{ID: u.ID, IsAdmin: u.IsAdmin}, nil
}

// RevealEmail decrypts a user's stored email for display to the account
// owner or an admin.
func (s *AuthService) RevealEmail(u *model.User) (string, error) {
	return s.cipher.Open(u.EmailCipher)
}

// TokenTTL reports the configured token lifetime, used by the login
// response payload.
func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}

type jwtClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}
