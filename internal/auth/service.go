// Package auth registers users and issues the bearer tokens that scope every job
// request to its owner.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"simjobs/internal/apperrors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 6
	maxPasswordLength = 72 // bytes; bcrypt refuses longer input
	maxUsernameLength = 255
	defaultTokenTTL   = 24 * time.Hour
	issuer            = "simjobs"
)

// Claims is the JWT payload. The subject is the user id, which is the job owner id.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// UserID returns the owner id carried by the token.
func (c *Claims) UserID() string {
	return c.Subject
}

// Config holds token and hashing settings.
type Config struct {
	Secret     []byte
	TokenTTL   time.Duration
	BcryptCost int
}

func (c Config) withDefaults() Config {
	if len(c.Secret) == 0 {
		slog.Warn("JWT secret not set, using a random one; tokens will not survive a restart")
		c.Secret = make([]byte, 32)
		if _, err := rand.Read(c.Secret); err != nil {
			panic(fmt.Sprintf("generate JWT secret: %v", err))
		}
	} else if len(c.Secret) < 32 {
		slog.Warn("JWT secret is shorter than 32 bytes")
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = defaultTokenTTL
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = bcrypt.DefaultCost
	}
	return c
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// Service implements registration, login and token validation.
type Service struct {
	users UserStore
	cfg   Config
	now   func() time.Time
}

// NewService creates an auth service backed by users.
func NewService(users UserStore, cfg Config) *Service {
	return &Service{users: users, cfg: cfg.withDefaults(), now: time.Now}
}

// Register creates a user account.
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperrors.Validation("username", "username and password are required")
	}
	if len(username) > maxUsernameLength {
		return nil, apperrors.Validation("username", fmt.Sprintf("username must be at most %d characters", maxUsernameLength))
	}
	if len(password) < minPasswordLength {
		return nil, apperrors.Validation("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordLength {
		return nil, apperrors.Validation("password", fmt.Sprintf("password must be at most %d bytes", maxPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, apperrors.Internal("auth.hash", err)
	}
	u, err := s.users.CreateUser(ctx, username, string(hash))
	if err != nil {
		return nil, err
	}
	slog.Info("User registered", "userId", u.ID, "username", u.Username)
	return u, nil
}

// Login checks credentials and issues a token. Unknown users and wrong passwords
// are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, apperrors.Validation("username", "username and password are required")
	}
	u, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.Unauthorized("invalid credentials")
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, apperrors.Unauthorized("invalid credentials")
	}

	token, err := s.issue(u)
	if err != nil {
		return nil, apperrors.Internal("auth.sign", err)
	}
	return &LoginResponse{Token: token, User: u}, nil
}

func (s *Service) issue(u *User) (string, error) {
	now := s.now()
	claims := Claims{
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
}

// ValidateToken parses and verifies a bearer token.
func (s *Service) ValidateToken(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.cfg.Secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, apperrors.Unauthorized("invalid or expired token")
	}
	return claims, nil
}

type claimsKey struct{}

// WithClaims returns a context carrying the authenticated caller.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the authenticated caller, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}
