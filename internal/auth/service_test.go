package auth_test

import (
	"context"
	"errors"
	"simjobs/internal/apperrors"
	"simjobs/internal/auth"
	"simjobs/internal/store"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func newService(t *testing.T) *auth.Service {
	t.Helper()
	return auth.NewService(store.NewMemory(), auth.Config{Secret: secret, BcryptCost: bcrypt.MinCost})
}

func TestRegister(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"valid", "alice", "secret1", nil},
		{"missing username", "", "secret1", apperrors.ErrValidation},
		{"missing password", "alice", "", apperrors.ErrValidation},
		{"short password", "alice", "12345", apperrors.ErrValidation},
		{"longest password", "alice", strings.Repeat("a", 72), nil},
		{"password over 72 bytes", "alice", strings.Repeat("a", 73), apperrors.ErrValidation},
		{"multibyte password over 72 bytes", "alice", strings.Repeat("é", 37), apperrors.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := newService(t)
			u, err := svc.Register(context.Background(), tt.username, tt.password)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Register() error = %v", err)
			}
			if u.ID == "" || u.PasswordHash == tt.password {
				t.Errorf("Register() = %+v, want id and hashed password", u)
			}
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	if _, err := svc.Register(context.Background(), "alice", "secret1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := svc.Register(context.Background(), "alice", "secret2"); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("duplicate Register() error = %v, want ErrConflict", err)
	}
}

func TestLoginAndValidate(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	u, err := svc.Register(context.Background(), "alice", "secret1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	resp, err := svc.Login(context.Background(), "alice", "secret1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if resp.Token == "" || resp.User.ID != u.ID {
		t.Fatalf("Login() = %+v", resp)
	}

	claims, err := svc.ValidateToken(resp.Token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.UserID() != u.ID || claims.Username != "alice" {
		t.Errorf("claims = %+v, want subject %s", claims, u.ID)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	if _, err := svc.Register(context.Background(), "alice", "secret1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	for _, tc := range []struct{ user, pass string }{
		{"alice", "wrong-password"},
		{"bob", "secret1"},
	} {
		if _, err := svc.Login(context.Background(), tc.user, tc.pass); !errors.Is(err, apperrors.ErrUnauthorized) {
			t.Errorf("Login(%s) error = %v, want ErrUnauthorized", tc.user, err)
		}
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	sign := func(key any, method jwt.SigningMethod, claims jwt.Claims) string {
		tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return tok
	}
	now := time.Now()
	valid := auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: "user-1", Issuer: "simjobs", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	noSubject := valid
	noSubject.Subject = ""

	tests := map[string]string{
		"garbage":      "not-a-token",
		"wrong key":    sign([]byte("another-secret-another-secret-!!"), jwt.SigningMethodHS256, &valid),
		"expired":      sign(secret, jwt.SigningMethodHS256, &expired),
		"no subject":   sign(secret, jwt.SigningMethodHS256, &noSubject),
		"unsigned alg": sign(jwt.UnsafeAllowNoneSignatureType, jwt.SigningMethodNone, &valid),
	}
	for name, token := range tests {
		if _, err := svc.ValidateToken(token); !errors.Is(err, apperrors.ErrUnauthorized) {
			t.Errorf("%s: ValidateToken() error = %v, want ErrUnauthorized", name, err)
		}
	}

	if _, err := svc.ValidateToken(sign(secret, jwt.SigningMethodHS256, &valid)); err != nil {
		t.Errorf("hand-signed valid token rejected: %v", err)
	}
}

func TestClaimsContext(t *testing.T) {
	t.Parallel()

	if _, ok := auth.ClaimsFromContext(context.Background()); ok {
		t.Error("empty context reported claims")
	}
	c := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}}
	got, ok := auth.ClaimsFromContext(auth.WithClaims(context.Background(), c))
	if !ok || got.UserID() != "u1" {
		t.Errorf("ClaimsFromContext() = %v, %v", got, ok)
	}
}
