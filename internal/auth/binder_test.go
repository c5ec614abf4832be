package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tripresence/internal/models"
)

const (
	testSecret = "test-secret-key"
	testIssuer = "tripresence-test"
)

// fakeUserDirectory serves canned user records
type fakeUserDirectory struct {
	users map[string]models.User
	calls int
}

var errUserNotFound = errors.New("user not found")

func (f *fakeUserDirectory) GetUser(ctx context.Context, userID string) (models.User, error) {
	f.calls++
	user, ok := f.users[userID]
	if !ok {
		return models.User{}, errUserNotFound
	}
	return user, nil
}

func signToken(t *testing.T, secret, issuer, subject string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": subject,
		"iss": issuer,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(expiresIn).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newTestBinder(users map[string]models.User) (*Binder, *fakeUserDirectory) {
	dir := &fakeUserDirectory{users: users}
	return NewBinder(testSecret, testIssuer, dir), dir
}

func TestBind_Success(t *testing.T) {
	binder, _ := newTestBinder(map[string]models.User{
		"alice": {ID: "alice", Name: "Alice", Avatar: "a.png", Active: true},
	})

	token := signToken(t, testSecret, testIssuer, "alice", time.Hour)
	identity, err := binder.Bind(context.Background(), token)
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	if identity.UserID != "alice" || identity.Name != "Alice" || identity.Avatar != "a.png" {
		t.Errorf("Unexpected identity: %+v", identity)
	}
}

func TestBind_MissingCredential(t *testing.T) {
	binder, dir := newTestBinder(nil)

	_, err := binder.Bind(context.Background(), "")
	assertAuthReason(t, err, ReasonMissingToken)
	if dir.calls != 0 {
		t.Error("Directory should not be consulted without a credential")
	}
}

func TestBind_InvalidToken(t *testing.T) {
	binder, dir := newTestBinder(nil)

	_, err := binder.Bind(context.Background(), "not-a-token")
	assertAuthReason(t, err, ReasonInvalidToken)
	if dir.calls != 0 {
		t.Error("Directory should not be consulted for an invalid credential")
	}
}

func TestBind_WrongSecret(t *testing.T) {
	binder, _ := newTestBinder(nil)

	token := signToken(t, "some-other-secret", testIssuer, "alice", time.Hour)
	_, err := binder.Bind(context.Background(), token)
	assertAuthReason(t, err, ReasonInvalidToken)
}

func TestBind_WrongIssuer(t *testing.T) {
	binder, _ := newTestBinder(nil)

	token := signToken(t, testSecret, "someone-else", "alice", time.Hour)
	_, err := binder.Bind(context.Background(), token)
	assertAuthReason(t, err, ReasonInvalidToken)
}

func TestBind_ExpiredToken(t *testing.T) {
	binder, _ := newTestBinder(nil)

	token := signToken(t, testSecret, testIssuer, "alice", -time.Minute)
	_, err := binder.Bind(context.Background(), token)
	assertAuthReason(t, err, ReasonInvalidToken)
}

func TestBind_UnknownUser(t *testing.T) {
	binder, _ := newTestBinder(map[string]models.User{})

	token := signToken(t, testSecret, testIssuer, "ghost", time.Hour)
	_, err := binder.Bind(context.Background(), token)
	assertAuthReason(t, err, ReasonInactiveUser)
}

func TestBind_InactiveUser(t *testing.T) {
	binder, _ := newTestBinder(map[string]models.User{
		"bob": {ID: "bob", Name: "Bob", Active: false},
	})

	token := signToken(t, testSecret, testIssuer, "bob", time.Hour)
	_, err := binder.Bind(context.Background(), token)
	assertAuthReason(t, err, ReasonInactiveUser)
}

func assertAuthReason(t *testing.T, err error, want Reason) {
	t.Helper()
	if err == nil {
		t.Fatal("Expected an error")
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Expected *AuthError, got %T: %v", err, err)
	}
	if authErr.Reason != want {
		t.Errorf("Expected reason %q, got %q", want, authErr.Reason)
	}
}
