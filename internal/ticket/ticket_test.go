package ticket

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndValidate(t *testing.T) {
	svc := NewService("test-secret", time.Minute)

	token, expiresAt, err := svc.Issue("X7K2QP", "participant-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("ticket already expired at %v", expiresAt)
	}

	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.RoomCode != "X7K2QP" || claims.ParticipantID != "participant-1" {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("ticket has no id")
	}
}

func TestValidateRejects(t *testing.T) {
	svc := NewService("test-secret", time.Minute)
	good, _, err := svc.Issue("X7K2QP", "participant-1")
	if err != nil {
		t.Fatal(err)
	}

	expired, _, err := NewService("test-secret", -time.Minute).Issue("X7K2QP", "participant-1")
	if err != nil {
		t.Fatal(err)
	}

	foreign, _, err := NewService("other-secret", time.Minute).Issue("X7K2QP", "participant-1")
	if err != nil {
		t.Fatal(err)
	}

	unbound, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(good, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"expired":      expired,
		"wrong secret": foreign,
		"no bindings":  unbound,
		"tampered":     tampered,
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Validate(token); !errors.Is(err, ErrInvalidTicket) {
				t.Fatalf("err = %v, want ErrInvalidTicket", err)
			}
		})
	}
}

func TestIssueRequiresBindings(t *testing.T) {
	svc := NewService("test-secret", time.Minute)
	if _, _, err := svc.Issue("", "participant-1"); !errors.Is(err, ErrInvalidTicket) {
		t.Fatalf("err = %v", err)
	}
	if _, _, err := svc.Issue("X7K2QP", ""); !errors.Is(err, ErrInvalidTicket) {
		t.Fatalf("err = %v", err)
	}
}
