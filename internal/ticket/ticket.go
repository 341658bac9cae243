package ticket

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "movienights-relay"

var ErrInvalidTicket = errors.New("invalid ticket")

// Claims bind a websocket connection to one participant of one room
type Claims struct {
	RoomCode      string `json:"room_code"`
	ParticipantID string `json:"participant_id"`
	jwt.RegisteredClaims
}

type Service struct {
	secretKey []byte
	ttl       time.Duration
}

// NewService creates a ticket service signing with secretKey
func NewService(secretKey string, ttl time.Duration) *Service {
	return &Service{
		secretKey: []byte(secretKey),
		ttl:       ttl,
	}
}

// Issue creates a short-lived ticket for (roomCode, participantID)
func (s *Service) Issue(roomCode, participantID string) (string, time.Time, error) {
	if roomCode == "" || participantID == "" {
		return "", time.Time{}, fmt.Errorf("%w: room code and participant id are required", ErrInvalidTicket)
	}

	now := time.Now()
	expiresAt := now.Add(s.ttl)

	claims := Claims{
		RoomCode:      roomCode,
		ParticipantID: participantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign ticket: %w", err)
	}

	return signed, expiresAt, nil
}

// Validate parses a ticket and checks its signature, expiry and bindings
func (s *Service) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secretKey, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTicket, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidTicket
	}

	if claims.RoomCode == "" {
		return nil, fmt.Errorf("%w: missing room_code", ErrInvalidTicket)
	}
	if claims.ParticipantID == "" {
		return nil, fmt.Errorf("%w: missing participant_id", ErrInvalidTicket)
	}

	return claims, nil
}
