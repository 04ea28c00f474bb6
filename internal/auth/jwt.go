package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/orderflow/internal/enum"
	"github.com/kiwari-pos/orderflow/internal/lifecycle"
)

const DefaultTTL = 12 * time.Hour

var ErrInvalidToken = errors.New("invalid token")

// Claims identify a dashboard or ordering client. Staff roles are bound to
// one restaurant; customers are identified by UserID.
type Claims struct {
	UserID       string    `json:"user_id"`
	RestaurantID uuid.UUID `json:"restaurant_id"`
	Role         string    `json:"role"`
	jwt.RegisteredClaims
}

// IsStaff reports whether the claims belong to a restaurant role.
func (c *Claims) IsStaff() bool {
	return c.Role == enum.RoleKitchen || c.Role == enum.RoleCashier || c.Role == enum.RoleDelivery
}

// GenerateToken signs claims for role valid for ttl (DefaultTTL when zero).
func GenerateToken(secret, userID string, restaurantID uuid.UUID, role string, ttl time.Duration) (string, error) {
	if !lifecycle.ValidRole(role) {
		return "", fmt.Errorf("%w: %q", lifecycle.ErrUnknownRole, role)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	claims := Claims{
		UserID:       userID,
		RestaurantID: restaurantID,
		Role:         role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if !lifecycle.ValidRole(claims.Role) {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}
