package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Staff roles. Tokens are issued by the back-office; this service only
// validates them.
const (
	RoleOwner   = "OWNER"
	RoleManager = "MANAGER"
	RoleCashier = "CASHIER"
	RoleKitchen = "KITCHEN"
)

type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	OutletID uuid.UUID `json:"outlet_id"`
	Role     string    `json:"role"`
	jwt.RegisteredClaims
}

// CanAccessOutlet reports whether the token may act on the outlet. Owners
// span every outlet.
func (c *Claims) CanAccessOutlet(outletID uuid.UUID) bool {
	return c.Role == RoleOwner || c.OutletID == outletID
}

// GenerateToken signs a staff token. Used by the seeder and tests; production
// tokens come from the back-office.
func GenerateToken(secret string, userID, outletID uuid.UUID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		OutletID: outletID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
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
		return nil, fmt.Errorf("invalid token")
	}
	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("token has no user")
	}
	return claims, nil
}
