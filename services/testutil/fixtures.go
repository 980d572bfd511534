package testutil

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lean98av/kipubank/libs/auth"
)

var (
	DemoPrincipal   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	TraderPrincipal = common.HexToAddress("0x2222222222222222222222222222222222222222")
	AdminPrincipal  = common.HexToAddress("0x9999999999999999999999999999999999999999")
)

func GenerateJWT(principal common.Address, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	claims := auth.Claims{
		Roles: []string{"user"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "kipu-bank",
			Subject:   principal.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
