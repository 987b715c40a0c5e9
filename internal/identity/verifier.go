// Package identity はSupabase（GoTrue）のセッション管理とアクセストークンの検証を提供する。
package identity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAudience はSupabaseが発行するアクセストークンのaud。
const DefaultAudience = "authenticated"

// ErrInvalidToken はアクセストークンが不正な場合のエラー。
var ErrInvalidToken = errors.New("invalid access token")

// Claims はSupabaseのアクセストークンのクレーム。
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier はHS256で署名されたアクセストークンを検証する。
type Verifier struct {
	secret   []byte
	audience string
}

// NewVerifier はVerifierを生成する。
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), audience: DefaultAudience}
}

// Verify はトークンを検証してクレームを返す。subが空のトークンは不正とする。
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
