package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims はセッショントークンのクレームを表す。
// subにユーザーID、tg_user_idにTelegramユーザーID、rolesにロール一覧を持つ。
type SessionClaims struct {
	jwt.RegisteredClaims
	TelegramUserID int64    `json:"tg_user_id"`
	Roles          []string `json:"roles"`
}

// TokenIssuer はHMAC署名付きのセッショントークンを発行・検証する。
// 署名secretは起動ペイロード検証用のボットトークンとは別のプロセス全体の秘密。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
// nowがnilの場合はtime.Nowを使用する。
func NewTokenIssuer(secret string, ttl time.Duration, now func() time.Time) *TokenIssuer {
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    now,
	}
}

// Issue はユーザー情報からセッショントークンを発行する。
func (t *TokenIssuer) Issue(userID string, telegramUserID int64, roles []string) (string, error) {
	now := t.now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		TelegramUserID: telegramUserID,
		Roles:          roles,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	return signed, nil
}

// Verify はセッショントークンを検証しクレームを返す。
// 署名アルゴリズムはHS256に固定し、期限切れもここで検証する。
func (t *TokenIssuer) Verify(tokenString string) (*SessionClaims, error) {
	var claims SessionClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("session token has no subject")
	}

	return &claims, nil
}
