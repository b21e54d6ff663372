package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "battlecore"

var (
	ErrNoSecret     = errors.New("auth: secret is required")
	ErrMissingToken = errors.New("auth: missing token")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// RobotClaims はロボットホストに発行するトークンの中身です。Subject にロボット名が入ります。
type RobotClaims struct {
	jwt.RegisteredClaims
}

// Authority はロボットホスト用トークンの発行と検証を行います。HS256 の共有鍵を使います。
type Authority struct {
	secret []byte
	now    func() time.Time
}

func NewAuthority(secret string) (*Authority, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Authority{secret: []byte(secret), now: time.Now}, nil
}

func (a *Authority) WithClock(clock func() time.Time) *Authority {
	if clock != nil {
		a.now = clock
	}
	return a
}

// Issue は robot 名義のトークンを発行します。ttl が 0 以下なら無期限です。
func (a *Authority) Issue(robot string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := RobotClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:   issuer,
		Subject:  robot,
		IssuedAt: jwt.NewNumericDate(now),
	}}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify はトークンを検証し、ロボット名を返します。
func (a *Authority) Verify(token string) (string, error) {
	var claims RobotClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// TokenFromRequest は Authorization ヘッダーの Bearer トークン、なければ token クエリを返します。
// ブラウザの WebSocket はヘッダーを付けられないのでクエリも受け付けます。
func TokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || token == "" {
			return "", ErrMissingToken
		}
		return token, nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}
