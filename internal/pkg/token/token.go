package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose 令牌用途，不同用途的令牌不能互换使用。
type Purpose string

const (
	PurposeConfirm     Purpose = "confirm"
	PurposeReset       Purpose = "reset"
	PurposeChangeEmail Purpose = "change_email"
	PurposeAuth        Purpose = "auth"
)

// Claims 令牌内容。
type Claims struct {
	jwt.RegisteredClaims
	Purpose Purpose `json:"purpose"`
	Email   string  `json:"email,omitempty"` // 仅 change_email 使用
}

// UserID 返回令牌主体对应的用户 ID。
func (c *Claims) UserID() uint {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

// Signer 使用服务端密钥签发和校验 HS256 令牌。
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner 创建签名器。
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Generate 签发令牌。
//
// 参数:
//   - purpose: 令牌用途
//   - userID: 主体用户
//   - ttl: 有效期
//   - email: 附带的新邮箱（仅 change_email，其余传空）
func (s *Signer) Generate(purpose Purpose, userID uint, ttl time.Duration, email string) (string, error) {
	if userID == 0 {
		return "", errors.New("token subject is empty")
	}
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Purpose: purpose,
		Email:   email,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify 校验令牌签名、有效期与用途。
//
// 任何失败（签名错误、过期、格式错误、用途不符）都返回 false，
// 调用方无法区分过期与无效。
func (s *Signer) Verify(raw string, purpose Purpose) (*Claims, bool) {
	if raw == "" {
		return nil, false
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !tok.Valid {
		return nil, false
	}
	if claims.Purpose != purpose || claims.UserID() == 0 {
		return nil, false
	}
	return claims, true
}
