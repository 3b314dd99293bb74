package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenMissing = errors.New("auth: missing bearer token")
	ErrTokenExpired = errors.New("auth: token expired")
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrUnknownUser  = errors.New("auth: unknown user")
)

type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

func GenerateAccessToken(userID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseAccessToken 校验签名与有效期。过期返回 ErrTokenExpired，其他失败返回 ErrTokenInvalid。
func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Users 用于确认 token 中的用户仍然存在。
type Users interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// Verifier 把 bearer token 解析为用户 id。
type Verifier struct {
	secret string
	users  Users
}

func NewVerifier(secret string, users Users) *Verifier {
	return &Verifier{secret: secret, users: users}
}

// VerifyBearerToken 返回 token 对应的用户 id。用户查询失败时返回的错误不属于
// 任何一个哨兵错误。
func (v *Verifier) VerifyBearerToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrTokenMissing
	}
	claims, err := ParseAccessToken(token, v.secret)
	if err != nil {
		return "", err
	}
	ok, err := v.users.Exists(ctx, claims.UserID)
	if err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if !ok {
		return "", ErrUnknownUser
	}
	return claims.UserID, nil
}

// TokenFromRequest 依次读取 token 查询参数和 Authorization 头。
func TokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	authz := r.Header.Get("Authorization")
	if len(authz) > len("Bearer ") && strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("Bearer "):])
	}
	return ""
}

func AuthMiddleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := v.VerifyBearerToken(c.Request.Context(), TokenFromRequest(c.Request))
		switch {
		case err == nil:
		case errors.Is(err, ErrTokenMissing):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		case errors.Is(err, ErrTokenExpired):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token expired"})
			return
		case errors.Is(err, ErrTokenInvalid):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		case errors.Is(err, ErrUnknownUser):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}

func GetUserID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if id, ok2 := v.(string); ok2 {
			return id
		}
	}
	return ""
}
