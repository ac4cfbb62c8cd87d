package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/hertz-contrib/jwt"
)

const (
	IdentityKey = "staff_id"
	RoleKey     = "role"
)

var (
	ErrGeneratorNotInitialized = errors.New("token generator not initialized")
	ErrUnexpectedSigningMethod = errors.New("unexpected signing method")
	ErrInvalidToken            = errors.New("invalid token")
	ErrStaffIDNotFound         = errors.New("staff id not found in token")
)

// Options 生成器配置
type Options struct {
	Secret  string
	Timeout time.Duration
}

var (
	// 这个实例会被 middleware 和 token 包共同使用
	sharedGenerator *jwt.HertzJWTMiddleware
	secret          []byte
)

func Init(opts Options) error {
	if opts.Secret == "" {
		return fmt.Errorf("failed to initialize token generator: empty secret")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Hour
	}

	generator, err := jwt.New(&jwt.HertzJWTMiddleware{
		Key:         []byte(opts.Secret),
		Timeout:     opts.Timeout,
		IdentityKey: IdentityKey,
		TimeFunc:    time.Now,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token generator: %w", err)
	}

	sharedGenerator = generator
	secret = []byte(opts.Secret)
	return nil
}

// GetGenerator 获取共享的 token 生成器（供 middleware 使用）
func GetGenerator() *jwt.HertzJWTMiddleware {
	return sharedGenerator
}

// GenerateStaffToken 为员工签发 access token，用于联调和运维脚本
func GenerateStaffToken(staffID int64, role string) (string, time.Time, error) {
	if sharedGenerator == nil {
		return "", time.Time{}, ErrGeneratorNotInitialized
	}

	now := sharedGenerator.TimeFunc()
	expiresAt := now.Add(sharedGenerator.Timeout)

	claims := jwtv5.MapClaims{
		IdentityKey: strconv.FormatInt(staffID, 10),
		RoleKey:     role,
		"iat":       now.Unix(),
		"exp":       expiresAt.Unix(),
		"orig_iat":  now.Unix(),
	}

	signed, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}

	return signed, expiresAt, nil
}

// ParseStaffID 校验 token 并返回员工 ID
func ParseStaffID(tokenString string) (int64, error) {
	if sharedGenerator == nil {
		return 0, ErrGeneratorNotInitialized
	}

	parsed, err := jwtv5.ParseWithClaims(tokenString, jwtv5.MapClaims{}, func(t *jwtv5.Token) (interface{}, error) {
		if t.Method != jwtv5.SigningMethodHS256 {
			return nil, fmt.Errorf("%w: %v, expected HS256", ErrUnexpectedSigningMethod, t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to parse token: %w", err)
	}
	if !parsed.Valid {
		return 0, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwtv5.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}

	return StaffIDFromClaim(claims[IdentityKey])
}

// StaffIDFromClaim 兼容字符串与数字两种 claim 形式
func StaffIDFromClaim(v interface{}) (int64, error) {
	switch id := v.(type) {
	case string:
		parsed, err := strconv.ParseInt(id, 10, 64)
		if err != nil || parsed <= 0 {
			return 0, ErrStaffIDNotFound
		}
		return parsed, nil
	case float64:
		if id <= 0 {
			return 0, ErrStaffIDNotFound
		}
		return int64(id), nil
	default:
		return 0, ErrStaffIDNotFound
	}
}
