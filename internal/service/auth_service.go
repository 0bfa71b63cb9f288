package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"techstore/internal/domain"
	"techstore/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 10

	// TokenExpiration is the fixed token lifetime
	TokenExpiration = 24 * time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
)

// Claims represents the JWT claims carried by every issued token
type Claims struct {
	UserID  int64 `json:"user_id"`
	IsAdmin bool  `json:"is_admin"`
	jwt.RegisteredClaims
}

// AuthService verifies credentials and issues and verifies identity tokens
type AuthService interface {
	Login(ctx context.Context, username, password string) (*domain.User, string, error)
	IssueToken(userID int64, isAdmin bool) (string, error)
	VerifyToken(tokenString string) (*Claims, error)
}

type authService struct {
	userRepo  repository.UserRepository
	jwtSecret string
}

// NewAuthService creates a new instance of AuthService
func NewAuthService(userRepo repository.UserRepository, jwtSecret string) AuthService {
	return &authService{
		userRepo:  userRepo,
		jwtSecret: jwtSecret,
	}
}

// Login verifies a username/password pair and returns the user together
// with a signed token. An unknown username and a wrong password are
// indistinguishable to the caller.
func (s *authService) Login(ctx context.Context, username, password string) (*domain.User, string, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if err == repository.ErrUserNotFound {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("failed to find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.IssueToken(user.ID, user.IsAdmin)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue token: %w", err)
	}

	// The hash stays inside the auth layer.
	sanitized := *user
	sanitized.PasswordHash = ""

	return &sanitized, token, nil
}

// IssueToken produces a signed token carrying the user id and admin flag,
// expiring TokenExpiration after issuance.
func (s *authService) IssueToken(userID int64, isAdmin bool) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:  userID,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenExpiration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// VerifyToken checks signature and expiry and returns the decoded claims.
// Any malformed, tampered or expired token yields ErrInvalidToken.
func (s *authService) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// HashPassword hashes a password using bcrypt with the fixed cost factor.
// The service itself never writes users; this is for seeds and tests.
func HashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}
