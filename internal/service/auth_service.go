package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/repository"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	UserID int        `json:"user_id"`
	Role   model.Role `json:"role"`
}

// Actor returns the caller identity carried by the token.
func (c *Claims) Actor() Actor {
	return Actor{UserID: c.UserID, Role: c.Role}
}

// AuthService handles accounts, JWTs and the single active session per user.
type AuthService struct {
	users UserStore
	cfg   *config.Config
	rdb   *redis.Client
	log   zerolog.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(users UserStore, cfg *config.Config, rdb *redis.Client, log zerolog.Logger) *AuthService {
	return &AuthService{
		users: users,
		cfg:   cfg,
		rdb:   rdb,
		log:   log.With().Str("component", "auth_service").Logger(),
	}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Register creates a student account.
func (s *AuthService) Register(ctx context.Context, req *model.RegisterRequest) (*model.User, error) {
	return s.CreateUser(ctx, req.Email, req.Name, req.Password, model.RoleStudent)
}

// CreateUser creates an account with any role.
func (s *AuthService) CreateUser(ctx context.Context, email, name, password string, role model.Role) (*model.User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{Email: email, Name: name, PasswordHash: hash, Role: role}
	if err := s.users.Create(ctx, user); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.Info().Int("user_id", user.ID).Str("role", string(role)).Msg("User created")
	return user, nil
}

// Login checks the credentials under the failed-attempt limit and issues a token.
// A new login replaces the user's previous session.
func (s *AuthService) Login(ctx context.Context, req *model.LoginRequest) (*model.LoginResponse, error) {
	attemptsKey := config.CacheKey.LoginAttemptsKey(req.Email)

	failures, err := s.rdb.Get(ctx, attemptsKey).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read login attempts: %w", err)
	}
	if failures >= s.cfg.LoginMaxAttempts {
		return nil, ErrTooManyLogins
	}

	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.recordFailure(ctx, attemptsKey)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := s.CheckPassword(user.PasswordHash, req.Password); err != nil {
		s.recordFailure(ctx, attemptsKey)
		return nil, err
	}

	s.rdb.Del(ctx, attemptsKey)

	token, expiresAt, err := s.GenerateToken(ctx, user)
	if err != nil {
		return nil, err
	}

	s.log.Info().Int("user_id", user.ID).Msg("User logged in")
	return &model.LoginResponse{Token: token, ExpiresAt: expiresAt, User: *user}, nil
}

func (s *AuthService) recordFailure(ctx context.Context, key string) {
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to count login failure")
		return
	}
	if n == 1 {
		s.rdb.Expire(ctx, key, s.cfg.LoginLockout)
	}
	if n == int64(s.cfg.LoginMaxAttempts) {
		s.log.Warn().Str("key", key).Dur("lockout", s.cfg.LoginLockout).Msg("Login locked after repeated failures")
	}
}

// GenerateToken signs a JWT for the user and records its ID as the active session.
func (s *AuthService) GenerateToken(ctx context.Context, user *model.User) (string, time.Time, error) {
	jti := uuid.New().String()
	now := time.Now()
	expiresAt := now.Add(s.cfg.JWTExpiry)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   strconv.Itoa(user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: user.ID,
		Role:   user.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	// Store session in Redis with same expiry as JWT.
	if err := s.rdb.Set(ctx, config.CacheKey.UserSessionKey(user.ID), jti, s.cfg.JWTExpiry).Err(); err != nil {
		return "", time.Time{}, fmt.Errorf("store session: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// ValidateSession checks that the token's JTI is the user's active session.
func (s *AuthService) ValidateSession(ctx context.Context, userID int, jti string) error {
	stored, err := s.rdb.Get(ctx, config.CacheKey.UserSessionKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrSessionRevoked
		}
		return fmt.Errorf("check session: %w", err)
	}
	if stored != jti {
		return ErrSessionRevoked
	}
	return nil
}

// Logout ends the session identified by jti, if it is still the active one.
func (s *AuthService) Logout(ctx context.Context, userID int, jti string) error {
	key := config.CacheKey.UserSessionKey(userID)
	stored, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if stored != jti {
		return nil
	}
	return s.rdb.Del(ctx, key).Err()
}

// Me returns the authenticated user.
func (s *AuthService) Me(ctx context.Context, userID int) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}
