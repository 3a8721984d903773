package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/hackgods/clinic-booking/internal/clinic"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
)

// Caller is the authenticated identity handed to the rest of the app.
type Caller struct {
	UserID uuid.UUID
	Role   clinic.Role
}

func (c Caller) IsAdmin() bool { return c.Role == clinic.RoleAdmin }

func CallerOf(u *clinic.User) Caller {
	return Caller{UserID: u.ID, Role: u.Role}
}

type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

type Service struct {
	users  clinic.UserStore
	secret []byte
	ttl    time.Duration
	log    *zap.Logger
	now    func() time.Time
}

func NewService(users clinic.UserStore, secret string, ttl time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:  users,
		secret: []byte(secret),
		ttl:    ttl,
		log:    logger,
		now:    time.Now,
	}
}

// Issue signs an HS256 token carrying the caller's id and role.
func (s *Service) Issue(c Caller) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: c.UserID.String(),
		Role:   string(c.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// CurrentCaller resolves a bearer token. Every failure is ErrInvalidToken.
func (s *Service) CurrentCaller(raw string) (Caller, error) {
	if raw == "" {
		return Caller{}, ErrInvalidToken
	}

	tok, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		// block alg confusion
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithExpirationRequired(), jwt.WithTimeFunc(s.now))
	if err != nil {
		return Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return Caller{}, ErrInvalidToken
	}

	id, err := uuid.Parse(c.UserID)
	if err != nil {
		return Caller{}, ErrInvalidToken
	}
	role := clinic.Role(c.Role)
	if role != clinic.RoleCitizen && role != clinic.RoleAdmin {
		return Caller{}, ErrInvalidToken
	}
	return Caller{UserID: id, Role: role}, nil
}

// Authenticate checks an email and password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*clinic.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", clinic.ErrValidation)
	}

	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, clinic.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// Register creates a citizen account.
func (s *Service) Register(ctx context.Context, name, email, password string) (*clinic.User, error) {
	return s.CreateUser(ctx, name, email, password, clinic.RoleCitizen)
}

func (s *Service) CreateUser(ctx context.Context, name, email, password string, role clinic.Role) (*clinic.User, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" || email == "" || password == "" {
		return nil, fmt.Errorf("%w: name, email and password are required", clinic.ErrValidation)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: email is not valid", clinic.ErrValidation)
	}
	if role != clinic.RoleCitizen && role != clinic.RoleAdmin {
		return nil, fmt.Errorf("%w: unknown role %q", clinic.ErrValidation, role)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.users.CreateUser(ctx, clinic.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now(),
	})
	if err != nil {
		if errors.Is(err, clinic.ErrEmailTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]clinic.User, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// EnsureAdmin creates the operator account on first start. An existing
// account with that email is left untouched.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		s.log.Warn("admin account not ensured, ADMIN_EMAIL or ADMIN_PASSWORD empty")
		return nil
	}

	existing, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Role != clinic.RoleAdmin {
			s.log.Warn("configured admin email belongs to a non-admin account", zap.String("email", email))
		}
		return nil
	case !errors.Is(err, clinic.ErrUserNotFound):
		return fmt.Errorf("load admin: %w", err)
	}

	if _, err := s.CreateUser(ctx, "Administrator", email, password, clinic.RoleAdmin); err != nil {
		if errors.Is(err, clinic.ErrEmailTaken) {
			return nil
		}
		return err
	}
	s.log.Info("admin account created", zap.String("email", email))
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
