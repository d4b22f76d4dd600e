package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"bidflow/apperr"
)

var (
	// ErrInvalidCredentials covers both an unknown account and a wrong password.
	ErrInvalidCredentials = apperr.New(apperr.ErrUnauthorized, "auth: invalid credentials")
	ErrWeakPassword       = apperr.New(apperr.ErrValidation, "auth: password must be at least 8 characters")
	ErrInvalidToken       = apperr.New(apperr.ErrUnauthorized, "auth: invalid token")
)

const (
	minPasswordLen = 8
	sessionTTL     = 24 * time.Hour
)

// sessionClaims is the JWT body. The subject is the user id.
type sessionClaims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and verifies bearer sessions for homeowners and contractors.
type Service struct {
	repo   Repository
	secret []byte
	now    func() time.Time
}

type LoginResult struct {
	Token string
	User  User
}

func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{repo: repo, secret: []byte(jwtSecret), now: time.Now}
}

// Register stores a new account. UserType defaults to homeowner.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	params, err := registrationParams(req)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	params.PasswordHash = string(hash)

	u, err := s.repo.CreateUser(ctx, params)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func registrationParams(req RegisterRequest) (CreateUserParams, error) {
	if len(req.Password) < minPasswordLen {
		return CreateUserParams{}, ErrWeakPassword
	}
	p := CreateUserParams{
		Username:  strings.TrimSpace(req.Username),
		Email:     strings.TrimSpace(req.Email),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Role:      Role(strings.TrimSpace(string(req.UserType))),
		Phone:     req.Phone,
		Location:  req.Location,
	}
	if p.Username == "" || p.Email == "" || p.FirstName == "" || p.LastName == "" {
		return CreateUserParams{}, apperr.Validation("auth: username, email, firstName and lastName are required")
	}
	if _, err := mail.ParseAddress(p.Email); err != nil {
		return CreateUserParams{}, apperr.Validationf("auth: invalid email %q", p.Email)
	}
	if p.Role == "" {
		p.Role = RoleHomeowner
	}
	if !p.Role.Valid() {
		return CreateUserParams{}, apperr.Validationf("auth: invalid user type %q", p.Role)
	}
	return p, nil
}

// Login checks the password and issues a session token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	u, err := s.lookup(ctx, req)
	if errors.Is(err, ErrUserNotFound) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.issue(u)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return LoginResult{Token: token, User: u}, nil
}

func (s *Service) lookup(ctx context.Context, req LoginRequest) (User, error) {
	if name := strings.TrimSpace(req.Username); name != "" {
		return s.repo.GetUserByUsername(ctx, name)
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		return s.repo.GetUserByEmail(ctx, email)
	}
	return User{}, ErrUserNotFound
}

func (s *Service) GetUserByID(ctx context.Context, userID string) (*User, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// VerifyToken returns the user id and role a session token was issued for.
func (s *Service) VerifyToken(token string) (string, Role, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", "", apperr.Wrap(apperr.ErrUnauthorized, "auth: invalid token", err)
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.Role, nil
}

func (s *Service) issue(u User) (string, error) {
	now := s.now()
	claims := sessionClaims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
