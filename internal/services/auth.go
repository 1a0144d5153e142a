package services

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	types "github.com/yungbote/sitegen-backend/internal/domain"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
)

const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
)

// AuthService issues and verifies the HS256 tokens used for admin calls and
// for the edit links sent to site owners.
type AuthService interface {
	IssueAdminToken(subject string, ttl time.Duration) (string, error)
	VerifyAdminToken(token string) (*Claims, error)
	IssueEditToken(op *types.Operation) (string, error)
	ParseEditToken(token string) (*Claims, error)
	EditLink(op *types.Operation) (string, error)
}

type Claims struct {
	Role        string `json:"role"`
	ProjectName string `json:"project,omitempty"`
	jwt.RegisteredClaims
}

type AuthConfig struct {
	JWTSecret    string
	EditTokenTTL time.Duration
	EditBaseURL  string
	Issuer       string
}

type authService struct {
	secret      []byte
	editTTL     time.Duration
	editBaseURL string
	issuer      string
	now         func() time.Time
}

func NewAuthService(cfg AuthConfig) (AuthService, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, fmt.Errorf("missing JWT_SECRET")
	}
	if cfg.EditTokenTTL <= 0 {
		cfg.EditTokenTTL = 30 * 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "sitegen"
	}
	return &authService{
		secret:      []byte(cfg.JWTSecret),
		editTTL:     cfg.EditTokenTTL,
		editBaseURL: strings.TrimSpace(cfg.EditBaseURL),
		issuer:      cfg.Issuer,
		now:         time.Now,
	}, nil
}

func unauthorized(detail string) error {
	if detail == "" {
		return apperrors.Wrap(apperrors.ClassAuth, apperrors.ErrUnauthorized)
	}
	return apperrors.Wrap(apperrors.ClassAuth, fmt.Errorf("%w: %s", apperrors.ErrUnauthorized, detail))
}

func (as *authService) sign(c Claims, ttl time.Duration) (string, error) {
	now := as.now()
	c.Issuer = as.issuer
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	c.ID = uuid.NewString()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(as.secret)
}

func (as *authService) parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, unauthorized("")
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return as.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(as.issuer),
		jwt.WithTimeFunc(as.now),
	)
	if err != nil {
		return nil, unauthorized(err.Error())
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, unauthorized("invalid token")
	}
	return claims, nil
}

func (as *authService) IssueAdminToken(subject string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return as.sign(Claims{Role: RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}, ttl)
}

func (as *authService) VerifyAdminToken(token string) (*Claims, error) {
	c, err := as.parse(token)
	if err != nil {
		return nil, err
	}
	if c.Role != RoleAdmin {
		return nil, unauthorized("role " + c.Role)
	}
	return c, nil
}

func (as *authService) IssueEditToken(op *types.Operation) (string, error) {
	if op == nil {
		return "", fmt.Errorf("operation is nil")
	}
	return as.sign(Claims{
		Role:             RoleEditor,
		ProjectName:      op.ProjectName,
		RegisteredClaims: jwt.RegisteredClaims{Subject: op.ID.String()},
	}, as.editTTL)
}

func (as *authService) ParseEditToken(token string) (*Claims, error) {
	c, err := as.parse(token)
	if err != nil {
		return nil, err
	}
	if c.Role != RoleEditor {
		return nil, unauthorized("role " + c.Role)
	}
	return c, nil
}

// EditLink is EditBaseURL with the project and a signed edit token added as
// query parameters.
func (as *authService) EditLink(op *types.Operation) (string, error) {
	if as.editBaseURL == "" {
		return "", fmt.Errorf("missing EDITOR_BASE_URL")
	}
	u, err := url.Parse(as.editBaseURL)
	if err != nil {
		return "", fmt.Errorf("parse EDITOR_BASE_URL: %w", err)
	}
	token, err := as.IssueEditToken(op)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("project", op.ProjectName)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
