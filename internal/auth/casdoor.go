package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/SAP-F-2025/workshop-progress/internal/config"
	"github.com/SAP-F-2025/workshop-progress/internal/models"
	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// IdentityResolver turns a login credential into an Identity.
type IdentityResolver interface {
	// Resolve parses a Casdoor access token.
	Resolve(ctx context.Context, token string) (models.Identity, error)
	// Exchange trades an OAuth authorization code for an identity.
	Exchange(ctx context.Context, code, state string) (models.Identity, error)
}

type CasdoorResolver struct {
	parse    func(token string) (*casdoorsdk.Claims, error)
	exchange func(code, state string) (string, error)
	logger   *slog.Logger
}

func NewCasdoorResolver(cfg config.CasdoorConfig, logger *slog.Logger) *CasdoorResolver {
	client := casdoorsdk.NewClient(
		cfg.Endpoint,
		cfg.ClientID,
		cfg.ClientSecret,
		cfg.Certificate,
		cfg.OrganizationName,
		cfg.ApplicationName,
	)
	return &CasdoorResolver{
		parse: client.ParseJwtToken,
		exchange: func(code, state string) (string, error) {
			token, err := client.GetOAuthToken(code, state)
			if err != nil {
				return "", err
			}
			return token.AccessToken, nil
		},
		logger: logger,
	}
}

func (r *CasdoorResolver) Resolve(ctx context.Context, token string) (models.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Identity{}, ErrMissingToken
	}

	claims, err := r.parse(token)
	if err != nil {
		r.logger.DebugContext(ctx, "Rejected casdoor token", "error", err)
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return IdentityFromClaims(claims, token), nil
}

func (r *CasdoorResolver) Exchange(ctx context.Context, code, state string) (models.Identity, error) {
	if code == "" {
		return models.Identity{}, ErrMissingToken
	}
	token, err := r.exchange(code, state)
	if err != nil {
		return models.Identity{}, fmt.Errorf("exchange authorization code: %w", err)
	}
	return r.Resolve(ctx, token)
}

// IdentityFromClaims maps a Casdoor user to an identity. Admins are taken from
// the IsAdmin flag, then from role names, then from the user's tag. Everyone
// else is a student.
func IdentityFromClaims(claims *casdoorsdk.Claims, token string) models.Identity {
	id := claims.User.Id
	if id == "" {
		id = claims.User.Name
	}
	name := claims.User.DisplayName
	if name == "" {
		name = claims.User.Name
	}
	return models.Identity{
		UserID: id,
		Name:   name,
		Email:  claims.User.Email,
		Role:   roleOf(&claims.User),
		Token:  token,
	}
}

func roleOf(user *casdoorsdk.User) models.UserRole {
	if user.IsAdmin {
		return models.RoleAdmin
	}

	best := models.UserRole("")
	for _, r := range user.Roles {
		if r == nil {
			continue
		}
		role := models.UserRole(strings.ToLower(r.Name))
		if rank(role) > rank(best) {
			best = role
		}
	}
	if best != "" {
		return best
	}

	if role := models.UserRole(strings.ToLower(user.Tag)); role.IsValid() {
		return role
	}
	return models.RoleStudent
}

func rank(role models.UserRole) int {
	switch role {
	case models.RoleAdmin:
		return 3
	case models.RoleTrainer:
		return 2
	case models.RoleStudent:
		return 1
	default:
		return 0
	}
}
