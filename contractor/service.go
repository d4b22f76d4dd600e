package contractor

import (
	"context"
	"strings"

	"bidflow/apperr"
)

// Store abstracts repository operations for the service.
type Store interface {
	Create(ctx context.Context, params CreateParams) (Profile, error)
	GetByID(ctx context.Context, id string) (Profile, error)
	GetByUserID(ctx context.Context, userID string) (Profile, error)
	List(ctx context.Context, limit int) ([]Profile, error)
	Update(ctx context.Context, params UpdateParams) (Profile, error)
}

// Service exposes business-level contractor operations.
type Service struct {
	repo Store
}

// NewService builds a Service using the provided repository.
func NewService(repo Store) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, params CreateParams) (Profile, error) {
	if params.UserID == "" {
		return Profile{}, apperr.Validation("contractor: user id is required")
	}
	params.CompanyName = strings.TrimSpace(params.CompanyName)
	if params.CompanyName == "" {
		return Profile{}, apperr.Validation("contractor: company name is required")
	}
	if params.ExperienceYears != nil && *params.ExperienceYears < 0 {
		return Profile{}, errNegativeExpYrs
	}
	params.Specialties = cleanList(params.Specialties)
	params.Licenses = cleanList(params.Licenses)
	return s.repo.Create(ctx, params)
}

// GetByID returns the contractor profile for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Profile, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByUserID(ctx context.Context, userID string) (Profile, error) {
	return s.repo.GetByUserID(ctx, userID)
}

// List returns up to limit contractor profiles.
func (s *Service) List(ctx context.Context, limit int) ([]Profile, error) {
	return s.repo.List(ctx, limit)
}

// Update changes a profile. Only the owning user may edit it.
func (s *Service) Update(ctx context.Context, actorID string, params UpdateParams) (Profile, error) {
	current, err := s.repo.GetByID(ctx, params.ID)
	if err != nil {
		return Profile{}, err
	}
	if current.UserID != actorID {
		return Profile{}, apperr.New(apperr.ErrForbidden, "contractor: profile belongs to another user")
	}
	if params.CompanyName != nil {
		name := strings.TrimSpace(*params.CompanyName)
		if name == "" {
			return Profile{}, apperr.Validation("contractor: company name must not be blank")
		}
		params.CompanyName = &name
	}
	if params.ExperienceYears != nil && *params.ExperienceYears < 0 {
		return Profile{}, errNegativeExpYrs
	}
	if params.Specialties != nil {
		params.Specialties = cleanList(params.Specialties)
	}
	if params.Licenses != nil {
		params.Licenses = cleanList(params.Licenses)
	}
	return s.repo.Update(ctx, params)
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(v)]; dup {
			continue
		}
		seen[strings.ToLower(v)] = struct{}{}
		out = append(out, v)
	}
	return out
}
