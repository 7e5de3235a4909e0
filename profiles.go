package accounts

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// ProfileView is a profile as the API presents it.
type ProfileView struct {
	*Profile
	Username string `json:"username"`
	IsActive bool   `json:"is_active"`
}

// ProfileUpdate holds PATCH fields; nil means unchanged.
type ProfileUpdate struct {
	FirstName  *string         `json:"first_name"`
	MiddleName *string         `json:"middle_name"`
	LastName   *string         `json:"last_name"`
	Email      *string         `json:"email"`
	Attributes *map[string]any `json:"attributes"`
}

func (u ProfileUpdate) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.FirstName, validation.Length(0, 150)),
		validation.Field(&u.MiddleName, validation.Length(0, 150)),
		validation.Field(&u.LastName, validation.Length(0, 150)),
		validation.Field(&u.Email, validation.Length(0, 254), is.Email),
	)
}

// ProfileService serves the profile resource.
type ProfileService struct {
	Stores Stores

	// OwnerOnly restricts listing and updates to the caller's own profile.
	OwnerOnly bool

	Now func() time.Time
}

func NewProfileService(stores Stores, ownerOnly bool) *ProfileService {
	return &ProfileService{Stores: stores, OwnerOnly: ownerOnly, Now: time.Now}
}

// List returns the caller's profile when onlyMine is set and every profile,
// newest first, otherwise.
func (s *ProfileService) List(ctx context.Context, caller *Account, onlyMine bool) ([]*ProfileView, error) {
	filter := ProfileFilter{}
	if onlyMine || s.OwnerOnly {
		filter.AccountID = caller.ID
	}
	profiles, err := s.Stores.Profiles.ListProfiles(ctx, filter)
	if err != nil {
		return nil, internalError("listing profiles", err)
	}
	out := make([]*ProfileView, 0, len(profiles))
	for _, p := range profiles {
		v, err := s.view(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *ProfileService) Get(ctx context.Context, caller *Account, id int64) (*ProfileView, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.OwnerOnly && p.AccountID != caller.ID {
		return nil, ErrProfileNotFound
	}
	return s.view(ctx, p)
}

// Create makes the caller's profile when it is missing. An account never
// has more than one profile.
func (s *ProfileService) Create(ctx context.Context, caller *Account, in ProfileUpdate) (*ProfileView, error) {
	if err := in.Validate(); err != nil {
		return nil, validationError(err)
	}
	if _, err := s.Stores.Profiles.GetProfileByAccount(ctx, caller.ID); err == nil {
		return nil, ErrProfileExists
	} else if !errors.Is(err, ErrRecordNotFound) {
		return nil, internalError("loading profile", err)
	}
	p := newProfileFor(caller)
	in.apply(p)
	if err := s.Stores.Profiles.CreateProfile(ctx, p); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrProfileExists
		}
		return nil, internalError("creating profile", err)
	}
	return &ProfileView{Profile: p, Username: caller.Username, IsActive: caller.IsActive}, nil
}

// Update applies a partial update to a profile.
func (s *ProfileService) Update(ctx context.Context, caller *Account, id int64, in ProfileUpdate) (*ProfileView, error) {
	if err := in.Validate(); err != nil {
		return nil, validationError(err)
	}
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.OwnerOnly && p.AccountID != caller.ID {
		return nil, ErrForbidden
	}
	in.apply(p)
	p.UpdatedAt = s.Now().UTC()
	if err := s.Stores.Profiles.SaveProfile(ctx, p); err != nil {
		return nil, internalError("saving profile", err)
	}
	return s.view(ctx, p)
}

func (s *ProfileService) load(ctx context.Context, id int64) (*Profile, error) {
	p, err := s.Stores.Profiles.GetProfile(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, internalError("loading profile", err)
	}
	return p, nil
}

func (s *ProfileService) view(ctx context.Context, p *Profile) (*ProfileView, error) {
	account, err := s.Stores.Accounts.GetAccountByID(ctx, p.AccountID)
	if err != nil {
		return nil, internalError("loading profile owner", err)
	}
	return &ProfileView{Profile: p, Username: account.Username, IsActive: account.IsActive}, nil
}

func (u ProfileUpdate) apply(p *Profile) {
	if u.FirstName != nil {
		p.FirstName = strings.TrimSpace(*u.FirstName)
	}
	if u.MiddleName != nil {
		p.MiddleName = strings.TrimSpace(*u.MiddleName)
	}
	if u.LastName != nil {
		p.LastName = strings.TrimSpace(*u.LastName)
	}
	if u.Email != nil {
		p.Email = strings.TrimSpace(*u.Email)
	}
	if u.Attributes != nil {
		p.Attributes = *u.Attributes
	}
}
