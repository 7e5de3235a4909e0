package fs

import (
	"context"
	"errors"
	"sort"
	"time"

	acc "github.com/panyam/accounts"
)

// ProfileStore implements acc.ProfileStore on the filesystem. Profiles are
// written as acc.Profile JSON.
type ProfileStore struct {
	s *Store
}

func (st *ProfileStore) CreateProfile(_ context.Context, profile *acc.Profile) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	return st.create(profile)
}

// create assigns the next id and writes profile. Called with mu held.
func (st *ProfileStore) create(profile *acc.Profile) error {
	dir := st.s.dir(profilesDir)
	owned, err := scan(dir, func(p *acc.Profile) bool { return p.AccountID == profile.AccountID })
	if err != nil {
		return err
	}
	if len(owned) > 0 {
		return acc.ErrConflict
	}
	id, err := nextID(dir, func(p *acc.Profile) int64 { return p.ID })
	if err != nil {
		return err
	}
	profile.ID = id
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now().UTC()
	}
	profile.UpdatedAt = profile.CreatedAt
	return writeRecord(st.s.path(profilesDir, idName(id)), profile)
}

func (st *ProfileStore) GetProfile(_ context.Context, id int64) (*acc.Profile, error) {
	var p acc.Profile
	if err := readRecord(st.s.path(profilesDir, idName(id)), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (st *ProfileStore) GetProfileByAccount(_ context.Context, accountID string) (*acc.Profile, error) {
	return first(st.s.dir(profilesDir), func(p *acc.Profile) bool { return p.AccountID == accountID })
}

func (st *ProfileStore) ListProfiles(_ context.Context, filter acc.ProfileFilter) ([]*acc.Profile, error) {
	var keep func(*acc.Profile) bool
	if filter.AccountID != "" {
		keep = func(p *acc.Profile) bool { return p.AccountID == filter.AccountID }
	}
	out, err := scan(st.s.dir(profilesDir), keep)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if out == nil {
		out = []*acc.Profile{}
	}
	return out, nil
}

func (st *ProfileStore) SaveProfile(_ context.Context, profile *acc.Profile) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	path := st.s.path(profilesDir, idName(profile.ID))
	var current acc.Profile
	if err := readRecord(path, &current); err != nil {
		return err
	}
	if current.AccountID != profile.AccountID {
		return errors.New("profile owner cannot change")
	}
	return writeRecord(path, profile)
}
