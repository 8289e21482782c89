// Package profile keeps the signed-in user's backend profile and the
// device registration for push delivery.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/yanivian/connect-app-sub000/internal/backend"
	"github.com/yanivian/connect-app-sub000/internal/bus"
	"github.com/yanivian/connect-app-sub000/internal/model"
	"github.com/yanivian/connect-app-sub000/internal/store"
)

// Backend is the subset of the backend API used for the profile.
type Backend interface {
	Login(ctx context.Context, phoneNumber string) (*backend.LoginContext, error)
	RefreshDeviceToken(ctx context.Context, deviceToken string) error
	UpdateProfile(ctx context.Context, u backend.ProfileUpdate) (*model.Profile, error)
	UploadImage(ctx context.Context, filename string, data []byte) (*model.Image, error)
}

// ErrEmptyUpdate is returned when an update changes nothing.
var ErrEmptyUpdate = errors.New("profile update has no fields")

// Manager signs the user in and caches their profile in the store.
type Manager struct {
	userID string
	api    Backend
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	// mu orders backend writes with their local saves.
	mu sync.Mutex
}

// New creates a profile manager for userID.
func New(userID string, api Backend, db *store.DB, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{userID: userID, api: api, db: db, bus: b, logger: logger}
}

// Current returns the cached profile. found is false before the first
// successful sign-in.
func (m *Manager) Current() (p model.Profile, found bool, err error) {
	p, err = store.Load(m.db, m.userID, store.DataProfile, model.Profile{})
	if err != nil {
		return model.Profile{}, false, err
	}
	return p, p.UserID != "", nil
}

// SignIn logs in, caches the returned profile and, when deviceToken is
// set, registers this device for push delivery.
func (m *Manager) SignIn(ctx context.Context, phoneNumber, deviceToken string) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lc, err := m.api.Login(ctx, phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if err := m.saveLocked(&lc.Profile); err != nil {
		return nil, err
	}
	if deviceToken != "" {
		if err := m.api.RefreshDeviceToken(ctx, deviceToken); err != nil {
			return &lc.Profile, fmt.Errorf("register device: %w", err)
		}
	}
	m.logger.Info("signed in", zap.Bool("device_registered", deviceToken != ""))
	return &lc.Profile, nil
}

// Update changes profile fields. Empty fields are left unchanged.
func (m *Manager) Update(ctx context.Context, u backend.ProfileUpdate) (*model.Profile, error) {
	if u == (backend.ProfileUpdate{}) {
		return nil, ErrEmptyUpdate
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.api.UpdateProfile(ctx, u)
	if err != nil {
		return nil, err
	}
	if err := m.saveLocked(p); err != nil {
		return nil, err
	}
	return p, nil
}

// SetPhoto uploads an image and makes it the profile photo.
func (m *Manager) SetPhoto(ctx context.Context, filename string, data []byte, u backend.ProfileUpdate) (*model.Profile, error) {
	if len(data) == 0 {
		return nil, errors.New("empty photo")
	}
	img, err := m.api.UploadImage(ctx, filename, data)
	if err != nil {
		return nil, fmt.Errorf("upload photo: %w", err)
	}
	u.ProfilePhotoID = img.ImageID
	return m.Update(ctx, u)
}

func (m *Manager) saveLocked(p *model.Profile) error {
	if err := m.db.Save(m.userID, store.DataProfile, p); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	m.bus.Emit(bus.KindProfileChanged, *p)
	return nil
}
