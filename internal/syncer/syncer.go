// Package syncer fetches snapshots from the backend and reconciles them
// into state. Every fetch is fenced, so a slow response never overwrites a
// newer local update.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yanivian/connect-app-sub000/internal/backend"
	"github.com/yanivian/connect-app-sub000/internal/bus"
	"github.com/yanivian/connect-app-sub000/internal/contacts"
	"github.com/yanivian/connect-app-sub000/internal/model"
	"github.com/yanivian/connect-app-sub000/internal/state"
)

// Backend is the subset of the backend API used by the syncer.
type Backend interface {
	ListConnections(ctx context.Context) (*model.Connections, error)
	GetChat(ctx context.Context, chatID string) (*model.Chat, error)
	AddConnection(ctx context.Context, targetUserID string) (*backend.AddConnectionResult, error)
	CreateInvite(ctx context.Context, name, phoneNumber, label string) (*model.Invite, error)
	DeleteInvite(ctx context.Context, inviteID string) error
	UpdateContacts(ctx context.Context, entries []model.ContactEntry) (*model.ContactsSnapshot, error)
}

// ContactsSource lists the device address book.
type ContactsSource interface {
	Entries() ([]model.ContactEntry, error)
}

// Syncer runs backend operations and applies their results to state.
type Syncer struct {
	api      Backend
	store    *state.Store
	contacts ContactsSource
	bus      *bus.Bus
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// New creates a syncer. src may be nil when no address book is configured.
func New(api Backend, st *state.Store, src ContactsSource, b *bus.Bus, logger *zap.Logger) *Syncer {
	return &Syncer{
		api:      api,
		store:    st,
		contacts: src,
		bus:      b,
		logger:   logger,
	}
}

// Start subscribes to address-book changes and resyncs contacts on each.
func (s *Syncer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	ch, unsub := s.bus.Subscribe("device.", 16)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if evt.Kind != bus.KindDeviceContactsChanged {
					continue
				}
				if _, err := s.SyncContacts(ctx); err != nil {
					s.logger.Error("contacts sync failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the syncer.
func (s *Syncer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// RefreshConnections replaces the connections snapshot with a fresh one.
func (s *Syncer) RefreshConnections(ctx context.Context) error {
	gen := s.store.BeginFetch(string(state.SliceConnections))
	conns, err := s.api.ListConnections(ctx)
	if err != nil {
		return fmt.Errorf("list connections: %w", err)
	}
	s.store.DispatchFetched(gen, state.ReplaceConnectionsAction{Connections: *conns})
	return nil
}

// RefreshChat refetches a chat with all of its messages.
func (s *Syncer) RefreshChat(ctx context.Context, chatID string) error {
	gen := s.store.BeginFetch(state.ChatKey(chatID))
	chat, err := s.api.GetChat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("get chat: %w", err)
	}
	if chat.Gist.ChatID == "" {
		chat.Gist.ChatID = chatID
	}
	s.store.DispatchFetched(gen, state.IncorporateChatAction{Chat: *chat})
	return nil
}

// AddConnection adds targetUserID and records the outcome.
func (s *Syncer) AddConnection(ctx context.Context, targetUserID string) (*backend.AddConnectionResult, error) {
	res, err := s.api.AddConnection(ctx, targetUserID)
	if err != nil {
		return nil, fmt.Errorf("add connection: %w", err)
	}
	s.store.Dispatch(state.AddConnectionAction{User: res.User, IsConnected: res.IsConnected})
	return res, nil
}

func (s *Syncer) CreateInvite(ctx context.Context, name, phoneNumber, label string) (*model.Invite, error) {
	inv, err := s.api.CreateInvite(ctx, name, phoneNumber, label)
	if err != nil {
		return nil, fmt.Errorf("create invite: %w", err)
	}
	s.store.Dispatch(state.AddInviteAction{Invite: *inv})
	return inv, nil
}

func (s *Syncer) DeleteInvite(ctx context.Context, inviteID string) error {
	if err := s.api.DeleteInvite(ctx, inviteID); err != nil {
		return fmt.Errorf("delete invite: %w", err)
	}
	s.store.Dispatch(state.DeleteInviteAction{InviteID: inviteID})
	return nil
}

// SyncContacts uploads the address book and replaces the contacts
// snapshot with the resolved users. It returns false without error when
// the address book is not accessible.
func (s *Syncer) SyncContacts(ctx context.Context) (bool, error) {
	if s.contacts == nil {
		return false, nil
	}
	entries, err := s.contacts.Entries()
	if errors.Is(err, contacts.ErrPermissionDenied) {
		s.logger.Info("address book not accessible, skipping contacts sync", zap.Error(err))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	gen := s.store.BeginFetch(string(state.SliceContacts))
	snap, err := s.api.UpdateContacts(ctx, entries)
	if err != nil {
		return false, fmt.Errorf("update contacts: %w", err)
	}
	if snap.SyncedAtMillis == 0 {
		snap.SyncedAtMillis = time.Now().UnixMilli()
	}
	_, ok := s.store.DispatchFetched(gen, state.RefreshContactsAction{Snapshot: *snap})
	if ok {
		s.logger.Info("contacts synced", zap.Int("entries", len(entries)), zap.Int("users", len(snap.Users)))
	}
	return ok, nil
}
