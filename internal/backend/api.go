package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/yanivian/connect-app-sub000/internal/model"
)

// LoginContext is returned by Login.
type LoginContext struct {
	Profile model.Profile `json:"Profile"`
}

// Login registers the signed-in user with the backend and returns their
// profile. phoneNumber is only used on first sign-in.
func (c *Client) Login(ctx context.Context, phoneNumber string) (*LoginContext, error) {
	var out LoginContext
	form := url.Values{}
	if phoneNumber != "" {
		form.Set("phoneNumber", phoneNumber)
	}
	if err := c.post(ctx, "/user/login", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProfileUpdate lists the profile fields to change. Empty fields are left
// unchanged.
type ProfileUpdate struct {
	Name           string
	EmailAddress   string
	ProfilePhotoID string
}

func (c *Client) UpdateProfile(ctx context.Context, u ProfileUpdate) (*model.Profile, error) {
	form := url.Values{}
	setIf(form, "name", u.Name)
	setIf(form, "emailAddress", u.EmailAddress)
	setIf(form, "profilePhotoID", u.ProfilePhotoID)
	var out model.Profile
	if err := c.post(ctx, "/profile/update", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshDeviceToken registers the push token of this device.
func (c *Client) RefreshDeviceToken(ctx context.Context, deviceToken string) error {
	return c.post(ctx, "/profile/refreshdevicetoken", url.Values{"deviceToken": {deviceToken}}, nil)
}

// AddConnectionResult is the outcome of adding a user. IsConnected is true
// when the target had already added the caller.
type AddConnectionResult struct {
	User        model.User `json:"User"`
	IsConnected bool       `json:"IsConnected"`
}

func (c *Client) AddConnection(ctx context.Context, targetUserID string) (*AddConnectionResult, error) {
	var out AddConnectionResult
	if err := c.post(ctx, "/connection/add", url.Values{"targetUserID": {targetUserID}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListConnections fetches the full connections snapshot.
func (c *Client) ListConnections(ctx context.Context) (*model.Connections, error) {
	var out model.Connections
	if err := c.post(ctx, "/connection/list", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateContacts uploads address-book entries and returns the users they
// resolve to.
func (c *Client) UpdateContacts(ctx context.Context, entries []model.ContactEntry) (*model.ContactsSnapshot, error) {
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode contacts: %w", err)
	}
	var out model.ContactsSnapshot
	if err := c.post(ctx, "/contact/update", url.Values{"contacts": {string(data)}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadImage uploads image bytes. The content type is sniffed from data.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte) (*model.Image, error) {
	var out model.Image
	if err := c.postFile(ctx, "/image/upload", filename, data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateInvite(ctx context.Context, name, phoneNumber, label string) (*model.Invite, error) {
	form := url.Values{"phoneNumber": {phoneNumber}}
	setIf(form, "name", name)
	setIf(form, "label", label)
	var out model.Invite
	if err := c.post(ctx, "/invite/create", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteInvite(ctx context.Context, inviteID string) error {
	return c.post(ctx, "/invite/delete", url.Values{"inviteID": {inviteID}}, nil)
}

// GetChat fetches a chat with its full message list.
func (c *Client) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	var out model.Chat
	if err := c.post(ctx, "/chat/get", url.Values{"chatID": {chatID}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PostMessageResult carries the stored message and its updated chat.
type PostMessageResult struct {
	Chat    model.Chat    `json:"Chat"`
	Message model.Message `json:"Message"`
}

// PostMessage sends text to a chat. clientMessageID lets the backend drop
// duplicate posts of the same outgoing message.
func (c *Client) PostMessage(ctx context.Context, chatID, clientMessageID, text string) (*PostMessageResult, error) {
	form := url.Values{
		"chatID":          {chatID},
		"clientMessageID": {clientMessageID},
		"text":            {text},
	}
	var out PostMessageResult
	if err := c.post(ctx, "/chat/post", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func setIf(form url.Values, key, value string) {
	if value != "" {
		form.Set(key, value)
	}
}
