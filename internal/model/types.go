package model

// User is a person known to the backend.
type User struct {
	UserID          string `json:"UserID"`
	Name            string `json:"Name,omitempty"`
	PhoneNumber     string `json:"PhoneNumber,omitempty"`
	ProfilePhotoURL string `json:"ProfilePhotoURL,omitempty"`
}

// Profile is the signed-in user's own profile.
type Profile struct {
	UserID           string `json:"UserID"`
	Name             string `json:"Name,omitempty"`
	PhoneNumber      string `json:"PhoneNumber,omitempty"`
	EmailAddress     string `json:"EmailAddress,omitempty"`
	ProfilePhotoID   string `json:"ProfilePhotoID,omitempty"`
	ProfilePhotoURL  string `json:"ProfilePhotoURL,omitempty"`
	CreatedTimestamp int64  `json:"CreatedTimestamp,omitempty"`
}

// Invite is a phone invite sent by the user.
type Invite struct {
	InviteID               string `json:"InviteID"`
	Name                   string `json:"Name,omitempty"`
	PhoneNumber            string `json:"PhoneNumber"`
	Label                  string `json:"Label,omitempty"`
	CreatedTimestampMillis int64  `json:"CreatedTimestampMillis,omitempty"`
}

// Connections holds the five role lists of the connections snapshot.
type Connections struct {
	Invites     []Invite `json:"Invites,omitempty"`
	Inviters    []User   `json:"Inviters,omitempty"`
	Connections []User   `json:"Connections,omitempty"`
	Incoming    []User   `json:"Incoming,omitempty"`
	Outgoing    []User   `json:"Outgoing,omitempty"`
}

// Message is a single chat message. MessageID is a per-chat sequence
// starting at 1.
type Message struct {
	MessageID              int64  `json:"MessageID"`
	ChatID                 string `json:"ChatID"`
	SenderID               string `json:"SenderID,omitempty"`
	Text                   string `json:"Text,omitempty"`
	CreatedTimestampMillis int64  `json:"CreatedTimestampMillis,omitempty"`
}

// Gist summarizes a chat without its message list.
type Gist struct {
	ChatID            string   `json:"ChatID"`
	Participants      []User   `json:"Participants,omitempty"`
	LatestMessage     *Message `json:"LatestMessage,omitempty"`
	LastSeenMessageID int64    `json:"LastSeenMessageID,omitempty"`
	TypingUserIDs     []string `json:"TypingUserIDs,omitempty"`
	Draft             string   `json:"Draft,omitempty"`
}

// Chat is a gist plus its locally held messages, ordered by ID.
type Chat struct {
	Gist     Gist      `json:"Gist"`
	Messages []Message `json:"Messages,omitempty"`
}

// ContactsSnapshot is the set of users resolved from the device address
// book. It is replaced wholesale on every sync.
type ContactsSnapshot struct {
	Users          []User `json:"Users,omitempty"`
	SyncedAtMillis int64  `json:"SyncedAtMillis,omitempty"`
}

// ContactEntry is one normalized address-book row sent for resolution.
type ContactEntry struct {
	Name        string `json:"Name"`
	Label       string `json:"Label,omitempty"`
	PhoneNumber string `json:"PhoneNumber"`
}

// Image is an uploaded image reference.
type Image struct {
	ImageID string `json:"ImageID"`
	URL     string `json:"URL"`
}
