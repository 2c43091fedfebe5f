package store

// SessionStatus is the lifecycle status of a chat session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "ACTIVE"
	SessionArchived SessionStatus = "ARCHIVED"
	SessionDeleted  SessionStatus = "DELETED"
)

func (s SessionStatus) String() string {
	return string(s)
}

// GenerationConfig holds the model parameters attached to a session.
// Known parameters are typed fields; anything else goes through Extra
// so newer provider options survive round-trips without schema changes.
type GenerationConfig struct {
	Model            string         `json:"model,omitempty"`
	MaxTokens        *int           `json:"maxTokens,omitempty"`
	Temperature      *float32       `json:"temperature,omitempty"`
	TopP             *float32       `json:"topP,omitempty"`
	FrequencyPenalty *float32       `json:"frequencyPenalty,omitempty"`
	PresencePenalty  *float32       `json:"presencePenalty,omitempty"`
	TopK             *int           `json:"topK,omitempty"`
	Extra            map[string]any `json:"extra,omitempty"`
}

type Session struct {
	// ID is the system generated unique identifier for the session.
	ID int32
	// UID is the externally visible unique identifier for the session.
	UID string

	// Standard fields
	CreatorID int32
	CreatedTs int64
	UpdatedTs int64

	// Domain specific fields
	Title          string
	Status         SessionStatus
	Config         GenerationConfig
	MessageCount   int32
	Pinned         bool
	Tags           []string
	LastActivityTs int64
}

type FindSession struct {
	ID        *int32
	UID       *string
	CreatorID *int32
	Status    *SessionStatus
	Pinned    *bool
	// ExcludeDeleted filters out soft-deleted sessions.
	ExcludeDeleted bool
	Limit          *int
	Offset         *int
}

// UpdateSession patches a session. Ownership is always enforced by the
// (ID, CreatorID) pair; the update affects no rows when the creator
// does not match.
type UpdateSession struct {
	ID        int32
	CreatorID int32

	Title          *string
	Status         *SessionStatus
	Config         *GenerationConfig
	MessageCount   *int32
	Pinned         *bool
	Tags           *[]string
	UpdatedTs      *int64
	LastActivityTs *int64
}

type DeleteSession struct {
	ID        int32
	CreatorID int32
}
