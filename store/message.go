package store

// MessageRole is the author role of a message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "USER"
	MessageRoleAssistant MessageRole = "ASSISTANT"
	MessageRoleSystem    MessageRole = "SYSTEM"
)

func (r MessageRole) String() string {
	return string(r)
}

// MessageStatus is the generation lifecycle status of a message.
// Content is mutable only while the status is GENERATING or
// REGENERATING; a single terminal write freezes it.
type MessageStatus string

const (
	MessageGenerating   MessageStatus = "GENERATING"
	MessageCompleted    MessageStatus = "COMPLETED"
	MessageFailed       MessageStatus = "FAILED"
	MessageRegenerating MessageStatus = "REGENERATING"
)

func (s MessageStatus) String() string {
	return string(s)
}

// FunctionCall records a tool invocation requested by the model.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Message struct {
	// ID is the system generated unique identifier for the message.
	ID int32
	// UID is the externally visible unique identifier for the message.
	UID string

	// Standard fields
	CreatorID int32
	CreatedTs int64
	UpdatedTs int64

	// Domain specific fields
	SessionID     int32
	Role          MessageRole
	Content       string
	Status        MessageStatus
	Attachments   []string // attachment UIDs
	FunctionCalls []FunctionCall
	TokensUsed    int32
	ParentUID     string
	ThreadUID     string
	Feedback      string
	Metadata      string // JSON string

	CompletedTs   *int64
	RegeneratedTs *int64
}

type FindMessage struct {
	ID        *int32
	UID       *string
	SessionID *int32
	CreatorID *int32
	Status    *MessageStatus
	Limit     *int
	Offset    *int
}

// UpdateMessage patches a message. Ownership is enforced by the
// (ID, CreatorID) pair.
type UpdateMessage struct {
	ID        int32
	CreatorID int32

	Content       *string
	Status        *MessageStatus
	FunctionCalls *[]FunctionCall
	TokensUsed    *int32
	Feedback      *string
	Metadata      *string
	UpdatedTs     *int64
	CompletedTs   *int64
	RegeneratedTs *int64
	// ClearCompletedTs nulls completed_ts. Regeneration uses it so a
	// rerun row cannot carry the original completion timestamp.
	ClearCompletedTs bool
}

type DeleteMessage struct {
	ID        *int32
	SessionID *int32
}
