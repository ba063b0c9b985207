package domain

// Role identifies the author of a conversation entry.
type Role int

const (
	RoleUser Role = iota
	RoleAssistant
)

// String returns the label used when rendering transcripts.
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	default:
		return "Unknown"
	}
}

// EntryKind distinguishes plain text entries from photo notes.
type EntryKind int

const (
	KindText EntryKind = iota
	KindPhoto
)

// String returns "text" or "photo".
func (k EntryKind) String() string {
	if k == KindPhoto {
		return "photo"
	}
	return "text"
}

// ConversationEntry is one remembered turn of a user's conversation.
type ConversationEntry struct {
	Role    Role      `json:"-"`
	Content string    `json:"content"`
	Kind    EntryKind `json:"-"`
}
