package domain

// MessageKind classifies an inbound transport event.
type MessageKind int

const (
	MessageText MessageKind = iota
	MessagePhoto
	MessageCommand
)

// String returns the label used for metrics and logs.
func (k MessageKind) String() string {
	switch k {
	case MessageText:
		return "text"
	case MessagePhoto:
		return "photo"
	case MessageCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Inbound is a transport-neutral inbound message.
//
// Quoted carries the text (or caption) of the message being replied to, if
// any. Command is the lower-cased command name without the leading slash or
// bot mention; Args are the whitespace-separated command arguments.
type Inbound struct {
	UpdateID int64
	Kind     MessageKind
	UserID   string
	UserName string
	ChatID   int64
	Text     string
	Caption  string
	PhotoRef string
	Quoted   string
	Command  string
	Args     []string
}

// Image is a downloaded photo handed to the AI backend.
type Image struct {
	Data     []byte
	MIMEType string
}
