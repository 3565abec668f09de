package proto

import "strings"

// FrameType tags the payload shape carried by an outer frame.
type FrameType int32

const (
	// FrameMessage carries a ChatMessage.
	FrameMessage FrameType = iota
	// FrameChannelCommand carries a ChannelCommand.
	FrameChannelCommand
)

func (t FrameType) String() string {
	switch t {
	case FrameMessage:
		return "message"
	case FrameChannelCommand:
		return "channel_command"
	default:
		return "unknown"
	}
}

// RequestType describes what a ChannelCommand asks the server to do.
type RequestType int32

const (
	// RequestJoin subscribes the sender to an existing channel.
	RequestJoin RequestType = iota
	// RequestLeave unsubscribes the sender from a channel.
	RequestLeave
	// RequestCreate creates a channel if the name is free.
	RequestCreate
)

func (r RequestType) String() string {
	switch r {
	case RequestJoin:
		return "join"
	case RequestLeave:
		return "leave"
	case RequestCreate:
		return "create"
	default:
		return "unknown"
	}
}

func (r RequestType) valid() bool {
	return r >= RequestJoin && r <= RequestCreate
}

// ChatMessage is text addressed to a channel. When Inject is set the text is
// code for the channel's execution scope instead of chat.
type ChatMessage struct {
	Inject  bool
	Channel string
	Text    string
	Sender  string
}

// AddSenderPrefix prepends a hop identity to the sender chain:
// "" becomes "prefix", "old" becomes "prefix.old". A chain that would exceed
// MaxFieldLength loses its most distant hops so the message stays encodable.
func (m *ChatMessage) AddSenderPrefix(prefix string) {
	if m.Sender == "" {
		m.Sender = prefix
		return
	}
	chain := prefix + "." + m.Sender
	if len(chain) > MaxFieldLength {
		chain = chain[:MaxFieldLength]
		if i := strings.LastIndexByte(chain, '.'); i >= len(prefix) {
			chain = chain[:i]
		}
	}
	m.Sender = chain
}

// ChannelCommand asks to join, leave or create a channel.
type ChannelCommand struct {
	Request  RequestType
	Channel  string
	Password string
}

// Envelope is one decoded outer frame.
type Envelope struct {
	Type    FrameType
	Message ChatMessage
	Command ChannelCommand
}

// MessageEnvelope wraps a chat message for encoding.
func MessageEnvelope(m ChatMessage) Envelope {
	return Envelope{Type: FrameMessage, Message: m}
}

// CommandEnvelope wraps a channel command for encoding.
func CommandEnvelope(c ChannelCommand) Envelope {
	return Envelope{Type: FrameChannelCommand, Command: c}
}
