package bus

import "context"

// Kind is the shape of an inbound message as far as scheduling cares.
type Kind int

const (
	KindText Kind = iota
	KindVoice
	KindMedia // photo, sticker, document, ... without usable text
	KindOther // service messages: joins, pins, title changes
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindVoice:
		return "voice"
	case KindMedia:
		return "media"
	default:
		return "other"
	}
}

// Peer kinds.
const (
	PeerDirect = "direct"
	PeerGroup  = "group"
)

// InboundMessage is a chat message that should be answered by the agent.
// Content is the prompt text, already transcribed for voice notes and
// prefixed with the sender label.
type InboundMessage struct {
	Channel     string            `json:"channel"`
	ChatID      int64             `json:"chat_id"`
	SenderID    int64             `json:"sender_id"`
	SenderLabel string            `json:"sender_label"`
	MessageID   int               `json:"message_id"`
	Kind        Kind              `json:"kind"`
	Content     string            `json:"content"`
	PeerKind    string            `json:"peer_kind,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MessageHandler handles an inbound message.
type MessageHandler func(InboundMessage) error

// MessageRouter abstracts inbound routing between channels and the scheduler.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
}
