package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/voicebridge/internal/bus"
	"github.com/nextlevelbuilder/voicebridge/internal/channels"
	"github.com/nextlevelbuilder/voicebridge/internal/delivery"
	"github.com/nextlevelbuilder/voicebridge/internal/store"
)

const (
	chatPrivate    = "private"
	chatGroup      = "group"
	chatSupergroup = "supergroup"
	chatChannel    = "channel"

	registryTimeout = 5 * time.Second
	voiceTimeout    = 2 * time.Minute
)

// handleMessage processes one incoming message: registries, commands,
// trigger decision, voice transcription, then publication to the bus.
func (c *Channel) handleMessage(ctx context.Context, msg *telego.Message) {
	kind := classifyMessage(msg)
	c.recordRegistries(ctx, msg)

	user := msg.From
	if kind == bus.KindOther || user == nil || user.IsBot {
		return
	}

	text := messageText(msg)
	slog.Debug("telegram message received",
		"chat_id", msg.Chat.ID,
		"chat_type", msg.Chat.Type,
		"user_id", user.ID,
		"username", user.Username,
		"kind", kind,
		"text_preview", channels.Truncate(text, 60),
	)

	if !c.IsAllowed(user.ID, user.Username) {
		slog.Debug("telegram message rejected by allowlist", "user_id", user.ID, "username", user.Username)
		return
	}

	if strings.HasPrefix(text, "/") && c.handleCommand(ctx, msg, text) {
		return
	}

	if !shouldRespond(msg, c.botID, c.botUsername, c.requireMention) {
		return
	}

	if kind == bus.KindVoice && text == "" {
		c.handleVoice(ctx, msg)
		return
	}
	if text == "" {
		return
	}
	c.publish(msg, kind, text)
}

// handleVoice transcribes a voice note off the polling goroutine and
// publishes the transcript. Failures are reported as a reply and the
// message is dropped.
func (c *Channel) handleVoice(ctx context.Context, msg *telego.Message) {
	go func() {
		vctx, cancel := context.WithTimeout(ctx, voiceTimeout)
		defer cancel()

		var text string
		err := c.voicePool.Go(vctx, func(ctx context.Context) error {
			var err error
			text, err = c.voice.Transcribe(ctx, msg.Voice.FileID)
			return err
		})
		if err != nil {
			slog.Warn("telegram voice note failed", "chat_id", msg.Chat.ID, "message_id", msg.MessageID, "error", err)
			if delivery.IsCancelled(err) && ctx.Err() != nil {
				return
			}
			if _, sendErr := c.out.SendText(context.WithoutCancel(ctx), msg.Chat.ID, delivery.FormatFailure(asInputError(err)), msg.MessageID); sendErr != nil {
				slog.Warn("telegram voice error reply failed", "chat_id", msg.Chat.ID, "error", sendErr)
			}
			return
		}
		c.publish(msg, bus.KindVoice, text)
	}()
}

func asInputError(err error) error {
	var inErr *delivery.InputError
	if errors.As(err, &inErr) {
		return err
	}
	return &delivery.InputError{Stage: "voice", Err: err}
}

// publish hands a triggering message to the scheduler via the bus.
func (c *Channel) publish(msg *telego.Message, kind bus.Kind, text string) {
	label := senderLabel(msg.From)
	peer := bus.PeerGroup
	if msg.Chat.Type == chatPrivate {
		peer = bus.PeerDirect
	}
	c.HandleMessage(bus.InboundMessage{
		ChatID:      msg.Chat.ID,
		SenderID:    msg.From.ID,
		SenderLabel: label,
		MessageID:   msg.MessageID,
		Kind:        kind,
		Content:     label + ": " + text,
		PeerKind:    peer,
		Metadata: map[string]string{
			"chat_type": msg.Chat.Type,
			"username":  msg.From.Username,
		},
	}, msg.From.Username)
}

// recordRegistries stores the sender's username and the chat title.
func (c *Channel) recordRegistries(ctx context.Context, msg *telego.Message) {
	rctx, cancel := context.WithTimeout(ctx, registryTimeout)
	defer cancel()

	if u := msg.From; u != nil && u.Username != "" && !u.IsBot {
		if err := c.registry.AddUser(rctx, u.Username, u.ID); err != nil {
			slog.Warn("telegram: record user failed", "username", u.Username, "error", err)
		}
	}
	switch msg.Chat.Type {
	case chatGroup, chatSupergroup, chatChannel:
		name := store.GroupName(msg.Chat.Title, msg.Chat.ID)
		if err := c.registry.AddGroup(rctx, name, msg.Chat.ID); err != nil {
			slog.Warn("telegram: record group failed", "group", name, "error", err)
		}
	}
}

// classifyMessage maps a message to the kind the scheduler cares about.
func classifyMessage(msg *telego.Message) bus.Kind {
	switch {
	case msg.Voice != nil:
		return bus.KindVoice
	case msg.Text != "":
		return bus.KindText
	case msg.Caption != "", len(msg.Photo) > 0, msg.Document != nil, msg.Sticker != nil,
		msg.Video != nil, msg.Audio != nil, msg.VideoNote != nil, msg.Animation != nil,
		msg.Location != nil, msg.Poll != nil, msg.Contact != nil:
		return bus.KindMedia
	default:
		// joins, pins, title changes and other service messages
		return bus.KindOther
	}
}

// messageText is the text or media caption, trimmed.
func messageText(msg *telego.Message) string {
	if msg.Text != "" {
		return strings.TrimSpace(msg.Text)
	}
	return strings.TrimSpace(msg.Caption)
}

// senderLabel names the sender in prompt text: username, else first name.
func senderLabel(u *telego.User) string {
	switch {
	case u == nil:
		return "unknown"
	case u.Username != "":
		return u.Username
	case u.FirstName != "":
		return u.FirstName
	default:
		return fmt.Sprintf("user_%d", u.ID)
	}
}

// shouldRespond decides whether a message triggers inference: private
// chats, voice notes, explicit mentions and replies to the bot. With
// requireMention off every group message triggers.
func shouldRespond(msg *telego.Message, botID int64, botUsername string, requireMention bool) bool {
	if msg.Chat.Type == chatPrivate || msg.Voice != nil || !requireMention {
		return true
	}
	if mentionsBot(msg, botID, botUsername) {
		return true
	}
	if r := msg.ReplyToMessage; r != nil && r.From != nil {
		if (botID != 0 && r.From.ID == botID) || (botUsername != "" && strings.EqualFold(r.From.Username, botUsername)) {
			return true
		}
	}
	return false
}

// mentionsBot checks mention entities in the text and the caption.
func mentionsBot(msg *telego.Message, botID int64, botUsername string) bool {
	for _, pair := range []struct {
		text     string
		entities []telego.MessageEntity
	}{
		{msg.Text, msg.Entities},
		{msg.Caption, msg.CaptionEntities},
	} {
		for _, e := range pair.entities {
			switch e.Type {
			case "mention":
				name := strings.TrimPrefix(entityText(pair.text, e), "@")
				if botUsername != "" && strings.EqualFold(name, botUsername) {
					return true
				}
			case "text_mention":
				if e.User != nil && botID != 0 && e.User.ID == botID {
					return true
				}
			}
		}
	}
	return false
}

// entityText slices text by an entity; offsets are in UTF-16 code units.
func entityText(text string, e telego.MessageEntity) string {
	units := utf16.Encode([]rune(text))
	end := e.Offset + e.Length
	if e.Offset < 0 || e.Length <= 0 || end > len(units) {
		return ""
	}
	return string(utf16.Decode(units[e.Offset:end]))
}
