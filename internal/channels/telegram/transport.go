package telegram

import (
	"context"
	"fmt"
	"os"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/voicebridge/internal/channels"
	"github.com/nextlevelbuilder/voicebridge/internal/delivery"
)

// botAPI is the subset of *telego.Bot used for outbound traffic.
type botAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) (*telego.Message, error)
	DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error
	PinChatMessage(ctx context.Context, params *telego.PinChatMessageParams) error
	UnpinChatMessage(ctx context.Context, params *telego.UnpinChatMessageParams) error
	SendVoice(ctx context.Context, params *telego.SendVoiceParams) (*telego.Message, error)
}

// Transport implements delivery.Transport on the Bot API. Every call waits
// on the per-chat send limiter first.
type Transport struct {
	bot     botAPI
	limiter *channels.SendLimiter
}

var _ delivery.Transport = (*Transport)(nil)

func NewTransport(bot botAPI, limiter *channels.SendLimiter) *Transport {
	if limiter == nil {
		limiter = channels.NewSendLimiter(0, 0)
	}
	return &Transport{bot: bot, limiter: limiter}
}

func replyTo(messageID int) *telego.ReplyParameters {
	if messageID <= 0 {
		return nil
	}
	return &telego.ReplyParameters{MessageID: messageID, AllowSendingWithoutReply: true}
}

func (t *Transport) SendText(ctx context.Context, chatID int64, text string, replyToID int) (int, error) {
	if err := t.limiter.Wait(ctx, chatID); err != nil {
		return 0, err
	}
	msg := tu.Message(tu.ID(chatID), text)
	msg.ReplyParameters = replyTo(replyToID)
	sent, err := t.bot.SendMessage(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

func (t *Transport) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := t.limiter.Wait(ctx, chatID); err != nil {
		return err
	}
	_, err := t.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
		Text:      text,
	})
	if err != nil {
		return fmt.Errorf("edit message %d: %w", messageID, err)
	}
	return nil
}

func (t *Transport) Delete(ctx context.Context, chatID int64, messageID int) error {
	if err := t.limiter.Wait(ctx, chatID); err != nil {
		return err
	}
	if err := t.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{ChatID: tu.ID(chatID), MessageID: messageID}); err != nil {
		return fmt.Errorf("delete message %d: %w", messageID, err)
	}
	return nil
}

func (t *Transport) Pin(ctx context.Context, chatID int64, messageID int) error {
	if err := t.limiter.Wait(ctx, chatID); err != nil {
		return err
	}
	err := t.bot.PinChatMessage(ctx, &telego.PinChatMessageParams{
		ChatID:              tu.ID(chatID),
		MessageID:           messageID,
		DisableNotification: true,
	})
	if err != nil {
		return fmt.Errorf("pin message %d: %w", messageID, err)
	}
	return nil
}

func (t *Transport) Unpin(ctx context.Context, chatID int64, messageID int) error {
	if err := t.limiter.Wait(ctx, chatID); err != nil {
		return err
	}
	if err := t.bot.UnpinChatMessage(ctx, &telego.UnpinChatMessageParams{ChatID: tu.ID(chatID), MessageID: messageID}); err != nil {
		return fmt.Errorf("unpin message %d: %w", messageID, err)
	}
	return nil
}

func (t *Transport) SendVoice(ctx context.Context, chatID int64, path string, replyToID int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open voice clip: %w", err)
	}
	defer f.Close()

	if err := t.limiter.Wait(ctx, chatID); err != nil {
		return 0, err
	}
	sent, err := t.bot.SendVoice(ctx, &telego.SendVoiceParams{
		ChatID:          tu.ID(chatID),
		Voice:           tu.File(f),
		ReplyParameters: replyTo(replyToID),
	})
	if err != nil {
		return 0, fmt.Errorf("send voice: %w", err)
	}
	return sent.MessageID, nil
}
