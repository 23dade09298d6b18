package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/voicebridge/internal/scheduler"
	"github.com/nextlevelbuilder/voicebridge/internal/store"
	"github.com/nextlevelbuilder/voicebridge/internal/tts"
)

const helpText = "Available commands:\n" +
	"/help: show this message\n" +
	"/stop: cancel your current request\n" +
	"/status: show scheduler load\n" +
	"/list_users: list known users (private chat)\n" +
	"/list_groups: list known groups (private chat)\n" +
	"/dm <user> <text>: message a user (private chat)\n" +
	"/gm <group> <text>: message a group (private chat)\n" +
	"/voice [file|device|off]: show or switch voice replies (private chat)\n" +
	"\nAnything else is sent to the assistant."

// command is a parsed slash command. Args holds at most two fields, the
// second one being the untouched remainder of the line.
type command struct {
	Name      string // lowercased, without "/" and "@bot"
	Addressee string // bot username after "@", if any
	Args      []string
}

// parseCommand splits "/cmd@bot arg rest of line".
func parseCommand(text string) (command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return command{}, false
	}
	fields := strings.SplitN(text, " ", 2)
	head := strings.TrimPrefix(fields[0], "/")
	var cmd command
	if name, addressee, ok := strings.Cut(head, "@"); ok {
		cmd.Name, cmd.Addressee = strings.ToLower(name), addressee
	} else {
		cmd.Name = strings.ToLower(head)
	}
	if cmd.Name == "" {
		return command{}, false
	}
	if len(fields) == 2 {
		rest := strings.TrimSpace(fields[1])
		if rest != "" {
			first, remainder, _ := strings.Cut(rest, " ")
			cmd.Args = append(cmd.Args, first)
			if remainder = strings.TrimSpace(remainder); remainder != "" {
				cmd.Args = append(cmd.Args, remainder)
			}
		}
	}
	return cmd, true
}

// handleCommand runs a bot command. It returns false when the text should
// instead go through the normal trigger path. Registry commands only work
// in private chats; in groups a command must be addressed to the bot.
func (c *Channel) handleCommand(ctx context.Context, msg *telego.Message, text string) bool {
	cmd, ok := parseCommand(text)
	if !ok {
		return false
	}
	private := msg.Chat.Type == chatPrivate
	if cmd.Addressee != "" && !strings.EqualFold(cmd.Addressee, c.botUsername) {
		return false
	}
	if !private && cmd.Addressee == "" {
		return false
	}

	chatID := msg.Chat.ID
	reply := func(text string) {
		if _, err := c.out.SendText(ctx, chatID, text, msg.MessageID); err != nil {
			slog.Warn("telegram command reply failed", "command", cmd.Name, "chat_id", chatID, "error", err)
		}
	}
	send := func(text string) {
		if _, err := c.out.SendText(ctx, chatID, text, 0); err != nil {
			slog.Warn("telegram command reply failed", "command", cmd.Name, "chat_id", chatID, "error", err)
		}
	}

	switch cmd.Name {
	case "help":
		send(helpText)
		return true

	case "stop":
		key := scheduler.Key{ChatID: chatID, SenderID: msg.From.ID}
		if c.ctl != nil && c.ctl.Cancel(key) {
			reply("🛑 Stopping your current request.")
		} else {
			reply("Nothing to stop.")
		}
		return true

	case "status":
		if c.ctl == nil {
			send("Bot status: starting")
			return true
		}
		st := c.ctl.Stats()
		send(fmt.Sprintf("Bot status: running\nBot: @%s\nActive requests: %d\nQueued requests: %d",
			c.botUsername, st.Active, st.Queued))
		return true
	}

	if !private {
		return false
	}

	switch cmd.Name {
	case "list_users":
		send(c.renderUsers(ctx))
		return true

	case "list_groups":
		send(c.renderGroups(ctx))
		return true

	case "dm":
		if len(cmd.Args) != 2 {
			reply("Usage: /dm <user> <text>")
			return true
		}
		target := store.NormalizeUsername(cmd.Args[0])
		id, err := c.registry.UserID(ctx, target)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				slog.Warn("telegram: user lookup failed", "username", target, "error", err)
			}
			reply(fmt.Sprintf("User @%s not found.", target))
			return true
		}
		if _, err := c.out.SendText(ctx, id, fmt.Sprintf("DM from @%s: %s", senderLabel(msg.From), cmd.Args[1]), 0); err != nil {
			reply(fmt.Sprintf("❌ Could not message @%s: %v", target, err))
			return true
		}
		reply(fmt.Sprintf("✔️ Sent to @%s", target))
		return true

	case "gm":
		if len(cmd.Args) != 2 {
			reply("Usage: /gm <group> <text>")
			return true
		}
		group := cmd.Args[0]
		id, err := c.registry.GroupID(ctx, group)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				slog.Warn("telegram: group lookup failed", "group", group, "error", err)
			}
			reply(fmt.Sprintf("Group '%s' not found.", group))
			return true
		}
		if _, err := c.out.SendText(ctx, id, "[Group DM] "+cmd.Args[1], 0); err != nil {
			reply(fmt.Sprintf("❌ Could not message group '%s': %v", group, err))
			return true
		}
		reply(fmt.Sprintf("✔️ Sent to group '%s'", group))
		return true

	case "voice":
		if c.speech == nil {
			reply("Voice replies are not configured.")
			return true
		}
		if len(cmd.Args) == 0 {
			reply(fmt.Sprintf("Voice mode: %s", c.speech.Mode()))
			return true
		}
		mode, err := tts.ParseMode(cmd.Args[0])
		if err != nil {
			reply("Usage: /voice file|device|off")
			return true
		}
		c.speech.SetMode(mode)
		reply(fmt.Sprintf("🔊 Voice mode set to %s", mode))
		return true
	}

	return false
}

func (c *Channel) renderUsers(ctx context.Context) string {
	users, err := c.registry.ListUsers(ctx)
	if err != nil {
		slog.Warn("telegram: list users failed", "error", err)
		return "❌ Error: could not read the user registry"
	}
	lines := make([]string, 0, len(users))
	for _, u := range users {
		lines = append(lines, fmt.Sprintf("@%s: %d", u.Username, u.ID))
	}
	if len(lines) == 0 {
		return "(none)"
	}
	return strings.Join(lines, "\n")
}

func (c *Channel) renderGroups(ctx context.Context) string {
	groups, err := c.registry.ListGroups(ctx)
	if err != nil {
		slog.Warn("telegram: list groups failed", "error", err)
		return "❌ Error: could not read the group registry"
	}
	lines := make([]string, 0, len(groups))
	for _, g := range groups {
		lines = append(lines, fmt.Sprintf("%s: %d", g.Name, g.ChatID))
	}
	if len(lines) == 0 {
		return "(none)"
	}
	return strings.Join(lines, "\n")
}

// SyncMenuCommands registers bot commands with Telegram via setMyCommands.
func (c *Channel) SyncMenuCommands(ctx context.Context, commands []telego.BotCommand) error {
	if err := c.bot.DeleteMyCommands(ctx, nil); err != nil {
		slog.Debug("deleteMyCommands failed (may not exist)", "error", err)
	}
	if len(commands) == 0 {
		return nil
	}
	return c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{Commands: commands})
}

// DefaultMenuCommands returns the bot menu commands.
func DefaultMenuCommands() []telego.BotCommand {
	return []telego.BotCommand{
		{Command: "help", Description: "Show available commands"},
		{Command: "stop", Description: "Cancel your current request"},
		{Command: "status", Description: "Show scheduler load"},
		{Command: "list_users", Description: "List known users"},
		{Command: "list_groups", Description: "List known groups"},
		{Command: "dm", Description: "Message a user: /dm <user> <text>"},
		{Command: "gm", Description: "Message a group: /gm <group> <text>"},
		{Command: "voice", Description: "Voice replies: /voice file|device|off"},
	}
}
