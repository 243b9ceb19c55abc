package irc

import (
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

var elevatedBadges = []string{"broadcaster", "moderator", "vip"}

// chatMessage converts a parsed PRIVMSG into the dispatcher's view of it
func chatMessage(user User, msg *twitch.PrivateMessage) ChatMessage {
	sender := msg.User.DisplayName
	if sender == "" {
		sender = msg.User.Name
	}

	return ChatMessage{
		OurUser:   user.Name,
		OurID:     user.UserID,
		Channel:   strings.TrimPrefix(msg.Channel, "#"),
		ChannelID: firstNonEmpty(msg.RoomID, msg.Tags["room-id"]),
		MsgID:     firstNonEmpty(msg.ID, msg.Tags["id"]),
		Sender:    sender,
		SenderID:  firstNonEmpty(msg.User.ID, msg.Tags["user-id"]),
		Data:      msg.Message,
		Elevated:  isElevated(msg.User.Badges),
	}
}

func isElevated(badges map[string]int) bool {
	for _, badge := range elevatedBadges {
		if _, ok := badges[badge]; ok {
			return true
		}
	}
	return false
}

// welcomeNick pulls the confirmed login out of a 001 numeric:
// ":tmi.twitch.tv 001 <nick> :Welcome, GLHF!"
func welcomeNick(raw string) string {
	fields := strings.Fields(raw)
	for i, f := range fields {
		if f == "001" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// command returns the verb of a raw frame, skipping tags and prefix
func command(line string) string {
	if strings.HasPrefix(line, "@") {
		_, line, _ = strings.Cut(line, " ")
	}
	if strings.HasPrefix(line, ":") {
		_, line, _ = strings.Cut(line, " ")
	}
	verb, _, _ := strings.Cut(line, " ")
	return verb
}

func trimCR(s string) string {
	return strings.TrimRight(s, "\r")
}

func isLoginFailure(notice string) bool {
	return strings.Contains(notice, "Login authentication failed") ||
		strings.Contains(notice, "Improperly formatted auth")
}
