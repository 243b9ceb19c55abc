package irc

import (
	"fmt"
	"strings"

	"github.com/keepmind9/shaken/pkg/constants"
)

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// sanitize keeps a single frame from being split by embedded line breaks
func sanitize(s string) string {
	return lineBreaks.Replace(s)
}

// body sanitizes chat text and cuts it to the server's length limit
func body(s string) string {
	s = sanitize(s)
	if r := []rune(s); len(r) > constants.MaxChatMessageLength {
		s = string(r[:constants.MaxChatMessageLength])
	}
	return s
}

func frame(format string, args ...any) string {
	return fmt.Sprintf(format, args...) + "\r\n"
}

func channelName(channel string) string {
	return "#" + strings.TrimPrefix(sanitize(channel), "#")
}

// registerFrames returns the capability request and login frames in send order
func registerFrames(name, token string) []string {
	token = strings.TrimPrefix(sanitize(token), "oauth:")
	return []string{
		frame("CAP REQ :twitch.tv/membership twitch.tv/tags twitch.tv/commands"),
		frame("PASS oauth:%s", token),
		frame("NICK %s", sanitize(name)),
	}
}

func pingFrame(token string) string {
	return frame("PING :%s", sanitize(token))
}

func pongFrame(token string) string {
	return frame("PONG :%s", sanitize(token))
}

func quitFrame() string {
	return frame("QUIT :bye")
}

// Encode renders r as a wire frame. Disconnect encodes to QUIT.
func Encode(r Response) string {
	switch r.Kind {
	case ResponseJoin:
		return frame("JOIN %s", channelName(r.Channel))
	case ResponseSay:
		return frame("PRIVMSG %s :%s", channelName(r.Channel), body(r.Data))
	case ResponseReply:
		return frame("@reply-parent-msg-id=%s PRIVMSG %s :%s",
			sanitize(r.MsgID), channelName(r.Channel), body(r.Data))
	case ResponseError:
		return frame("PRIVMSG %s :%s", channelName(r.Channel), body("error: "+r.Data))
	case ResponseDisconnect:
		return quitFrame()
	default:
		return ""
	}
}
