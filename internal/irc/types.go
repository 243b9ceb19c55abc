package irc

// User is the identity the server confirmed for the bot during registration
type User struct {
	Name    string
	Display string
	UserID  string
}

// ChatMessage is one chat line addressed to a joined channel
type ChatMessage struct {
	OurUser   string
	OurID     string
	Channel   string
	ChannelID string
	MsgID     string
	Sender    string
	SenderID  string
	Data      string
	// Elevated is set when the sender carries a broadcaster, moderator or vip badge
	Elevated bool
}

// ResponseKind tags a Response
type ResponseKind int

const (
	ResponseJoin ResponseKind = iota
	ResponseSay
	ResponseReply
	ResponseError
	ResponseDisconnect
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseJoin:
		return "join"
	case ResponseSay:
		return "say"
	case ResponseReply:
		return "reply"
	case ResponseError:
		return "error"
	case ResponseDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Response is an outbound command queued for the connection manager.
// Channel is given without the leading '#'.
type Response struct {
	Kind    ResponseKind
	Channel string
	MsgID   string
	Data    string
}

func Join(channel string) Response {
	return Response{Kind: ResponseJoin, Channel: channel}
}

func Say(channel, data string) Response {
	return Response{Kind: ResponseSay, Channel: channel, Data: data}
}

func Reply(channel, msgID, data string) Response {
	return Response{Kind: ResponseReply, Channel: channel, MsgID: msgID, Data: data}
}

func Error(channel, data string) Response {
	return Response{Kind: ResponseError, Channel: channel, Data: data}
}

func Disconnect() Response {
	return Response{Kind: ResponseDisconnect}
}

// EventKind tags an Event
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification from the connection manager.
// User is set for EventConnected; Message and Raw for EventMessage.
type Event struct {
	Kind    EventKind
	User    User
	Message ChatMessage
	Raw     string
}
