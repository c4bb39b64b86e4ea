package twitch

// ChatMessageEvent is the payload of the channel.chat.message EventSub
// notification.
type ChatMessageEvent struct {
	BroadcasterUserID    string  `json:"broadcaster_user_id"`
	BroadcasterUserLogin string  `json:"broadcaster_user_login"`
	BroadcasterUserName  string  `json:"broadcaster_user_name"`
	ChatterUserID        string  `json:"chatter_user_id"`
	ChatterUserLogin     string  `json:"chatter_user_login"`
	ChatterUserName      string  `json:"chatter_user_name"`
	MessageID            string  `json:"message_id"`
	Message              Message `json:"message"`
	Badges               []Badge `json:"badges"`
	MessageType          string  `json:"message_type"`
}

type Message struct {
	Text string `json:"text"`
}

type Badge struct {
	SetID string `json:"set_id"`
	ID    string `json:"id"`
	Info  string `json:"info"`
}

// ChatMessage is one inbound chat line, whichever transport delivered it.
type ChatMessage struct {
	BroadcasterID string
	ChatterID     string
	ChatterLogin  string
	ChatterName   string
	Text          string
}

func (e *ChatMessageEvent) chatMessage() ChatMessage {
	return ChatMessage{
		BroadcasterID: e.BroadcasterUserID,
		ChatterID:     e.ChatterUserID,
		ChatterLogin:  e.ChatterUserLogin,
		ChatterName:   e.ChatterUserName,
		Text:          e.Message.Text,
	}
}
