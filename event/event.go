// Package event defines the typed notifications a room delivers to its
// subscribers, and the classifier that maps a command document to one of them.
package event

import "fmt"

// Kind tags an Event.
type Kind int

const (
	// KindRaw fires for every command document, classified or not.
	KindRaw Kind = iota
	// KindUnknown fires for command documents no classifier recognised.
	KindUnknown
	KindChatMessage
	KindGift
	KindComboSend
	KindGuardBuy
	KindInteractWord
	KindSuperChat
	KindWatchedChange
	KindWelcome
	KindWelcomeGuard
	KindRoomBlock
	KindPreparing
	KindLive
	KindWidgetBanner
	// KindOnlineUser carries an online-viewer snapshot fetched over HTTP.
	KindOnlineUser

	kindCount
)

var kindNames = [kindCount]string{
	KindRaw:           "raw",
	KindUnknown:       "unknown",
	KindChatMessage:   "chat_message",
	KindGift:          "gift",
	KindComboSend:     "combo_send",
	KindGuardBuy:      "guard_buy",
	KindInteractWord:  "interact_word",
	KindSuperChat:     "super_chat",
	KindWatchedChange: "watched_change",
	KindWelcome:       "welcome",
	KindWelcomeGuard:  "welcome_guard",
	KindRoomBlock:     "room_block",
	KindPreparing:     "preparing",
	KindLive:          "live",
	KindWidgetBanner:  "widget_banner",
	KindOnlineUser:    "online_user",
}

func (k Kind) String() string {
	if k >= 0 && k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k >= 0 && k < kindCount
}

// Kinds returns every declared kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Event is one notification derived from a command document.
type Event struct {
	Kind Kind
	// Cmd is the command tag with any ":"-separated suffix removed.
	Cmd string
	// Raw is the undecoded document. Do not modify it.
	Raw []byte
	// Document is the parsed document. Do not modify it.
	Document map[string]any
	// Data is the typed record for the kind, such as *ChatMessage for
	// KindChatMessage. It is nil for KindRaw and KindUnknown.
	Data any
}

// Handler receives events.
type Handler func(Event)
