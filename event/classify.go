package event

import (
	"strings"

	"github.com/buger/jsonparser"

	"github.com/luciancaetano/bililive/internal/jsonfield"
)

// Classifier turns a raw command event into a typed one.
//
// Classify receives an Event of KindRaw and returns the typed Event and true,
// or false when it does not recognise the command.
type Classifier interface {
	Classify(raw Event) (Event, bool)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(raw Event) (Event, bool)

// Classify calls f.
func (f ClassifierFunc) Classify(raw Event) (Event, bool) {
	return f(raw)
}

// NormalizeCmd strips the ":"-separated suffix some command tags carry, as in
// "DANMU_MSG:4:0:2:2:2:0".
func NormalizeCmd(cmd string) string {
	if i := strings.IndexByte(cmd, ':'); i >= 0 {
		return cmd[:i]
	}
	return cmd
}

type parser struct {
	kind  Kind
	parse func(raw []byte) any
}

// parsers maps a normalised command tag to its kind and field extraction.
var parsers = map[string]parser{
	"DANMU_MSG":          {KindChatMessage, parseChatMessage},
	"SEND_GIFT":          {KindGift, parseGift},
	"COMBO_SEND":         {KindComboSend, parseComboSend},
	"GUARD_BUY":          {KindGuardBuy, parseGuardBuy},
	"INTERACT_WORD":      {KindInteractWord, parseInteractWord},
	"SUPER_CHAT_MESSAGE": {KindSuperChat, parseSuperChat},
	"WATCHED_CHANGE":     {KindWatchedChange, parseWatchedChange},
	"WELCOME":            {KindWelcome, parseWelcome},
	"WELCOME_GUARD":      {KindWelcomeGuard, parseWelcomeGuard},
	"ROOM_BLOCK_MSG":     {KindRoomBlock, parseRoomBlock},
	"PREPARING":          {KindPreparing, parsePreparing},
	"LIVE":               {KindLive, parseLive},
	"WIDGET_BANNER":      {KindWidgetBanner, parseWidgetBanner},
}

// KindOf returns the kind for a command tag, or KindUnknown.
func KindOf(cmd string) Kind {
	if p, ok := parsers[NormalizeCmd(cmd)]; ok {
		return p.kind
	}
	return KindUnknown
}

type defaultClassifier struct{}

// DefaultClassifier recognises the commands listed by KindOf and extracts
// their fields. Missing or mistyped fields are left at their zero value.
func DefaultClassifier() Classifier {
	return defaultClassifier{}
}

func (defaultClassifier) Classify(raw Event) (Event, bool) {
	p, ok := parsers[NormalizeCmd(raw.Cmd)]
	if !ok {
		return Event{}, false
	}

	ev := raw
	ev.Kind = p.kind
	ev.Data = p.parse(raw.Raw)
	return ev, true
}

func parseChatMessage(raw []byte) any {
	return &ChatMessage{
		UID:        jsonfield.Int(raw, "info", "[2]", "[0]"),
		Username:   jsonfield.String(raw, "info", "[2]", "[1]"),
		Text:       jsonfield.String(raw, "info", "[1]"),
		MedalLevel: jsonfield.Int(raw, "info", "[3]", "[0]"),
		MedalName:  jsonfield.String(raw, "info", "[3]", "[1]"),
		Timestamp:  jsonfield.Int(raw, "info", "[9]", "ts"),
	}
}

func parseGift(raw []byte) any {
	return &Gift{
		UID:       jsonfield.Int(raw, "data", "uid"),
		Username:  jsonfield.String(raw, "data", "uname"),
		GiftName:  jsonfield.String(raw, "data", "giftName"),
		GiftID:    jsonfield.Int(raw, "data", "giftId"),
		Number:    jsonfield.Int(raw, "data", "num"),
		FaceURL:   jsonfield.String(raw, "data", "face"),
		Action:    jsonfield.String(raw, "data", "action"),
		CoinType:  jsonfield.String(raw, "data", "coin_type"),
		TotalCoin: jsonfield.Int(raw, "data", "total_coin"),
	}
}

func parseComboSend(raw []byte) any {
	return &ComboSend{
		UID:      jsonfield.Int(raw, "data", "uid"),
		Username: jsonfield.String(raw, "data", "uname"),
		GiftName: jsonfield.String(raw, "data", "gift_name"),
		ComboNum: jsonfield.Int(raw, "data", "combo_num"),
		Action:   jsonfield.String(raw, "data", "action"),
	}
}

func parseGuardBuy(raw []byte) any {
	return &GuardBuy{
		UID:        jsonfield.Int(raw, "data", "uid"),
		Username:   jsonfield.String(raw, "data", "username"),
		GuardLevel: jsonfield.Int(raw, "data", "guard_level"),
		Number:     jsonfield.Int(raw, "data", "num"),
		Price:      jsonfield.Int(raw, "data", "price"),
		GiftName:   jsonfield.String(raw, "data", "gift_name"),
	}
}

func parseInteractWord(raw []byte) any {
	return &InteractWord{
		UID:      jsonfield.Int(raw, "data", "uid"),
		Username: jsonfield.String(raw, "data", "uname"),
		MsgType:  jsonfield.Int(raw, "data", "msg_type"),
	}
}

func parseSuperChat(raw []byte) any {
	return &SuperChat{
		ID:       jsonfield.Int(raw, "data", "id"),
		UID:      jsonfield.Int(raw, "data", "uid"),
		Username: jsonfield.String(raw, "data", "user_info", "uname"),
		Message:  jsonfield.String(raw, "data", "message"),
		Price:    jsonfield.Int(raw, "data", "price"),
		Duration: jsonfield.Int(raw, "data", "time"),
	}
}

func parseWatchedChange(raw []byte) any {
	return &WatchedChange{
		Num:       jsonfield.Int(raw, "data", "num"),
		TextSmall: jsonfield.String(raw, "data", "text_small"),
		TextLarge: jsonfield.String(raw, "data", "text_large"),
	}
}

func parseWelcome(raw []byte) any {
	admin, _ := jsonparser.GetBoolean(raw, "data", "is_admin")
	return &Welcome{
		UID:      jsonfield.Int(raw, "data", "uid"),
		Username: jsonfield.String(raw, "data", "uname"),
		IsAdmin:  admin,
	}
}

func parseWelcomeGuard(raw []byte) any {
	return &WelcomeGuard{
		UID:        jsonfield.Int(raw, "data", "uid"),
		Username:   jsonfield.String(raw, "data", "username"),
		GuardLevel: jsonfield.Int(raw, "data", "guard_level"),
	}
}

func parseRoomBlock(raw []byte) any {
	rb := &RoomBlock{
		UID:      jsonfield.Int(raw, "data", "uid"),
		Username: jsonfield.String(raw, "data", "uname"),
	}
	if rb.UID == 0 {
		rb.UID = jsonfield.Int(raw, "uid")
		rb.Username = jsonfield.String(raw, "uname")
	}
	return rb
}

func parsePreparing(raw []byte) any {
	return &Preparing{RoomID: jsonfield.Int(raw, "roomid")}
}

func parseLive(raw []byte) any {
	return &Live{RoomID: jsonfield.Int(raw, "roomid")}
}

func parseWidgetBanner(raw []byte) any {
	wb := &WidgetBanner{Timestamp: jsonfield.Int(raw, "data", "timestamp")}
	if v, _, _, err := jsonparser.Get(raw, "data", "widget_list"); err == nil {
		wb.Widgets = append([]byte(nil), v...)
	}
	return wb
}
