package event

// ChatMessage is a DANMU_MSG.
type ChatMessage struct {
	UID        int64
	Username   string
	Text       string
	MedalName  string
	MedalLevel int64
	Timestamp  int64
}

// Gift is a SEND_GIFT.
type Gift struct {
	UID       int64
	Username  string
	GiftName  string
	GiftID    int64
	Number    int64
	FaceURL   string
	Action    string
	CoinType  string
	TotalCoin int64
}

// ComboSend is a COMBO_SEND, the summary of a gift combo.
type ComboSend struct {
	UID      int64
	Username string
	GiftName string
	ComboNum int64
	Action   string
}

// GuardBuy is a GUARD_BUY.
type GuardBuy struct {
	UID        int64
	Username   string
	GuardLevel int64
	Number     int64
	Price      int64
	GiftName   string
}

// Interaction types of an InteractWord.
const (
	InteractEnter  = 1
	InteractFollow = 2
	InteractShare  = 3
)

// InteractWord is an INTERACT_WORD: a viewer entered, followed or shared.
type InteractWord struct {
	UID      int64
	Username string
	MsgType  int64
}

// SuperChat is a SUPER_CHAT_MESSAGE.
type SuperChat struct {
	ID       int64
	UID      int64
	Username string
	Message  string
	Price    int64
	// Duration is how long the message stays pinned, in seconds.
	Duration int64
}

// WatchedChange is a WATCHED_CHANGE.
type WatchedChange struct {
	Num       int64
	TextSmall string
	TextLarge string
}

// Welcome is a WELCOME.
type Welcome struct {
	UID      int64
	Username string
	IsAdmin  bool
}

// WelcomeGuard is a WELCOME_GUARD.
type WelcomeGuard struct {
	UID        int64
	Username   string
	GuardLevel int64
}

// RoomBlock is a ROOM_BLOCK_MSG: a user was banned from the room.
type RoomBlock struct {
	UID      int64
	Username string
}

// Preparing is a PREPARING: the stream ended.
type Preparing struct {
	RoomID int64
}

// Live is a LIVE: the stream started.
type Live struct {
	RoomID int64
}

// WidgetBanner is a WIDGET_BANNER.
type WidgetBanner struct {
	Timestamp int64
	// Widgets holds the raw widget_list object.
	Widgets []byte
}

// OnlineUser is an online-viewer snapshot.
type OnlineUser struct {
	Count int64
	Users []User
}

// User is one entry of an OnlineUser snapshot.
type User struct {
	UID      int64
	Username string
	Face     string
}
