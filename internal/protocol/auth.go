package protocol

import "fmt"

// Auth handshake constants.
const (
	AuthProtocolVersion = 2
	AuthPlatform        = "web"
	AuthType            = 2
)

// AuthBody is the JSON document sent in the Auth frame.
type AuthBody struct {
	UID       uint64 `json:"uid"`
	RoomID    uint64 `json:"roomid"`
	ProtoVer  int    `json:"protover"`
	Platform  string `json:"platform"`
	ClientVer string `json:"clientver"`
	Type      int    `json:"type"`
	Key       string `json:"key"`
}

// NewAuthBody returns the anonymous auth document for a room.
func NewAuthBody(roomID uint64, clientVersion, key string) AuthBody {
	return AuthBody{
		RoomID:    roomID,
		ProtoVer:  AuthProtocolVersion,
		Platform:  AuthPlatform,
		ClientVer: clientVersion,
		Type:      AuthType,
		Key:       key,
	}
}

// EncodeAuth encodes body as an Auth frame with sequence id 1.
func EncodeAuth(body AuthBody) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode auth body: %w", err)
	}
	return Encode(OpAuth, 1, string(payload)), nil
}

// EncodeHeartbeat encodes a Heartbeat frame carrying payload.
func EncodeHeartbeat(payload string) []byte {
	return Encode(OpHeartbeat, 1, payload)
}
