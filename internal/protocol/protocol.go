// Package protocol defines the JSON frames exchanged over a room's realtime
// transport. Every frame is a flat object carrying a "type" discriminator.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Type is the frame discriminator.
type Type string

const (
	TypeJoin            Type = "join"
	TypeChatMessage     Type = "chat_message"
	TypeSystemMessage   Type = "system_message"
	TypeUserList        Type = "user_list"
	TypeTypingIndicator Type = "typing_indicator"
)

// ErrMalformed is returned for frames that are not JSON objects or that lack
// a type.
var ErrMalformed = errors.New("protocol: malformed frame")

// User is a roster entry as sent by the server.
type User struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

// Intent is a client-originated frame.
type Intent struct {
	Type     Type
	Nickname string
	RoomCode string
	Message  string
	IsTyping bool
}

// Event is a server-pushed frame. Only the fields relevant to Type are set.
// Unknown types are returned with just Type populated.
type Event struct {
	Type     Type
	Nickname string
	Message  string
	Users    []User
	IsTyping bool
}

// Join builds the intent sent right after the transport opens.
func Join(nickname, roomCode string) Intent {
	return Intent{Type: TypeJoin, Nickname: nickname, RoomCode: roomCode}
}

// ChatMessage builds a user-authored message intent.
func ChatMessage(body string) Intent {
	return Intent{Type: TypeChatMessage, Message: body}
}

// Typing builds a typing-indicator intent.
func Typing(isTyping bool) Intent {
	return Intent{Type: TypeTypingIndicator, IsTyping: isTyping}
}

type joinFrame struct {
	Type     Type   `json:"type"`
	Nickname string `json:"nickname"`
	RoomCode string `json:"room_code"`
}

type chatFrame struct {
	Type     Type   `json:"type"`
	Nickname string `json:"nickname,omitempty"`
	Message  string `json:"message"`
}

type systemFrame struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

type userListFrame struct {
	Type  Type   `json:"type"`
	Users []User `json:"users"`
}

type typingFrame struct {
	Type     Type   `json:"type"`
	Nickname string `json:"nickname,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

// EncodeIntent serialises a client intent.
func EncodeIntent(in Intent) ([]byte, error) {
	switch in.Type {
	case TypeJoin:
		return json.Marshal(joinFrame{Type: in.Type, Nickname: in.Nickname, RoomCode: in.RoomCode})
	case TypeChatMessage:
		return json.Marshal(chatFrame{Type: in.Type, Message: in.Message})
	case TypeTypingIndicator:
		return json.Marshal(typingFrame{Type: in.Type, IsTyping: in.IsTyping})
	default:
		return nil, fmt.Errorf("protocol: unsupported intent type %q", in.Type)
	}
}

// EncodeEvent serialises a server event.
func EncodeEvent(ev Event) ([]byte, error) {
	switch ev.Type {
	case TypeChatMessage:
		return json.Marshal(chatFrame{Type: ev.Type, Nickname: ev.Nickname, Message: ev.Message})
	case TypeSystemMessage:
		return json.Marshal(systemFrame{Type: ev.Type, Message: ev.Message})
	case TypeUserList:
		users := ev.Users
		if users == nil {
			users = []User{}
		}
		return json.Marshal(userListFrame{Type: ev.Type, Users: users})
	case TypeTypingIndicator:
		return json.Marshal(typingFrame{Type: ev.Type, Nickname: ev.Nickname, IsTyping: ev.IsTyping})
	default:
		return nil, fmt.Errorf("protocol: unsupported event type %q", ev.Type)
	}
}

// DecodeEvent parses a server frame. Missing fields decode to their zero
// value; a user_list whose users field is absent or not an array yields an
// empty roster.
func DecodeEvent(data []byte) (Event, error) {
	root, typ, err := parseFrame(data)
	if err != nil {
		return Event{}, err
	}
	ev := Event{Type: typ}
	switch typ {
	case TypeChatMessage:
		ev.Nickname = root.Get("nickname").String()
		ev.Message = root.Get("message").String()
	case TypeSystemMessage:
		ev.Message = root.Get("message").String()
	case TypeUserList:
		ev.Users = decodeUsers(root.Get("users"))
	case TypeTypingIndicator:
		ev.Nickname = root.Get("nickname").String()
		ev.IsTyping = root.Get("is_typing").Bool()
	}
	return ev, nil
}

// DecodeIntent parses a client frame.
func DecodeIntent(data []byte) (Intent, error) {
	root, typ, err := parseFrame(data)
	if err != nil {
		return Intent{}, err
	}
	in := Intent{Type: typ}
	switch typ {
	case TypeJoin:
		in.Nickname = root.Get("nickname").String()
		in.RoomCode = root.Get("room_code").String()
	case TypeChatMessage:
		in.Message = root.Get("message").String()
	case TypeTypingIndicator:
		in.IsTyping = root.Get("is_typing").Bool()
	}
	return in, nil
}

func parseFrame(data []byte) (gjson.Result, Type, error) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, "", ErrMalformed
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return gjson.Result{}, "", ErrMalformed
	}
	t := root.Get("type")
	if t.Type != gjson.String || t.Str == "" {
		return gjson.Result{}, "", ErrMalformed
	}
	return root, Type(t.Str), nil
}

// decodeUsers skips array elements that are not objects.
func decodeUsers(v gjson.Result) []User {
	users := []User{}
	if !v.IsArray() {
		return users
	}
	v.ForEach(func(_, el gjson.Result) bool {
		if el.IsObject() {
			users = append(users, User{
				ID:       el.Get("id").String(),
				Nickname: el.Get("nickname").String(),
			})
		}
		return true
	})
	return users
}
