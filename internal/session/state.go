package session

import (
	"errors"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// State is the connection state of a Channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Input limits mirror the room forms of the web client.
const (
	MaxNicknameLen = 20
	MaxRoomCodeLen = 10
)

var (
	ErrMissingIdentity = errors.New("session: room code and nickname are required")
	ErrIdentityTooLong = errors.New("session: room code or nickname too long")
)

// Identity names the room and the nickname a session joins with.
type Identity struct {
	RoomCode string
	Nickname string
}

// NewIdentity trims both fields and uppercases the room code.
func NewIdentity(roomCode, nickname string) (Identity, error) {
	id := Identity{
		RoomCode: strings.ToUpper(strings.TrimSpace(roomCode)),
		Nickname: strings.TrimSpace(nickname),
	}
	if id.RoomCode == "" || id.Nickname == "" {
		return Identity{}, ErrMissingIdentity
	}
	if utf8.RuneCountInString(id.RoomCode) > MaxRoomCodeLen || utf8.RuneCountInString(id.Nickname) > MaxNicknameLen {
		return Identity{}, ErrIdentityTooLong
	}
	return id, nil
}

// Participant is a member of the room roster.
type Participant struct {
	ID       string
	Nickname string
}

// EntryKind discriminates chat history entries.
type EntryKind int

const (
	EntryChat EntryKind = iota
	EntrySystem
)

// Entry is one line of chat history. Nickname is empty for system notices.
// ID is assigned locally on receipt and is only meant as a rendering key.
type Entry struct {
	ID        uint64
	Kind      EntryKind
	Nickname  string
	Body      string
	Timestamp time.Time
}

// Snapshot is an immutable view of a Channel's state.
type Snapshot struct {
	State    State
	Identity Identity
	Entries  []Entry
	Roster   []Participant
	// Typing lists nicknames in the order they last started typing.
	Typing []string
}

// typingSet keeps insertion order; re-adding a name moves it to the end.
type typingSet struct {
	names []string
}

func (t *typingSet) add(name string) {
	t.remove(name)
	t.names = append(t.names, name)
}

func (t *typingSet) remove(name string) bool {
	i := slices.Index(t.names, name)
	if i < 0 {
		return false
	}
	t.names = slices.Delete(t.names, i, i+1)
	return true
}

func (t *typingSet) reset() {
	t.names = nil
}

func (t *typingSet) list() []string {
	return slices.Clone(t.names)
}
