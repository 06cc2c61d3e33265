package binding

import (
	"fmt"
	"strings"

	"github.com/christopherjohns/quickroom/internal/session"
)

// TypingLine describes who is typing, most recent typer last. It returns ""
// when nobody is.
func TypingLine(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	default:
		return strings.Join(names, ", ") + " are typing..."
	}
}

// FormatEntry renders one history line. self is the local nickname.
func FormatEntry(e session.Entry, self string) string {
	if e.Kind == session.EntrySystem {
		return "-- " + e.Body + " --"
	}
	who := e.Nickname
	if who == self {
		who += " (you)"
	}
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04"), who, e.Body)
}

// StatusNotice is the banner shown when the connection state changes.
func StatusNotice(s session.State) string {
	switch s {
	case session.Connected:
		return "Connected: you're now connected to the chat room"
	case session.Connecting:
		return "Connecting..."
	default:
		return "Connection lost"
	}
}

// RosterLine summarises the room membership.
func RosterLine(roster []session.Participant) string {
	names := make([]string, 0, len(roster))
	for _, p := range roster {
		names = append(names, p.Nickname)
	}
	noun := "users"
	if len(roster) == 1 {
		noun = "user"
	}
	return fmt.Sprintf("%d %s: %s", len(roster), noun, strings.Join(names, ", "))
}
