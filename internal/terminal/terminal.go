// Package terminal is a line-oriented front end for a chat room. Each input
// line is composed and submitted as one message; room activity is printed
// as it arrives.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/christopherjohns/quickroom/internal/binding"
	"github.com/christopherjohns/quickroom/internal/session"
)

// errQuit ends the command loop on /quit or end of input.
var errQuit = errors.New("quit")

const helpText = "commands: /who lists participants, /quit leaves the room"

// Terminal renders one session and feeds it typed lines.
type Terminal struct {
	sess     binding.Session
	composer *binding.Composer
	recon    *binding.Reconnector
	in       io.Reader
	out      io.Writer

	mu sync.Mutex // serialises writes to out
}

// Option configures a Terminal.
type Option func(*Terminal)

// WithReconnector enables automatic reconnection through r.
func WithReconnector(r *binding.Reconnector) Option {
	return func(t *Terminal) {
		t.recon = r
	}
}

// New creates a Terminal reading lines from in and writing to out.
func New(sess binding.Session, composer *binding.Composer, in io.Reader, out io.Writer, opts ...Option) *Terminal {
	t := &Terminal{
		sess:     sess,
		composer: composer,
		in:       in,
		out:      out,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run enters the room and blocks until the user quits, input ends or ctx is
// cancelled. The room is left before Run returns.
func (t *Terminal) Run(ctx context.Context, roomCode, nickname string) error {
	if err := t.composer.Enter(roomCode, nickname); err != nil {
		return fmt.Errorf("enter room: %w", err)
	}
	defer func() {
		if t.recon != nil {
			t.recon.Stop()
		}
		t.composer.Leave()
	}()
	t.println(helpText)

	lines := make(chan string)
	go readLines(ctx, t.in, lines)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return t.render(ctx)
	})
	g.Go(func() error {
		return t.commands(ctx, lines)
	})

	err := g.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readLines forwards input lines until EOF or ctx is done. The read itself
// cannot be interrupted, so this goroutine may outlive Run by one line.
func readLines(ctx context.Context, in io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		select {
		case lines <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
}

func (t *Terminal) commands(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			if err := t.handleLine(line); err != nil {
				return err
			}
		}
	}
}

func (t *Terminal) handleLine(line string) error {
	switch strings.TrimSpace(line) {
	case "":
		return nil
	case "/quit":
		return errQuit
	case "/who":
		t.println(binding.RosterLine(t.sess.Snapshot().Roster))
		return nil
	case "/help":
		t.println(helpText)
		return nil
	}

	t.composer.Edit(line)
	if !t.composer.Submit() {
		t.println("not connected, message not sent")
	}
	return nil
}

// view is what has already been printed.
type view struct {
	state     session.State
	lastEntry uint64
	typing    string
	roster    string
}

func (t *Terminal) render(ctx context.Context) error {
	var v view
	t.draw(&v, t.sess.Snapshot())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.sess.Changes():
			t.draw(&v, t.sess.Snapshot())
		}
	}
}

func (t *Terminal) draw(v *view, snap session.Snapshot) {
	if t.recon != nil {
		t.recon.Observe(snap)
	}
	if snap.State != v.state {
		v.state = snap.State
		t.println("* " + binding.StatusNotice(snap.State))
	}
	for _, e := range snap.Entries {
		if e.ID <= v.lastEntry {
			continue
		}
		v.lastEntry = e.ID
		t.println(binding.FormatEntry(e, snap.Identity.Nickname))
	}
	if roster := binding.RosterLine(snap.Roster); len(snap.Roster) > 0 && roster != v.roster {
		v.roster = roster
		t.println("* " + roster)
	}
	if typing := binding.TypingLine(others(snap.Typing, snap.Identity.Nickname)); typing != v.typing {
		v.typing = typing
		if typing != "" {
			t.println("* " + typing)
		}
	}
}

// others drops the local nickname from a typing list.
func others(names []string, self string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != self {
			out = append(out, n)
		}
	}
	return out
}

func (t *Terminal) println(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, s)
}
