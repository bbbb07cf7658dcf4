// Package shell is a line-oriented front end over the interaction store and
// the notification channel, used by the diarysync demo binary.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/example/diary-sync/internal/domain"
	"github.com/example/diary-sync/internal/interaction"
	"github.com/example/diary-sync/internal/notify"
)

// ErrQuit ends Run without error.
var ErrQuit = errors.New("quit")

const help = `commands:
  load <entry>                   fetch an entry and its comments
  show <entry>                   print the local view of an entry
  like <entry>                   toggle the like (written after a pause)
  comment <entry> <text>         add a comment
  reply <entry> <comment> <text> reply to a top-level comment
  list [n]                       list the newest notifications
  unread                         print the unread notification count
  read <notification>            mark a notification read
  help | quit`

// NotificationLister fetches the notification list with read flags.
type NotificationLister interface {
	ListNotifications(ctx context.Context, limit int) ([]domain.NotificationItem, error)
}

type Shell struct {
	Store         *interaction.Store
	Channel       *notify.Channel
	Notifications NotificationLister
	Out           io.Writer

	mu sync.Mutex // serializes writes to Out from hooks and commands
}

func (s *Shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.Out, format, args...)
}

// Run executes commands from in until EOF, quit or ctx is done. Command
// errors are printed and do not stop the loop.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			err := s.Exec(ctx, line)
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if err != nil {
				s.printf("error: %v\n", err)
			}
		}
	}
}

// Exec runs one command line.
func (s *Shell) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		s.printf("%s\n", help)
		return nil
	case "quit", "exit":
		return ErrQuit
	case "unread":
		s.printf("unread: %d\n", s.Channel.Counter().Value())
		return nil
	case "list":
		return s.list(ctx, args)
	}

	if len(args) == 0 {
		return fmt.Errorf("%s: missing argument (try help)", cmd)
	}
	id := domain.ID(args[0])

	switch cmd {
	case "load":
		if err := s.Store.LoadEntry(ctx, id); err != nil {
			return err
		}
		return s.show(id)
	case "show":
		return s.show(id)
	case "like":
		st, err := s.Store.ToggleLike(id)
		if err != nil {
			return err
		}
		s.printf("%s %s\n", id, likeLine(st))
		return nil
	case "comment":
		text := rest(line, 2)
		c, err := s.Store.AppendComment(ctx, id, text)
		if err != nil {
			return err
		}
		s.printf("comment %s posted\n", c.ID)
		return nil
	case "reply":
		if len(args) < 2 {
			return errors.New("reply: need entry and comment ids")
		}
		c, err := s.Store.AppendReply(ctx, id, domain.ID(args[1]), rest(line, 3))
		if err != nil {
			return err
		}
		s.printf("reply %s posted\n", c.ID)
		return nil
	case "read":
		if err := s.Channel.MarkRead(ctx, id); err != nil {
			return err
		}
		s.printf("unread: %d\n", s.Channel.Counter().Value())
		return nil
	}
	return fmt.Errorf("unknown command %q (try help)", cmd)
}

func (s *Shell) list(ctx context.Context, args []string) error {
	if s.Notifications == nil {
		return errors.New("list: no notification service")
	}
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("list: %q is not a positive number", args[0])
		}
		limit = n
	}
	items, err := s.Notifications.ListNotifications(ctx, limit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		s.printf("no notifications\n")
		return nil
	}
	for _, it := range items {
		mark := "•"
		if it.Read {
			mark = " "
		}
		s.printf("%s [%s] %s %s\n", mark, it.ID, it.Type, it.Message)
	}
	return nil
}

func (s *Shell) show(id domain.ID) error {
	e, ok := s.Store.Entry(id)
	if !ok {
		return fmt.Errorf("%s is not loaded", id)
	}
	s.printf("%s  %s  by %s\n", e.ID, e.Title, e.Author.Name)
	s.printf("  %s\n", likeLine(domain.LikeState{Liked: e.Liked, Count: e.LikeCount}))
	for _, c := range e.Comments {
		s.printf("  [%s] %s: %s%s\n", c.ID, c.AuthorName, c.Text, pending(c))
		for _, r := range c.Replies {
			s.printf("    [%s] %s: %s%s\n", r.ID, r.AuthorName, r.Text, pending(r))
		}
	}
	return nil
}

// Notification prints a pushed notification; wire it to the channel.
func (s *Shell) Notification(n domain.Notification) {
	s.printf("\n* %s %s (%s) unread=%d\n", n.Type, n.Message, n.ID, s.Channel.Counter().Value())
}

func likeLine(st domain.LikeState) string {
	mark := "♡"
	if st.Liked {
		mark = "♥"
	}
	return fmt.Sprintf("%s %d", mark, st.Count)
}

func pending(c *domain.Comment) string {
	if c.Pending {
		return " (sending)"
	}
	return ""
}

// rest returns line after its first n fields, trimmed.
func rest(line string, n int) string {
	s := strings.TrimSpace(line)
	for i := 0; i < n && s != ""; i++ {
		if j := strings.IndexAny(s, " \t"); j >= 0 {
			s = strings.TrimSpace(s[j:])
		} else {
			s = ""
		}
	}
	return s
}

// LikeNotice and the other hook methods report background events.
func (s *Shell) LikeNotice(n interaction.Notice) {
	s.printf("\n! %s on %s: %v\n", n.Kind, n.EntryID, n.Err)
}

func (s *Shell) StreamNotice(n notify.Notice) {
	if n.NotificationID != "" {
		s.printf("\n! %s for %s: %v\n", n.Kind, n.NotificationID, n.Err)
		return
	}
	s.printf("\n! %s: %v\n", n.Kind, n.Err)
}

func (s *Shell) StreamState(st notify.State) {
	s.printf("\n~ stream %s\n", st)
}
