// Package shell is the line-oriented operator interface of the console.
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

	"go.uber.org/zap"

	"github.com/unnet/isp-console/internal/console"
	"github.com/unnet/isp-console/internal/fieldsync"
	"github.com/unnet/isp-console/internal/lockout"
	"github.com/unnet/isp-console/internal/plan/entity"
	sentity "github.com/unnet/isp-console/internal/setting/entity"
)

const help = `commands:
  login <password>            log in
  logout                      log out
  refresh                     reload settings and packages
  show                        print settings, packages and the draft
  status                      print the console state
  set <key> <value>           change a setting and save it
  edit <key> <value>          change a setting locally
  save <key>                  save the local value of a setting
  map <iframe|embed url>      import a google maps embed and save both map settings
  draft <field> <value>       set a field of the new package (name, speed, price, features)
  add                         create the drafted package
  delete <id>                 delete a package (asks first)
  help                        this text
  quit                        leave
`

var errQuit = errors.New("quit")

type Shell struct {
	c      *console.Controller
	logger *zap.SugaredLogger
	lines  chan string
	in     io.Reader
	// Wait makes each command block until its background work is done.
	// Used when input is a script rather than a terminal.
	Wait bool

	mu  sync.Mutex
	out io.Writer
}

func New(c *console.Controller, in io.Reader, out io.Writer, logger *zap.SugaredLogger) *Shell {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Shell{c: c, logger: logger, in: in, out: out, lines: make(chan string)}
	c.SetListener(s.onEvent)
	return s
}

func (s *Shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *Shell) onEvent(e console.Event) {
	switch e := e.(type) {
	case console.StateChanged:
		s.printf("[%s]\n", e.To)
	case console.CountdownTick:
		if e.Remaining > 0 {
			s.printf("locked, %ds remaining\n", e.Remaining)
		}
	case console.FieldStatus:
		switch e.Status {
		case fieldsync.Failed:
			s.printf("%s: save failed: %v (value kept, retry with save)\n", e.Field, e.Err)
		case fieldsync.Idle:
		default:
			s.printf("%s: %s\n", e.Field, e.Status)
		}
	case console.Alert:
		s.printf("! %s: %v\n", e.Message, e.Err)
	}
}

// Run reads commands until quit, end of input or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	go s.read()
	s.printf("type help for commands\n")
	for {
		line, ok, err := s.next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := s.exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			s.printf("error: %v\n", err)
		}
	}
}

func (s *Shell) read() {
	defer close(s.lines)
	sc := bufio.NewScanner(s.in)
	for sc.Scan() {
		s.lines <- sc.Text()
	}
	if err := sc.Err(); err != nil {
		s.logger.Warnw("read input", "error", err)
	}
}

func (s *Shell) next(ctx context.Context) (string, bool, error) {
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case line, ok := <-s.lines:
		return line, ok, nil
	}
}

func cut(s string) (string, string) {
	s = strings.TrimSpace(s)
	head, tail, _ := strings.Cut(s, " ")
	return head, strings.TrimSpace(tail)
}

func (s *Shell) await(ctx context.Context, done <-chan struct{}) {
	if !s.Wait || done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Shell) exec(ctx context.Context, line string) error {
	cmd, rest := cut(line)
	switch cmd {
	case "":
		return nil
	case "help":
		s.printf("%s", help)
	case "quit", "exit":
		return errQuit
	case "login":
		return s.login(ctx, rest)
	case "logout":
		return s.c.Logout(ctx)
	case "refresh":
		done, err := s.c.Refresh(ctx)
		if err != nil {
			return err
		}
		s.await(ctx, done)
	case "show":
		s.show()
	case "status":
		snap := s.c.Snapshot()
		s.printf("state: %s\n", snap.State)
		if snap.State == console.LoggedOutLocked {
			s.printf("locked, %ds remaining\n", snap.LockRemaining)
		} else if !snap.State.LoggedIn() {
			s.printf("attempts remaining: %d\n", snap.AttemptsRemaining)
		}
	case "set":
		key, value := cut(rest)
		if key == "" {
			return errors.New("usage: set <key> <value>")
		}
		done, err := s.c.SetSetting(ctx, key, value)
		if err != nil {
			return err
		}
		s.await(ctx, done)
	case "edit":
		key, value := cut(rest)
		if key == "" {
			return errors.New("usage: edit <key> <value>")
		}
		return s.c.Edit(key, value)
	case "save":
		if rest == "" {
			return errors.New("usage: save <key>")
		}
		done, err := s.c.SaveSetting(ctx, rest)
		if err != nil {
			return err
		}
		s.await(ctx, done)
	case "map":
		links, err := s.c.ImportMap(rest)
		if err != nil {
			return err
		}
		if links.DirectURL == "" {
			s.printf("embed has no coordinates, direct link unchanged\n")
		}
		done, err := s.c.SaveMap(ctx)
		s.await(ctx, done)
		return err
	case "draft":
		field, value := cut(rest)
		return s.c.SetDraft(field, value)
	case "add":
		done, err := s.c.AddPackage(ctx)
		if err != nil {
			return err
		}
		s.await(ctx, done)
	case "delete":
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return errors.New("usage: delete <id>")
		}
		done, err := s.c.DeletePackage(ctx, id, func(p entity.Package) bool {
			return s.confirm(ctx, fmt.Sprintf("delete package %q (%s, %s)? [y/N] ", p.Name, p.Speed, p.Price))
		})
		if errors.Is(err, console.ErrNotConfirmed) {
			s.printf("not deleted\n")
			return nil
		}
		if err != nil {
			return err
		}
		s.await(ctx, done)
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

func (s *Shell) confirm(ctx context.Context, prompt string) bool {
	s.printf("%s", prompt)
	line, ok, err := s.next(ctx)
	if err != nil || !ok {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func (s *Shell) login(ctx context.Context, password string) error {
	res, done, err := s.c.Submit(ctx, password)
	if err != nil {
		return err
	}
	switch res.Outcome {
	case lockout.Accepted:
		s.printf("logged in\n")
		s.await(ctx, done)
	case lockout.Rejected:
		s.printf("%v, %d attempts left\n", res.Err(), res.AttemptsRemaining)
	case lockout.Locked:
		s.printf("%v, try again in %ds\n", res.Err(), res.RemainingSeconds)
	}
	return nil
}

func (s *Shell) show() {
	snap := s.c.Snapshot()
	if !snap.State.LoggedIn() {
		s.printf("not logged in\n")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, "settings:")
	for _, key := range sentity.OrderedKeys(snap.Settings) {
		v, ok := snap.Settings[key]
		if !ok {
			v = "(unset)"
		}
		line := fmt.Sprintf("  %-16s %-18s %s", key, sentity.Label(key), v)
		if st, ok := snap.Statuses[key]; ok {
			line += " [" + st.String() + "]"
		}
		fmt.Fprintln(s.out, line)
	}
	fmt.Fprintln(s.out, "packages:")
	if len(snap.Packages) == 0 {
		fmt.Fprintln(s.out, "  (none)")
	}
	for _, p := range snap.Packages {
		id := "-"
		if p.ID != nil {
			id = strconv.FormatInt(*p.ID, 10)
		}
		fmt.Fprintf(s.out, "  #%s %s | %s | %s | %s\n", id, p.Name, p.Speed, p.Price, strings.Join(p.Features, ", "))
	}
	d := snap.Draft
	fmt.Fprintf(s.out, "draft: name=%q speed=%q price=%q features=%q\n", d.Name, d.Speed, d.Price, d.Features)
}
