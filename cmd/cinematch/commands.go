package main

import (
	"bufio"
	"cinematch/domain"
	"cinematch/domain/event"
	"cinematch/runtime"
	"cinematch/runtime/workers"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
)

const usage = `usage: cinematch <command> [args]

commands:
  candidates          list match candidates
  accept <userId>     accept a candidate
  decline <userId>    decline a candidate
  rooms               list active rooms
  chat <roomId>       chat in a room, one line per message, /quit to leave
  leave <roomId>      leave a room for good
  listen              print live notifications until interrupted
`

// app is what a command runs against.
type app struct {
	orchestrator *runtime.Orchestrator
	out          *terminal
	in           io.Reader
	log          *slog.Logger
	config       Config
}

type command struct {
	name string
	arg  string
}

var arity = map[string]int{
	"candidates": 0,
	"accept":     1,
	"decline":    1,
	"rooms":      0,
	"chat":       1,
	"leave":      1,
	"listen":     0,
}

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{}, fmt.Errorf("missing command")
	}
	n, ok := arity[args[0]]
	if !ok {
		return command{}, fmt.Errorf("unknown command %q", args[0])
	}
	if len(args)-1 != n {
		return command{}, fmt.Errorf("%s expects %d argument(s), got %d", args[0], n, len(args)-1)
	}
	cmd := command{name: args[0]}
	if n == 1 {
		cmd.arg = strings.TrimSpace(args[1])
		if cmd.arg == "" {
			return command{}, fmt.Errorf("%s expects a non empty argument", args[0])
		}
	}
	return cmd, nil
}

// needsCandidates tells whether the command is meaningless without a
// successful candidate fetch. Rooms and chat work from the local store.
func (c command) needsCandidates() bool {
	switch c.name {
	case "candidates", "accept", "decline":
		return true
	}
	return false
}

func (c command) exec(ctx context.Context, a app) error {
	o, out := a.orchestrator, a.out
	switch c.name {
	case "candidates":
		out.candidates(o.Matches().Candidates())
	case "accept":
		result, err := o.Accept(ctx, c.arg)
		if err != nil {
			return err
		}
		if result.Matched {
			out.notice("match", fmt.Sprintf("It's a match! room %s", result.RoomID))
		} else {
			out.notice("request", fmt.Sprintf("Request sent to %s", c.arg))
		}
	case "decline":
		if err := o.Decline(ctx, c.arg); err != nil {
			return err
		}
		out.notice("request", fmt.Sprintf("Declined %s", c.arg))
	case "rooms":
		rooms, err := o.Rooms()
		if err != nil {
			return err
		}
		out.rooms(rooms)
	case "leave":
		if err := o.LeaveRoom(ctx, c.arg); err != nil {
			return err
		}
		out.notice("room", fmt.Sprintf("Left room %s", c.arg))
	case "listen":
		listen(ctx, a)
	case "chat":
		return chat(ctx, o, out, a.in, c.arg)
	}
	return nil
}

// listen prints notifications while a supervised refresher keeps the pull
// state current, so candidates missed while offline still show up.
func listen(ctx context.Context, a app) {
	o, out := a.orchestrator, a.out
	channel := o.Channel()
	unsubscribers := []event.Unsubscribe{
		channel.OnMatchRequest(func(evt event.MatchRequestReceived) {
			out.notice("request", fmt.Sprintf("%s wants to watch with you (%d shared movies) %s",
				evt.FromUser.DisplayName, evt.SharedCount, evt.Message))
		}),
		channel.OnMutualMatch(func(evt event.MutualMatch) {
			out.notice("match", fmt.Sprintf("Matched with %s over %q, room %s",
				evt.OtherUser.DisplayName, evt.SharedMovieTitle, evt.RoomID))
		}),
		channel.OnReconnecting(func(evt event.Reconnecting) {
			out.notice("link", fmt.Sprintf("Connection lost, reconnecting: %v", evt.Err))
		}),
		channel.OnReconnected(func(event.Reconnected) {
			out.notice("link", "Reconnected")
		}),
		channel.OnClosed(func(evt event.Closed) {
			out.notice("link", fmt.Sprintf("Live updates stopped: %v", evt.Err))
		}),
	}
	defer func() {
		for _, unsubscribe := range unsubscribers {
			unsubscribe()
		}
	}()

	var seen atomic.Int64
	seen.Store(int64(len(o.Matches().Candidates())))
	unsubscribers = append(unsubscribers, o.Matches().OnUpdate(func(candidates []domain.MatchCandidate) {
		if n := int64(len(candidates)); seen.Swap(n) != n {
			out.notice("request", fmt.Sprintf("%d candidate(s) waiting", n))
		}
	}))

	sup := workers.NewSupervisor(a.log, clockwork.NewRealClock(), a.config.RestartDelay)
	sup.Add(workers.NewPullRefresher(a.log, o, clockwork.NewRealClock(), a.config.PollInterval, a.config.RequestTimeout))
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	out.notice("link", fmt.Sprintf("Listening as %s (%s), Ctrl+C to quit", o.Owner().DisplayName, channel.State()))
	<-ctx.Done()
	<-done
}

func chat(ctx context.Context, o *runtime.Orchestrator, out *terminal, in io.Reader, roomID string) error {
	session, err := o.OpenRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer func() {
		_ = o.CloseRoom(context.Background(), roomID)
	}()

	owner := o.Owner()
	printer := newChatPrinter(out, owner.ID)
	printer.history(session.Messages())
	unsubscribe := session.OnUpdate(printer.update)
	defer unsubscribe()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			msg, err := o.Send(ctx, roomID, line)
			if err != nil {
				out.notice("error", err.Error())
				continue
			}
			printer.sent(msg)
		}
	}
}

// chatPrinter prints each message once. After the initial history, the
// owner's messages are printed when sent, not when they come back confirmed.
type chatPrinter struct {
	out     *terminal
	ownerID string
	printed map[string]struct{}
}

func newChatPrinter(out *terminal, ownerID string) *chatPrinter {
	return &chatPrinter{out: out, ownerID: ownerID, printed: make(map[string]struct{})}
}

func (p *chatPrinter) history(messages []domain.ChatMessage) {
	p.out.mu.Lock()
	defer p.out.mu.Unlock()
	for _, msg := range messages {
		p.printLocked(msg)
	}
}

func (p *chatPrinter) update(messages []domain.ChatMessage) {
	p.out.mu.Lock()
	defer p.out.mu.Unlock()
	for _, msg := range messages {
		if msg.Provisional || msg.SenderID == p.ownerID {
			continue
		}
		p.printLocked(msg)
	}
}

func (p *chatPrinter) sent(msg domain.ChatMessage) {
	p.out.mu.Lock()
	defer p.out.mu.Unlock()
	p.printLocked(msg)
}

func (p *chatPrinter) printLocked(msg domain.ChatMessage) {
	if _, ok := p.printed[msg.ID]; ok {
		return
	}
	p.printed[msg.ID] = struct{}{}
	p.out.messageLocked(msg, msg.SenderID == p.ownerID)
}
