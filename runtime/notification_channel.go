// Package runtime owns the long-lived pieces of a signed-in session:
// the notification channel and the orchestrator wiring it to services.
// It contains no negotiation rules, those live in domain.
package runtime

import (
	"cinematch/contract"
	"cinematch/domain/event"
	"cinematch/errors"
	"cinematch/protocol"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type ChannelState int

const (
	Disconnected ChannelState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ChannelState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

const defaultEventBufferSize = 64

// DefaultBackOff retries with jittered exponential delays capped at maxDelay,
// and gives up once window has elapsed since the drop.
func DefaultBackOff(window, maxDelay time.Duration, clock contract.Clock) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.RandomizationFactor = 0.5
		b.Multiplier = 2
		b.MaxInterval = maxDelay
		b.MaxElapsedTime = window
		b.Clock = clock
		b.Reset()
		return b
	}
}

// NotificationChannel is the single push connection of a session.
// Each Connect opens an epoch; Disconnect closes it, and nothing queued
// under a closed epoch ever reaches an observer.
// Observers run on a dispatcher goroutine, never on the read loop, so they may
// invoke the hub. They must not call Disconnect themselves.
type NotificationChannel struct {
	mu             sync.Mutex
	factory        contract.ConnectionFactory
	clock          contract.Clock
	log            *slog.Logger
	newBackOff     func() backoff.BackOff
	bufferSize     int
	state          ChannelState
	epoch          uint64
	conn           contract.Connection
	stop           chan struct{}
	pending        map[string]chan error
	nextInvocation uint64

	// held for reading while an observer runs, Disconnect takes it to wait them out
	dispatchMu sync.RWMutex

	matchRequests *event.Registry[event.MatchRequestReceived]
	mutualMatches *event.Registry[event.MutualMatch]
	messages      *event.Registry[event.MessageReceived]
	reconnecting  *event.Registry[event.Reconnecting]
	reconnected   *event.Registry[event.Reconnected]
	closed        *event.Registry[event.Closed]
}

type envelope struct {
	epoch uint64
	evt   event.Event
}

type session struct {
	epoch uint64
	stop  chan struct{}
	queue chan envelope
}

func NewNotificationChannel(factory contract.ConnectionFactory, clock contract.Clock, log *slog.Logger,
	bufferSize int, newBackOff func() backoff.BackOff) *NotificationChannel {
	if bufferSize <= 0 {
		bufferSize = defaultEventBufferSize
	}
	return &NotificationChannel{
		factory:       factory,
		clock:         clock,
		log:           log,
		newBackOff:    newBackOff,
		bufferSize:    bufferSize,
		pending:       make(map[string]chan error),
		matchRequests: event.NewRegistry[event.MatchRequestReceived]("match_requests", log),
		mutualMatches: event.NewRegistry[event.MutualMatch]("mutual_matches", log),
		messages:      event.NewRegistry[event.MessageReceived]("messages", log),
		reconnecting:  event.NewRegistry[event.Reconnecting]("reconnecting", log),
		reconnected:   event.NewRegistry[event.Reconnected]("reconnected", log),
		closed:        event.NewRegistry[event.Closed]("closed", log),
	}
}

func (c *NotificationChannel) OnMatchRequest(fn func(event.MatchRequestReceived)) event.Unsubscribe {
	return c.matchRequests.Subscribe(fn)
}

func (c *NotificationChannel) OnMutualMatch(fn func(event.MutualMatch)) event.Unsubscribe {
	return c.mutualMatches.Subscribe(fn)
}

func (c *NotificationChannel) OnMessage(fn func(event.MessageReceived)) event.Unsubscribe {
	return c.messages.Subscribe(fn)
}

func (c *NotificationChannel) OnReconnecting(fn func(event.Reconnecting)) event.Unsubscribe {
	return c.reconnecting.Subscribe(fn)
}

// OnReconnected fires after a dropped connection came back. Room subscriptions
// are gone by then and pushes sent during the gap are not replayed.
func (c *NotificationChannel) OnReconnected(fn func(event.Reconnected)) event.Unsubscribe {
	return c.reconnected.Subscribe(fn)
}

func (c *NotificationChannel) OnClosed(fn func(event.Closed)) event.Unsubscribe {
	return c.closed.Subscribe(fn)
}

func (c *NotificationChannel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *NotificationChannel) IsConnected() bool {
	return c.State() == Connected
}

// Connect opens the connection. It is a no-op unless the channel is disconnected.
// A failure is returned for the caller to log; the session keeps working on pull.
func (c *NotificationChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = Connecting
	c.epoch++
	s := session{
		epoch: c.epoch,
		stop:  make(chan struct{}),
		queue: make(chan envelope, c.bufferSize),
	}
	c.stop = s.stop
	c.mu.Unlock()

	conn, err := c.factory.Dial(ctx)

	c.mu.Lock()
	if c.epoch != s.epoch {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return fmt.Errorf("%w: disconnected while connecting", errors.ErrConnection)
	}
	if err != nil {
		c.state = Disconnected
		close(c.stop)
		c.stop = nil
		c.mu.Unlock()
		c.log.Warn("Notification channel failed to connect", "error", err)
		return fmt.Errorf("%w: %w", errors.ErrConnection, err)
	}
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	c.log.Info("Notification channel connected")
	go c.dispatch(s)
	go c.run(s, conn)
	return nil
}

// Disconnect closes the connection for good and stops reconnecting.
// Once it returns, no observer runs for anything received before.
func (c *NotificationChannel) Disconnect() {
	c.mu.Lock()
	if c.state == Disconnected && c.stop == nil {
		c.mu.Unlock()
		return
	}
	c.epoch++
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = Disconnected
	c.failPendingLocked(errors.ErrNotConnected)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	// wait for observers still running under the old epoch
	c.dispatchMu.Lock()
	c.dispatchMu.Unlock()
	c.log.Info("Notification channel disconnected")
}

// Invoke calls a hub method and waits for its completion.
func (c *NotificationChannel) Invoke(ctx context.Context, target string, args ...any) error {
	c.mu.Lock()
	if c.state != Connected || c.conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", errors.ErrNotConnected, target)
	}
	conn := c.conn
	c.nextInvocation++
	id := strconv.FormatUint(c.nextInvocation, 10)
	done := make(chan error, 1)
	c.pending[id] = done
	c.mu.Unlock()

	record, err := protocol.NewInvocation(id, target, args...)
	if err == nil {
		err = conn.Send(ctx, record)
		if err != nil {
			err = fmt.Errorf("%w: %s: %w", errors.ErrConnection, target, err)
		}
	}
	if err != nil {
		c.forget(id)
		return err
	}

	select {
	case err = <-done:
		return err
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

// Send fires an invocation without waiting for any answer.
func (c *NotificationChannel) Send(ctx context.Context, target string, args ...any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected && conn != nil
	c.mu.Unlock()
	if !connected {
		return fmt.Errorf("%w: %s", errors.ErrNotConnected, target)
	}

	record, err := protocol.NewInvocation("", target, args...)
	if err != nil {
		return err
	}
	if err = conn.Send(ctx, record); err != nil {
		return fmt.Errorf("%w: %s: %w", errors.ErrConnection, target, err)
	}
	return nil
}

func (c *NotificationChannel) JoinRoom(ctx context.Context, roomID string) error {
	return c.Invoke(ctx, protocol.TargetJoinRoom, roomID)
}

func (c *NotificationChannel) LeaveRoom(ctx context.Context, roomID string) error {
	return c.Invoke(ctx, protocol.TargetLeaveRoom, roomID)
}

func (c *NotificationChannel) SendMessage(ctx context.Context, roomID, content string) error {
	return c.Send(ctx, protocol.TargetSendMessage, roomID, content)
}

type dropCause struct {
	err       error
	reconnect bool
}

// run reads the connection until it drops, then reconnects with backoff
// and keeps reading the new one, until the epoch ends or backoff gives up.
func (c *NotificationChannel) run(s session, conn contract.Connection) {
	for {
		cause := c.read(s, conn)
		if !c.dropped(s, conn, cause) {
			return
		}
		conn = c.reconnect(s)
		if conn == nil {
			return
		}
	}
}

func (c *NotificationChannel) read(s session, conn contract.Connection) dropCause {
	for {
		record, err := conn.Receive()
		if err != nil {
			return dropCause{err: fmt.Errorf("%w: %w", errors.ErrConnection, err), reconnect: true}
		}
		switch record.Type {
		case protocol.TypePing:
		case protocol.TypeClose:
			return dropCause{
				err:       fmt.Errorf("%w: closed by server: %s", errors.ErrConnection, record.Error),
				reconnect: record.AllowReconnect,
			}
		case protocol.TypeCompletion:
			c.complete(record)
		case protocol.TypeInvocation:
			c.route(s, record)
		default:
			c.log.Debug("Ignoring hub record", "type", record.Type)
		}
	}
}

func (c *NotificationChannel) route(s session, record protocol.Record) {
	evt, ok, err := protocol.ToEvent(record)
	if err != nil {
		c.log.Warn("Dropping malformed push", "target", record.Target, "error", err)
		return
	}
	if !ok {
		c.log.Debug("Ignoring push", "target", record.Target)
		return
	}
	select {
	case s.queue <- envelope{epoch: s.epoch, evt: evt}:
	default:
		c.log.Warn("Event buffer full, dropping push", "target", record.Target)
	}
}

// signal queues a lifecycle event. Unlike pushes it waits for room in the buffer.
func (c *NotificationChannel) signal(s session, evt event.Event) {
	select {
	case s.queue <- envelope{epoch: s.epoch, evt: evt}:
	case <-s.stop:
	}
}

func (c *NotificationChannel) dispatch(s session) {
	for {
		select {
		case <-s.stop:
			return
		case env := <-s.queue:
			c.emit(env)
		}
	}
}

func (c *NotificationChannel) emit(env envelope) {
	c.dispatchMu.RLock()
	defer c.dispatchMu.RUnlock()

	c.mu.Lock()
	current := c.epoch == env.epoch
	c.mu.Unlock()
	if !current {
		return
	}

	switch evt := env.evt.(type) {
	case event.MatchRequestReceived:
		c.matchRequests.Notify(evt)
	case event.MutualMatch:
		c.mutualMatches.Notify(evt)
	case event.MessageReceived:
		c.messages.Notify(evt)
	case event.Reconnecting:
		c.reconnecting.Notify(evt)
	case event.Reconnected:
		c.reconnected.Notify(evt)
	case event.Closed:
		c.closed.Notify(evt)
	}
}

// dropped reports whether a reconnect should be attempted.
func (c *NotificationChannel) dropped(s session, conn contract.Connection, cause dropCause) bool {
	c.mu.Lock()
	if c.epoch != s.epoch {
		c.mu.Unlock()
		return false
	}
	c.conn = nil
	c.failPendingLocked(cause.err)
	if !cause.reconnect {
		c.state = Disconnected
		close(c.stop)
		c.stop = nil
		c.epoch++
		c.mu.Unlock()
		_ = conn.Close()
		c.log.Warn("Notification channel closed", "error", cause.err)
		c.emitClosed(s, cause.err)
		return false
	}
	c.state = Reconnecting
	c.mu.Unlock()

	_ = conn.Close()
	c.log.Warn("Notification channel dropped", "error", cause.err)
	c.signal(s, event.Reconnecting{Err: cause.err, At: c.clock.Now()})
	return true
}

// emitClosed delivers Closed straight away: the epoch is already over
// and its dispatcher stopped.
func (c *NotificationChannel) emitClosed(s session, err error) {
	c.dispatchMu.RLock()
	defer c.dispatchMu.RUnlock()
	c.closed.Notify(event.Closed{Err: err, At: c.clock.Now()})
}

func (c *NotificationChannel) reconnect(s session) contract.Connection {
	b := c.newBackOff()
	b.Reset()
	for attempt := 1; ; attempt++ {
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return c.giveUp(s, attempt-1)
		}
		c.log.Info("Reconnecting notification channel", "attempt", attempt, "delay", delay)
		select {
		case <-s.stop:
			return nil
		case <-c.clock.After(delay):
		}

		ctx, cancel := stopContext(s.stop)
		conn, err := c.factory.Dial(ctx)
		cancel()
		if err != nil {
			c.log.Warn("Reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		c.mu.Lock()
		if c.epoch != s.epoch {
			c.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		c.conn = conn
		c.state = Connected
		c.mu.Unlock()

		c.log.Info("Notification channel reconnected", "attempt", attempt)
		c.signal(s, event.Reconnected{At: c.clock.Now()})
		return conn
	}
}

func (c *NotificationChannel) giveUp(s session, attempts int) contract.Connection {
	c.mu.Lock()
	if c.epoch != s.epoch {
		c.mu.Unlock()
		return nil
	}
	c.state = Disconnected
	close(c.stop)
	c.stop = nil
	c.epoch++
	c.mu.Unlock()

	err := fmt.Errorf("%w: gave up after %d attempts", errors.ErrConnection, attempts)
	c.log.Warn("Notification channel gave up reconnecting", "attempt", attempts)
	c.emitClosed(s, err)
	return nil
}

func (c *NotificationChannel) complete(record protocol.Record) {
	c.mu.Lock()
	done, ok := c.pending[record.InvocationID]
	delete(c.pending, record.InvocationID)
	c.mu.Unlock()

	if !ok {
		c.log.Debug("Completion for unknown invocation", "id", record.InvocationID)
		return
	}
	if record.Error != "" {
		done <- fmt.Errorf("%w: %s", errors.ErrRemoteRejection, record.Error)
		return
	}
	done <- nil
}

func (c *NotificationChannel) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *NotificationChannel) failPendingLocked(err error) {
	for id, done := range c.pending {
		done <- err
		delete(c.pending, id)
	}
}

func stopContext(stop <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
