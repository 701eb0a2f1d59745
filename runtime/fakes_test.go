package runtime

import (
	"cinematch/contract"
	"cinematch/protocol"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	inbox        chan protocol.Record
	sent         chan protocol.Record
	closed       chan struct{}
	closeOnce    sync.Once
	completeWith string
	silent       atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox:  make(chan protocol.Record, 64),
		sent:   make(chan protocol.Record, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) Receive() (protocol.Record, error) {
	select {
	case r := <-f.inbox:
		return r, nil
	case <-f.closed:
		return protocol.Record{}, io.EOF
	}
}

// Send answers every invocation expecting a completion, like the hub does.
func (f *fakeConn) Send(_ context.Context, r protocol.Record) error {
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	default:
	}
	f.sent <- r
	if r.InvocationID != "" && !f.silent.Load() {
		f.inbox <- protocol.Record{Type: protocol.TypeCompletion, InvocationID: r.InvocationID, Error: f.completeWith}
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) push(t *testing.T, target string, payload any) {
	record, err := protocol.NewInvocation("", target, payload)
	require.NoError(t, err)
	f.inbox <- record
}

// nextSent waits for the next record matching target.
func (f *fakeConn) nextSent(t *testing.T, target string) protocol.Record {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case r := <-f.sent:
			if r.Target == target {
				return r
			}
		case <-deadline:
			t.Fatalf("no %s sent", target)
			return protocol.Record{}
		}
	}
}

type fakeFactory struct {
	mu       sync.Mutex
	conns    []*fakeConn
	failures int
	dials    int
}

func (f *fakeFactory) Dial(_ context.Context) (contract.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.failures > 0 {
		f.failures--
		return nil, fmt.Errorf("connection refused")
	}
	conn := newFakeConn()
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakeFactory) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

func (f *fakeFactory) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeFactory) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

func constantBackOff(d time.Duration, retries uint64) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(d), retries)
	}
}

// waitForTimer blocks until one goroutine sleeps on the fake clock.
func waitForTimer(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
}
