package fundslistener

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/Ticketeer/emulator"
	"github.com/bartossh/Ticketeer/logging"
	"github.com/bartossh/Ticketeer/reactive"
	"github.com/bartossh/Ticketeer/ticket"
)

type relayRecorder struct {
	mux       sync.Mutex
	snapshots []ticket.Snapshot
}

func (r *relayRecorder) PublishSnapshot(s ticket.Snapshot) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.snapshots = append(r.snapshots, s)
	return nil
}

func (r *relayRecorder) count() int {
	r.mux.Lock()
	defer r.mux.Unlock()
	return len(r.snapshots)
}

func TestPollPublishesChangedSnapshotsOnly(t *testing.T) {
	ctx := context.Background()
	l, err := emulator.New(emulator.Config{})
	require.NoError(t, err)
	obs := reactive.New[ticket.Snapshot](4)
	sub := obs.Subscribe()
	defer sub.Cancel()
	relay := &relayRecorder{}
	listener := New(Config{}, l, obs, relay, logging.New(nil, nil, io.Discard))

	published, err := listener.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, published, "empty snapshot must be dropped")

	address, err := l.GenerateAddress(ctx)
	require.NoError(t, err)
	_, err = l.Fund(ctx, address, 100)
	require.NoError(t, err)

	published, err = listener.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, published)
	s := <-sub.Channel()
	require.Len(t, s.Addresses, 1)
	assert.Equal(t, address, s.Addresses[0].Address)

	published, err = listener.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, published, "unchanged snapshot must be dropped")

	_, err = l.Fund(ctx, address, 50)
	require.NoError(t, err)
	published, err = listener.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, published)
	s = <-sub.Channel()
	assert.Len(t, s.Addresses[0].OutputIDs, 2)
	assert.Equal(t, 2, relay.count())
}

func TestPollRepeatsUnchangedSnapshotAfterPeriod(t *testing.T) {
	ctx := context.Background()
	l, err := emulator.New(emulator.Config{})
	require.NoError(t, err)
	address, err := l.GenerateAddress(ctx)
	require.NoError(t, err)
	_, err = l.Fund(ctx, address, 100)
	require.NoError(t, err)

	listener := New(Config{}, l, reactive.New[ticket.Snapshot](1), nil, logging.New(nil, nil, io.Discard))
	published, err := listener.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, published)

	listener.publishedAt = time.Now().Add(-listener.repeat)
	published, err = listener.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, published)
}

func TestPollSourceFailure(t *testing.T) {
	l, err := emulator.New(emulator.Config{})
	require.NoError(t, err)
	l.InjectFault(emulator.OpAddressesWithUnspentOutputs, 1)
	listener := New(Config{}, l, reactive.New[ticket.Snapshot](1), nil, logging.New(nil, nil, io.Discard))

	_, err = listener.Poll(context.Background())
	assert.ErrorIs(t, err, ErrSourceFailed)
	assert.ErrorIs(t, err, emulator.ErrInjectedFault)
}

func TestRunPublishesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l, err := emulator.New(emulator.Config{})
	require.NoError(t, err)
	address, err := l.GenerateAddress(ctx)
	require.NoError(t, err)
	_, err = l.Fund(ctx, address, 100)
	require.NoError(t, err)

	obs := reactive.New[ticket.Snapshot](1)
	sub := obs.Subscribe()
	defer sub.Cancel()
	listener := New(Config{IntervalMs: 5}, l, obs, nil, logging.New(nil, nil, io.Discard))

	done := make(chan struct{})
	go func() {
		listener.Run(ctx)
		close(done)
	}()

	select {
	case s := <-sub.Channel():
		assert.Equal(t, address, s.Addresses[0].Address)
	case <-time.After(time.Second):
		t.Fatal("snapshot not published")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
}
