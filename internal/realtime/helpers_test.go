package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tyrowin/chatrelay/internal/logger"
	"github.com/Tyrowin/chatrelay/internal/mocks"
)

// recorder is a Deliverer that keeps every frame per connection.
type recorder struct {
	mu     sync.Mutex
	frames map[string][]Envelope
	refuse map[string]bool
}

func newRecorder() *recorder {
	return &recorder{frames: make(map[string][]Envelope), refuse: make(map[string]bool)}
}

func (r *recorder) Deliver(connID string, frame []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refuse[connID] {
		return false
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		panic(err)
	}
	r.frames[connID] = append(r.frames[connID], env)
	return true
}

func (r *recorder) received(connID string) []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Envelope(nil), r.frames[connID]...)
}

func (r *recorder) events(connID string) []string {
	var names []string
	for _, env := range r.received(connID) {
		names = append(names, env.Event)
	}
	return names
}

func decodeData[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine *Engine
	store  *mocks.MockStore
	writer *Writer
	out    *recorder
	clock  *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	log := logger.Discard()
	writer := NewWriter(log, 64, time.Second)
	out := newRecorder()
	clk := newClock()

	f := &fixture{
		engine: NewEngine(Options{Deliverer: out, Store: st, Writer: writer, Log: log, Now: clk.Now}),
		store:  st,
		writer: writer,
		out:    out,
		clock:  clk,
	}
	t.Cleanup(func() { _ = writer.Close(context.Background()) })
	return f
}

// flush waits for every queued persistence write.
func (f *fixture) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.writer.Close(ctx))
}

// connect registers a connection and expects its online write when it is
// the first one for the user.
func (f *fixture) connect(t *testing.T, userID, connID string) {
	t.Helper()
	if !f.engine.Registry().IsOnline(userID) {
		f.store.EXPECT().SetOnline(gomock.Any(), userID).Return(nil)
	}
	_, _, err := f.engine.Connect(userID, connID)
	require.NoError(t, err)
}

func (f *fixture) join(t *testing.T, connID, chatID string) {
	t.Helper()
	require.NoError(t, f.engine.Handle(Inbound{ConnID: connID, Event: EventJoinChat, ChatID: chatID, Participant: true}))
}

func (f *fixture) send(t *testing.T, connID, event string, data any) error {
	t.Helper()
	frame, err := Encode(event, data)
	require.NoError(t, err)
	in, err := Decode(connID, frame)
	if err != nil {
		return err
	}
	return f.engine.Handle(in)
}
