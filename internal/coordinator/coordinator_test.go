package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/MikeSquared-Agency/quill/internal/feedback"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitTimeout = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type reply struct {
	text string
	err  error
}

type call struct {
	user  string
	reply chan reply
}

// blockingGen hands every call to the test and waits for its answer.
type blockingGen struct {
	calls chan call
}

func newBlockingGen() *blockingGen {
	return &blockingGen{calls: make(chan call)}
}

func (g *blockingGen) Generate(ctx context.Context, _, user string) (string, error) {
	c := call{user: user, reply: make(chan reply, 1)}
	select {
	case g.calls <- c:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-c.reply:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *blockingGen) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-g.calls:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for generation call")
		return call{}
	}
}

func (g *blockingGen) assertNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-g.calls:
		t.Fatalf("unexpected generation call: %q", c.user)
	case <-time.After(50 * time.Millisecond):
	}
}

type memSink struct {
	mu   sync.Mutex
	recs []feedback.Record
	err  error
}

func (s *memSink) Append(_ context.Context, rec feedback.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memSink) records() []feedback.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]feedback.Record(nil), s.recs...)
}

func start(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	c := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-exited
	})
	return c
}

// waitFor drains events until one of the given kind arrives.
func waitFor(t *testing.T, c *Coordinator, kind EventKind) Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-c.Events():
			require.True(t, ok, "event stream closed while waiting for %s", kind)
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func status(t *testing.T, c *Coordinator) Status {
	t.Helper()
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	return st
}

func TestSubmit_CoalescesWhileGenerating(t *testing.T) {
	gen := newBlockingGen()
	c := start(t, Options{Generator: gen, ContextMemory: true, WindowSize: 6})
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "m1"))
	first := gen.next(t)
	assert.Contains(t, first.user, "当前最新消息：\nm1")

	require.NoError(t, c.Submit(ctx, "m2"))
	require.NoError(t, c.Submit(ctx, "m3"))

	st := status(t, c)
	assert.Equal(t, Generating, st.State)
	assert.True(t, st.Pending)
	assert.Equal(t, 3, st.ContextLen)

	first.reply <- reply{text: `["a","b","c"]`}
	ev := waitFor(t, c, EventSuggestions)
	assert.Equal(t, "m1", ev.Request.Message)
	assert.Equal(t, []string{"m1"}, ev.Request.Context)
	assert.Equal(t, []string{"a", "b", "c"}, ev.Candidates)

	second := gen.next(t)
	assert.Contains(t, second.user, "1. m1\n2. m2\n3. m3")
	assert.Contains(t, second.user, "当前最新消息：\nm3")
	assert.NotContains(t, second.user, "当前最新消息：\nm2")

	second.reply <- reply{text: `["d"]`}
	ev = waitFor(t, c, EventSuggestions)
	assert.Equal(t, "m3", ev.Request.Message)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ev.Request.Context)

	gen.assertNoCall(t)
	st = status(t, c)
	assert.Equal(t, Idle, st.State)
	assert.False(t, st.Pending)
	assert.Equal(t, []string{"d"}, st.Candidates)
	assert.Equal(t, "已生成（上下文 3 条）", st.Text)
}

func TestSubmit_PendingIsLatestWins(t *testing.T) {
	gen := newBlockingGen()
	c := start(t, Options{Generator: gen})
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "m1"))
	first := gen.next(t)
	for _, m := range []string{"m2", "m3", "m4"} {
		require.NoError(t, c.Submit(ctx, m))
	}
	waitFor(t, c, EventPending)

	first.reply <- reply{text: "ok"}
	second := gen.next(t)
	assert.Contains(t, second.user, "对方消息：\nm4")
	second.reply <- reply{text: "ok"}
	waitFor(t, c, EventSuggestions)
	gen.assertNoCall(t)
}

func TestGenerationFailure_DoesNotPoison(t *testing.T) {
	gen := newBlockingGen()
	c := start(t, Options{Generator: gen})
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "m1"))
	gen.next(t).reply <- reply{err: errors.New("connection refused")}

	ev := waitFor(t, c, EventFailed)
	assert.Equal(t, "connection refused", ev.Error)
	assert.Equal(t, "生成失败：connection refused", ev.Status)

	st := status(t, c)
	assert.Equal(t, Idle, st.State)
	assert.Empty(t, st.Candidates)

	_, err := c.Select(ctx, 0)
	assert.ErrorIs(t, err, ErrNoSuggestions)

	require.NoError(t, c.Submit(ctx, "m2"))
	next := gen.next(t)
	assert.Contains(t, next.user, "m2")
	next.reply <- reply{text: `["ok"]`}
	waitFor(t, c, EventSuggestions)
}

func TestGenerationFailure_ConsumesPending(t *testing.T) {
	gen := newBlockingGen()
	c := start(t, Options{Generator: gen})
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "m1"))
	first := gen.next(t)
	require.NoError(t, c.Submit(ctx, "m2"))
	waitFor(t, c, EventPending)

	first.reply <- reply{err: errors.New("boom")}
	waitFor(t, c, EventFailed)

	second := gen.next(t)
	assert.Contains(t, second.user, "m2")
	second.reply <- reply{text: "fine"}
	waitFor(t, c, EventSuggestions)
}

func TestSubmit_Unavailable(t *testing.T) {
	c := start(t, Options{ContextMemory: true, WindowSize: 6})

	require.NoError(t, c.Submit(context.Background(), "m1"))
	ev := waitFor(t, c, EventUnavailable)
	assert.NotEmpty(t, ev.Error)

	st := status(t, c)
	assert.Equal(t, Idle, st.State)
	assert.False(t, st.Pending)
}

func TestSubmit_MemoryDisabled(t *testing.T) {
	gen := newBlockingGen()
	c := start(t, Options{Generator: gen, ContextMemory: false, WindowSize: 6})

	require.NoError(t, c.Submit(context.Background(), "hello"))
	got := gen.next(t)
	assert.True(t, strings.HasPrefix(got.user, "对方消息：\nhello"))
	assert.NotContains(t, got.user, "以下是最近")
	got.reply <- reply{text: "[]"}

	ev := waitFor(t, c, EventSuggestions)
	assert.Empty(t, ev.Candidates)
	assert.Equal(t, "暂无建议", ev.Status)
	assert.Equal(t, 0, status(t, c).ContextLen)
}

func TestSubmit_WindowEvictsOldest(t *testing.T) {
	gen := newBlockingGen()
	c := start(t, Options{Generator: gen, ContextMemory: true, WindowSize: 2})
	ctx := context.Background()

	for _, m := range []string{"m1", "m2"} {
		require.NoError(t, c.Submit(ctx, m))
		gen.next(t).reply <- reply{text: "ok"}
		waitFor(t, c, EventSuggestions)
	}

	require.NoError(t, c.Submit(ctx, "m3"))
	got := gen.next(t)
	assert.Contains(t, got.user, "1. m2\n2. m3")
	assert.NotContains(t, got.user, "m1")
	got.reply <- reply{text: "ok"}
	ev := waitFor(t, c, EventSuggestions)
	assert.Equal(t, []string{"m2", "m3"}, ev.Request.Context)
}

func TestClearContext(t *testing.T) {
	gen := newBlockingGen()
	c := start(t, Options{Generator: gen, ContextMemory: true, WindowSize: 6})
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "m1"))
	gen.next(t).reply <- reply{text: "ok"}
	waitFor(t, c, EventSuggestions)

	require.NoError(t, c.ClearContext(ctx))
	ev := waitFor(t, c, EventContextCleared)
	assert.Equal(t, "上下文已清空", ev.Status)
	assert.Equal(t, 0, status(t, c).ContextLen)

	require.NoError(t, c.Submit(ctx, "m2"))
	got := gen.next(t)
	assert.Contains(t, got.user, "1. m2\n")
	assert.NotContains(t, got.user, "m1")
	got.reply <- reply{text: "ok"}
	waitFor(t, c, EventSuggestions)
}

func TestSelect_WritesRecord(t *testing.T) {
	gen := newBlockingGen()
	sink := &memSink{}
	c := start(t, Options{Generator: gen, Sink: sink, Model: "qwen", ContextMemory: true, WindowSize: 6})
	ctx := context.Background()

	_, err := c.Select(ctx, 0)
	assert.ErrorIs(t, err, ErrNoSuggestions)

	require.NoError(t, c.Submit(ctx, "m1"))
	gen.next(t).reply <- reply{text: "ok"}
	waitFor(t, c, EventSuggestions)

	require.NoError(t, c.Submit(ctx, "m2"))
	gen.next(t).reply <- reply{text: `["a","b","c"]`}
	waitFor(t, c, EventSuggestions)

	rec, err := c.Select(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", rec.Chosen)
	assert.Equal(t, "m2", rec.SourceMessage)
	assert.Equal(t, []string{"m1", "m2"}, rec.ContextMessages)
	assert.Equal(t, []string{"a", "b", "c"}, rec.Candidates)
	assert.Equal(t, "qwen", rec.Model)

	ev := waitFor(t, c, EventFeedbackRecorded)
	assert.Equal(t, "b", ev.Chosen)
	require.Len(t, sink.records(), 1)

	_, err = c.Select(ctx, 3)
	assert.ErrorIs(t, err, ErrInvalidChoice)

	rec, err = c.SelectText(ctx, "typed by hand")
	require.NoError(t, err)
	assert.Equal(t, -1, rec.ChosenSlot())
	assert.Len(t, sink.records(), 2)
}

func TestSelect_SinkFailure(t *testing.T) {
	gen := newBlockingGen()
	sink := &memSink{err: errors.New("disk full")}
	c := start(t, Options{Generator: gen, Sink: sink})
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "m1"))
	gen.next(t).reply <- reply{text: `["a","b"]`}
	waitFor(t, c, EventSuggestions)

	_, err := c.Select(ctx, 0)
	require.Error(t, err)

	sel := waitFor(t, c, EventSelected)
	assert.Equal(t, "a", sel.Chosen)

	ev := waitFor(t, c, EventFeedbackFailed)
	assert.Equal(t, "disk full", ev.Error)
	assert.Equal(t, "记录偏好失败：disk full", ev.Status)

	st := status(t, c)
	assert.Equal(t, Idle, st.State)
	assert.Equal(t, []string{"a", "b"}, st.Candidates)
}

func TestCopyAll(t *testing.T) {
	gen := newBlockingGen()
	c := start(t, Options{Generator: gen})
	ctx := context.Background()

	_, err := c.CopyAll(ctx)
	assert.ErrorIs(t, err, ErrNoSuggestions)

	require.NoError(t, c.Submit(ctx, "m1"))
	gen.next(t).reply <- reply{text: `["a","b","c"]`}
	waitFor(t, c, EventSuggestions)

	text, err := c.CopyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc", text)

	ev := waitFor(t, c, EventCopyAll)
	assert.Equal(t, []string{"a", "b", "c"}, ev.Candidates)
	assert.Equal(t, "已复制全部", ev.Status)
}

type fakeStyle struct {
	mu          sync.Mutex
	instruction string
	refreshes   int
}

func (s *fakeStyle) Instruction() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instruction
}

func (s *fakeStyle) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	s.instruction = "句长：偏短句（平均6字）"
	return nil
}

func (s *fakeStyle) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

func TestStyle_RefreshedAfterChoiceAndUsedInPrompt(t *testing.T) {
	gen := newBlockingGen()
	style := &fakeStyle{}
	c := start(t, Options{Generator: gen, Sink: &memSink{}, Style: style})
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "m1"))
	first := gen.next(t)
	assert.Contains(t, first.user, "风格约束：自然口语")
	first.reply <- reply{text: `["a","b"]`}
	waitFor(t, c, EventSuggestions)

	_, err := c.Select(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, style.count())

	require.NoError(t, c.Submit(ctx, "m2"))
	second := gen.next(t)
	assert.Contains(t, second.user, "用户风格偏好（来自历史点赞反馈）：句长：偏短句（平均6字）")
	second.reply <- reply{text: "ok"}
	waitFor(t, c, EventSuggestions)
}

func TestStyle_NotRefreshedWhenWriteFails(t *testing.T) {
	gen := newBlockingGen()
	style := &fakeStyle{}
	c := start(t, Options{Generator: gen, Sink: &memSink{err: errors.New("disk full")}, Style: style})
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "m1"))
	gen.next(t).reply <- reply{text: `["a"]`}
	waitFor(t, c, EventSuggestions)

	_, err := c.Select(ctx, 0)
	require.Error(t, err)
	assert.Zero(t, style.count())
}

func TestNoteSelfMessage(t *testing.T) {
	c := start(t, Options{})
	require.NoError(t, c.NoteSelfMessage(context.Background()))
	ev := waitFor(t, c, EventSelfMessage)
	assert.Equal(t, "已忽略疑似自己消息", ev.Status)
}

func TestTimeout(t *testing.T) {
	slow := generatorFunc(func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	c := start(t, Options{Generator: slow, Timeout: 20 * time.Millisecond})

	require.NoError(t, c.Submit(context.Background(), "m1"))
	ev := waitFor(t, c, EventFailed)
	assert.Contains(t, ev.Error, "deadline exceeded")
	assert.Equal(t, Idle, status(t, c).State)
}

type generatorFunc func(ctx context.Context) (string, error)

func (f generatorFunc) Generate(ctx context.Context, _, _ string) (string, error) { return f(ctx) }

func TestRun_StopsAndRejectsCommands(t *testing.T) {
	gen := newBlockingGen()
	c := New(Options{Generator: gen, Logger: discardLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan error, 1)
	go func() { exited <- c.Run(ctx) }()

	require.NoError(t, c.Submit(context.Background(), "m1"))
	gen.next(t)

	cancel()
	select {
	case err := <-exited:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after cancel")
	}

	assert.ErrorIs(t, c.Submit(context.Background(), "m2"), ErrStopped)
	_, err := c.Status(context.Background())
	assert.ErrorIs(t, err, ErrStopped)

	for range c.Events() {
	}
}
