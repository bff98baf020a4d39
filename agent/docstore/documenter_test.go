package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/roundtable/agent/conversation"
	"github.com/BaSui01/roundtable/internal/ratelimit"
	"github.com/BaSui01/roundtable/llm"
	"github.com/BaSui01/roundtable/llm/resilience"
	"github.com/BaSui01/roundtable/llm/retry"
	"github.com/BaSui01/roundtable/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func noSleep(context.Context, time.Duration) error { return nil }

func testExecutor() *resilience.Executor {
	return resilience.NewExecutor(nil, &retry.RetryPolicy{MaxRetries: 1, Sleep: noSleep}, zap.NewNop())
}

type docFixture struct {
	store   *conversation.Store
	manager *conversation.ContextManager
	docs    *MemoryStore
	conv    types.Conversation
}

func newDocFixture(t *testing.T, keep int) *docFixture {
	t.Helper()
	store := conversation.NewStore(zap.NewNop())
	docs := NewMemoryStore()
	conv, err := store.Create(context.Background(), conversation.CreateParams{ChannelRef: "general", Topic: "caching", Agents: []string{"claude"}})
	require.NoError(t, err)
	return &docFixture{store: store, docs: docs, conv: conv, manager: conversation.NewContextManager(store, zap.NewNop(), conversation.WithKeepRecent(keep))}
}

func (f *docFixture) say(t *testing.T, text string) {
	t.Helper()
	_, err := f.manager.Append(context.Background(), f.conv.ID, types.NewHumanMessage(f.conv.ID, "alice", text))
	require.NoError(t, err)
}

func TestDocumenter_FlushesOnlyNewMessages(t *testing.T) {
	f := newDocFixture(t, 10)
	limiter := ratelimit.NewRegistry(ratelimit.Rule{}, map[string]ratelimit.Rule{DocsLimiterKey: {RPS: 1000, Burst: 10}}, zap.NewNop())
	d := NewDocumenter(f.docs, f.store, zap.NewNop(), WithRateLimiter(limiter), WithExecutor(testExecutor()))
	ctx := context.Background()

	require.NoError(t, d.Flush(ctx, f.conv.ID))
	assert.Empty(t, f.docs.Details(f.conv.ID), "nothing to document yet")

	f.say(t, "LRU or LFU?")
	f.say(t, "depends on the workload")
	require.NoError(t, d.Flush(ctx, f.conv.ID))
	details := f.docs.Details(f.conv.ID)
	require.Len(t, details, 1)
	assert.Contains(t, details[0], "## caching")
	assert.Contains(t, details[0], "alice: LRU or LFU?")
	assert.Contains(t, details[0], "alice: depends on the workload")

	require.NoError(t, d.Flush(ctx, f.conv.ID))
	assert.Len(t, f.docs.Details(f.conv.ID), 1)

	f.say(t, "what about TTLs?")
	require.NoError(t, d.Flush(ctx, f.conv.ID))
	details = f.docs.Details(f.conv.ID)
	require.Len(t, details, 2)
	assert.NotContains(t, details[1], "LRU or LFU?")
	assert.Contains(t, details[1], "what about TTLs?")

	summary, err := d.FetchCompressedContext(ctx, f.conv.ID)
	require.NoError(t, err)
	assert.Contains(t, summary, "alice: LRU or LFU?")
	assert.Contains(t, summary, "alice: what about TTLs?")
	assert.Equal(t, 1, limiter.Len())
}

func TestDocumenter_FeedsCompression(t *testing.T) {
	f := newDocFixture(t, 2)
	d := NewDocumenter(f.docs, f.store, zap.NewNop())
	manager := conversation.NewContextManager(f.store, zap.NewNop(), conversation.WithContextSource(d), conversation.WithKeepRecent(2))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		f.say(t, fmt.Sprintf("point %d", i))
	}
	require.NoError(t, d.Flush(ctx, f.conv.ID))

	ok, err := manager.Compress(ctx, f.conv.ID)
	require.NoError(t, err)
	require.True(t, ok)

	got, _ := f.store.Get(f.conv.ID)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, conversation.CompressedAuthor, got.Messages[0].AuthorID)
	assert.Contains(t, got.Messages[0].Content, "point 1")

	f.say(t, "point 6")
	require.NoError(t, d.Flush(ctx, f.conv.ID))
	details := f.docs.Details(f.conv.ID)
	require.Len(t, details, 2)
	assert.Contains(t, details[1], "point 6")
	assert.NotContains(t, details[1], "point 5")
	assert.NotContains(t, details[1], "[compressed context]")
}

func TestDocumenter_Summarizer(t *testing.T) {
	f := newDocFixture(t, 10)
	summarizer := llm.NewScriptedAgent("scribe", llm.WithReplies("  Alice asked about eviction.  "), llm.WithCost(0.05))
	d := NewDocumenter(f.docs, f.store, zap.NewNop(), WithSummarizer(summarizer), WithExecutor(testExecutor()))
	ctx := context.Background()

	f.say(t, "LRU or LFU?")
	require.NoError(t, d.Flush(ctx, f.conv.ID))

	summary, _ := f.docs.FetchCompressedContext(ctx, f.conv.ID)
	assert.Equal(t, "Alice asked about eviction.", summary)
	require.Len(t, summarizer.Prompts(), 1)
	assert.Contains(t, summarizer.Prompts()[0], "(none yet)")

	got, _ := f.store.Get(f.conv.ID)
	assert.InDelta(t, 0.05, got.Costs.TotalCost, 1e-9)
}

func TestDocumenter_SummarizerFailureFallsBackToDigest(t *testing.T) {
	f := newDocFixture(t, 10)
	summarizer := llm.NewScriptedAgent("scribe", llm.WithErrors(errors.New("overloaded"), errors.New("overloaded")))
	d := NewDocumenter(f.docs, f.store, zap.NewNop(), WithSummarizer(summarizer), WithExecutor(testExecutor()))

	f.say(t, "LRU or LFU?")
	require.NoError(t, d.Flush(context.Background(), f.conv.ID))
	summary, _ := f.docs.FetchCompressedContext(context.Background(), f.conv.ID)
	assert.Equal(t, "alice: LRU or LFU?", summary)
}

type failingStore struct{ *MemoryStore }

func (failingStore) AppendDetail(context.Context, string, string) error {
	return errors.New("unavailable")
}

func TestDocumenter_AppendFailureKeepsCursor(t *testing.T) {
	f := newDocFixture(t, 10)
	d := NewDocumenter(failingStore{f.docs}, f.store, zap.NewNop(), WithExecutor(testExecutor()))
	f.say(t, "hello")

	err := d.Flush(context.Background(), f.conv.ID)
	require.Error(t, err)

	ok := NewDocumenter(f.docs, f.store, zap.NewNop())
	ok.cursors = d.cursors
	require.NoError(t, ok.Flush(context.Background(), f.conv.ID))
	assert.Contains(t, f.docs.Transcript(f.conv.ID), "hello")
}

func TestDocumenter_UnknownConversation(t *testing.T) {
	f := newDocFixture(t, 10)
	d := NewDocumenter(f.docs, f.store, zap.NewNop())
	assert.ErrorIs(t, d.Flush(context.Background(), "missing"), conversation.ErrNotFound)
}

func TestDigest(t *testing.T) {
	msgs := []types.Message{
		{AuthorID: "alice", Content: "multi\nline   text"},
		{AuthorID: "bot", AgentID: "claude", Content: strings.Repeat("x", 300)},
	}
	out := Digest("earlier", msgs, 0)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "earlier", lines[0])
	assert.Equal(t, "alice: multi line text", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "claude: "))
	assert.True(t, strings.HasSuffix(lines[2], "…"))

	capped := Digest(strings.Repeat("old line\n", 100), msgs[:1], 60)
	assert.LessOrEqual(t, len(capped), 60)
	assert.True(t, strings.HasSuffix(capped, "alice: multi line text"))
}
