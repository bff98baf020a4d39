package moderation

import (
	"context"
	"fmt"
	"testing"

	"github.com/BaSui01/roundtable/agent/conversation"
	"github.com/BaSui01/roundtable/llm"
	"github.com/BaSui01/roundtable/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type moderatorFixture struct {
	store     *conversation.Store
	manager   *conversation.ContextManager
	moderator *Moderator
	conv      types.Conversation
}

func newModeratorFixture(t *testing.T, cfg ModeratorConfig, limits types.Limits, judge llm.Agent) *moderatorFixture {
	t.Helper()
	store := conversation.NewStore(zap.NewNop())
	manager := conversation.NewContextManager(store, zap.NewNop())
	ctx := context.Background()

	conv, err := store.Create(ctx, conversation.CreateParams{ChannelRef: "chan-" + t.Name(), Topic: "caching", Agents: []string{"a"}, Limits: limits})
	require.NoError(t, err)
	planner := NewPlanner(DefaultPlannerConfig(), manager, nil, testExecutor(), zap.NewNop())
	_, err = planner.EditPlanningMessage(ctx, conv.ID, "discuss caching")
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, conv.ID, func(tx *conversation.Txn) error {
		tx.Planning.Parameters = limits
		return nil
	}))
	conv, err = planner.ApproveAndStart(ctx, conv.ID)
	require.NoError(t, err)

	return &moderatorFixture{
		store:     store,
		manager:   manager,
		moderator: NewModerator(cfg, manager, judge, testExecutor(), nil, zap.NewNop()),
		conv:      conv,
	}
}

func (f *moderatorFixture) say(t *testing.T, author, text string) (*Decision, types.Message) {
	t.Helper()
	msg, err := f.manager.Append(context.Background(), f.conv.ID, types.NewHumanMessage(f.conv.ID, author, text))
	require.NoError(t, err)
	d, err := f.moderator.Observe(context.Background(), f.conv.ID, msg)
	require.NoError(t, err)
	return d, msg
}

const drifting = `{"on_topic": false, "drift_score": 0.9, "suggestion": "Talk about eviction."}`
const onTopic = `{"on_topic": true, "drift_score": 0.1}`

func TestModerator_TalliesParticipants(t *testing.T) {
	f := newModeratorFixture(t, DefaultModeratorConfig(), types.Limits{MaxMessages: 100}, nil)
	f.say(t, "alice", "hi")
	f.say(t, "alice", "again")
	d, _ := f.say(t, "bob", "hello")

	got, err := f.store.Get(f.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"alice": 2, "bob": 1}, got.Moderation.ParticipantTally)
	assert.Greater(t, d.QualityScore, 0.0)
	assert.Nil(t, d.Drift)
}

func TestModerator_DriftStrikesRedirectThenWarnThenReset(t *testing.T) {
	judge := llm.NewScriptedAgent("judge",
		llm.WithReplies(drifting, drifting, drifting, drifting, onTopic, "garbage"),
	)
	cfg := DefaultModeratorConfig()
	cfg.CheckInterval = 1
	f := newModeratorFixture(t, cfg, types.Limits{MaxMessages: 100}, judge)

	for i := 1; i <= 3; i++ {
		d, _ := f.say(t, "alice", fmt.Sprintf("off topic %d", i))
		require.NotNil(t, d.Drift)
		assert.Equal(t, i, d.Strikes)
		require.Len(t, d.Messages, 1)
		assert.Contains(t, d.Messages[0].Content, "Let's bring the discussion back to")
		assert.Contains(t, d.Messages[0].Content, "Talk about eviction.")
		assert.Equal(t, ModeratorAuthor, d.Messages[0].AuthorID)
		assert.False(t, d.Stopped)
	}

	d, _ := f.say(t, "alice", "still off topic")
	assert.Equal(t, 4, d.Strikes)
	require.Len(t, d.Messages, 1)
	assert.Contains(t, d.Messages[0].Content, "drifted off topic 4 times")
	assert.False(t, d.Stopped, "drift alone never terminates")

	d, _ = f.say(t, "alice", "back to caching")
	assert.Zero(t, d.Strikes)
	assert.Empty(t, d.Messages)

	d, _ = f.say(t, "alice", "unparseable verdict")
	require.NotNil(t, d.Drift)
	assert.True(t, d.Drift.Fallback)
	assert.Zero(t, d.Strikes)

	got, _ := f.store.Get(f.conv.ID)
	assert.Equal(t, types.StatusActive, got.Status)
	assert.Zero(t, got.Moderation.TopicDriftCount)
}

func TestModerator_CheckIntervalGatesDriftDetection(t *testing.T) {
	judge := llm.NewScriptedAgent("judge", llm.WithReplies(onTopic))
	cfg := DefaultModeratorConfig()
	cfg.CheckInterval = 3
	f := newModeratorFixture(t, cfg, types.Limits{MaxMessages: 100}, judge)

	for i := 0; i < 6; i++ {
		f.say(t, "alice", "msg")
	}
	assert.Equal(t, 2, judge.Calls())
}

func TestModerator_CheckFiresWhenCountSkipsPastInterval(t *testing.T) {
	judge := llm.NewScriptedAgent("judge", llm.WithReplies(onTopic))
	cfg := DefaultModeratorConfig()
	cfg.CheckInterval = 4
	f := newModeratorFixture(t, cfg, types.Limits{MaxMessages: 100}, judge)
	ctx := context.Background()

	// 一轮内先追加多条消息，再逐条观察
	var batch []types.Message
	for i := 0; i < 6; i++ {
		msg, err := f.manager.Append(ctx, f.conv.ID, types.Message{AuthorID: "agent-x", AuthorKind: types.AuthorAgent, AgentID: "a", Content: "reply"})
		require.NoError(t, err)
		batch = append(batch, msg)
	}
	for _, msg := range batch {
		_, err := f.moderator.Observe(ctx, f.conv.ID, msg)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, judge.Calls(), "the whole batch shares one check")

	got, err := f.store.Get(f.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, (got.TotalMessages()/4+1)*4, got.Moderation.NextCheckAt)
}

func TestModerator_MessageLimitStops(t *testing.T) {
	f := newModeratorFixture(t, DefaultModeratorConfig(), types.Limits{MaxMessages: 3}, nil)

	f.say(t, "alice", "one")
	d, _ := f.say(t, "bob", "two")
	assert.False(t, d.Stopped)

	d, _ = f.say(t, "alice", "three")
	assert.True(t, d.Stopped)
	assert.Contains(t, d.StopReason, "message limit reached")
	require.Len(t, d.Messages, 1)
	assert.Contains(t, d.Messages[0].Content, "This discussion is now closed")

	got, _ := f.store.Get(f.conv.ID)
	assert.Equal(t, types.StatusStopped, got.Status)

	// 终止后的消息不再被主持
	d, _ = f.say(t, "alice", "anyone?")
	assert.False(t, d.Stopped)
	assert.Empty(t, d.Messages)
}

func TestModerator_UnknownConversation(t *testing.T) {
	f := newModeratorFixture(t, DefaultModeratorConfig(), types.Limits{}, nil)
	_, err := f.moderator.Observe(context.Background(), "missing", types.Message{})
	assert.ErrorIs(t, err, conversation.ErrNotFound)
}
