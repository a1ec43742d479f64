package service

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"zefa-sync/internal/model"
	"zefa-sync/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, store storage.BlobStore, chat ChatService) *ChatSessionManager {
	t.Helper()
	m := NewChatSessionManager(store, chat,
		WithClock(stepClock()),
		WithIDGenerator(seqIDs("msg")),
	)
	m.Hydrate()
	return m
}

func groceriesReply() *model.ChatReply {
	return &model.ChatReply{
		MessageID:      "remote-1",
		ResponseText:   "Feito.",
		ConversationID: "conv-7",
		UIEvents: []model.UIEventMeta{{
			Type:        "success_card",
			Title:       "Registrado",
			Transaction: &model.Transaction{ID: "tx-1", Amount: 100, Type: model.TransactionExpense, Category: "Groceries"},
		}},
	}
}

func TestSendSuccessAppendsCardsThenText(t *testing.T) {
	chat := &fakeChat{replies: []*model.ChatReply{groceriesReply()}}
	m := newTestManager(t, storage.NewMemoryStorage(), chat)

	require.True(t, m.Send(context.Background(), "  gastei 100 no mercado "))

	snap := m.Snapshot()
	require.Len(t, snap.Messages, 4)
	assert.Equal(t, model.WelcomeMessageID, snap.Messages[0].ID)

	user := snap.Messages[1]
	assert.Equal(t, model.RoleUser, user.Role)
	assert.Equal(t, "gastei 100 no mercado", user.Content)
	assert.Equal(t, model.StatusSent, user.Status)

	card := snap.Messages[2]
	assert.Equal(t, model.KindUIEvent, card.Kind())
	ev := card.Meta.(model.UIEventMeta)
	assert.Equal(t, "Groceries", ev.Transaction.Category)

	text := snap.Messages[3]
	assert.Equal(t, model.KindText, text.Kind())
	assert.Equal(t, "Feito.", text.Content)
	assert.Equal(t, "remote-1", text.ID)

	require.NotNil(t, snap.ConversationID)
	assert.Equal(t, "conv-7", *snap.ConversationID)
	assert.False(t, snap.Typing)

	require.Equal(t, 1, chat.callCount())
	assert.Equal(t, "gastei 100 no mercado", chat.calls[0].text)
	assert.Nil(t, chat.calls[0].conversationID)
}

func TestSendPlainReply(t *testing.T) {
	chat := &fakeChat{replies: []*model.ChatReply{{ResponseText: "Oi!"}}}
	m := newTestManager(t, storage.NewMemoryStorage(), chat)

	require.True(t, m.Send(context.Background(), "Olá"))

	snap := m.Snapshot()
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, model.WelcomeMessageID, snap.Messages[0].ID)
	assert.Equal(t, model.RoleUser, snap.Messages[1].Role)
	assert.Equal(t, "Olá", snap.Messages[1].Content)
	assert.Equal(t, model.StatusSent, snap.Messages[1].Status)
	assert.Equal(t, model.RoleAssistant, snap.Messages[2].Role)
	assert.Equal(t, "Oi!", snap.Messages[2].Content)
	assert.Equal(t, model.KindText, snap.Messages[2].Kind())
	assert.Nil(t, snap.ConversationID)
}

func TestSendReusesConversationID(t *testing.T) {
	second := &model.ChatReply{MessageID: "remote-2", ResponseText: "Ok", ConversationID: "conv-7"}
	chat := &fakeChat{replies: []*model.ChatReply{groceriesReply(), second}}
	m := newTestManager(t, storage.NewMemoryStorage(), chat)

	require.True(t, m.Send(context.Background(), "um"))
	require.True(t, m.Send(context.Background(), "dois"))

	require.Equal(t, 2, chat.callCount())
	require.NotNil(t, chat.calls[1].conversationID)
	assert.Equal(t, "conv-7", *chat.calls[1].conversationID)
}

func TestSendNetworkFailureMarksUserMessage(t *testing.T) {
	chat := &fakeChat{errs: []error{&net.OpError{Op: "dial", Net: "tcp", Err: assert.AnError}}}
	m := newTestManager(t, storage.NewMemoryStorage(), chat)

	require.True(t, m.Send(context.Background(), "X"))

	snap := m.Snapshot()
	require.Len(t, snap.Messages, 2)
	user := snap.Messages[1]
	assert.Equal(t, "X", user.Content)
	assert.Equal(t, model.StatusError, user.Status)
	assert.Equal(t, model.ErrNetwork, user.ErrorCode)
	assert.Equal(t, ChatErrorMessage(model.ErrNetwork), user.ErrorMessage)
	assert.False(t, snap.Typing)
}

func TestSendIgnoresBlankText(t *testing.T) {
	chat := &fakeChat{}
	m := newTestManager(t, storage.NewMemoryStorage(), chat)

	for _, text := range []string{"", "   ", "\n\t"} {
		assert.False(t, m.Send(context.Background(), text))
	}
	assert.Len(t, m.Snapshot().Messages, 1)
	assert.Zero(t, chat.callCount())
}

func TestSendWhileInFlightIsRejected(t *testing.T) {
	gate := make(chan struct{})
	chat := &fakeChat{gate: gate, replies: []*model.ChatReply{groceriesReply()}}
	m := newTestManager(t, storage.NewMemoryStorage(), chat)

	done := make(chan bool)
	go func() { done <- m.Send(context.Background(), "primeira") }()
	require.Eventually(t, m.Typing, time.Second, 5*time.Millisecond)

	assert.False(t, m.Send(context.Background(), "segunda"))
	snap := m.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, model.StatusSending, snap.Messages[1].Status)
	assert.True(t, snap.Typing)

	close(gate)
	assert.True(t, <-done)
	assert.Equal(t, 1, chat.callCount())
	assert.False(t, m.Typing())
}

func TestRetryResendsFailedMessage(t *testing.T) {
	chat := &fakeChat{
		errs:    []error{errUpstream, nil},
		replies: []*model.ChatReply{nil, {MessageID: "remote-9", ResponseText: "Registrado."}},
	}
	m := newTestManager(t, storage.NewMemoryStorage(), chat)

	require.True(t, m.Send(context.Background(), "gastei 20"))
	failed := m.Snapshot().Messages[1]
	require.Equal(t, model.StatusError, failed.Status)
	assert.Equal(t, model.ErrServer, failed.ErrorCode)

	require.True(t, m.Retry(context.Background(), failed.ID))

	snap := m.Snapshot()
	var users []model.ChatMessage
	for _, msg := range snap.Messages {
		if msg.Role == model.RoleUser {
			users = append(users, msg)
		}
	}
	require.Len(t, users, 1)
	assert.Equal(t, "gastei 20", users[0].Content)
	assert.Equal(t, model.StatusSent, users[0].Status)
	assert.NotEqual(t, failed.ID, users[0].ID)
	assert.Equal(t, "Registrado.", snap.Messages[len(snap.Messages)-1].Content)
	assert.Equal(t, 2, chat.callCount())
}

func TestRetryIsNoOpForNonFailedMessages(t *testing.T) {
	chat := &fakeChat{replies: []*model.ChatReply{groceriesReply()}}
	m := newTestManager(t, storage.NewMemoryStorage(), chat)
	require.True(t, m.Send(context.Background(), "gastei 100"))

	before := m.Snapshot()
	for _, id := range []string{model.WelcomeMessageID, before.Messages[1].ID, before.Messages[3].ID, "missing"} {
		assert.False(t, m.Retry(context.Background(), id), id)
	}
	assert.Equal(t, before, m.Snapshot())
	assert.Equal(t, 1, chat.callCount())
}

func TestRetryWhileInFlightKeepsFailedMessage(t *testing.T) {
	gate := make(chan struct{})
	chat := &fakeChat{errs: []error{errUpstream}}
	m := newTestManager(t, storage.NewMemoryStorage(), chat)
	require.True(t, m.Send(context.Background(), "falhou"))
	failedID := m.Snapshot().Messages[1].ID

	chat.mu.Lock()
	chat.gate = gate
	chat.replies = []*model.ChatReply{{ResponseText: "ok"}}
	chat.mu.Unlock()

	done := make(chan bool)
	go func() { done <- m.Send(context.Background(), "outra") }()
	require.Eventually(t, m.Typing, time.Second, 5*time.Millisecond)

	assert.False(t, m.Retry(context.Background(), failedID))
	close(gate)
	<-done

	snap := m.Snapshot()
	assert.Equal(t, failedID, snap.Messages[1].ID)
	assert.Equal(t, model.StatusError, snap.Messages[1].Status)
}

func TestLegacyReplyBecomesConfirmation(t *testing.T) {
	chat := &fakeChat{replies: []*model.ChatReply{{
		MessageID:          "remote-1",
		ResponseText:       "Anotado",
		TransactionCreated: true,
		Data:               &model.Transaction{ID: "tx-3", Amount: 35, Category: "Transport"},
	}}}
	m := newTestManager(t, storage.NewMemoryStorage(), chat)
	require.True(t, m.Send(context.Background(), "uber 35"))

	snap := m.Snapshot()
	require.Len(t, snap.Messages, 4)
	assert.Equal(t, model.KindTransactionConfirmation, snap.Messages[2].Kind())
	assert.Equal(t, "Anotado", snap.Messages[3].Content)
}

func TestEventOnlyReplySkipsEmptyText(t *testing.T) {
	reply := groceriesReply()
	reply.ResponseText = ""
	chat := &fakeChat{replies: []*model.ChatReply{reply}}
	m := newTestManager(t, storage.NewMemoryStorage(), chat)
	require.True(t, m.Send(context.Background(), "mercado"))

	snap := m.Snapshot()
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, model.KindUIEvent, snap.Messages[2].Kind())
}

func TestSessionSurvivesRestart(t *testing.T) {
	store := storage.NewMemoryStorage()
	chat := &fakeChat{
		replies: []*model.ChatReply{groceriesReply(), nil},
		errs:    []error{nil, errUpstream},
	}
	first := newTestManager(t, store, chat)
	require.True(t, first.Send(context.Background(), "gastei 100"))
	require.True(t, first.Send(context.Background(), "falha"))
	want := first.Snapshot()

	second := newTestManager(t, store, &fakeChat{})
	got := second.Snapshot()

	require.NotNil(t, got.ConversationID)
	assert.Equal(t, *want.ConversationID, *got.ConversationID)
	require.Len(t, got.Messages, len(want.Messages))
	for i := range want.Messages {
		assert.Equal(t, want.Messages[i].ID, got.Messages[i].ID)
		assert.Equal(t, want.Messages[i].Kind(), got.Messages[i].Kind())
		assert.Equal(t, want.Messages[i].Status, got.Messages[i].Status)
		assert.Equal(t, want.Messages[i].ErrorCode, got.Messages[i].ErrorCode)
		assert.True(t, want.Messages[i].Timestamp.Equal(got.Messages[i].Timestamp))
	}
}

func TestClearResetsAndErasesStorage(t *testing.T) {
	store := storage.NewMemoryStorage()
	chat := &fakeChat{replies: []*model.ChatReply{groceriesReply()}}
	m := newTestManager(t, store, chat)
	require.True(t, m.Send(context.Background(), "gastei 100"))

	_, found, err := store.Get(ChatSessionKey)
	require.NoError(t, err)
	require.True(t, found)

	m.Clear()

	snap := m.Snapshot()
	assert.Nil(t, snap.ConversationID)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, model.WelcomeMessageID, snap.Messages[0].ID)

	_, found, err = store.Get(ChatSessionKey)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClearDuringSendDropsLateReply(t *testing.T) {
	gate := make(chan struct{})
	chat := &fakeChat{gate: gate, replies: []*model.ChatReply{groceriesReply()}}
	m := newTestManager(t, storage.NewMemoryStorage(), chat)

	done := make(chan bool)
	go func() { done <- m.Send(context.Background(), "gastei 100") }()
	require.Eventually(t, m.Typing, time.Second, 5*time.Millisecond)

	m.Clear()
	close(gate)
	<-done

	snap := m.Snapshot()
	assert.Nil(t, snap.ConversationID)
	require.Len(t, snap.Messages, 1)
	assert.False(t, snap.Typing)
}

func TestMutationsBeforeHydrateDoNotOverwriteStore(t *testing.T) {
	store := storage.NewMemoryStorage()
	seed := newTestManager(t, store, &fakeChat{replies: []*model.ChatReply{groceriesReply()}})
	require.True(t, seed.Send(context.Background(), "gastei 100"))
	stored, _, err := store.Get(ChatSessionKey)
	require.NoError(t, err)

	m := NewChatSessionManager(store, &fakeChat{errs: []error{errUpstream}})
	require.True(t, m.Send(context.Background(), "antes"))

	after, _, err := store.Get(ChatSessionKey)
	require.NoError(t, err)
	assert.Equal(t, stored, after)
}

func TestHydrateNormalizesStoredSession(t *testing.T) {
	store := storage.NewMemoryStorage()
	raw := `{"conversation_id":"conv-1","messages":[
		{"id":"welcome","role":"assistant","content":"Olá","timestamp":"2025-03-01T12:00:00Z","kind":"text"},
		{"id":"welcome","role":"assistant","content":"Olá","timestamp":"2025-03-01T12:00:00Z","kind":"text"},
		{"id":"u1","role":"user","content":"gastei","timestamp":"2025-03-01T12:00:01Z","status":"sending","kind":"text"}
	]}`
	require.NoError(t, store.Set(ChatSessionKey, raw))

	m := newTestManager(t, store, &fakeChat{})
	snap := m.Snapshot()

	require.Len(t, snap.Messages, 2)
	assert.Equal(t, model.WelcomeMessageID, snap.Messages[0].ID)
	assert.Equal(t, model.StatusError, snap.Messages[1].Status)
	assert.Equal(t, model.ErrUnknown, snap.Messages[1].ErrorCode)
}

func TestHydrateCorruptSessionFallsBackToWelcome(t *testing.T) {
	store := storage.NewMemoryStorage()
	require.NoError(t, store.Set(ChatSessionKey, "{not json"))

	m := newTestManager(t, store, &fakeChat{})
	snap := m.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, model.WelcomeMessageID, snap.Messages[0].ID)
	assert.Nil(t, snap.ConversationID)
}

func TestSubscribeReceivesTypingTransitions(t *testing.T) {
	chat := &fakeChat{replies: []*model.ChatReply{groceriesReply()}}
	m := newTestManager(t, storage.NewMemoryStorage(), chat)

	updates, cancel := m.Subscribe()
	defer cancel()

	require.True(t, m.Send(context.Background(), "gastei 100"))

	first := <-updates
	assert.True(t, first.Typing)
	assert.Len(t, first.Messages, 2)

	last := <-updates
	assert.False(t, last.Typing)
	assert.Len(t, last.Messages, 4)

	cancel()
	_, open := <-updates
	assert.False(t, open)
}

func TestTransactionChangedHook(t *testing.T) {
	cases := []struct {
		name  string
		reply *model.ChatReply
		err   error
		want  int32
	}{
		{name: "created card", reply: groceriesReply(), want: 1},
		{name: "legacy created", reply: &model.ChatReply{ResponseText: "ok", TransactionCreated: true, Data: &model.Transaction{ID: "tx-4"}}, want: 1},
		{
			name: "deletion card",
			reply: &model.ChatReply{UIEvents: []model.UIEventMeta{{
				Type: "info_card", Title: "Removido", Deletion: &model.Deletion{TransactionID: "tx-1", Amount: 42, Category: "Food"},
			}}},
			want: 1,
		},
		{name: "plain text", reply: &model.ChatReply{ResponseText: "Oi!"}, want: 0},
		{name: "failed send", err: errUpstream, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			chat := &fakeChat{}
			if tc.err != nil {
				chat.errs = []error{tc.err}
			} else {
				chat.replies = []*model.ChatReply{tc.reply}
			}
			m := NewChatSessionManager(storage.NewMemoryStorage(), chat,
				WithTransactionChanged(func() { calls.Add(1) }))
			m.Hydrate()

			require.True(t, m.Send(context.Background(), "gastei"))
			assert.Equal(t, tc.want, calls.Load())
		})
	}
}

func TestTransactionChangedHookFiresForClearedReply(t *testing.T) {
	var calls atomic.Int32
	gate := make(chan struct{})
	chat := &fakeChat{gate: gate, replies: []*model.ChatReply{groceriesReply()}}
	m := NewChatSessionManager(storage.NewMemoryStorage(), chat,
		WithTransactionChanged(func() {
			calls.Add(1)
		}))
	m.Hydrate()

	done := make(chan bool)
	go func() { done <- m.Send(context.Background(), "gastei 100") }()
	require.Eventually(t, m.Typing, time.Second, 5*time.Millisecond)

	m.Clear()
	close(gate)
	<-done

	assert.Len(t, m.Snapshot().Messages, 1)
	assert.Equal(t, int32(1), calls.Load())
}
