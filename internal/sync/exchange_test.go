package sync

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoko36/public-AI-APP/internal/api"
	"github.com/yoko36/public-AI-APP/internal/attach"
	cherrors "github.com/yoko36/public-AI-APP/internal/errors"
	"github.com/yoko36/public-AI-APP/internal/models"
	"github.com/yoko36/public-AI-APP/internal/store"
)

type fakeBackend struct {
	stream    func(ctx context.Context) (io.ReadCloser, error)
	messages  []models.Message
	listErr   error
	createErr error
	uploadErr map[string]error
	listCalls atomic.Int32

	lastReq api.ChatRequest
}

func (f *fakeBackend) StreamChat(ctx context.Context, in api.ChatRequest) (io.ReadCloser, error) {
	f.lastReq = in
	return f.stream(ctx)
}

func (f *fakeBackend) CreateMessage(ctx context.Context, in api.CreateMessageInput) (models.Message, error) {
	if f.createErr != nil {
		return models.Message{}, f.createErr
	}
	return models.Message{ID: "m1", ThreadID: in.ThreadID, Role: in.Role, Content: in.Content}, nil
}

func (f *fakeBackend) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	f.listCalls.Add(1)
	return f.messages, f.listErr
}

func (f *fakeBackend) UploadAttachment(ctx context.Context, name string, r io.Reader) (models.Attachment, error) {
	if err, ok := f.uploadErr[name]; ok {
		return models.Attachment{}, err
	}
	return models.Attachment{ID: "srv-" + name, Name: name}, nil
}

// streamOf returns a backend stream serving a fixed SSE body.
func streamOf(body string) func(ctx context.Context) (io.ReadCloser, error) {
	return func(ctx context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}
}

// blockingStream blocks every Read until the request context is canceled.
type blockingStream struct {
	ctx     context.Context
	prelude *strings.Reader
}

func (b *blockingStream) Read(p []byte) (int, error) {
	if b.prelude.Len() > 0 {
		return b.prelude.Read(p)
	}
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func (b *blockingStream) Close() error { return nil }

func seedExchange(t *testing.T) *store.Store {
	t.Helper()
	st := store.New(zerolog.Nop())
	st.Upsert(models.User{ID: "u1"})
	st.InsertProject(models.Project{ID: "p1", OwnerUserID: "u1", Name: "Notes"})
	st.InsertThread(models.Thread{ID: "t1", ProjectID: "p1", Name: "First"})
	return st
}

func serverTruth() []models.Message {
	return []models.Message{
		{ID: "m1", ThreadID: "t1", Role: models.RoleUser, Content: "hello"},
		{ID: "m2", ThreadID: "t1", Role: models.RoleAssistant, Content: "hi there"},
	}
}

func TestSendStreamsAndFinalizes(t *testing.T) {
	st := seedExchange(t)
	backend := &fakeBackend{
		stream: streamOf(
			"data: {\"type\":\"ready\",\"assistant_msg_id\":\"m2\"}\n\n" +
				"data: {\"type\":\"chunk\",\"delta\":\"hi \"}\n\n" +
				"data: {\"type\":\"chunk\",\"delta\":\"there\"}\n\n" +
				"data: {\"type\":\"end\"}\n\n",
		),
		messages: serverTruth(),
	}
	s := NewSender(st, backend, nil, nil, zerolog.Nop())

	var sawDraftGrow bool
	unsub := st.Subscribe(func(state store.State) {
		for _, m := range state.Messages {
			if strings.HasPrefix(m.ID, "draft-") && m.Content == "hi " {
				sawDraftGrow = true
			}
		}
	})
	defer unsub()

	require.NoError(t, s.Send(context.Background(), "hello"))

	state := st.GetState()
	require.Equal(t, []string{"m1", "m2"}, state.MessageIDsByThread["t1"])
	assert.Equal(t, "hi there", state.Messages["m2"].Content)
	for id := range state.Messages {
		assert.False(t, strings.HasPrefix(id, "tmp-"))
		assert.False(t, strings.HasPrefix(id, "draft-"))
	}
	assert.True(t, sawDraftGrow, "draft content should update per chunk")
	assert.False(t, s.Active())

	// The request carried the prior history plus the new user turn.
	require.NotEmpty(t, backend.lastReq.Messages)
	last := backend.lastReq.Messages[len(backend.lastReq.Messages)-1]
	assert.Equal(t, models.RoleUser, last.Role)
	assert.Equal(t, "hello", last.Content)
}

func TestSendPlainTextWithSentinel(t *testing.T) {
	st := seedExchange(t)
	backend := &fakeBackend{
		stream:   streamOf("data: Once upon a time\n\ndata: [DONE]\n\n"),
		messages: serverTruth(),
	}
	s := NewSender(st, backend, nil, nil, zerolog.Nop())

	var contents []string
	unsub := st.Subscribe(func(state store.State) {
		for _, m := range state.Messages {
			if strings.HasPrefix(m.ID, "draft-") && m.Role == models.RoleAssistant {
				contents = append(contents, m.Content)
			}
		}
	})
	defer unsub()

	require.NoError(t, s.Send(context.Background(), "tell me a story"))
	assert.Contains(t, contents, "Once upon a time")
	for _, c := range contents {
		assert.NotContains(t, c, "[DONE]")
	}
}

func TestSendRejectsConcurrentExchange(t *testing.T) {
	st := seedExchange(t)
	backend := &fakeBackend{
		stream: func(ctx context.Context) (io.ReadCloser, error) {
			return &blockingStream{ctx: ctx, prelude: strings.NewReader("data: {\"type\":\"ready\"}\n\n")}, nil
		},
		messages: serverTruth(),
	}
	s := NewSender(st, backend, nil, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), "hello") }()

	require.Eventually(t, s.Active, time.Second, time.Millisecond)
	assert.ErrorIs(t, s.Send(context.Background(), "again"), cherrors.ErrExchangeInProgress)

	s.Cancel()
	require.NoError(t, <-done)
	assert.False(t, s.Active())
}

func TestSendCancellationFinalizesCleanly(t *testing.T) {
	st := seedExchange(t)
	backend := &fakeBackend{
		stream: func(ctx context.Context) (io.ReadCloser, error) {
			return &blockingStream{ctx: ctx, prelude: strings.NewReader("data: {\"type\":\"chunk\",\"delta\":\"partial\"}\n\n")}, nil
		},
		messages: serverTruth(),
	}
	s := NewSender(st, backend, nil, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), "hello") }()
	require.Eventually(t, s.Active, time.Second, time.Millisecond)

	s.Cancel()
	require.NoError(t, <-done)

	state := st.GetState()
	assert.Equal(t, []string{"m1", "m2"}, state.MessageIDsByThread["t1"])
	for id := range state.Messages {
		assert.False(t, strings.HasPrefix(id, "draft-"))
	}
	assert.GreaterOrEqual(t, backend.listCalls.Load(), int32(1))
}

func TestSendServerErrorMarksDraft(t *testing.T) {
	st := seedExchange(t)
	backend := &fakeBackend{
		stream: streamOf("data: {\"type\":\"error\",\"message\":\"model unavailable\"}\n\n"),
	}
	s := NewSender(st, backend, nil, nil, zerolog.Nop())

	err := s.Send(context.Background(), "hello")
	var serr *cherrors.ServerSentError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "model unavailable", serr.Message)

	var draft models.Message
	for _, m := range st.GetState().Messages {
		if strings.HasPrefix(m.ID, "draft-") {
			draft = m
		}
	}
	require.NotEmpty(t, draft.ID)
	assert.Contains(t, draft.Content, "model unavailable")
	assert.False(t, s.Active())
}

func TestSendEOFWithoutEndEventStillFinalizes(t *testing.T) {
	st := seedExchange(t)
	backend := &fakeBackend{
		stream:   streamOf("data: {\"type\":\"chunk\",\"delta\":\"hi there\"}\n\n"),
		messages: serverTruth(),
	}
	s := NewSender(st, backend, nil, nil, zerolog.Nop())

	require.NoError(t, s.Send(context.Background(), "hello"))
	assert.Equal(t, []string{"m1", "m2"}, st.GetState().MessageIDsByThread["t1"])
}

func TestSendPreconditions(t *testing.T) {
	st := store.New(zerolog.Nop())
	s := NewSender(st, &fakeBackend{}, nil, nil, zerolog.Nop())

	assert.ErrorIs(t, s.Send(context.Background(), "   "), cherrors.ErrEmptyContent)
	assert.ErrorIs(t, s.Send(context.Background(), "hello"), cherrors.ErrNoThreadSelected)
}

func TestSendProceedsWithPartialAttachmentUploads(t *testing.T) {
	st := seedExchange(t)
	backend := &fakeBackend{
		stream:    streamOf("data: {\"type\":\"chunk\",\"delta\":\"hi there\"}\n\ndata: {\"type\":\"end\"}\n\n"),
		messages:  serverTruth(),
		uploadErr: map[string]error{"bad.png": errors.New("disk full")},
	}
	pipeline := attach.New(10, 1<<20, zerolog.Nop())
	_, err := pipeline.Add("ok.txt", "text/plain", []byte("x"))
	require.NoError(t, err)
	_, err = pipeline.Add("bad.png", "image/png", []byte("y"))
	require.NoError(t, err)
	s := NewSender(st, backend, pipeline, nil, zerolog.Nop())

	require.NoError(t, s.Send(context.Background(), "hello"))

	assert.Equal(t, []string{"srv-ok.txt"}, backend.lastReq.AttachmentIDs)
	assert.Equal(t, []string{"m1", "m2"}, st.GetState().MessageIDsByThread["t1"])
	// The exchange clears the staged queue on exit either way.
	assert.Empty(t, pipeline.Items())
}

func TestSendUserPersistFailureLeavesNoPlaceholder(t *testing.T) {
	st := seedExchange(t)
	boom := errors.New("backend down")
	backend := &fakeBackend{createErr: boom}
	s := NewSender(st, backend, nil, nil, zerolog.Nop())

	require.ErrorIs(t, s.Send(context.Background(), "hello"), boom)

	state := st.GetState()
	assert.Empty(t, state.MessageIDsByThread["t1"])
	assert.Empty(t, state.Messages)
	assert.False(t, s.Active())
}

func TestSendKeepsOptimisticRowsWhenRefetchFails(t *testing.T) {
	st := seedExchange(t)
	backend := &fakeBackend{
		stream:  streamOf("data: {\"type\":\"chunk\",\"delta\":\"hi there\"}\n\ndata: {\"type\":\"end\"}\n\n"),
		listErr: &cherrors.NetworkError{Op: "list messages", Err: errors.New("offline")},
	}
	s := NewSender(st, backend, nil, nil, zerolog.Nop())

	require.NoError(t, s.Send(context.Background(), "hello"))

	var draftContentSeen string
	for _, m := range st.GetState().Messages {
		if strings.HasPrefix(m.ID, "draft-") {
			draftContentSeen = m.Content
		}
	}
	assert.Equal(t, "hi there", draftContentSeen)
}
