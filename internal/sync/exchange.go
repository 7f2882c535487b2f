package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yoko36/public-AI-APP/internal/api"
	"github.com/yoko36/public-AI-APP/internal/attach"
	cherrors "github.com/yoko36/public-AI-APP/internal/errors"
	"github.com/yoko36/public-AI-APP/internal/metrics"
	"github.com/yoko36/public-AI-APP/internal/models"
	"github.com/yoko36/public-AI-APP/internal/sse"
	"github.com/yoko36/public-AI-APP/internal/store"
)

// draftContent is what the assistant placeholder shows before the first
// chunk arrives.
const draftContent = "…"

// finalizeTimeout bounds the refetch that closes an exchange. It runs on a
// fresh context so a canceled exchange can still converge on server truth.
const finalizeTimeout = 15 * time.Second

// Backend is the slice of the API client the exchange needs.
type Backend interface {
	StreamChat(ctx context.Context, in api.ChatRequest) (io.ReadCloser, error)
	CreateMessage(ctx context.Context, in api.CreateMessageInput) (models.Message, error)
	ListMessages(ctx context.Context, threadID string) ([]models.Message, error)
	UploadAttachment(ctx context.Context, name string, r io.Reader) (models.Attachment, error)
}

// Sender runs the send-message exchange: stage attachments, append the user
// message and an assistant draft optimistically, stream the reply into the
// draft, then replace the thread's messages with the server's view. Only one
// exchange may run at a time.
type Sender struct {
	store    *store.Store
	client   Backend
	pipeline *attach.Pipeline
	metrics  *metrics.Metrics
	mutator  *Mutator
	logger   zerolog.Logger

	mu     stdsync.Mutex
	active bool
	cancel context.CancelFunc
}

// NewSender wires an exchange runner. metrics may be nil; pipeline may be
// nil when attachments are not used.
func NewSender(st *store.Store, client Backend, pipeline *attach.Pipeline, m *metrics.Metrics, logger zerolog.Logger) *Sender {
	return &Sender{
		store:    st,
		client:   client,
		pipeline: pipeline,
		metrics:  m,
		mutator:  NewMutator(st, m, logger),
		logger:   logger.With().Str("component", "exchange").Logger(),
	}
}

// Active reports whether an exchange is currently running.
func (s *Sender) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Cancel aborts the running exchange, if any. The exchange drains cleanly:
// the draft is removed by the closing refetch, not left dangling.
func (s *Sender) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Send runs one full exchange against the selected thread and blocks until
// the stream ends, fails, or is canceled. A second call while one is running
// fails fast with ErrExchangeInProgress.
func (s *Sender) Send(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return cherrors.ErrEmptyContent
	}
	threadID := s.store.GetState().SelectedThreadID
	if threadID == "" {
		return cherrors.ErrNoThreadSelected
	}

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return cherrors.ErrExchangeInProgress
	}
	ctx, cancel := context.WithCancel(ctx)
	s.active = true
	s.cancel = cancel
	s.mu.Unlock()

	start := time.Now()
	outcome := "error"
	defer func() {
		cancel()
		if s.pipeline != nil {
			s.pipeline.Clear()
		}
		s.mu.Lock()
		s.active = false
		s.cancel = nil
		s.mu.Unlock()
		s.metrics.RecordExchange(outcome, time.Since(start).Seconds())
	}()

	// Attachments go up before anything is written to the store. A per-file
	// failure does not abort the exchange: the item stays marked failed in
	// the pipeline and the request proceeds with the uploaded subset.
	var attachmentIDs []string
	if s.pipeline != nil {
		if _, err := s.pipeline.UploadAll(ctx, s.client); err != nil {
			if ctx.Err() != nil {
				outcome = "canceled"
				return nil
			}
			s.logger.Warn().Err(err).Msg("some attachments failed to upload")
		}
		attachmentIDs = s.pipeline.UploadedIDs()
	}

	// The user turn is persisted through the optimistic create path before
	// the assistant request goes out, so the history sent below already
	// includes it. A failure here leaves no placeholder behind.
	if _, err := Create(ctx, s.mutator, "message",
		func(tmpID string) models.Message {
			return models.Message{ID: tmpID, ThreadID: threadID, Role: models.RoleUser, Content: content, CreatedAt: time.Now()}
		},
		s.store.AppendMessage,
		func(ctx context.Context) (models.Message, error) {
			return s.client.CreateMessage(ctx, api.CreateMessageInput{ThreadID: threadID, Role: models.RoleUser, Content: content})
		},
		func(ctx context.Context) error {
			rows, err := s.client.ListMessages(ctx, threadID)
			if err != nil {
				return err
			}
			s.store.ReplaceMessagesForThread(threadID, rows)
			return nil
		},
	); err != nil {
		return err
	}

	req := api.ChatRequest{ThreadID: threadID, AttachmentIDs: attachmentIDs}
	for _, m := range s.store.MessagesForThread(threadID) {
		req.Messages = append(req.Messages, api.ChatMessage{Role: m.Role, Content: m.Content})
	}

	draftID := "draft-" + uuid.NewString()
	s.store.AppendMessage(models.Message{
		ID: draftID, ThreadID: threadID, Role: models.RoleAssistant, Content: draftContent, CreatedAt: time.Now(),
	})

	body, err := s.client.StreamChat(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			outcome = "canceled"
			s.finalize(threadID)
			return nil
		}
		s.failDraft(draftID, err)
		return err
	}
	defer body.Close()

	dec := sse.NewDecoder(body)
	var reply strings.Builder
	replyID := ""
stream:
	for {
		ev, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Stream closed without an explicit end event; the reply we
				// have is the reply there is.
				break
			}
			if ctx.Err() != nil {
				outcome = "canceled"
				s.logger.Info().Str("thread_id", threadID).Msg("exchange canceled")
				s.finalize(threadID)
				return nil
			}
			nerr := &cherrors.NetworkError{Op: "chat stream read", Err: err}
			s.failDraft(draftID, nerr)
			return nerr
		}

		switch ev.Type {
		case sse.Ready:
			replyID = ev.AssistantMsgID
			s.metrics.RecordStreamEvent("ready")
		case sse.Chunk:
			reply.WriteString(ev.Delta)
			s.store.SetMessageContent(draftID, reply.String())
			s.metrics.RecordStreamEvent("chunk")
		case sse.PlainText:
			reply.WriteString(ev.Text)
			s.store.SetMessageContent(draftID, reply.String())
			s.metrics.RecordStreamEvent("text")
		case sse.Error:
			s.metrics.RecordStreamEvent("error")
			serr := &cherrors.ServerSentError{Message: ev.Message}
			s.failDraft(draftID, serr)
			return serr
		case sse.End:
			s.metrics.RecordStreamEvent("end")
			break stream
		}
	}

	if replyID != "" {
		s.logger.Debug().Str("thread_id", threadID).Str("reply_id", replyID).Msg("reply complete")
	}
	s.finalize(threadID)
	outcome = "ok"
	return nil
}

// finalize replaces the thread's messages with the backend's view, sweeping
// out the temp user message and the assistant draft. Best effort: on refetch
// failure the optimistic rows stay, content intact, and a later fetch
// converges.
func (s *Sender) finalize(threadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	rows, err := s.client.ListMessages(ctx, threadID)
	if err != nil {
		s.logger.Warn().Err(err).Str("thread_id", threadID).Msg("message refetch failed")
		return
	}
	s.store.ReplaceMessagesForThread(threadID, rows)
	s.metrics.RecordResync("messages")
}

// failDraft turns the assistant draft into a visible failure notice. The
// exchange does not roll the user message back; it was sent, and the next
// refetch decides its fate.
func (s *Sender) failDraft(draftID string, cause error) {
	s.store.SetMessageContent(draftID, fmt.Sprintf("The reply could not be completed: %v", cause))
	s.logger.Error().Err(cause).Msg("exchange failed")
}
