// Package api is the REST/SSE client for the chat backend. It implements the
// collaborator contracts the sync core depends on: collection fetches,
// entity creates/updates/deletes, attachment upload and the streaming
// chatbot call.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	cherrors "github.com/yoko36/public-AI-APP/internal/errors"
	"github.com/yoko36/public-AI-APP/internal/models"
)

const apiPrefix = "/api/v1"

// Client talks to the chat backend.
type Client struct {
	baseURL      string
	token        string
	client       *http.Client
	streamClient *http.Client
	logger       zerolog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithToken sets the bearer token attached to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout bounds non-streaming requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client = &http.Client{Timeout: d} }
}

// WithHTTPClient replaces the non-streaming HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l.With().Str("component", "api").Logger() }
}

// NewClient constructs a backend client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		// No client timeout on the stream: it lives as long as the
		// response; cancellation comes from the request context.
		streamClient: &http.Client{},
		logger:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Cache-Control", "no-store")
	return req, nil
}

// do issues one JSON request and returns the raw response body. Transport
// failures become NetworkError, non-2xx statuses PersistenceError carrying
// the server's message so callers can classify benign conflicts.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &cherrors.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &cherrors.ProtocolError{Message: op + ": unreadable response body", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = resp.Status
		}
		return nil, &cherrors.PersistenceError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	return raw, nil
}

// decodeOne normalizes a single-or-array JSON body to one record, mirroring
// the backend's habit of answering some creates with a one-element list.
func decodeOne[E any](op string, raw []byte) (E, error) {
	var zero E
	if len(bytes.TrimSpace(raw)) == 0 {
		return zero, nil
	}
	var one E
	if err := json.Unmarshal(raw, &one); err == nil {
		return one, nil
	}
	var many []E
	if err := json.Unmarshal(raw, &many); err != nil {
		return zero, &cherrors.ProtocolError{Message: op + ": undecodable response", Err: err}
	}
	if len(many) == 0 {
		return zero, nil
	}
	return many[0], nil
}

func decodeList[E any](op string, raw []byte) ([]E, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var many []E
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	var one E
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, &cherrors.ProtocolError{Message: op + ": undecodable response", Err: err}
	}
	return []E{one}, nil
}

// --- projects ---

// CreateProjectInput is the payload for a project create.
type CreateProjectInput struct {
	Name     string `json:"name"`
	Overview string `json:"overview,omitempty"`
}

// ProjectPatch is a partial project update; nil fields are untouched.
type ProjectPatch struct {
	Name     *string `json:"name,omitempty"`
	Overview *string `json:"overview,omitempty"`
}

func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	raw, err := c.do(ctx, "list projects", http.MethodGet, "/projects", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[models.Project]("list projects", raw)
}

func (c *Client) CreateProject(ctx context.Context, in CreateProjectInput) (models.Project, error) {
	raw, err := c.do(ctx, "create project", http.MethodPost, "/projects", nil, in)
	if err != nil {
		return models.Project{}, err
	}
	return decodeOne[models.Project]("create project", raw)
}

func (c *Client) UpdateProject(ctx context.Context, id string, patch ProjectPatch) (models.Project, error) {
	raw, err := c.do(ctx, "update project", http.MethodPatch, "/projects/"+url.PathEscape(id), nil, patch)
	if err != nil {
		return models.Project{}, err
	}
	return decodeOne[models.Project]("update project", raw)
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	_, err := c.do(ctx, "delete project", http.MethodDelete, "/projects/"+url.PathEscape(id), nil, nil)
	return err
}

// --- threads ---

// CreateThreadInput is the payload for a thread create.
type CreateThreadInput struct {
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
}

func (c *Client) ListThreads(ctx context.Context, projectID string) ([]models.Thread, error) {
	q := url.Values{"projectId": {projectID}}
	raw, err := c.do(ctx, "list threads", http.MethodGet, "/threads", q, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[models.Thread]("list threads", raw)
}

func (c *Client) CreateThread(ctx context.Context, in CreateThreadInput) (models.Thread, error) {
	raw, err := c.do(ctx, "create thread", http.MethodPost, "/threads", nil, in)
	if err != nil {
		return models.Thread{}, err
	}
	return decodeOne[models.Thread]("create thread", raw)
}

func (c *Client) RenameThread(ctx context.Context, id, name string) (models.Thread, error) {
	raw, err := c.do(ctx, "rename thread", http.MethodPatch, "/threads/"+url.PathEscape(id), nil, map[string]string{"name": name})
	if err != nil {
		return models.Thread{}, err
	}
	return decodeOne[models.Thread]("rename thread", raw)
}

func (c *Client) DeleteThread(ctx context.Context, id string) error {
	_, err := c.do(ctx, "delete thread", http.MethodDelete, "/threads/"+url.PathEscape(id), nil, nil)
	return err
}

// --- messages ---

// CreateMessageInput is the payload for a message create.
type CreateMessageInput struct {
	ThreadID string      `json:"threadId"`
	Role     models.Role `json:"role"`
	Content  string      `json:"content"`
}

func (c *Client) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	q := url.Values{"threadId": {threadID}}
	raw, err := c.do(ctx, "list messages", http.MethodGet, "/messages", q, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[models.Message]("list messages", raw)
}

func (c *Client) CreateMessage(ctx context.Context, in CreateMessageInput) (models.Message, error) {
	raw, err := c.do(ctx, "create message", http.MethodPost, "/messages", nil, in)
	if err != nil {
		return models.Message{}, err
	}
	return decodeOne[models.Message]("create message", raw)
}

// --- attachments ---

// UploadAttachment posts one file as multipart form data.
func (c *Client) UploadAttachment(ctx context.Context, name string, r io.Reader) (models.Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("build multipart form: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return models.Attachment{}, fmt.Errorf("copy file %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return models.Attachment{}, fmt.Errorf("finish multipart form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/attachments", nil, &buf)
	if err != nil {
		return models.Attachment{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return models.Attachment{}, &cherrors.NetworkError{Op: "upload attachment", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Attachment{}, &cherrors.ProtocolError{Message: "upload attachment: unreadable response body", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Attachment{}, &cherrors.PersistenceError{
			Op: "upload attachment", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw)),
		}
	}
	return decodeOne[models.Attachment]("upload attachment", raw)
}

// --- chat stream ---

// ChatMessage is one history entry sent to the chatbot.
type ChatMessage struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// ChatRequest is the streaming chatbot request payload.
type ChatRequest struct {
	ThreadID      string        `json:"threadId"`
	Messages      []ChatMessage `json:"messages"`
	AttachmentIDs []string      `json:"attachmentIds,omitempty"`
}

// StreamChat opens the chatbot stream and returns the raw body. The caller
// owns the ReadCloser; the declared content type must be an event stream,
// otherwise a ProtocolError is returned and the body is closed.
func (c *Client) StreamChat(ctx context.Context, in ChatRequest) (io.ReadCloser, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/chatbot", nil, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, &cherrors.NetworkError{Op: "chat stream", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &cherrors.PersistenceError{
			Op: "chat stream", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body)),
		}
	}
	ctype := resp.Header.Get("Content-Type")
	if !strings.Contains(ctype, "text/event-stream") {
		resp.Body.Close()
		return nil, &cherrors.ProtocolError{Message: fmt.Sprintf("chat stream: unexpected content type %q", ctype)}
	}

	c.logger.Debug().Str("thread_id", in.ThreadID).Int("history", len(in.Messages)).Msg("chat stream open")
	return resp.Body, nil
}
