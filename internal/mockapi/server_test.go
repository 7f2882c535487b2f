package mockapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoko36/public-AI-APP/internal/models"
)

func newTestServer(t *testing.T, sc *Scenario) *Server {
	t.Helper()
	if sc == nil {
		sc = DefaultScenario()
	}
	return NewServer(sc, zerolog.Nop())
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, 5000)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestProjectCRUD(t *testing.T) {
	s := newTestServer(t, nil)

	resp := doJSON(t, s, http.MethodPost, "/api/v1/projects", map[string]string{"name": "Notes"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.Project](t, resp)
	require.NotEmpty(t, created.ID)

	resp = doJSON(t, s, http.MethodPatch, "/api/v1/projects/"+created.ID, map[string]string{"name": "Renamed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[models.Project](t, resp)
	assert.Equal(t, "Renamed", updated.Name)

	resp = doJSON(t, s, http.MethodGet, "/api/v1/projects", nil)
	rows := decode[[]models.Project](t, resp)
	require.Len(t, rows, 1)

	resp = doJSON(t, s, http.MethodDelete, "/api/v1/projects/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, s, http.MethodDelete, "/api/v1/projects/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProjectsNewestFirst(t *testing.T) {
	s := newTestServer(t, nil)
	doJSON(t, s, http.MethodPost, "/api/v1/projects", map[string]string{"name": "first"}).Body.Close()
	doJSON(t, s, http.MethodPost, "/api/v1/projects", map[string]string{"name": "second"}).Body.Close()

	resp := doJSON(t, s, http.MethodGet, "/api/v1/projects", nil)
	rows := decode[[]models.Project](t, resp)
	require.Len(t, rows, 2)
	assert.Equal(t, "second", rows[0].Name)
	assert.Equal(t, "first", rows[1].Name)
}

func TestProjectDeleteCascadesToThreadsAndMessages(t *testing.T) {
	s := newTestServer(t, nil)

	resp := doJSON(t, s, http.MethodPost, "/api/v1/projects", map[string]string{"name": "Notes"})
	p := decode[models.Project](t, resp)
	resp = doJSON(t, s, http.MethodPost, "/api/v1/threads", map[string]string{"projectId": p.ID, "name": "First"})
	th := decode[models.Thread](t, resp)
	doJSON(t, s, http.MethodPost, "/api/v1/messages", map[string]any{
		"threadId": th.ID, "role": "user", "content": "hi",
	}).Body.Close()

	doJSON(t, s, http.MethodDelete, "/api/v1/projects/"+p.ID, nil).Body.Close()

	resp = doJSON(t, s, http.MethodGet, "/api/v1/threads?projectId="+p.ID, nil)
	threads := decode[[]models.Thread](t, resp)
	assert.Empty(t, threads)

	resp = doJSON(t, s, http.MethodGet, "/api/v1/messages?threadId="+th.ID, nil)
	msgs := decode[[]models.Message](t, resp)
	assert.Empty(t, msgs)
}

func TestThreadNotFoundMessageIsBenign(t *testing.T) {
	s := newTestServer(t, nil)
	resp := doJSON(t, s, http.MethodDelete, "/api/v1/threads/ghost", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "not found")
}

func TestChatbotStreamsAndPersists(t *testing.T) {
	sc := DefaultScenario()
	sc.DefaultReply = "hello from the mock"
	sc.Stream.ChunkSize = 5
	s := newTestServer(t, sc)

	resp := doJSON(t, s, http.MethodPost, "/api/v1/projects", map[string]string{"name": "Notes"})
	p := decode[models.Project](t, resp)
	resp = doJSON(t, s, http.MethodPost, "/api/v1/threads", map[string]string{"projectId": p.ID, "name": "First"})
	th := decode[models.Thread](t, resp)

	doJSON(t, s, http.MethodPost, "/api/v1/messages", map[string]any{
		"threadId": th.ID, "role": "user", "content": "hi",
	}).Body.Close()

	resp = doJSON(t, s, http.MethodPost, "/api/v1/chatbot", map[string]any{
		"threadId": th.ID,
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, `"type":"ready"`)
	assert.Contains(t, body, `"type":"chunk"`)
	assert.Contains(t, body, `"type":"end"`)

	resp = doJSON(t, s, http.MethodGet, "/api/v1/messages?threadId="+th.ID, nil)
	msgs := decode[[]models.Message](t, resp)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hello from the mock", msgs[1].Content)
}

func TestChatbotScriptedFailure(t *testing.T) {
	sc := DefaultScenario()
	sc.Replies = []ReplyRule{{Match: "explode", Fail: "model unavailable"}}
	s := newTestServer(t, sc)

	resp := doJSON(t, s, http.MethodPost, "/api/v1/projects", map[string]string{"name": "Notes"})
	p := decode[models.Project](t, resp)
	resp = doJSON(t, s, http.MethodPost, "/api/v1/threads", map[string]string{"projectId": p.ID, "name": "First"})
	th := decode[models.Thread](t, resp)

	resp = doJSON(t, s, http.MethodPost, "/api/v1/chatbot", map[string]any{
		"threadId": th.ID,
		"messages": []map[string]string{{"role": "user", "content": "please explode"}},
	})
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"error"`)
	assert.Contains(t, string(raw), "model unavailable")
}

func TestLoadScenarioExpandsEnv(t *testing.T) {
	t.Setenv("MOCK_REPLY", "expanded value")
	sc, err := LoadScenarioBytes([]byte("default_reply: ${MOCK_REPLY}\nstream:\n  chunk_size: 3\n"))
	require.NoError(t, err)
	assert.Equal(t, "expanded value", sc.DefaultReply)
	assert.Equal(t, 3, sc.Stream.ChunkSize)
}

func TestScenarioReplyRules(t *testing.T) {
	sc, err := LoadScenarioBytes([]byte(strings.TrimSpace(`
replies:
  - match: story
    text: Once upon a time.
default_reply: fallback
`)))
	require.NoError(t, err)

	text, fail := sc.ReplyFor("Tell me a STORY please")
	assert.Equal(t, "Once upon a time.", text)
	assert.Empty(t, fail)

	text, _ = sc.ReplyFor("anything else")
	assert.Equal(t, "fallback", text)
}
