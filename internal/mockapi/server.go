package mockapi

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/yoko36/public-AI-APP/internal/models"
)

// Server is the mock backend Fiber application.
type Server struct {
	app      *fiber.App
	data     *dataset
	scenario *Scenario
	logger   zerolog.Logger
}

// NewServer builds a mock backend from a scenario.
func NewServer(sc *Scenario, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s := &Server{
		app:      app,
		data:     newDataset(sc),
		scenario: sc,
		logger:   logger.With().Str("component", "mockapi").Logger(),
	}

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
	}))
	app.Use(func(c *fiber.Ctx) error {
		s.logger.Debug().Str("method", c.Method()).Str("path", c.Path()).Msg("request")
		return c.Next()
	})

	s.routes()
	return s
}

// App exposes the Fiber app for in-process tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("mock backend listening")
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error { return s.app.Shutdown() }

func (s *Server) routes() {
	v1 := s.app.Group("/api/v1")

	v1.Get("/projects", s.listProjects)
	v1.Post("/projects", s.createProject)
	v1.Patch("/projects/:id", s.updateProject)
	v1.Delete("/projects/:id", s.deleteProject)

	v1.Get("/threads", s.listThreads)
	v1.Post("/threads", s.createThread)
	v1.Patch("/threads/:id", s.renameThread)
	v1.Delete("/threads/:id", s.deleteThread)

	v1.Get("/messages", s.listMessages)
	v1.Post("/messages", s.createMessage)

	v1.Post("/attachments", s.uploadAttachment)
	v1.Post("/chatbot", s.chatbot)

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}

func notFound(c *fiber.Ctx, what string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": what + " not found"})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// --- projects ---

func (s *Server) listProjects(c *fiber.Ctx) error {
	return c.JSON(s.data.listProjects())
}

func (s *Server) createProject(c *fiber.Ctx) error {
	var req struct {
		Name     string `json:"name"`
		Overview string `json:"overview"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body: "+err.Error())
	}
	if req.Name == "" {
		return badRequest(c, "name is required")
	}
	return c.Status(fiber.StatusCreated).JSON(s.data.createProject(req.Name, req.Overview))
}

func (s *Server) updateProject(c *fiber.Ctx) error {
	var req struct {
		Name     *string `json:"name"`
		Overview *string `json:"overview"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body: "+err.Error())
	}
	p, ok := s.data.updateProject(c.Params("id"), req.Name, req.Overview)
	if !ok {
		return notFound(c, "project")
	}
	return c.JSON(p)
}

func (s *Server) deleteProject(c *fiber.Ctx) error {
	if !s.data.deleteProject(c.Params("id")) {
		return notFound(c, "project")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// --- threads ---

func (s *Server) listThreads(c *fiber.Ctx) error {
	projectID := c.Query("projectId")
	if projectID == "" {
		return badRequest(c, "projectId is required")
	}
	return c.JSON(s.data.listThreads(projectID))
}

func (s *Server) createThread(c *fiber.Ctx) error {
	var req struct {
		ProjectID string `json:"projectId"`
		Name      string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body: "+err.Error())
	}
	if !s.data.hasProject(req.ProjectID) {
		return notFound(c, "project")
	}
	return c.Status(fiber.StatusCreated).JSON(s.data.createThread(req.ProjectID, req.Name))
}

func (s *Server) renameThread(c *fiber.Ctx) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body: "+err.Error())
	}
	t, ok := s.data.renameThread(c.Params("id"), req.Name)
	if !ok {
		return notFound(c, "thread")
	}
	return c.JSON(t)
}

func (s *Server) deleteThread(c *fiber.Ctx) error {
	if !s.data.deleteThread(c.Params("id")) {
		return notFound(c, "thread")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// --- messages ---

func (s *Server) listMessages(c *fiber.Ctx) error {
	threadID := c.Query("threadId")
	if threadID == "" {
		return badRequest(c, "threadId is required")
	}
	return c.JSON(s.data.listMessages(threadID))
}

func (s *Server) createMessage(c *fiber.Ctx) error {
	var req struct {
		ThreadID string      `json:"threadId"`
		Role     models.Role `json:"role"`
		Content  string      `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body: "+err.Error())
	}
	if !s.data.hasThread(req.ThreadID) {
		return notFound(c, "thread")
	}
	return c.Status(fiber.StatusCreated).JSON(s.data.createMessage(req.ThreadID, req.Role, req.Content))
}

// --- attachments ---

func (s *Server) uploadAttachment(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file field is required")
	}
	mime := fh.Header.Get("Content-Type")
	return c.Status(fiber.StatusCreated).JSON(s.data.addAttachment(fh.Filename, mime, fh.Size))
}

// --- chatbot stream ---

type chatbotRequest struct {
	ThreadID string `json:"threadId"`
	Messages []struct {
		Role    models.Role `json:"role"`
		Content string      `json:"content"`
	} `json:"messages"`
	AttachmentIDs []string `json:"attachmentIds"`
}

// chatbot persists the user's turn, streams a scripted reply as SSE and
// persists the assistant's turn, so a follow-up message list returns both.
func (s *Server) chatbot(c *fiber.Ctx) error {
	var req chatbotRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body: "+err.Error())
	}
	if !s.data.hasThread(req.ThreadID) {
		return notFound(c, "thread")
	}

	// The client persists the user turn via POST /messages before opening
	// the stream; only the assistant turn is written here.
	prompt := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == models.RoleUser {
			prompt = req.Messages[i].Content
			break
		}
	}
	if prompt == "" {
		return badRequest(c, "no user message in request")
	}

	reply, fail := s.scenario.ReplyFor(prompt)
	threadID := req.ThreadID
	chunkSize := s.scenario.Stream.ChunkSize
	delay := time.Duration(s.scenario.Stream.DelayMs) * time.Millisecond

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		emit := func(payload any) {
			raw, err := json.Marshal(payload)
			if err != nil {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", raw)
			w.Flush()
		}

		emit(fiber.Map{"type": "start"})

		if fail != "" {
			emit(fiber.Map{"type": "error", "message": fail})
			return
		}

		saved := s.data.createMessage(threadID, models.RoleAssistant, reply)
		emit(fiber.Map{"type": "ready", "assistant_msg_id": saved.ID})

		runes := []rune(reply)
		for start := 0; start < len(runes); start += chunkSize {
			end := start + chunkSize
			if end > len(runes) {
				end = len(runes)
			}
			emit(fiber.Map{"type": "chunk", "delta": string(runes[start:end])})
			if delay > 0 {
				time.Sleep(delay)
			}
		}

		emit(fiber.Map{"type": "saved", "assistant_msg_id": saved.ID})
		emit(fiber.Map{"type": "end"})
		fmt.Fprint(w, "data: [DONE]\n\n")
		w.Flush()
	})
	return nil
}
