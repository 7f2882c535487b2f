// chatsync is a terminal client for the chat backend. It drives the full
// sync core: optimistic creates with rollback, the streaming exchange, and
// refetch-based reconciliation, printing the assistant reply as it arrives.
package main

import (
	"bufio"
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yoko36/public-AI-APP/internal/api"
	"github.com/yoko36/public-AI-APP/internal/attach"
	"github.com/yoko36/public-AI-APP/internal/config"
	"github.com/yoko36/public-AI-APP/internal/metrics"
	"github.com/yoko36/public-AI-APP/internal/models"
	"github.com/yoko36/public-AI-APP/internal/retry"
	"github.com/yoko36/public-AI-APP/internal/store"
	chatsync "github.com/yoko36/public-AI-APP/internal/sync"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	m := metrics.New()
	if cfg.MetricsListenAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", m.Handler())
			if err := http.ListenAndServe(cfg.MetricsListenAddr, mux); err != nil {
				logger.Error().Err(err).Msg("metrics listener stopped")
			}
		}()
	}

	client := api.NewClient(cfg.BackendBaseURL,
		api.WithToken(cfg.BackendToken),
		api.WithTimeout(cfg.HTTPTimeout),
		api.WithLogger(logger),
	)
	st := store.New(logger)
	mutator := chatsync.NewMutator(st, m, logger)
	pipeline := attach.New(cfg.MaxAttachments, cfg.MaxAttachmentBytes(), logger)
	sender := chatsync.NewSender(st, client, pipeline, m, logger)

	retryCfg := retry.Config{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Jitter:      true,
	}

	ctx := context.Background()
	userID, err := bootstrap(ctx, retryCfg, client, st)
	if err != nil {
		logger.Fatal().Err(err).Msg("initial load failed")
	}

	if st.GetState().SelectedThreadID == "" {
		if err := firstThread(ctx, mutator, client, st, userID); err != nil {
			logger.Fatal().Err(err).Msg("could not create a starting thread")
		}
	}

	fmt.Println("connected; type a message, /threads, /new <name>, /attach <path>, or /quit")
	repl(ctx, st, sender, mutator, client, pipeline)
}

// bootstrap pulls the project list (with retry) and, for the first project,
// its threads, installing them as collection truth.
func bootstrap(ctx context.Context, rc retry.Config, client *api.Client, st *store.Store) (string, error) {
	var rows []models.Project
	err := retry.Do(ctx, rc, func(ctx context.Context) error {
		var err error
		rows, err = client.ListProjects(ctx)
		return err
	})
	if err != nil {
		return "", err
	}

	userID := "local"
	if len(rows) > 0 {
		userID = rows[0].OwnerUserID
	}
	st.Upsert(models.User{ID: userID})
	st.ReplaceProjectsForUser(userID, rows)

	if len(rows) > 0 {
		threads, err := client.ListThreads(ctx, rows[0].ID)
		if err != nil {
			return userID, err
		}
		st.ReplaceThreadsForProject(rows[0].ID, threads)
		if len(threads) > 0 {
			st.SelectThread(threads[0].ID)
		}
	}
	return userID, nil
}

// firstThread creates a scratch project and thread through the optimistic
// path so even the bootstrap exercises reconcile-or-rollback.
func firstThread(ctx context.Context, mutator *chatsync.Mutator, client *api.Client, st *store.Store, userID string) error {
	proj, err := chatsync.Create(ctx, mutator, "project",
		func(tmpID string) models.Project {
			return models.Project{ID: tmpID, OwnerUserID: userID, Name: "Scratch"}
		},
		st.InsertProject,
		func(ctx context.Context) (models.Project, error) {
			return client.CreateProject(ctx, api.CreateProjectInput{Name: "Scratch"})
		},
		func(ctx context.Context) error {
			rows, err := client.ListProjects(ctx)
			if err != nil {
				return err
			}
			st.ReplaceProjectsForUser(userID, rows)
			return nil
		},
	)
	if err != nil {
		return err
	}

	_, err = chatsync.Create(ctx, mutator, "thread",
		func(tmpID string) models.Thread {
			return models.Thread{ID: tmpID, ProjectID: proj.ID, Name: "First thread"}
		},
		st.InsertThread,
		func(ctx context.Context) (models.Thread, error) {
			return client.CreateThread(ctx, api.CreateThreadInput{ProjectID: proj.ID, Name: "First thread"})
		},
		func(ctx context.Context) error {
			rows, err := client.ListThreads(ctx, proj.ID)
			if err != nil {
				return err
			}
			st.ReplaceThreadsForProject(proj.ID, rows)
			return nil
		},
	)
	return err
}

func repl(ctx context.Context, st *store.Store, sender *chatsync.Sender, mutator *chatsync.Mutator, client *api.Client, pipeline *attach.Pipeline) {
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			return
		}
		line := strings.TrimSpace(in.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/threads":
			state := st.GetState()
			for _, t := range st.ThreadsForProject(state.SelectedProjectID) {
				marker := "  "
				if t.ID == state.SelectedThreadID {
					marker = "* "
				}
				fmt.Printf("%s%s (%s)\n", marker, t.Name, t.ID)
			}
		case strings.HasPrefix(line, "/new "):
			name := strings.TrimSpace(strings.TrimPrefix(line, "/new "))
			projectID := st.GetState().SelectedProjectID
			_, err := chatsync.Create(ctx, mutator, "thread",
				func(tmpID string) models.Thread {
					return models.Thread{ID: tmpID, ProjectID: projectID, Name: name}
				},
				st.InsertThread,
				func(ctx context.Context) (models.Thread, error) {
					return client.CreateThread(ctx, api.CreateThreadInput{ProjectID: projectID, Name: name})
				},
				func(ctx context.Context) error {
					rows, err := client.ListThreads(ctx, projectID)
					if err != nil {
						return err
					}
					st.ReplaceThreadsForProject(projectID, rows)
					return nil
				},
			)
			if err != nil {
				fmt.Println("create failed:", err)
			}
		case strings.HasPrefix(line, "/attach "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/attach "))
			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Println("read failed:", err)
				continue
			}
			if _, err := pipeline.Add(path, mimeFor(path), data); err != nil {
				fmt.Println("attach failed:", err)
				continue
			}
			fmt.Printf("staged %s (%d bytes)\n", path, len(data))
		default:
			send(ctx, st, sender, line)
		}
	}
}

// send runs one exchange, printing the assistant reply incrementally as the
// draft grows in the store.
func send(ctx context.Context, st *store.Store, sender *chatsync.Sender, content string) {
	printed := 0
	unsub := st.Subscribe(func(state store.State) {
		for _, id := range state.MessageIDsByThread[state.SelectedThreadID] {
			m := state.Messages[id]
			if !strings.HasPrefix(m.ID, "draft-") || m.Role != models.RoleAssistant || m.Content == "…" {
				continue
			}
			if len(m.Content) < printed {
				printed = 0
			}
			if len(m.Content) > printed {
				fmt.Print(m.Content[printed:])
				printed = len(m.Content)
			}
		}
	})
	defer unsub()

	if err := sender.Send(ctx, content); err != nil {
		fmt.Println("send failed:", err)
		return
	}
	fmt.Println()
}

func mimeFor(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
