// Package store holds the normalized client-side copy of the chat domain:
// flat by-id maps plus ordered id-index lists per parent, and two selection
// pointers for the currently viewed project and thread.
//
// All operations are total functions over the current state: mutating an
// unknown id is a no-op, never an error. Validity is the caller's problem.
package store

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/yoko36/public-AI-APP/internal/models"
)

// State is the full normalized snapshot. Index lists are ordered: projects
// and threads newest-first, messages chronological.
type State struct {
	Users    map[string]models.User
	Projects map[string]models.Project
	Threads  map[string]models.Thread
	Messages map[string]models.Message

	ProjectIDsByUser   map[string][]string
	ThreadIDsByProject map[string][]string
	MessageIDsByThread map[string][]string

	SelectedProjectID string
	SelectedThreadID  string
}

// NewState returns an empty state with all tables allocated.
func NewState() State {
	return State{
		Users:              map[string]models.User{},
		Projects:           map[string]models.Project{},
		Threads:            map[string]models.Thread{},
		Messages:           map[string]models.Message{},
		ProjectIDsByUser:   map[string][]string{},
		ThreadIDsByProject: map[string][]string{},
		MessageIDsByThread: map[string][]string{},
	}
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := State{
		Users:              make(map[string]models.User, len(s.Users)),
		Projects:           make(map[string]models.Project, len(s.Projects)),
		Threads:            make(map[string]models.Thread, len(s.Threads)),
		Messages:           make(map[string]models.Message, len(s.Messages)),
		ProjectIDsByUser:   make(map[string][]string, len(s.ProjectIDsByUser)),
		ThreadIDsByProject: make(map[string][]string, len(s.ThreadIDsByProject)),
		MessageIDsByThread: make(map[string][]string, len(s.MessageIDsByThread)),
		SelectedProjectID:  s.SelectedProjectID,
		SelectedThreadID:   s.SelectedThreadID,
	}
	for k, v := range s.Users {
		out.Users[k] = v
	}
	for k, v := range s.Projects {
		out.Projects[k] = v
	}
	for k, v := range s.Threads {
		out.Threads[k] = v
	}
	for k, v := range s.Messages {
		out.Messages[k] = v
	}
	for k, v := range s.ProjectIDsByUser {
		out.ProjectIDsByUser[k] = append([]string(nil), v...)
	}
	for k, v := range s.ThreadIDsByProject {
		out.ThreadIDsByProject[k] = append([]string(nil), v...)
	}
	for k, v := range s.MessageIDsByThread {
		out.MessageIDsByThread[k] = append([]string(nil), v...)
	}
	return out
}

// Listener receives a state copy after every mutation.
type Listener func(State)

// Store is the injectable state container. Every mutation runs to completion
// under one lock before the next can interleave.
type Store struct {
	mu        sync.Mutex
	state     State
	listeners map[int]Listener
	nextSub   int
	logger    zerolog.Logger
}

// New creates an empty store.
func New(logger zerolog.Logger) *Store {
	return &Store{
		state:     NewState(),
		listeners: map[int]Listener{},
		logger:    logger.With().Str("component", "store").Logger(),
	}
}

// GetState returns a deep copy of the current state.
func (s *Store) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe registers a listener called with a state copy after each
// mutation. The returned function unsubscribes.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// mutate applies fn under the lock, then notifies listeners with a copy.
func (s *Store) mutate(fn func(*State)) {
	s.mu.Lock()
	fn(&s.state)
	var snapshot State
	fns := make([]Listener, 0, len(s.listeners))
	if len(s.listeners) > 0 {
		snapshot = s.state.Clone()
		for _, l := range s.listeners {
			fns = append(fns, l)
		}
	}
	s.mu.Unlock()
	for _, l := range fns {
		l(snapshot)
	}
}

// Snapshot returns a deep copy for later rollback.
func (s *Store) Snapshot() State { return s.GetState() }

// Restore replaces the whole state with a previously captured snapshot.
func (s *Store) Restore(snap State) {
	s.logger.Debug().Msg("restoring snapshot")
	s.mutate(func(st *State) { *st = snap.Clone() })
}

// Upsert inserts or replaces entities by id. Index lists are untouched.
func (s *Store) Upsert(entities ...models.Entity) {
	s.mutate(func(st *State) {
		for _, e := range entities {
			switch v := e.(type) {
			case models.User:
				st.Users[v.ID] = v
			case models.Project:
				st.Projects[v.ID] = v
			case models.Thread:
				st.Threads[v.ID] = v
			case models.Message:
				st.Messages[v.ID] = v
			}
		}
	})
}

// InsertProject upserts the project and prepends its id to the owner's
// ordered list (newest-first).
func (s *Store) InsertProject(p models.Project) {
	s.mutate(func(st *State) {
		st.Projects[p.ID] = p
		st.ProjectIDsByUser[p.OwnerUserID] = pushHead(st.ProjectIDsByUser[p.OwnerUserID], p.ID)
	})
}

// InsertThread upserts the thread, prepends its id to the project's ordered
// list and makes it the active selection, matching the create UX.
func (s *Store) InsertThread(t models.Thread) {
	s.mutate(func(st *State) {
		st.Threads[t.ID] = t
		st.ThreadIDsByProject[t.ProjectID] = pushHead(st.ThreadIDsByProject[t.ProjectID], t.ID)
		st.SelectedThreadID = t.ID
		st.SelectedProjectID = t.ProjectID
	})
}

// AppendMessage upserts the message and appends its id at the tail of the
// thread's chronological list.
func (s *Store) AppendMessage(m models.Message) {
	s.mutate(func(st *State) {
		st.Messages[m.ID] = m
		ids := st.MessageIDsByThread[m.ThreadID]
		if !contains(ids, m.ID) {
			st.MessageIDsByThread[m.ThreadID] = append(ids, m.ID)
		}
	})
}

// ReplaceProjectsForUser swaps the user's project list wholesale with the
// authoritative rows, in the given order. Projects previously listed for the
// user but absent from rows are cascade-removed so no dangling ids survive.
func (s *Store) ReplaceProjectsForUser(userID string, rows []models.Project) {
	s.mutate(func(st *State) {
		keep := make(map[string]bool, len(rows))
		ids := make([]string, 0, len(rows))
		for _, p := range rows {
			st.Projects[p.ID] = p
			keep[p.ID] = true
			ids = append(ids, p.ID)
		}
		for _, old := range st.ProjectIDsByUser[userID] {
			if !keep[old] {
				cascadeDelete(st, old)
			}
		}
		st.ProjectIDsByUser[userID] = ids
	})
}

// ReplaceThreadsForProject swaps the project's thread list wholesale with
// the authoritative rows.
func (s *Store) ReplaceThreadsForProject(projectID string, rows []models.Thread) {
	s.mutate(func(st *State) {
		keep := make(map[string]bool, len(rows))
		ids := make([]string, 0, len(rows))
		for _, t := range rows {
			st.Threads[t.ID] = t
			keep[t.ID] = true
			ids = append(ids, t.ID)
		}
		for _, old := range st.ThreadIDsByProject[projectID] {
			if !keep[old] {
				cascadeDelete(st, old)
			}
		}
		st.ThreadIDsByProject[projectID] = ids
	})
}

// ReplaceMessagesForThread swaps the thread's message list wholesale with
// the authoritative rows. Messages previously listed for the thread but not
// in rows (draft placeholders included) are dropped from the table.
func (s *Store) ReplaceMessagesForThread(threadID string, rows []models.Message) {
	s.mutate(func(st *State) {
		keep := make(map[string]bool, len(rows))
		ids := make([]string, 0, len(rows))
		for _, m := range rows {
			st.Messages[m.ID] = m
			keep[m.ID] = true
			ids = append(ids, m.ID)
		}
		for _, old := range st.MessageIDsByThread[threadID] {
			if !keep[old] {
				delete(st.Messages, old)
			}
		}
		st.MessageIDsByThread[threadID] = ids
	})
}

// CascadeDelete removes the entity and every descendant from all maps and
// index lists, clearing selection pointers that referenced removed entries.
// Unknown ids are a no-op.
func (s *Store) CascadeDelete(id string) {
	s.logger.Debug().Str("id", id).Msg("cascade delete")
	s.mutate(func(st *State) { cascadeDelete(st, id) })
}

func cascadeDelete(st *State, id string) {
	switch {
	case hasKey(st.Users, id):
		for _, pid := range st.ProjectIDsByUser[id] {
			deleteProject(st, pid)
		}
		delete(st.ProjectIDsByUser, id)
		delete(st.Users, id)
	case hasKey(st.Projects, id):
		p := st.Projects[id]
		st.ProjectIDsByUser[p.OwnerUserID] = removeID(st.ProjectIDsByUser[p.OwnerUserID], id)
		deleteProject(st, id)
	case hasKey(st.Threads, id):
		t := st.Threads[id]
		st.ThreadIDsByProject[t.ProjectID] = removeID(st.ThreadIDsByProject[t.ProjectID], id)
		deleteThread(st, id)
	case hasKey(st.Messages, id):
		m := st.Messages[id]
		st.MessageIDsByThread[m.ThreadID] = removeID(st.MessageIDsByThread[m.ThreadID], id)
		delete(st.Messages, id)
	}
}

func deleteProject(st *State, pid string) {
	for _, tid := range st.ThreadIDsByProject[pid] {
		deleteThread(st, tid)
	}
	delete(st.ThreadIDsByProject, pid)
	delete(st.Projects, pid)
	if st.SelectedProjectID == pid {
		st.SelectedProjectID = ""
	}
}

func deleteThread(st *State, tid string) {
	for _, mid := range st.MessageIDsByThread[tid] {
		delete(st.Messages, mid)
	}
	delete(st.MessageIDsByThread, tid)
	delete(st.Threads, tid)
	// The surviving parent project stays selected.
	if st.SelectedThreadID == tid {
		st.SelectedThreadID = ""
	}
}

// SelectThread sets the active-thread pointer; when the thread is known the
// active-project pointer follows its parent. An empty id clears both.
func (s *Store) SelectThread(threadID string) {
	s.mutate(func(st *State) {
		if threadID == "" {
			st.SelectedThreadID = ""
			st.SelectedProjectID = ""
			return
		}
		st.SelectedThreadID = threadID
		if t, ok := st.Threads[threadID]; ok {
			st.SelectedProjectID = t.ProjectID
		}
	})
}

// Reconcile replaces every occurrence of tmpID (by-id key, index entries,
// selection pointers) with the server-confirmed entity, in one state
// transition. A tmpID no longer present is a no-op.
func (s *Store) Reconcile(tmpID string, confirmed models.Entity) {
	s.logger.Debug().Str("tmp_id", tmpID).Str("id", confirmed.EntityID()).Msg("reconcile")
	s.mutate(func(st *State) {
		newID := confirmed.EntityID()
		switch v := confirmed.(type) {
		case models.Project:
			if !hasKey(st.Projects, tmpID) {
				return
			}
			delete(st.Projects, tmpID)
			st.Projects[newID] = v
			replaceInLists(st.ProjectIDsByUser, tmpID, newID)
			if tids, ok := st.ThreadIDsByProject[tmpID]; ok {
				st.ThreadIDsByProject[newID] = tids
				delete(st.ThreadIDsByProject, tmpID)
			}
			if st.SelectedProjectID == tmpID {
				st.SelectedProjectID = newID
			}
		case models.Thread:
			if !hasKey(st.Threads, tmpID) {
				return
			}
			delete(st.Threads, tmpID)
			st.Threads[newID] = v
			replaceInLists(st.ThreadIDsByProject, tmpID, newID)
			if mids, ok := st.MessageIDsByThread[tmpID]; ok {
				st.MessageIDsByThread[newID] = mids
				delete(st.MessageIDsByThread, tmpID)
			}
			if st.SelectedThreadID == tmpID {
				st.SelectedThreadID = newID
			}
		case models.Message:
			if !hasKey(st.Messages, tmpID) {
				return
			}
			delete(st.Messages, tmpID)
			st.Messages[newID] = v
			replaceInLists(st.MessageIDsByThread, tmpID, newID)
		case models.User:
			if !hasKey(st.Users, tmpID) {
				return
			}
			delete(st.Users, tmpID)
			st.Users[newID] = v
			if pids, ok := st.ProjectIDsByUser[tmpID]; ok {
				st.ProjectIDsByUser[newID] = pids
				delete(st.ProjectIDsByUser, tmpID)
			}
		}
	})
}

// SetMessageContent overwrites the content of one message; the streaming
// path uses it to grow the draft reply in place.
func (s *Store) SetMessageContent(messageID, content string) {
	s.mutate(func(st *State) {
		m, ok := st.Messages[messageID]
		if !ok {
			return
		}
		m.Content = content
		st.Messages[messageID] = m
	})
}

// ProjectsForUser returns the user's projects in index order.
func (s *Store) ProjectsForUser(userID string) []models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.state.ProjectIDsByUser[userID]
	out := make([]models.Project, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.state.Projects[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// ThreadsForProject returns the project's threads in index order.
func (s *Store) ThreadsForProject(projectID string) []models.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.state.ThreadIDsByProject[projectID]
	out := make([]models.Thread, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.state.Threads[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// MessagesForThread returns the thread's messages in chronological order.
func (s *Store) MessagesForThread(threadID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.state.MessageIDsByThread[threadID]
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.state.Messages[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

// --- index list helpers ---

func pushHead(ids []string, id string) []string {
	if contains(ids, id) {
		return ids
	}
	return append([]string{id}, ids...)
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func hasKey[V any](m map[string]V, k string) bool {
	_, ok := m[k]
	return ok
}

func replaceInLists(lists map[string][]string, oldID, newID string) {
	for k, ids := range lists {
		for i, x := range ids {
			if x == oldID {
				ids[i] = newID
				lists[k] = ids
			}
		}
	}
}
