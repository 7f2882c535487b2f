package mockapi

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yoko36/public-AI-APP/internal/models"
)

// dataset is the mock backend's storage: one user, their projects, threads,
// messages and uploads. All access goes through the mutex.
type dataset struct {
	mu sync.Mutex

	seq         int64
	user        models.User
	projects    map[string]models.Project
	threads     map[string]models.Thread
	messages    map[string]models.Message
	attachments map[string]models.Attachment
	order       map[string]int64
}

func newDataset(sc *Scenario) *dataset {
	d := &dataset{
		projects:    make(map[string]models.Project),
		threads:     make(map[string]models.Thread),
		messages:    make(map[string]models.Message),
		attachments: make(map[string]models.Attachment),
		order:       make(map[string]int64),
	}
	d.user = models.User{ID: uuid.NewString(), DisplayName: sc.Seed.UserName, UpdatedAt: time.Now()}
	for _, p := range sc.Seed.Projects {
		proj := d.createProject(p.Name, "")
		for _, name := range p.Threads {
			d.createThread(proj.ID, name)
		}
	}
	return d
}

func (d *dataset) next(id string) int64 {
	d.seq++
	d.order[id] = d.seq
	return d.seq
}

func (d *dataset) createProject(name, overview string) models.Project {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	p := models.Project{
		ID: uuid.NewString(), OwnerUserID: d.user.ID,
		Name: name, Overview: overview, CreatedAt: now, UpdatedAt: now,
	}
	d.projects[p.ID] = p
	d.next(p.ID)
	return p
}

func (d *dataset) listProjects() []models.Project {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.Project, 0, len(d.projects))
	for _, p := range d.projects {
		out = append(out, p)
	}
	// Newest first, matching how the client renders the sidebar.
	sort.Slice(out, func(i, j int) bool { return d.order[out[i].ID] > d.order[out[j].ID] })
	return out
}

func (d *dataset) updateProject(id string, name, overview *string) (models.Project, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.projects[id]
	if !ok {
		return models.Project{}, false
	}
	if name != nil {
		p.Name = *name
	}
	if overview != nil {
		p.Overview = *overview
	}
	p.UpdatedAt = time.Now()
	d.projects[id] = p
	return p, true
}

func (d *dataset) deleteProject(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.projects[id]; !ok {
		return false
	}
	delete(d.projects, id)
	for tid, t := range d.threads {
		if t.ProjectID == id {
			d.deleteThreadLocked(tid)
		}
	}
	return true
}

func (d *dataset) createThread(projectID, name string) models.Thread {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	t := models.Thread{ID: uuid.NewString(), ProjectID: projectID, Name: name, CreatedAt: now, UpdatedAt: now}
	d.threads[t.ID] = t
	d.next(t.ID)
	return t
}

func (d *dataset) hasProject(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.projects[id]
	return ok
}

func (d *dataset) hasThread(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.threads[id]
	return ok
}

func (d *dataset) listThreads(projectID string) []models.Thread {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []models.Thread
	for _, t := range d.threads {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return d.order[out[i].ID] > d.order[out[j].ID] })
	return out
}

func (d *dataset) renameThread(id, name string) (models.Thread, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.threads[id]
	if !ok {
		return models.Thread{}, false
	}
	t.Name = name
	t.UpdatedAt = time.Now()
	d.threads[id] = t
	return t, true
}

func (d *dataset) deleteThread(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.threads[id]; !ok {
		return false
	}
	d.deleteThreadLocked(id)
	return true
}

func (d *dataset) deleteThreadLocked(id string) {
	delete(d.threads, id)
	for mid, m := range d.messages {
		if m.ThreadID == id {
			delete(d.messages, mid)
		}
	}
}

func (d *dataset) createMessage(threadID string, role models.Role, content string) models.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := models.Message{ID: uuid.NewString(), ThreadID: threadID, Role: role, Content: content, CreatedAt: time.Now()}
	d.messages[m.ID] = m
	d.next(m.ID)
	return m
}

func (d *dataset) listMessages(threadID string) []models.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []models.Message
	for _, m := range d.messages {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	// Chronological, oldest first.
	sort.Slice(out, func(i, j int) bool { return d.order[out[i].ID] < d.order[out[j].ID] })
	return out
}

func (d *dataset) addAttachment(name, mime string, size int64) models.Attachment {
	d.mu.Lock()
	defer d.mu.Unlock()
	a := models.Attachment{
		ID: uuid.NewString(), Name: name, MIME: mime, Size: size,
	}
	a.URL = "/files/" + a.ID
	a.Kind = "file"
	if strings.HasPrefix(mime, "image/") {
		a.Kind = "image"
	}
	d.attachments[a.ID] = a
	return a
}
