// Package models defines the chat domain entities mirrored from the backend:
// users own projects, projects hold threads, threads hold messages.
package models

import "time"

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// User is the root of ownership.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"name"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Project belongs to one user.
type Project struct {
	ID          string    `json:"id"`
	OwnerUserID string    `json:"userId"`
	Name        string    `json:"name"`
	Overview    string    `json:"overview,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Thread belongs to one project.
type Thread struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message belongs to one thread.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Entity is satisfied by every domain record. The id is an opaque string;
// temporary client-minted ids and server ids share the type but never a value.
type Entity interface {
	EntityID() string
}

func (u User) EntityID() string    { return u.ID }
func (p Project) EntityID() string { return p.ID }
func (t Thread) EntityID() string  { return t.ID }
func (m Message) EntityID() string { return m.ID }

// Attachment describes one uploaded file as reported by the backend.
type Attachment struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	MIME string `json:"mime"`
	Kind string `json:"kind"` // "image" or "file"
}
