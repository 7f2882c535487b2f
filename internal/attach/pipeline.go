// Package attach queues files picked for the next chat exchange and pushes
// them to the backend before the message is sent.
package attach

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yoko36/public-AI-APP/internal/models"
)

// Status is the lifecycle of one queued file.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusDone      Status = "done"
	StatusError     Status = "error"
)

// Item is one file in the queue.
type Item struct {
	LocalID string
	Name    string
	MIME    string
	Size    int64
	Kind    string // "image" or "file", derived from MIME
	Status  Status
	Err     error

	// Remote is set after a successful upload.
	Remote models.Attachment

	data []byte
}

// Uploader pushes one file to the backend. *api.Client satisfies it.
type Uploader interface {
	UploadAttachment(ctx context.Context, name string, r io.Reader) (models.Attachment, error)
}

// Pipeline holds the files staged for the next exchange. All methods are
// safe for concurrent use.
type Pipeline struct {
	mu       sync.Mutex
	items    []Item
	maxCount int
	maxBytes int64
	logger   zerolog.Logger
}

// New returns a pipeline enforcing the given per-exchange limits.
func New(maxCount int, maxBytes int64, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		maxCount: maxCount,
		maxBytes: maxBytes,
		logger:   logger.With().Str("component", "attach").Logger(),
	}
}

// KindForMIME buckets a MIME type the way the backend renders it.
func KindForMIME(mime string) string {
	if strings.HasPrefix(mime, "image/") {
		return "image"
	}
	return "file"
}

// Add stages one file. It fails when the queue is full or the combined size
// would exceed the limit; the queue is left unchanged on failure.
func (p *Pipeline) Add(name, mime string, data []byte) (Item, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.items) >= p.maxCount {
		return Item{}, fmt.Errorf("attachment limit reached (%d files)", p.maxCount)
	}
	total := int64(len(data))
	for _, it := range p.items {
		total += it.Size
	}
	if total > p.maxBytes {
		return Item{}, fmt.Errorf("attachments exceed %d bytes", p.maxBytes)
	}

	it := Item{
		LocalID: "att-" + uuid.NewString(),
		Name:    name,
		MIME:    mime,
		Size:    int64(len(data)),
		Kind:    KindForMIME(mime),
		Status:  StatusPending,
		data:    data,
	}
	p.items = append(p.items, it)
	p.logger.Debug().Str("name", name).Int64("size", it.Size).Msg("attachment staged")
	return it, nil
}

// Remove drops one staged file by local id.
func (p *Pipeline) Remove(localID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, it := range p.items {
		if it.LocalID == localID {
			p.items = append(p.items[:i], p.items[i+1:]...)
			return
		}
	}
}

// Items returns a snapshot of the queue in staging order.
func (p *Pipeline) Items() []Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Item, len(p.items))
	copy(out, p.items)
	return out
}

// Clear empties the queue.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = nil
}

// UploadAll uploads every pending file in order. A per-file failure marks
// that item and moves on; the first error is returned after the sweep so
// callers know the batch was incomplete. Successful items carry the remote
// attachment record. Items removed from the queue while their upload is
// queued or in flight are skipped.
func (p *Pipeline) UploadAll(ctx context.Context, up Uploader) ([]Item, error) {
	p.mu.Lock()
	queue := make([]string, 0, len(p.items))
	for i := range p.items {
		if p.items[i].Status == StatusPending || p.items[i].Status == StatusError {
			p.items[i].Status = StatusUploading
			p.items[i].Err = nil
			queue = append(queue, p.items[i].LocalID)
		}
	}
	p.mu.Unlock()

	var firstErr error
	for _, localID := range queue {
		it, ok := p.lookup(localID)
		if !ok {
			continue
		}

		remote, err := up.UploadAttachment(ctx, it.Name, bytes.NewReader(it.data))
		p.finish(localID, remote, err)
		if err != nil && firstErr == nil {
			firstErr = err
		}

		if ctx.Err() != nil {
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			break
		}
	}
	return p.Items(), firstErr
}

func (p *Pipeline) lookup(localID string) (Item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, it := range p.items {
		if it.LocalID == localID {
			return it, true
		}
	}
	return Item{}, false
}

// finish records one upload result, unless the item was removed meanwhile.
func (p *Pipeline) finish(localID string, remote models.Attachment, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.items {
		if p.items[i].LocalID != localID {
			continue
		}
		if err != nil {
			p.items[i].Status = StatusError
			p.items[i].Err = err
			p.logger.Warn().Err(err).Str("name", p.items[i].Name).Msg("attachment upload failed")
		} else {
			p.items[i].Status = StatusDone
			p.items[i].Remote = remote
		}
		return
	}
}

// UploadedIDs returns the backend ids of every completed upload.
func (p *Pipeline) UploadedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for _, it := range p.items {
		if it.Status == StatusDone && it.Remote.ID != "" {
			ids = append(ids, it.Remote.ID)
		}
	}
	return ids
}
