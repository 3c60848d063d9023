// Package preview turns the selected file into an ephemeral, locally
// resolvable reference for display. Nothing here touches disk or network.
package preview

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/example/optic/internal/intake"
)

// ErrNoFile is returned when asked to preview a nil file.
var ErrNoFile = errors.New("preview: no file")

// Preview is a live reference to an in-memory image.
type Preview struct {
	Ref      string    `json:"ref"`
	URL      string    `json:"url"`
	MIMEType string    `json:"mime_type"`
	Size     int       `json:"size"`
	FileID   uuid.UUID `json:"file_id"`
}

type entry struct {
	data     []byte
	mimeType string
}

// Store is the process wide registry previews are resolved from.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]entry
	basePath string
}

// NewStore constructs a registry whose URLs are rooted at basePath.
func NewStore(basePath string) *Store {
	return &Store{
		entries:  make(map[string]entry),
		basePath: strings.TrimRight(basePath, "/"),
	}
}

// Resolve returns the bytes behind a live reference.
func (s *Store) Resolve(ref string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[ref]
	return e.data, e.mimeType, ok
}

// Live reports how many previews are currently resolvable.
func (s *Store) Live() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) put(file *intake.SelectedFile) *Preview {
	ref := uuid.NewString()
	s.mu.Lock()
	s.entries[ref] = entry{data: file.Data, mimeType: file.MIMEType}
	s.mu.Unlock()
	return &Preview{
		Ref:      ref,
		URL:      s.basePath + "/" + ref,
		MIMEType: file.MIMEType,
		Size:     len(file.Data),
		FileID:   file.ID,
	}
}

func (s *Store) release(ref string) {
	s.mu.Lock()
	delete(s.entries, ref)
	s.mu.Unlock()
}

// Generator owns at most one live preview at a time.
type Generator struct {
	store   *Store
	mu      sync.Mutex
	current *Preview
}

// NewGenerator constructs a Generator backed by store.
func NewGenerator(store *Store) *Generator {
	return &Generator{store: store}
}

// Generate releases the previous preview and registers a new one for file.
func (g *Generator) Generate(file *intake.SelectedFile) (*Preview, error) {
	if file == nil {
		return nil, ErrNoFile
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releaseLocked()
	g.current = g.store.put(file)
	p := *g.current
	return &p, nil
}

// Release drops the current preview, if any. Safe to call repeatedly.
func (g *Generator) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releaseLocked()
}

// Current returns a copy of the live preview, or nil.
func (g *Generator) Current() *Preview {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return nil
	}
	p := *g.current
	return &p
}

func (g *Generator) releaseLocked() {
	if g.current == nil {
		return
	}
	g.store.release(g.current.Ref)
	g.current = nil
}
