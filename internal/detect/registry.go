package detect

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"vigil-backend/internal/telemetry"
)

// Quota caps how fast a group type may create downstream issues:
// Limit creations per WindowSeconds, bucketed at GranularitySeconds.
// Enforcement belongs to the issue-creation collaborator; the engine
// only carries the metadata.
type Quota struct {
	WindowSeconds      int `json:"windowSeconds"`
	GranularitySeconds int `json:"granularitySeconds"`
	Limit              int `json:"limit"`
}

// ConfigValidator checks a detector's configuration blob at CRUD time.
type ConfigValidator interface {
	ValidateConfig(config json.RawMessage) error
}

// HandlerDeps carries the shared collaborators a handler factory binds
// into each per-detector handler.
type HandlerDeps struct {
	Store    *StateStore
	Logger   *slog.Logger
	Recorder telemetry.Recorder
}

// GroupType binds a detector type slug to its handler factory,
// validator and metadata. A nil HandlerFactory means the type is
// registered but cannot evaluate packets.
type GroupType struct {
	Slug            string
	Description     string
	DefaultPriority PriorityLevel
	CreationQuota   Quota
	HandlerFactory  func(detector Detector, deps HandlerDeps) Handler
	Validator       ConfigValidator
}

// Registry maps type slugs to group types. It is populated at startup
// and read-only during evaluation.
type Registry struct {
	mu    sync.RWMutex
	types map[string]GroupType
}

func NewRegistry() *Registry {
	return &Registry{types: map[string]GroupType{}}
}

func (r *Registry) Register(gt GroupType) error {
	if gt.Slug == "" {
		return fmt.Errorf("group type slug is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[gt.Slug]; exists {
		return fmt.Errorf("group type %q already registered", gt.Slug)
	}
	r.types[gt.Slug] = gt
	return nil
}

func (r *Registry) Lookup(slug string) (GroupType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gt, ok := r.types[slug]
	return gt, ok
}

// All returns the registered group types sorted by slug, for the
// catalog endpoint.
func (r *Registry) All() []GroupType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]GroupType, 0, len(r.types))
	for _, gt := range r.types {
		all = append(all, gt)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Slug < all[j].Slug })
	return all
}
