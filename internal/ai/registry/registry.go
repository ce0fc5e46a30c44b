// Package registry holds model configurations and resolves roles to models
// at call time.
package registry

import (
	"fmt"
	"sync"

	"github.com/mc-plugin-market/assistant/internal/ai/model"
	errx "github.com/mc-plugin-market/assistant/internal/core/error"
)

// Registry is a concurrency-safe lookup table of models and role assignments.
type Registry struct {
	mu     sync.RWMutex
	models map[string]model.ModelConfig
	order  []string
	roles  map[model.Role]string

	onChange []func(model.Settings)
}

// New builds a registry from settings. Invalid entries are rejected.
func New(settings model.Settings) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(settings); err != nil {
		return nil, err
	}
	return r, nil
}

// ResolveRoleModel returns the model assigned to role when it is usable.
// It reports false when the role is unassigned, the model was removed, is
// disabled, or has no API key.
func (r *Registry) ResolveRoleModel(role model.Role) (model.ModelConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.roles[role]
	if !ok {
		return model.ModelConfig{}, false
	}
	cfg, ok := r.models[id]
	if !ok || !cfg.Usable() {
		return model.ModelConfig{}, false
	}
	return cfg, true
}

// IsRoleUsable reports whether ResolveRoleModel would succeed.
func (r *Registry) IsRoleUsable(role model.Role) bool {
	_, ok := r.ResolveRoleModel(role)
	return ok
}

// RequireRoleModel is ResolveRoleModel that returns a configuration error.
func (r *Registry) RequireRoleModel(role model.Role) (model.ModelConfig, error) {
	cfg, ok := r.ResolveRoleModel(role)
	if !ok {
		return model.ModelConfig{}, errx.Config("role %s has no usable model", role)
	}
	return cfg, nil
}

// Model returns the config stored under id regardless of usability.
func (r *Registry) Model(id string) (model.ModelConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.models[id]
	return cfg, ok
}

// Models returns every model in insertion order.
func (r *Registry) Models() []model.ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ModelConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id])
	}
	return out
}

// Assignments returns a copy of the role table.
func (r *Registry) Assignments() map[model.Role]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[model.Role]string, len(r.roles))
	for role, id := range r.roles {
		out[role] = id
	}
	return out
}

func (r *Registry) AddModel(cfg model.ModelConfig) error {
	if err := cfg.Validate(); err != nil {
		return errx.Config("%v", err)
	}
	r.mu.Lock()
	if _, exists := r.models[cfg.ID]; exists {
		r.mu.Unlock()
		return errx.Config("model %s already exists", cfg.ID)
	}
	r.models[cfg.ID] = cfg
	r.order = append(r.order, cfg.ID)
	r.mu.Unlock()

	r.notify()
	return nil
}

// UpdateModel applies mutate to a copy of the model and stores it when the
// result is still valid. The id cannot change.
func (r *Registry) UpdateModel(id string, mutate func(*model.ModelConfig)) error {
	r.mu.Lock()
	cfg, ok := r.models[id]
	if !ok {
		r.mu.Unlock()
		return errx.Config("model %s not found", id)
	}
	mutate(&cfg)
	cfg.ID = id
	if err := cfg.Validate(); err != nil {
		r.mu.Unlock()
		return errx.Config("%v", err)
	}
	r.models[id] = cfg
	r.mu.Unlock()

	r.notify()
	return nil
}

// RemoveModel deletes a model and every role assignment pointing at it.
func (r *Registry) RemoveModel(id string) error {
	r.mu.Lock()
	if _, ok := r.models[id]; !ok {
		r.mu.Unlock()
		return errx.Config("model %s not found", id)
	}
	delete(r.models, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	for role, assigned := range r.roles {
		if assigned == id {
			delete(r.roles, role)
		}
	}
	r.mu.Unlock()

	r.notify()
	return nil
}

func (r *Registry) SetRoleAssignment(role model.Role, id string) error {
	if _, err := model.ParseRole(string(role)); err != nil {
		return errx.Config("%v", err)
	}
	r.mu.Lock()
	if _, ok := r.models[id]; !ok {
		r.mu.Unlock()
		return errx.Config("model %s not found", id)
	}
	r.roles[role] = id
	r.mu.Unlock()

	r.notify()
	return nil
}

func (r *Registry) ClearRoleAssignment(role model.Role) {
	r.mu.Lock()
	delete(r.roles, role)
	r.mu.Unlock()

	r.notify()
}

// Snapshot returns the registry as persistable settings.
func (r *Registry) Snapshot() model.Settings {
	return model.Settings{
		Models: r.Models(),
		Roles:  r.Assignments(),
	}
}

// Replace swaps the whole registry content atomically. Role assignments
// may point at unknown ids; those roles simply resolve as absent.
func (r *Registry) Replace(settings model.Settings) error {
	models := make(map[string]model.ModelConfig, len(settings.Models))
	order := make([]string, 0, len(settings.Models))
	for _, cfg := range settings.Models {
		if err := cfg.Validate(); err != nil {
			return errx.Config("%v", err)
		}
		if _, dup := models[cfg.ID]; dup {
			return errx.Config("duplicate model id %s", cfg.ID)
		}
		models[cfg.ID] = cfg
		order = append(order, cfg.ID)
	}
	roles := make(map[model.Role]string, len(settings.Roles))
	for role, id := range settings.Roles {
		if _, err := model.ParseRole(string(role)); err != nil {
			return errx.Config("%v", err)
		}
		roles[role] = id
	}

	r.mu.Lock()
	r.models = models
	r.order = order
	r.roles = roles
	r.mu.Unlock()
	return nil
}

// OnChange registers fn to run after every settings operation.
func (r *Registry) OnChange(fn func(model.Settings)) {
	r.mu.Lock()
	r.onChange = append(r.onChange, fn)
	r.mu.Unlock()
}

func (r *Registry) notify() {
	r.mu.RLock()
	callbacks := append([]func(model.Settings){}, r.onChange...)
	r.mu.RUnlock()
	if len(callbacks) == 0 {
		return
	}
	snapshot := r.Snapshot()
	for _, fn := range callbacks {
		fn(snapshot)
	}
}

// Describe renders one line per role for CLI output.
func (r *Registry) Describe() []string {
	assignments := r.Assignments()
	lines := make([]string, 0, len(model.Roles))
	for _, role := range model.Roles {
		id, assigned := assignments[role]
		status := "unassigned"
		switch {
		case assigned && r.IsRoleUsable(role):
			status = "ok"
		case assigned:
			status = "unusable"
		}
		lines = append(lines, fmt.Sprintf("%-10s %-16s %s", role, id, status))
	}
	return lines
}
