package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mc-plugin-market/assistant/internal/ai/model"
	errx "github.com/mc-plugin-market/assistant/internal/core/error"
)

func newDefaultRegistry(t *testing.T, key string) *Registry {
	t.Helper()
	r, err := New(model.DefaultSettings(key))
	require.NoError(t, err)
	return r
}

func TestResolveRoleModel(t *testing.T) {
	r := newDefaultRegistry(t, "secret")

	cfg, ok := r.ResolveRoleModel(model.RoleTranslate)
	require.True(t, ok)
	assert.Equal(t, "glm-4-flash", cfg.ID)
	assert.Equal(t, 200, cfg.MaxConcurrency)
	assert.True(t, r.IsRoleUsable(model.RoleDecision))
}

func TestResolveRoleModelAbsent(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *Registry)
	}{
		{
			name:  "unassigned role",
			setup: func(r *Registry) { r.ClearRoleAssignment(model.RoleChat) },
		},
		{
			name: "model removed",
			setup: func(r *Registry) {
				require.NoError(t, r.RemoveModel("glm-4.7-flash"))
			},
		},
		{
			name: "model disabled",
			setup: func(r *Registry) {
				require.NoError(t, r.UpdateModel("glm-4.7-flash", func(m *model.ModelConfig) { m.Enabled = false }))
			},
		},
		{
			name: "missing credential",
			setup: func(r *Registry) {
				require.NoError(t, r.UpdateModel("glm-4.7-flash", func(m *model.ModelConfig) { m.APIKey = "" }))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newDefaultRegistry(t, "secret")
			tt.setup(r)

			_, ok := r.ResolveRoleModel(model.RoleChat)
			assert.False(t, ok)
			assert.False(t, r.IsRoleUsable(model.RoleChat))

			_, err := r.RequireRoleModel(model.RoleChat)
			require.Error(t, err)
			assert.True(t, errx.IsConfig(err))
			assert.Contains(t, err.Error(), "role chat has no usable model")
		})
	}
}

func TestEmptyKeyLeavesDefaultsUnusable(t *testing.T) {
	r := newDefaultRegistry(t, "")
	for _, role := range model.Roles {
		assert.False(t, r.IsRoleUsable(role), role)
	}
}

func TestSettingsOperationsValidate(t *testing.T) {
	r := newDefaultRegistry(t, "secret")

	err := r.AddModel(model.ModelConfig{ID: "glm-4-flash", Provider: model.ProviderZhipu, Model: "x", MaxConcurrency: 1, MaxContext: 1})
	assert.True(t, errx.IsConfig(err))

	err = r.AddModel(model.ModelConfig{ID: "custom", Provider: "mystery", Model: "x", MaxConcurrency: 1, MaxContext: 1})
	assert.True(t, errx.IsConfig(err))

	err = r.AddModel(model.ModelConfig{ID: "custom", Provider: model.ProviderOpenAICompatible, Model: "x", MaxConcurrency: 0, MaxContext: 1})
	assert.True(t, errx.IsConfig(err))

	err = r.UpdateModel("glm-4-flash", func(m *model.ModelConfig) { m.MaxContext = -1 })
	assert.True(t, errx.IsConfig(err))
	cfg, _ := r.Model("glm-4-flash")
	assert.Equal(t, 8000, cfg.MaxContext)

	assert.True(t, errx.IsConfig(r.SetRoleAssignment(model.RoleChat, "missing")))
	assert.True(t, errx.IsConfig(r.SetRoleAssignment("painting", "glm-4-flash")))
}

func TestRemoveModelDropsAssignments(t *testing.T) {
	r := newDefaultRegistry(t, "secret")
	require.NoError(t, r.RemoveModel("glm-4.7-flash"))

	assignments := r.Assignments()
	assert.NotContains(t, assignments, model.RoleDecision)
	assert.NotContains(t, assignments, model.RoleChat)
	assert.Equal(t, "glm-4.5-flash", assignments[model.RoleSearch])
	assert.Len(t, r.Models(), 4)
}

func TestOnChangeReceivesSnapshot(t *testing.T) {
	r := newDefaultRegistry(t, "secret")

	var got model.Settings
	r.OnChange(func(s model.Settings) { got = s })
	require.NoError(t, r.AddModel(model.ModelConfig{
		ID: "local", Provider: model.ProviderOpenAICompatible, Model: "qwen", APIKey: "k",
		BaseURL: "http://localhost:1234/v1", MaxConcurrency: 4, MaxContext: 32000, Enabled: true,
	}))
	require.NoError(t, r.SetRoleAssignment(model.RoleChat, "local"))

	assert.Len(t, got.Models, 6)
	assert.Equal(t, "local", got.Roles[model.RoleChat])
}

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	settings := model.DefaultSettings("secret")
	require.NoError(t, SaveFile(path, settings))

	loaded, err := LoadFile(path, model.Settings{})
	require.NoError(t, err)
	assert.Equal(t, settings, loaded)

	missing, err := LoadFile(filepath.Join(t.TempDir(), "none.yaml"), settings)
	require.NoError(t, err)
	assert.Equal(t, settings, missing)
}

func TestLoadFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models: [\n"), 0o600))

	_, err := LoadFile(path, model.Settings{})
	assert.Error(t, err)
}

func TestWatchReloadsRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, SaveFile(path, model.DefaultSettings("secret")))

	r := newDefaultRegistry(t, "secret")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Watch(ctx, path))

	updated := model.DefaultSettings("secret")
	delete(updated.Roles, model.RoleVision)
	require.NoError(t, SaveFile(path, updated))

	assert.Eventually(t, func() bool {
		return !r.IsRoleUsable(model.RoleVision)
	}, 3*time.Second, 20*time.Millisecond)
}
