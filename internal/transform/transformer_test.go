package transform

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-forwarder/internal/config"
	"crm-forwarder/internal/models"
)

func sampleEvent() *models.ChangeEvent {
	return &models.ChangeEvent{
		UserID:      uuid.MustParse("8d3bfc2a-6f4e-4d0a-9d3e-0c4a9e2f1b57"),
		MessageName: "Update",
		LogicalName: "contact",
		ID:          uuid.MustParse("3fa85f64-5717-4562-b3fc-2c963f66afa6"),
		Attributes: map[string]interface{}{
			"name":  "Jane",
			"email": "jane@example.com",
			"ssn":   "000-00-0000",
		},
		OccurredAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestTransformer(t *testing.T, cfg *config.ProcessorConfig) *Transformer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	tr, err := NewTransformer(cfg, logger)
	require.NoError(t, err)
	return tr
}

func TestDisabledPassthrough(t *testing.T) {
	tr := newTestTransformer(t, &config.ProcessorConfig{Enabled: false})

	event := sampleEvent()
	got, err := tr.Transform(event)
	require.NoError(t, err)
	assert.Same(t, event, got)
}

func TestRuleExcludeAndRename(t *testing.T) {
	tr := newTestTransformer(t, &config.ProcessorConfig{
		Enabled: true,
		Rules: []config.TransformRule{
			{
				Entity:    "contact",
				Exclude:   []string{"ssn"},
				Rename:    map[string]string{"email": "email_address"},
				AddFields: map[string]string{"forwarded_by": "crm-forwarder"},
			},
		},
	})

	got, err := tr.Transform(sampleEvent())
	require.NoError(t, err)

	assert.Equal(t, "Jane", got.Attributes["name"])
	assert.Equal(t, "jane@example.com", got.Attributes["email_address"])
	assert.Equal(t, "crm-forwarder", got.Attributes["forwarded_by"])
	assert.NotContains(t, got.Attributes, "ssn")
	assert.NotContains(t, got.Attributes, "email")

	// Identity fields survive the attribute rewrite
	assert.Equal(t, "contact", got.LogicalName)
	assert.Equal(t, "Update", got.MessageName)
	assert.Equal(t, sampleEvent().ID, got.ID)
}

func TestRuleInclude(t *testing.T) {
	tr := newTestTransformer(t, &config.ProcessorConfig{
		Enabled: true,
		Rules: []config.TransformRule{
			{Include: []string{"name"}},
		},
	})

	got, err := tr.Transform(sampleEvent())
	require.NoError(t, err)
	assert.Len(t, got.Attributes, 1)
	assert.Equal(t, "Jane", got.Attributes["name"])
}

func TestRuleNoMatchLeavesEventUntouched(t *testing.T) {
	tr := newTestTransformer(t, &config.ProcessorConfig{
		Enabled: true,
		Rules: []config.TransformRule{
			{Entity: "account", Exclude: []string{"name"}},
		},
	})

	event := sampleEvent()
	got, err := tr.Transform(event)
	require.NoError(t, err)
	assert.Same(t, event, got)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transform.js")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestScriptTransform(t *testing.T) {
	script := writeScript(t, `
(function(event) {
	event.attributes.name = event.attributes.name.toUpperCase();
	return event;
})
`)
	tr := newTestTransformer(t, &config.ProcessorConfig{Enabled: true, Script: script})

	got, err := tr.Transform(sampleEvent())
	require.NoError(t, err)
	assert.Equal(t, "JANE", got.Attributes["name"])
	assert.Equal(t, "contact", got.LogicalName)
	assert.Equal(t, sampleEvent().ID, got.ID)
}

func TestScriptRejectsEvent(t *testing.T) {
	script := writeScript(t, `
function transform(event) {
	if (event.logical_name === "contact") {
		return null;
	}
	return event;
}
`)
	tr := newTestTransformer(t, &config.ProcessorConfig{Enabled: true, Script: script})

	_, err := tr.Transform(sampleEvent())
	assert.True(t, errors.Is(err, ErrEventRejected))
}

func TestScriptMustBeFunction(t *testing.T) {
	script := writeScript(t, `var x = 42;`)
	logger, _ := test.NewNullLogger()

	_, err := NewTransformer(&config.ProcessorConfig{Enabled: true, Script: script}, logger)
	assert.Error(t, err)
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ProcessorConfig
		wantErr bool
	}{
		{
			name: "disabled is always valid",
			cfg:  config.ProcessorConfig{Enabled: false, Script: "missing.js"},
		},
		{
			name: "include and exclude conflict",
			cfg: config.ProcessorConfig{
				Enabled: true,
				Rules:   []config.TransformRule{{Include: []string{"a"}, Exclude: []string{"b"}}},
			},
			wantErr: true,
		},
		{
			name: "rename key outside include list",
			cfg: config.ProcessorConfig{
				Enabled: true,
				Rules:   []config.TransformRule{{Include: []string{"a"}, Rename: map[string]string{"b": "c"}}},
			},
			wantErr: true,
		},
		{
			name: "rename inside include list",
			cfg: config.ProcessorConfig{
				Enabled: true,
				Rules:   []config.TransformRule{{Include: []string{"a"}, Rename: map[string]string{"a": "b"}}},
			},
		},
		{
			name:    "missing script file",
			cfg:     config.ProcessorConfig{Enabled: true, Script: "does-not-exist.js"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRules(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
