package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTemplate(t *testing.T) {
	vars := map[string]string{
		"full_name": "Jane Doe",
		"cctv_name": "North Gate",
	}
	got := RenderTemplate("Dear {full_name}, camera {cctv_name} fired.", vars)
	assert.Equal(t, "Dear Jane Doe, camera North Gate fired.", got)
}

func TestRenderTemplate_UnknownPlaceholderSurvives(t *testing.T) {
	got := RenderTemplate("Hello {full_name}, see {tyop}.", map[string]string{"full_name": "Jane"})
	assert.Equal(t, "Hello Jane, see {tyop}.", got)
}

func TestRenderTemplate_NoVars(t *testing.T) {
	tpl := "static {anything}"
	assert.Equal(t, tpl, RenderTemplate(tpl, nil))
}

func TestRenderTemplate_ValueIsNotReExpanded(t *testing.T) {
	// a value that happens to look like a placeholder must land verbatim
	vars := map[string]string{
		"full_name": "{location}",
		"location":  "Dock 4",
	}
	got := RenderTemplate("{full_name} at {location}", vars)
	assert.Equal(t, "{location} at Dock 4", got)
}

func TestRenderTemplate_RepeatedPlaceholder(t *testing.T) {
	got := RenderTemplate("{n} and {n}", map[string]string{"n": "x"})
	assert.Equal(t, "x and x", got)
}
