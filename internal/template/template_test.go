package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render("Hi {{ name }} from {{ company }}", map[string]string{"name": "Ana", "company": "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana from Acme", out)
}

func TestRender_DefaultFilter(t *testing.T) {
	r := NewRenderer()
	tpl := `Hi {{ name | default: "there" }}`

	out, err := r.Render(tpl, map[string]string{"name": ""})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", out)

	out, err = r.Render(tpl, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", out)
}

func TestRender_PlainText(t *testing.T) {
	out, err := NewRenderer().Render("no variables here", nil)
	require.NoError(t, err)
	assert.Equal(t, "no variables here", out)
}

func TestValidate(t *testing.T) {
	r := NewRenderer()
	assert.NoError(t, r.Validate("Hello {{ name }}"))
	assert.ErrorIs(t, r.Validate("{% if x %}open"), ErrInvalidTemplate)
}
