// Package template personalizes campaign messages with Liquid templates.
//
// Templates are rendered against the variables snapshot captured when a
// recipient was added, e.g. "Hi {{ name | default: 'there' }}".
package template

import (
	"errors"
	"fmt"
	"sync"

	"github.com/osteele/liquid"
)

// ErrInvalidTemplate wraps Liquid syntax errors.
var ErrInvalidTemplate = errors.New("invalid message template")

// Renderer parses and renders Liquid templates, caching parsed templates by
// source text.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a renderer with the message filters registered.
func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	// {{ name | default: "there" }}
	engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s, ok := value.(string); ok && s == "" {
			return fallback
		}
		return value
	})

	return &Renderer{engine: engine}
}

// Validate reports a syntax error in src, wrapped in ErrInvalidTemplate.
func (r *Renderer) Validate(src string) error {
	_, err := r.parse(src)
	return err
}

// Render renders src with vars. Missing variables render as empty strings.
func (r *Renderer) Render(src string, vars map[string]string) (string, error) {
	tpl, err := r.parse(src)
	if err != nil {
		return "", err
	}
	bindings := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		bindings[k] = v
	}
	out, rerr := tpl.RenderString(bindings)
	if rerr != nil {
		return "", fmt.Errorf("render template: %w", rerr)
	}
	return out, nil
}

func (r *Renderer) parse(src string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(src); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := r.engine.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	r.cache.Store(src, tpl)
	return tpl, nil
}
