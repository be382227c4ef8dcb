// Package command builds shell command lines that are rendered for a target
// dialect only when they are about to run.
//
// A Builder collects elements, environment bindings and setup callbacks.
// Build snapshots it into an immutable Command. Render is a pure function of
// the Command and a RenderContext; Evaluate first runs the setup callbacks
// against a live Target and then renders.
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/dialect"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/ostype"
)

// RenderContext is everything rendering may depend on.
type RenderContext struct {
	Dialect          dialect.Dialect
	OS               ostype.Type
	WorkingDirectory string
	TempDirectory    string
	// Values are published by setup callbacks during evaluation.
	Values Values
}

// ForDialect is a RenderContext with only a dialect, enough for most
// commands.
func ForDialect(d dialect.Dialect) RenderContext {
	return RenderContext{Dialect: d, OS: ostype.Unknown}
}

// Values carries data from setup callbacks to elements.
type Values map[string]string

// Get returns the value for key or "".
func (v Values) Get(key string) string {
	if v == nil {
		return ""
	}
	return v[key]
}

// Target is a live shell a command can be evaluated against.
type Target interface {
	RenderContext() RenderContext
	// CreateScript writes content as a script for the target's dialect and
	// returns its path.
	CreateScript(ctx context.Context, content string) (string, error)
}

// SetupFunc runs before a command is rendered. It may publish values for
// elements to read.
type SetupFunc func(ctx context.Context, t Target, values Values) error

// ElementFunc renders one element. Returning false skips the element.
type ElementFunc func(rc RenderContext) (string, bool)

type elementKind int

const (
	kindFixed elementKind = iota
	kindQuoted
	kindFile
	kindLiteral
	kindFunc
	kindValue
)

type element struct {
	kind elementKind
	text string
	fn   ElementFunc
}

func (e element) render(rc RenderContext) (string, bool) {
	switch e.kind {
	case kindFixed:
		return e.text, e.text != ""
	case kindQuoted:
		return rc.Dialect.Quote(e.text), true
	case kindFile:
		return rc.Dialect.QuoteFile(e.text), true
	case kindLiteral:
		return rc.Dialect.Literal(e.text), true
	case kindFunc:
		return e.fn(rc)
	case kindValue:
		return e.text, true
	}
	return "", false
}

type envBinding struct {
	name  string
	value element
}

// Command is an immutable command line.
type Command struct {
	elements []element
	env      []envBinding
	setups   []SetupFunc
}

// Render produces the command line for rc. Elements are joined by single
// spaces; environment bindings are prepended in the dialect's inline form.
func (c *Command) Render(rc RenderContext) string {
	if rc.Dialect == nil {
		rc.Dialect = dialect.MustLookup(dialect.Sh)
	}
	parts := make([]string, 0, len(c.elements))
	for _, el := range c.elements {
		if s, ok := el.render(rc); ok {
			parts = append(parts, s)
		}
	}
	line := strings.Join(parts, " ")

	var env []dialect.EnvVar
	for _, b := range c.env {
		if v, ok := b.value.render(rc); ok {
			env = append(env, dialect.EnvVar{Name: b.name, Value: v})
		}
	}
	return rc.Dialect.InlineEnv(env, line)
}

// Evaluate runs every setup callback once and renders against t.
func (c *Command) Evaluate(ctx context.Context, t Target) (string, error) {
	rc := t.RenderContext()
	rc.Values = make(Values)
	for i, setup := range c.setups {
		if err := setup(ctx, t, rc.Values); err != nil {
			return "", fmt.Errorf("setup %d: %w", i+1, err)
		}
	}
	return c.Render(rc), nil
}

// HasSetup reports whether evaluation has side effects.
func (c *Command) HasSetup() bool {
	return len(c.setups) > 0
}

// IsEmpty reports whether the command has no elements.
func (c *Command) IsEmpty() bool {
	return len(c.elements) == 0
}

// String renders for POSIX sh; it is meant for logs.
func (c *Command) String() string {
	return c.Render(ForDialect(dialect.MustLookup(dialect.Sh)))
}
