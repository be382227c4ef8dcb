package command

import (
	"context"
	"fmt"
)

// Builder accumulates a command. It is not safe for concurrent use; Build
// the command before sharing it.
type Builder struct {
	elements []element
	env      []envBinding
	setups   []SetupFunc
	scripts  int
}

// Of starts a builder with fixed parts.
func Of(parts ...string) *Builder {
	return new(Builder).Add(parts...)
}

// Add appends parts verbatim.
func (b *Builder) Add(parts ...string) *Builder {
	for _, p := range parts {
		b.elements = append(b.elements, element{kind: kindFixed, text: p})
	}
	return b
}

// AddIf appends parts only when cond is true.
func (b *Builder) AddIf(cond bool, parts ...string) *Builder {
	if cond {
		b.Add(parts...)
	}
	return b
}

// AddQuoted appends arguments quoted for the target dialect.
func (b *Builder) AddQuoted(args ...string) *Builder {
	for _, a := range args {
		b.elements = append(b.elements, element{kind: kindQuoted, text: a})
	}
	return b
}

// AddFile appends a path quoted as a file argument.
func (b *Builder) AddFile(path string) *Builder {
	b.elements = append(b.elements, element{kind: kindFile, text: path})
	return b
}

// AddLiteral appends an argument in the dialect's non-interpolating quotes.
func (b *Builder) AddLiteral(arg string) *Builder {
	b.elements = append(b.elements, element{kind: kindLiteral, text: arg})
	return b
}

// AddFunc appends an element computed at render time. An element whose
// function returns false is skipped.
func (b *Builder) AddFunc(fn ElementFunc) *Builder {
	b.elements = append(b.elements, element{kind: kindFunc, fn: fn})
	return b
}

// AddBuilder inlines other. Its environment is merged into b's; on a name
// clash other's value wins.
func (b *Builder) AddBuilder(other *Builder) *Builder {
	if other == nil {
		return b
	}
	return b.AddCommand(other.Build())
}

// AddCommand inlines a built command, merging its environment like
// AddBuilder.
func (b *Builder) AddCommand(c *Command) *Builder {
	if c == nil {
		return b
	}
	b.elements = append(b.elements, c.elements...)
	for _, e := range c.env {
		b.setEnv(e.name, e.value)
	}
	b.setups = append(b.setups, c.setups...)
	return b
}

// Env binds a fixed environment variable for the command.
func (b *Builder) Env(name, value string) *Builder {
	b.setEnv(name, element{kind: kindValue, text: value})
	return b
}

// EnvFunc binds an environment variable computed at render time. A
// function returning false leaves the variable unset.
func (b *Builder) EnvFunc(name string, fn ElementFunc) *Builder {
	b.setEnv(name, element{kind: kindFunc, fn: fn})
	return b
}

// Envs binds every entry of env in the given key order.
func (b *Builder) Envs(keys []string, env map[string]string) *Builder {
	for _, k := range keys {
		if v, ok := env[k]; ok {
			b.Env(k, v)
		}
	}
	return b
}

func (b *Builder) setEnv(name string, value element) {
	for i := range b.env {
		if b.env[i].name == name {
			b.env[i].value = value
			return
		}
	}
	b.env = append(b.env, envBinding{name: name, value: value})
}

// Setup registers a callback that runs before each evaluation.
func (b *Builder) Setup(fn SetupFunc) *Builder {
	b.setups = append(b.setups, fn)
	return b
}

// AddScript writes content to a script on the target at evaluation time and
// appends the dialect's invocation of it. Each evaluation writes a fresh
// script, so the rendered line differs between evaluations. Commands run by
// a session remove their scripts once they finished.
func (b *Builder) AddScript(content string) *Builder {
	b.scripts++
	key := fmt.Sprintf("script-%d-%p", b.scripts, b)
	b.Setup(func(ctx context.Context, t Target, values Values) error {
		path, err := t.CreateScript(ctx, content)
		if err != nil {
			return err
		}
		values[key] = path
		return nil
	})
	return b.AddFunc(func(rc RenderContext) (string, bool) {
		path := rc.Values.Get(key)
		if path == "" {
			return "", false
		}
		return rc.Dialect.RunScript(path), true
	})
}

// Build snapshots the builder. Later changes to b do not affect the result.
func (b *Builder) Build() *Command {
	c := &Command{
		elements: make([]element, len(b.elements)),
		env:      make([]envBinding, len(b.env)),
		setups:   make([]SetupFunc, len(b.setups)),
	}
	copy(c.elements, b.elements)
	copy(c.env, b.env)
	copy(c.setups, b.setups)
	return c
}
