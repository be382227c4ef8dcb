package command

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/dialect"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/ostype"
)

func rc(id dialect.ID) RenderContext {
	return ForDialect(dialect.MustLookup(id))
}

type fakeTarget struct {
	ctx     RenderContext
	scripts []string
}

func (f *fakeTarget) RenderContext() RenderContext { return f.ctx }

func (f *fakeTarget) CreateScript(_ context.Context, content string) (string, error) {
	f.scripts = append(f.scripts, content)
	return "/tmp/xpipe/scripts/s" + f.ctx.Dialect.ScriptExtension(), nil
}

func TestRender_PinnedPerDialect(t *testing.T) {
	t.Parallel()

	cmd := Of("echo").AddQuoted("a b").Build()
	tests := []struct {
		dialect dialect.ID
		want    string
	}{
		{dialect.Sh, `echo "a b"`},
		{dialect.Bash, `echo "a b"`},
		{dialect.Fish, `echo "a b"`},
		{dialect.Cmd, `echo "a b"`},
		{dialect.PowerShell, `echo 'a b'`},
		{dialect.Pwsh, `echo 'a b'`},
	}
	for _, tt := range tests {
		t.Run(string(tt.dialect), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, cmd.Render(rc(tt.dialect)))
		})
	}
}

func TestRender_ElementKinds(t *testing.T) {
	t.Parallel()

	cmd := Of("cp").
		AddFile("~/my file").
		AddLiteral("$dest").
		AddFunc(func(rc RenderContext) (string, bool) {
			return rc.Dialect.NullDevice(), true
		}).
		Build()

	assert.Equal(t, `cp ~/"my file" '$dest' /dev/null`, cmd.Render(rc(dialect.Sh)))
	assert.Equal(t, `cp '~/my file' '$dest' $null`, cmd.Render(rc(dialect.PowerShell)))
}

func TestRender_SkippedElements(t *testing.T) {
	t.Parallel()

	skip := func(RenderContext) (string, bool) { return "", false }
	onlyWindows := func(rc RenderContext) (string, bool) {
		return "/Q", rc.Dialect.Family() == dialect.FamilyCmd
	}

	cmd := Of("del").AddFunc(skip).AddFunc(onlyWindows).Add("").AddQuoted("x").Build()

	assert.Equal(t, `del "x"`, cmd.Render(rc(dialect.Sh)))
	assert.Equal(t, `del /Q "x"`, cmd.Render(rc(dialect.Cmd)))

	allSkipped := new(Builder).AddFunc(skip).Build()
	assert.Equal(t, "", allSkipped.Render(rc(dialect.Sh)))
}

func TestRender_Environment(t *testing.T) {
	t.Parallel()

	b := Of("env").
		Env("A", "1").
		Env("B", "x y").
		EnvFunc("SKIP", func(RenderContext) (string, bool) { return "", false }).
		Env("EMPTY", "")

	assert.Equal(t, `A="1" B="x y" EMPTY="" env`, b.Build().Render(rc(dialect.Sh)))
	assert.Equal(t, `$env:A = '1'; $env:B = 'x y'; $env:EMPTY = ''; env`, b.Build().Render(rc(dialect.Pwsh)))
}

func TestAddBuilder_Composition(t *testing.T) {
	t.Parallel()

	inner := Of("ls").AddQuoted("-la").Env("LANG", "C").Env("X", "inner")
	outer := Of("sudo").Env("X", "outer").Env("Y", "1").AddBuilder(inner)

	// X keeps its first position but takes the later value
	assert.Equal(t, `X="inner" Y="1" LANG="C" sudo ls "-la"`, outer.Build().Render(rc(dialect.Sh)))
}

func TestBuild_Immutable(t *testing.T) {
	t.Parallel()

	b := Of("echo").AddQuoted("one")
	cmd := b.Build()
	b.AddQuoted("two").Env("A", "1")

	assert.Equal(t, `echo "one"`, cmd.Render(rc(dialect.Sh)))
	assert.Equal(t, `A="1" echo "one" "two"`, b.Build().Render(rc(dialect.Sh)))
}

func TestEvaluate_Deterministic(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cmd := Of("cat").
		Setup(func(_ context.Context, _ Target, v Values) error {
			calls.Add(1)
			v["file"] = "/etc/hosts"
			return nil
		}).
		AddFunc(func(rc RenderContext) (string, bool) {
			return rc.Dialect.QuoteFile(rc.Values.Get("file")), true
		}).
		AddFunc(func(rc RenderContext) (string, bool) {
			return rc.WorkingDirectory, rc.OS == ostype.Linux
		}).
		Build()

	target := &fakeTarget{ctx: RenderContext{
		Dialect:          dialect.MustLookup(dialect.Bash),
		OS:               ostype.Linux,
		WorkingDirectory: "/home/me",
	}}

	first, err := cmd.Evaluate(context.Background(), target)
	require.NoError(t, err)
	second, err := cmd.Evaluate(context.Background(), target)
	require.NoError(t, err)

	assert.Equal(t, `cat "/etc/hosts" /home/me`, first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEvaluate_SetupError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	cmd := Of("true").Setup(func(context.Context, Target, Values) error { return boom }).Build()

	_, err := cmd.Evaluate(context.Background(), &fakeTarget{ctx: rc(dialect.Sh)})
	assert.ErrorIs(t, err, boom)
}

func TestAddScript(t *testing.T) {
	t.Parallel()

	cmd := Of("cd /tmp &&").AddScript("echo 1\necho 2").Build()
	target := &fakeTarget{ctx: rc(dialect.Bash)}

	out, err := cmd.Evaluate(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, `cd /tmp && bash "/tmp/xpipe/scripts/s.sh"`, out)
	assert.Equal(t, []string{"echo 1\necho 2"}, target.scripts)

	// rendering without evaluation skips the script invocation
	assert.Equal(t, "cd /tmp &&", cmd.Render(rc(dialect.Bash)))
	assert.True(t, cmd.HasSetup())
}

func TestCommand_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `echo "a b"`, Of("echo").AddQuoted("a b").Build().String())
	assert.True(t, new(Builder).Build().IsEmpty())
}
