package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/ostype"
)

func TestCapabilities(t *testing.T) {
	t.Parallel()

	types := []Type{
		WindowsTerminal, PowerShell, Cmd, MacOSTerminal, ITerm2, Kitty,
		Alacritty, WezTerm, GnomeTerminal, Konsole, Xfce4Terminal, XTerm,
	}
	require.Len(t, All(), len(types))

	seen := make(map[Type]bool)
	for _, typ := range types {
		info, ok := Lookup(typ)
		require.True(t, ok, typ)
		assert.NotEmpty(t, info.Name, typ)
		assert.NotEmpty(t, info.Platforms, typ)
		assert.NotEmpty(t, info.Executables, typ)
		assert.NotNil(t, info.launch, typ)
		assert.False(t, seen[typ], "duplicate entry for %s", typ)
		seen[typ] = true
	}

	_, ok := Lookup("hyper")
	assert.False(t, ok)
}

func TestForOS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		os    ostype.Type
		first Type
		has   []Type
		lacks []Type
	}{
		{os: ostype.Windows, first: WindowsTerminal, has: []Type{PowerShell, Cmd, WezTerm}, lacks: []Type{Kitty, XTerm}},
		{os: ostype.MacOS, first: ITerm2, has: []Type{MacOSTerminal, Kitty}, lacks: []Type{Cmd, GnomeTerminal}},
		{os: ostype.Linux, first: Kitty, has: []Type{GnomeTerminal, XTerm}, lacks: []Type{MacOSTerminal, WindowsTerminal}},
	}
	for _, tt := range tests {
		t.Run(tt.os.String(), func(t *testing.T) {
			t.Parallel()

			infos := ForOS(tt.os)
			require.NotEmpty(t, infos)
			assert.Equal(t, tt.first, infos[0].Type)

			var got []Type
			for _, info := range infos {
				got = append(got, info.Type)
			}
			assert.Subset(t, got, tt.has)
			for _, typ := range tt.lacks {
				assert.NotContains(t, got, typ)
			}
		})
	}
}
