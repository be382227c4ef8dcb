package ostype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		probe string
		want  Type
	}{
		{"Linux\n", Linux},
		{"Darwin", MacOS},
		{"Windows_NT\r\n", Windows},
		{"MINGW64_NT-10.0-19045", Windows},
		{"FreeBSD", BSD},
		{"OpenBSD", BSD},
		{"SunOS", Solaris},
		{"", Unknown},
		{"Plan9", Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.probe, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Parse(tt.probe))
		})
	}
}

func TestJoin(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/tmp/xpipe/scripts", Linux.Join("/tmp/", "xpipe", "/scripts"))
	assert.Equal(t, `C:\Temp\xpipe\a.bat`, Windows.Join(`C:\Temp\`, "xpipe", "a.bat"))
	assert.Equal(t, "a/b", Linux.Join("a", "", "b"))
}

func TestLocal(t *testing.T) {
	t.Parallel()
	assert.NotEqual(t, Type(""), Local())
}
