package shellctl

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/dialect"
)

func TestReadFrame(t *testing.T) {
	t.Parallel()

	m := dialect.MarkerOf("0123456789abcdef")

	tests := []struct {
		name        string
		chunks      []string
		wantPayload string
		wantTrailer string
		wantRest    string
	}{
		{
			name:        "Simple",
			chunks:      []string{m.Start() + "\nhello\n" + m.End() + ":0\n"},
			wantPayload: "hello",
			wantTrailer: ":0",
		},
		{
			name:        "NoiseBeforeStart",
			chunks:      []string{"$ prompt noise\nmore", "\n" + m.Start() + "\nout\n" + m.End() + ":3\n"},
			wantPayload: "out",
			wantTrailer: ":3",
		},
		{
			name:        "EmptyPayload",
			chunks:      []string{m.Start() + "\n\n" + m.End() + ":0\n"},
			wantPayload: "",
			wantTrailer: ":0",
		},
		{
			name:        "CRLF",
			chunks:      []string{m.Start() + "\r\nline1\r\nline2\r\n" + m.End() + ":1\r\n"},
			wantPayload: "line1\r\nline2",
			wantTrailer: ":1",
		},
		{
			name: "TokensSplitAcrossChunks",
			chunks: []string{
				"noise XPIPE_ST", "ART_0123456789abcdef\npay", "load\nXPIPE_E",
				"ND_0123456789abcdef:4", "2\n",
			},
			wantPayload: "payload",
			wantTrailer: ":42",
		},
		{
			name:        "TrailingOutputKept",
			chunks:      []string{m.Start() + "\nx\n" + m.End() + ":0\nnext command output"},
			wantPayload: "x",
			wantTrailer: ":0",
			wantRest:    "next command output",
		},
		{
			name:        "PayloadWithoutFinalNewline",
			chunks:      []string{m.Start() + "\nno newline\n" + m.End() + "\n"},
			wantPayload: "no newline",
			wantTrailer: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := newStreamBuffer()
			go func() {
				for _, c := range tt.chunks {
					b.write([]byte(c))
					time.Sleep(time.Millisecond)
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			var out bytes.Buffer
			trailer, err := readFrame(ctx, b, m.Start(), m.End(), &out)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPayload, out.String())
			assert.Equal(t, tt.wantTrailer, trailer)

			if tt.wantRest != "" {
				rest, err := b.next(ctx)
				require.NoError(t, err)
				assert.Equal(t, tt.wantRest, string(rest))
			}
		})
	}
}

func TestReadFrame_StreamClosed(t *testing.T) {
	t.Parallel()

	m := dialect.NewMarker()
	b := newStreamBuffer()
	b.write([]byte(m.Start() + "\npartial"))
	b.closeWithError(errStreamClosed)

	_, err := readFrame(context.Background(), b, m.Start(), m.End(), io.Discard)
	require.Error(t, err)
	assert.Equal(t, errkind.TransportFailure, errkind.Of(err))
}

func TestReadFrame_ContextCancelled(t *testing.T) {
	t.Parallel()

	m := dialect.NewMarker()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := readFrame(ctx, newStreamBuffer(), m.Start(), m.End(), io.Discard)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamBuffer_CancelledKeepsData(t *testing.T) {
	t.Parallel()

	b := newStreamBuffer()
	b.write([]byte("for the next reader"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.next(ctx)
	require.ErrorIs(t, err, context.Canceled)

	got, err := b.next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "for the next reader", string(got))
}

func TestSkipLine(t *testing.T) {
	t.Parallel()

	m := dialect.NewMarker()
	b := newStreamBuffer()
	b.write([]byte("junk\n" + m.ErrEnd() + "\nafter"))

	require.NoError(t, skipLine(context.Background(), b, m.ErrEnd()))
	rest, err := b.next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "after", string(rest))
}

func TestStreamBuffer_Unread(t *testing.T) {
	t.Parallel()

	b := newStreamBuffer()
	b.write([]byte("world"))
	b.unread([]byte("hello "))

	got, err := b.next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestParseExitTrailer(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, parseExitTrailer(":0"))
	assert.Equal(t, 127, parseExitTrailer(":127 "))
	assert.Equal(t, -1, parseExitTrailer(":-1"))
	assert.Equal(t, InternalErrorExitCode, parseExitTrailer(""))
	assert.Equal(t, InternalErrorExitCode, parseExitTrailer(":abc"))
}

func TestDecodeWriter(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	w, flush, err := decodeWriter(&out, "windows-1252")
	require.NoError(t, err)
	_, err = w.Write([]byte{'c', 'a', 'f', 0xE9})
	require.NoError(t, err)
	require.NoError(t, flush())
	assert.Equal(t, "café", out.String())

	w, _, err = decodeWriter(&out, "UTF-8")
	require.NoError(t, err)
	assert.Same(t, &out, w)

	_, _, err = decodeWriter(&out, "no-such-charset")
	assert.Equal(t, errkind.Unsupported, errkind.Of(err))
}

func TestTailWriter(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	tw := NewTailWriter(&out, 4)
	_, _ = tw.Write([]byte("abc"))
	_, _ = tw.Write([]byte("defg"))
	assert.Equal(t, "defg", tw.Tail())
	assert.Equal(t, "abcdefg", out.String())
}

func TestEncodePowerShell(t *testing.T) {
	t.Parallel()

	got, err := EncodePowerShell("dir")
	require.NoError(t, err)
	assert.Equal(t, "ZABpAHIA", got)
}
