package shellctl

import (
	"io"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
)

// decodeWriter returns a writer that decodes output in charset to UTF-8
// before passing it to w, and a function flushing pending bytes.
func decodeWriter(w io.Writer, charset string) (io.Writer, func() error, error) {
	switch strings.ToLower(strings.ReplaceAll(charset, "-", "")) {
	case "", "utf8":
		return w, func() error { return nil }, nil
	}
	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil || enc == nil {
		return nil, nil, errkind.Errorf(errkind.Unsupported, "charset", "unknown charset %q", charset)
	}
	tw := transform.NewWriter(w, enc.NewDecoder())
	return tw, tw.Close, nil
}
