package webarchive

import (
	"mime"
	"net/http"
	"path"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
)

// ContentType guesses the media type of a resource from its extension, then
// from its magic bytes, then from net/http's sniffing rules.
func ContentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	if kind, err := filetype.Match(data); err == nil && kind != types.Unknown {
		return kind.MIME.Value
	}
	return http.DetectContentType(data)
}
