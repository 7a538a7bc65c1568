package image

import (
	"bytes"
	stdimage "image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/ankit-chaubey/metastrip/core"
)

// Dimensions returns the pixel size of the primary image, or zeros when the
// container does not say without decoding the codestream.
func Dimensions(data []byte, l *Layout) (width, height int) {
	switch l.Format {
	case core.FmtHEIC, core.FmtHEIF, core.FmtAVIF:
		if w, ok := l.priv.(*heifWalk); ok {
			if wd, ht, ok := w.primarySize(data); ok {
				return wd, ht
			}
		}
		return 0, 0
	case core.FmtJXL:
		return 0, 0
	}
	cfg, _, err := stdimage.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
