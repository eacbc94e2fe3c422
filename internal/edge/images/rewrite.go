package images

import (
	"strings"

	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/fsutil"
	"github.com/adminx/perfgate/internal/common/htmlprocessor"
)

// AcceptsWebP reports whether an Accept header advertises WebP support
func AcceptsWebP(accept string) bool {
	return strings.Contains(accept, "image/webp")
}

// RewriteHTML swaps uploads image URLs in <img src> and <img srcset> for
// their WebP siblings when the client accepts WebP and the sibling exists.
func (o *Optimizer) RewriteHTML(body []byte, accept string) ([]byte, bool) {
	if !o.options.Options().WebPEnabled || !AcceptsWebP(accept) {
		return body, false
	}

	out, changed, err := htmlprocessor.RewriteTags(body, []string{"img"}, func(tag *htmlprocessor.Tag) {
		if src, ok := tag.Attr("src"); ok {
			if swapped := o.webpURL(src); swapped != src {
				tag.SetAttr("src", swapped)
			}
		}
		if srcset, ok := tag.Attr("srcset"); ok {
			if swapped := o.rewriteSrcset(srcset); swapped != srcset {
				tag.SetAttr("srcset", swapped)
			}
		}
	})
	if err != nil {
		o.logger.Warn("WebP rewrite skipped, document could not be tokenized", zap.Error(err))
		return body, false
	}
	return out, changed > 0
}

// webpURL returns the URL of the WebP sibling of raw, or raw itself
func (o *Optimizer) webpURL(raw string) string {
	candidate, ok := WebPPath(raw)
	if !ok || !o.uploads.IsLocal(candidate) {
		return raw
	}
	path, ok := o.uploads.LocalPath(candidate)
	if !ok || !fsutil.Exists(path) {
		return raw
	}
	return candidate
}

func (o *Optimizer) rewriteSrcset(srcset string) string {
	candidates := strings.Split(srcset, ",")
	swapped := false
	for i, c := range candidates {
		fields := strings.Fields(c)
		if len(fields) == 0 {
			continue
		}
		if webp := o.webpURL(fields[0]); webp != fields[0] {
			fields[0] = webp
			swapped = true
		}
		candidates[i] = strings.Join(fields, " ")
	}
	if !swapped {
		return srcset
	}
	return strings.Join(candidates, ", ")
}
