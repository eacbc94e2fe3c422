package assets

import (
	"html"
	"strings"

	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/htmlprocessor"
	"github.com/adminx/perfgate/pkg/types"
)

const deferredCSSOnload = "this.media='all'"

// RewriteHTML points same-origin stylesheets and scripts at their minified
// copies and applies the defer toggles. It returns the rewritten document and
// whether anything changed. Parse failures leave body untouched.
func (o *Optimizer) RewriteHTML(body []byte) ([]byte, bool) {
	opts := o.options.Options()
	if !opts.OptimizeEnabled && !opts.DeferCSS && !opts.DeferJS {
		return body, false
	}

	out, changed, err := htmlprocessor.RewriteTags(body, []string{"link", "script"}, func(tag *htmlprocessor.Tag) {
		switch tag.Name {
		case "link":
			o.rewriteStylesheet(tag, opts.OptimizeEnabled, opts.DeferCSS)
		case "script":
			o.rewriteScript(tag, opts.OptimizeEnabled, opts.DeferJS)
		}
	})
	if err != nil {
		o.logger.Warn("Asset rewrite skipped, document could not be tokenized", zap.Error(err))
		return body, false
	}
	return out, changed > 0
}

func isStylesheet(tag *htmlprocessor.Tag) bool {
	rel, _ := tag.Attr("rel")
	for _, token := range strings.Fields(strings.ToLower(rel)) {
		if token == "stylesheet" {
			return true
		}
	}
	return false
}

func (o *Optimizer) rewriteStylesheet(tag *htmlprocessor.Tag, optimize, deferCSS bool) {
	if !isStylesheet(tag) {
		return
	}
	href, ok := tag.Attr("href")
	if !ok || href == "" {
		return
	}

	if optimize {
		if rewritten := o.OptimizedURL(types.AssetCSS, href); rewritten != href {
			tag.SetAttr("href", rewritten)
			href = rewritten
		}
	}

	if !deferCSS {
		return
	}
	if _, hasOnload := tag.Attr("onload"); hasOnload {
		return
	}
	media, _ := tag.Attr("media")
	if media != "" && media != "all" {
		return
	}

	tag.SetAttr("media", "print")
	tag.SetAttr("onload", deferredCSSOnload)
	tag.InsertAfter(`<noscript><link rel="stylesheet" href="` + html.EscapeString(href) + `"></noscript>`)
}

func (o *Optimizer) rewriteScript(tag *htmlprocessor.Tag, optimize, deferJS bool) {
	src, ok := tag.Attr("src")
	if !ok || src == "" {
		return
	}

	if optimize {
		if rewritten := o.OptimizedURL(types.AssetJS, src); rewritten != src {
			tag.SetAttr("src", rewritten)
		}
	}

	if !deferJS {
		return
	}
	id, _ := tag.Attr("id")
	if _, critical := o.critical[id]; critical {
		return
	}
	if typ, _ := tag.Attr("type"); typ == "module" {
		return
	}
	_, hasAsync := tag.Attr("async")
	_, hasDefer := tag.Attr("defer")
	if hasAsync || hasDefer {
		return
	}
	tag.SetAttr("defer", "")
}
