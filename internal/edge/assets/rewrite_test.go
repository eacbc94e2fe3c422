package assets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/adminx/perfgate/internal/common/configtypes"
)

const page = `<!DOCTYPE html>
<html><head>
<link rel="stylesheet" id="demo-css" href="https://example.com/wp-content/themes/demo/style.css" media="all" />
<link rel="stylesheet" id="font-css" href="https://fonts.example.net/css" media="all" />
<link rel="icon" href="https://example.com/favicon.ico" />
<script src="https://example.com/wp-includes/js/jquery/jquery.min.js" id="jquery-core-js"></script>
<script src="https://example.com/wp-content/themes/demo/app.js" id="demo-js"></script>
<script async src="https://stats.example.net/s.js" id="stats-js"></script>
<script>var inline = 1;</script>
</head><body><p>Hello</p></body></html>`

func TestRewriteHTML_AllDisabled(t *testing.T) {
	f := newFixture(t, configtypes.FeatureOptions{})
	out, changed := f.optimizer.RewriteHTML([]byte(page))
	assert.False(t, changed)
	assert.Equal(t, page, string(out))
}

func TestRewriteHTML_Optimize(t *testing.T) {
	f := newFixture(t, configtypes.FeatureOptions{OptimizeEnabled: true})
	out, changed := f.optimizer.RewriteHTML([]byte(page))
	assert.True(t, changed)

	html := string(out)
	cssURL := "https://example.com/wp-content/uploads/adminx-optimized/css/" +
		md5Hex("https://example.com/wp-content/themes/demo/style.css") + "-style.css"
	jsURL := "https://example.com/wp-content/uploads/adminx-optimized/js/" +
		md5Hex("https://example.com/wp-content/themes/demo/app.js") + "-app.js"

	assert.Contains(t, html, `href="`+cssURL+`"`)
	assert.Contains(t, html, `src="`+jsURL+`"`)
	// Foreign and missing sources stay as they are
	assert.Contains(t, html, `href="https://fonts.example.net/css"`)
	assert.Contains(t, html, `src="https://example.com/wp-includes/js/jquery/jquery.min.js"`)
	assert.Contains(t, html, `<link rel="icon" href="https://example.com/favicon.ico" />`)
	assert.Contains(t, html, `<script>var inline = 1;</script>`)
	assert.NotContains(t, html, "defer")
	assert.NotContains(t, html, "onload")
}

func TestRewriteHTML_DeferJS(t *testing.T) {
	f := newFixture(t, configtypes.FeatureOptions{DeferJS: true})
	out, changed := f.optimizer.RewriteHTML([]byte(page))
	assert.True(t, changed)

	html := string(out)
	assert.Contains(t, html, `<script src="https://example.com/wp-content/themes/demo/app.js" id="demo-js" defer>`)
	// jQuery stays blocking, async scripts are left alone
	assert.Contains(t, html, `<script src="https://example.com/wp-includes/js/jquery/jquery.min.js" id="jquery-core-js"></script>`)
	assert.Contains(t, html, `<script async src="https://stats.example.net/s.js" id="stats-js"></script>`)
	assert.Equal(t, 1, strings.Count(html, "defer"))
}

func TestRewriteHTML_DeferCSS(t *testing.T) {
	f := newFixture(t, configtypes.FeatureOptions{DeferCSS: true})
	out, changed := f.optimizer.RewriteHTML([]byte(page))
	assert.True(t, changed)

	html := string(out)
	assert.Contains(t, html,
		`<link rel="stylesheet" id="font-css" href="https://fonts.example.net/css" media="print" onload="this.media=&#39;all&#39;" />`+
			`<noscript><link rel="stylesheet" href="https://fonts.example.net/css"></noscript>`)
	assert.Equal(t, 2, strings.Count(html, "<noscript>"))
	assert.Contains(t, html, `<link rel="icon" href="https://example.com/favicon.ico" />`)
}

func TestRewriteHTML_Deterministic(t *testing.T) {
	f := newFixture(t, configtypes.FeatureOptions{OptimizeEnabled: true, DeferCSS: true, DeferJS: true})
	first, _ := f.optimizer.RewriteHTML([]byte(page))
	second, _ := f.optimizer.RewriteHTML([]byte(page))
	assert.Equal(t, string(first), string(second))
}
