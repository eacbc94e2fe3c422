package assets

import (
	"bytes"
	"regexp"
)

var (
	cssComment    = regexp.MustCompile(`/\*[^*]*\*+([^/][^*]*\*+)*/`)
	cssSpaces     = regexp.MustCompile(`\s+`)
	cssSemiClose  = regexp.MustCompile(`;\s*}`)
	cssOpenBrace  = regexp.MustCompile(`\s*{\s*`)
	cssSemicolon  = regexp.MustCompile(`;\s*`)
	cssColon      = regexp.MustCompile(`:\s*`)
	jsLineComment = regexp.MustCompile(`(?m)//.*$`)
	jsBlock       = regexp.MustCompile(`/\*[\s\S]*?\*/`)
	jsSpaces      = regexp.MustCompile(`\s+`)
	jsPunctuation = regexp.MustCompile(`\s*([{}();,:])\s*`)
)

// MinifyCSS strips comments and collapses whitespace around CSS punctuation.
// It is a fixed sequence of textual rules, not a parser.
func MinifyCSS(src []byte) []byte {
	css := cssComment.ReplaceAll(src, nil)

	// Line breaks, tabs and pairs of spaces are dropped outright
	for _, s := range [][]byte{[]byte("\r\n"), []byte("\r"), []byte("\n"), []byte("\t"), []byte("  ")} {
		css = bytes.ReplaceAll(css, s, nil)
	}

	css = cssSpaces.ReplaceAll(css, []byte(" "))
	css = cssSemiClose.ReplaceAll(css, []byte("}"))
	css = cssOpenBrace.ReplaceAll(css, []byte("{"))
	css = cssSemicolon.ReplaceAll(css, []byte(";"))
	css = cssColon.ReplaceAll(css, []byte(":"))

	return bytes.TrimSpace(css)
}

// MinifyJS removes comments and whitespace around punctuation.
// Line comments are matched naively, so "//" inside string literals such as
// URLs truncates the line.
func MinifyJS(src []byte) []byte {
	js := jsLineComment.ReplaceAll(src, nil)
	js = jsBlock.ReplaceAll(js, nil)
	js = jsSpaces.ReplaceAll(js, []byte(" "))
	js = jsPunctuation.ReplaceAll(js, []byte("$1"))
	return bytes.TrimSpace(js)
}
