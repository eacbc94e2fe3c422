package assets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMinifyCSS(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "single rule",
			in:   "a { color: red; }",
			want: "a{color:red}",
		},
		{
			name: "comments and indentation",
			in:   "/* header */\nbody {\n    color: red;\n    margin : 0 ;\n}\na:hover { color : blue }\n",
			want: "body{color:red;margin :0 }a:hover{color :blue }",
		},
		{
			name: "multi-line comment with stars",
			in:   "/**\n * Theme Name: Demo\n **/\np{margin:0}",
			want: "p{margin:0}",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(MinifyCSS([]byte(tt.in))))
		})
	}
}

func TestMinifyJS(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "function",
			in:   "// comment\nfunction add(a, b) {\n    /* block */\n    return a + b; // trailing\n}\n",
			want: "function add(a,b){return a + b;}",
		},
		{
			name: "object literal",
			in:   "var o = { a : 1 , b : 2 };",
			want: "var o ={a:1,b:2};",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(MinifyJS([]byte(tt.in))))
		})
	}
}

func TestMinify_Deterministic(t *testing.T) {
	css := []byte("/* x */ .a { color : red ; }\n.b{ margin: 0 }")
	js := []byte("/* x */ var a = 1; // y\nfunction f ( ) { return a ; }")

	firstCSS := MinifyCSS(css)
	firstJS := MinifyJS(js)
	for i := 0; i < 10; i++ {
		assert.Equal(t, firstCSS, MinifyCSS(css))
		assert.Equal(t, firstJS, MinifyJS(js))
	}

	// Minifying twice changes nothing further
	assert.Equal(t, firstCSS, MinifyCSS(firstCSS))
	assert.Equal(t, firstJS, MinifyJS(firstJS))
}
