package htmlprocessor

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Tag is a start tag handed to a TagRewriter. Modifications are serialized
// back into the document; untouched tags keep their original bytes.
type Tag struct {
	Name        string
	Attrs       []html.Attribute
	SelfClosing bool

	changed bool
	after   []byte
}

// Attr returns the value of the named attribute
func (t *Tag) Attr(name string) (string, bool) {
	for _, a := range t.Attrs {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets or adds an attribute
func (t *Tag) SetAttr(name, val string) {
	for i := range t.Attrs {
		if t.Attrs[i].Key == name {
			if t.Attrs[i].Val != val {
				t.Attrs[i].Val = val
				t.changed = true
			}
			return
		}
	}
	t.Attrs = append(t.Attrs, html.Attribute{Key: name, Val: val})
	t.changed = true
}

// RemoveAttr deletes an attribute if present
func (t *Tag) RemoveAttr(name string) {
	for i := range t.Attrs {
		if t.Attrs[i].Key == name {
			t.Attrs = append(t.Attrs[:i], t.Attrs[i+1:]...)
			t.changed = true
			return
		}
	}
}

// InsertAfter emits raw markup right after the tag
func (t *Tag) InsertAfter(markup string) {
	t.after = append(t.after, markup...)
}

// Changed reports whether the tag will be re-serialized
func (t *Tag) Changed() bool {
	return t.changed || len(t.after) > 0
}

// TagRewriter inspects and optionally modifies one start tag
type TagRewriter func(tag *Tag)

// RewriteTags streams body through the tokenizer and calls fn for every start
// tag named in names. Returns the new document and how many tags changed.
// When nothing changed the original slice is returned.
func RewriteTags(body []byte, names []string, fn TagRewriter) ([]byte, int, error) {
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[strings.ToLower(n)] = struct{}{}
	}

	var out bytes.Buffer
	out.Grow(len(body) + len(body)/16)

	z := html.NewTokenizer(bytes.NewReader(body))
	changed := 0

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				break
			}
			return body, 0, z.Err()
		}

		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			out.Write(z.Raw())
			continue
		}

		// TagName and TagAttr lower-case the buffer in place
		raw := append([]byte(nil), z.Raw()...)

		name, hasAttr := z.TagName()
		if _, ok := wanted[string(name)]; !ok {
			out.Write(raw)
			continue
		}

		tag := &Tag{Name: string(name), SelfClosing: tt == html.SelfClosingTagToken}
		for hasAttr {
			var key, val []byte
			key, val, hasAttr = z.TagAttr()
			tag.Attrs = append(tag.Attrs, html.Attribute{Key: string(key), Val: string(val)})
		}

		fn(tag)

		if !tag.Changed() {
			out.Write(raw)
			continue
		}

		changed++
		if tag.changed {
			writeTag(&out, tag)
		} else {
			out.Write(raw)
		}
		out.Write(tag.after)
	}

	if changed == 0 {
		return body, 0, nil
	}
	return out.Bytes(), changed, nil
}

func writeTag(w *bytes.Buffer, t *Tag) {
	w.WriteByte('<')
	w.WriteString(t.Name)
	for _, a := range t.Attrs {
		w.WriteByte(' ')
		w.WriteString(a.Key)
		if a.Val == "" && isBooleanAttr(a.Key) {
			continue
		}
		w.WriteString(`="`)
		w.WriteString(html.EscapeString(a.Val))
		w.WriteByte('"')
	}
	if t.SelfClosing {
		w.WriteString(" /")
	}
	w.WriteByte('>')
}

func isBooleanAttr(name string) bool {
	switch name {
	case "async", "defer", "nomodule", "crossorigin", "disabled", "hidden":
		return true
	}
	return false
}
