package htmlprocessor

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Summary counts the resources a page pulls in
type Summary struct {
	Title       string `json:"title"`
	Scripts     int    `json:"scripts"`
	Stylesheets int    `json:"stylesheets"`
	Images      int    `json:"images"`
	Deferred    int    `json:"deferred_scripts"`
}

// Summarize parses body and counts external scripts, stylesheets and images
func Summarize(body []byte) (Summary, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return Summary{}, err
	}

	var s Summary
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if s.Title == "" {
					s.Title = strings.TrimSpace(textContent(n))
				}
			case "script":
				if getAttr(n, "src") != "" {
					s.Scripts++
					if hasAttr(n, "defer") || hasAttr(n, "async") {
						s.Deferred++
					}
				}
			case "link":
				if strings.EqualFold(getAttr(n, "rel"), "stylesheet") {
					s.Stylesheets++
				}
			case "img":
				s.Images++
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return s, nil
}

func getAttr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if a.Key == name {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return sb.String()
}
