package feed

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Review is what a diary item description carries besides the poster.
type Review struct {
	Text      string `json:"review_text,omitempty"`
	Markdown  string `json:"review_markdown,omitempty"`
	PosterURL string `json:"poster_url,omitempty"`
	Spoilers  bool   `json:"spoilers,omitempty"`
}

var (
	strict = bluemonday.StrictPolicy()
	ugc    = bluemonday.UGCPolicy()
	md     = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
)

// ExtractReview splits a Letterboxd description into poster, review
// paragraphs and the spoiler marker. Descriptions of entries without a
// review only carry the poster and a "Watched on ..." line, which yield an
// empty Text.
func ExtractReview(description string) Review {
	var r Review
	if strings.TrimSpace(description) == "" {
		return r
	}
	nodes, err := html.ParseFragment(strings.NewReader(description), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return r
	}

	var paras []string
	for _, n := range nodes {
		if n.Type != html.ElementNode || n.DataAtom != atom.P {
			continue
		}
		if src := firstImage(n); src != "" {
			if r.PosterURL == "" {
				r.PosterURL = src
			}
			continue
		}
		text := strings.TrimSpace(textOf(n))
		switch {
		case text == "":
			continue
		case strings.HasPrefix(text, "Watched on "):
			continue
		case strings.Contains(text, "This review may contain spoilers"):
			r.Spoilers = true
			continue
		}
		var buf strings.Builder
		if err := html.Render(&buf, n); err == nil {
			paras = append(paras, buf.String())
		}
	}
	if len(paras) == 0 {
		return r
	}

	body := ugc.Sanitize(strings.Join(paras, "\n"))
	r.Text = collapse(strict.Sanitize(strings.ReplaceAll(body, "</p>", "</p>\n\n")))
	if out, err := md.ConvertString(body, converter.WithDomain("https://letterboxd.com")); err == nil {
		r.Markdown = strings.TrimSpace(out)
	} else {
		r.Markdown = r.Text
	}
	return r
}

func firstImage(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Img {
		for _, a := range n.Attr {
			if a.Key == "src" {
				return a.Val
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if s := firstImage(c); s != "" {
			return s
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textOf(c))
	}
	return b.String()
}

// collapse trims each line and drops runs of blank lines, keeping
// paragraph breaks. Entities left by the sanitizer are unescaped.
func collapse(s string) string {
	s = html.UnescapeString(s)
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
