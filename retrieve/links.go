package retrieve

import (
	"bytes"
	"net/url"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/permitpack/specsheet"
)

// link is a candidate PDF reference found on a product page.
type link struct {
	URL   string
	Text  string
	score int
}

// pdfLinks returns absolute PDF candidate URLs found in body, best first.
// A candidate is an anchor, embed, iframe or object whose target path ends
// in .pdf, or an anchor whose text mentions a datasheet. Links mentioning
// the part number rank above generic "spec"/"datasheet" links.
func pdfLinks(body []byte, base *url.URL, partNumber string) []string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	compactPN := specsheet.CompactID(partNumber)

	seen := make(map[string]bool)
	var links []link
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			var ref string
			switch n.DataAtom {
			case atom.A:
				ref = attr(n, "href")
			case atom.Embed, atom.Iframe:
				ref = attr(n, "src")
			case atom.Object:
				ref = attr(n, "data")
			}
			if ref != "" {
				if l, ok := candidate(base, ref, collectText(n), compactPN, n.DataAtom == atom.A); ok && !seen[l.URL] {
					seen[l.URL] = true
					links = append(links, l)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	sort.SliceStable(links, func(i, j int) bool { return links[i].score > links[j].score })
	out := make([]string, len(links))
	for i, l := range links {
		out[i] = l.URL
	}
	return out
}

func candidate(base *url.URL, ref, text, compactPN string, anchor bool) (link, bool) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return link{}, false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return link{}, false
	}
	u.Fragment = ""

	lowerPath := strings.ToLower(path.Base(u.Path))
	lowerText := strings.ToLower(text)
	isPDF := strings.HasSuffix(lowerPath, ".pdf")
	mentionsSheet := strings.Contains(lowerText, "datasheet") || strings.Contains(lowerText, "data sheet") ||
		strings.Contains(lowerText, "spec sheet")
	if !isPDF && !(anchor && mentionsSheet) {
		return link{}, false
	}

	score := 0
	if isPDF {
		score++
	}
	hay := specsheet.CompactID(u.Path + " " + text)
	if compactPN != "" && strings.Contains(hay, compactPN) {
		score += 4
	}
	if strings.Contains(hay, "datasheet") || mentionsSheet {
		score += 2
	}
	if strings.Contains(hay, "spec") {
		score++
	}
	return link{URL: u.String(), Text: text, score: score}, true
}

// pageTitle returns the <title> text of an HTML document.
func pageTitle(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			title = strings.TrimSpace(collectText(n))
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(doc)
	return title
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collectText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
