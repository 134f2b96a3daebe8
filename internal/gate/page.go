package gate

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// Page is the scanned metadata of one generated HTML page.
type Page struct {
	Path            string // filesystem path
	Route           string // path relative to the site root, "/" separated
	Bytes           int
	Indexable       bool // false when robots meta carries noindex
	CanonicalURL    string
	Title           string
	MetaDescription string
	OGTitle         string
	OGDescription   string
	AnchorTexts     []string
	AdMarkers       int
	AdBeforeContent bool
	Content         string // raw HTML, for phrase scans
}

// Detail reports whether the page is a policy detail page
// (grants/<slug>/index.html in the generated layout).
func (p *Page) Detail() bool {
	parts := strings.Split(p.Route, "/")
	return len(parts) == 3 && parts[0] == "grants" && parts[2] == "index.html"
}

// ScanSite walks the site directory and scans every HTML page, sorted by
// route for deterministic gate output.
func ScanSite(siteDir, adMarker string) ([]*Page, error) {
	var pages []*Page
	err := filepath.Walk(siteDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".html") {
			return nil
		}
		page, err := scanPage(siteDir, path, adMarker)
		if err != nil {
			return err
		}
		pages = append(pages, page)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Route < pages[j].Route })
	return pages, nil
}

func scanPage(siteDir, path, adMarker string) (*Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(siteDir, path)
	if err != nil {
		return nil, err
	}
	content := string(data)
	page := &Page{
		Path:      path,
		Route:     filepath.ToSlash(rel),
		Bytes:     len(data),
		Indexable: true,
		Content:   content,
	}

	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, err
	}
	walk(doc, page)

	if adMarker != "" {
		page.AdMarkers = strings.Count(content, adMarker)
		if page.AdMarkers > 0 {
			adAt := strings.Index(content, adMarker)
			contentAt := firstContentOffset(content)
			page.AdBeforeContent = contentAt < 0 || adAt < contentAt
		}
	}
	return page, nil
}

// firstContentOffset returns the offset of the first content section in
// the page body, or -1 when the page has none.
func firstContentOffset(content string) int {
	best := -1
	for _, tag := range []string{"<section", "<article"} {
		if i := strings.Index(content, tag); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

func walk(n *html.Node, page *Page) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "title":
			page.Title = strings.TrimSpace(textOf(n))
		case "link":
			if attr(n, "rel") == "canonical" {
				page.CanonicalURL = strings.TrimSpace(attr(n, "href"))
			}
		case "meta":
			content := strings.TrimSpace(attr(n, "content"))
			switch attr(n, "name") {
			case "description":
				page.MetaDescription = content
			case "robots":
				if strings.Contains(strings.ToLower(content), "noindex") {
					page.Indexable = false
				}
			}
			switch attr(n, "property") {
			case "og:title":
				page.OGTitle = content
			case "og:description":
				page.OGDescription = content
			}
		case "a":
			page.AnchorTexts = append(page.AnchorTexts, strings.TrimSpace(textOf(n)))
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, page)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return sb.String()
}
