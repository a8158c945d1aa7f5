package crawl

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/overdrivelabs/dtcpipe/engine/domain"
	"golang.org/x/net/html"
)

// extractText converts a fetched body to plain text based on its detected
// MIME type. HTML and plain text are supported unconditionally; PDF text
// extraction degrades to a permanent extraction error if the document has
// no extractable text layer (scanned image PDFs).
func extractText(body []byte, mime string) (string, error) {
	switch {
	case strings.HasPrefix(mime, "text/html"):
		return extractHTML(body)
	case strings.HasPrefix(mime, "application/pdf"):
		return extractPDF(body)
	case strings.HasPrefix(mime, "text/plain"):
		return string(body), nil
	default:
		return "", domain.Permanent(fmt.Errorf("crawl: unsupported MIME type %q", mime))
	}
}

func extractHTML(body []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", domain.Permanent(fmt.Errorf("crawl: parse HTML: %w", err))
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", domain.Permanent(fmt.Errorf("crawl: no extractable text in HTML document"))
	}
	return text, nil
}

func extractPDF(body []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", domain.Permanent(fmt.Errorf("crawl: open PDF: %w", err))
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", domain.Permanent(fmt.Errorf("crawl: no extractable text in PDF document"))
	}
	return text, nil
}

// extractTitle returns the <title> text, or the first non-empty line of
// text as a fallback.
func extractTitle(body []byte, mime, fallbackText string) string {
	if strings.HasPrefix(mime, "text/html") {
		if doc, err := html.Parse(bytes.NewReader(body)); err == nil {
			var title string
			var walk func(*html.Node)
			walk = func(n *html.Node) {
				if title != "" {
					return
				}
				if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
					return
				}
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					walk(c)
				}
			}
			walk(doc)
			if title != "" {
				return title
			}
		}
	}
	for _, line := range strings.Split(fallbackText, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			if len(t) > 200 {
				t = t[:200]
			}
			return t
		}
	}
	return "untitled"
}

// discoverLinks extracts and canonicalizes same-host outbound links from an
// HTML document. Same-host-only filtering is a deliberate design decision:
// the source spec left link scope unstated, and unrestricted crawling risks
// unbounded scope creep across the open web.
func discoverLinks(body []byte, baseURL string) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("crawl: parse base URL: %w", err)
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("crawl: parse HTML for links: %w", err)
	}

	seen := map[string]bool{}
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, err := url.Parse(attr.Val)
				if err != nil {
					continue
				}
				resolved := base.ResolveReference(ref)
				resolved.Fragment = ""
				if !sameHost(resolved.Host, base.Host) {
					continue
				}
				if resolved.Scheme != "http" && resolved.Scheme != "https" {
					continue
				}
				canonical := resolved.String()
				if !seen[canonical] {
					seen[canonical] = true
					links = append(links, canonical)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

// sameHost compares two URL hosts the way a browser's same-site check
// would: case-insensitive, with a leading "www." ignored on either side.
func sameHost(a, b string) bool {
	normalize := func(h string) string {
		h = strings.ToLower(h)
		return strings.TrimPrefix(h, "www.")
	}
	return normalize(a) == normalize(b)
}
