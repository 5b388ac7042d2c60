package util

import (
	"strings"

	"golang.org/x/net/html"
)

// Link is an anchor found in a page.
type Link struct {
	Href string
	Text string
}

// ParseLinks finds <a href> links whose href, or failing that whose text,
// ends with one of suffixes (case-insensitive). No suffixes matches every
// link. Fragment-only, javascript: and root links are skipped.
func ParseLinks(n *html.Node, suffixes ...string) []Link {
	var out []Link
	var walk func(*html.Node)

	walk = func(nd *html.Node) {
		if nd.Type == html.ElementNode && nd.Data == "a" {
			for _, a := range nd.Attr {
				if a.Key != "href" {
					continue
				}
				href := strings.TrimSpace(a.Val)
				if skipHref(href) {
					break
				}
				text := strings.Join(strings.Fields(textOf(nd)), " ")
				if hasSuffix(href, suffixes) || hasSuffix(text, suffixes) {
					out = append(out, Link{Href: href, Text: text})
				}
				break
			}
		}
		for c := nd.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return out
}

func skipHref(href string) bool {
	lower := strings.ToLower(href)
	return href == "" || href == "/" || strings.HasPrefix(href, "#") || strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:")
}

func hasSuffix(s string, suffixes []string) bool {
	if len(suffixes) == 0 {
		return true
	}
	lower := strings.ToLower(s)
	for _, suf := range suffixes {
		if strings.HasSuffix(lower, strings.ToLower(suf)) {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(nd *html.Node) {
		if nd.Type == html.TextNode {
			b.WriteString(nd.Data)
		}
		for c := nd.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
