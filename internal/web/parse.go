package web

import (
	"bytes"
	"errors"
	"net/url"
	"sort"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"

	"github.com/leonardcser/feedcache/internal/resource"
)

const maxLinks = 50

var errNotAFeed = errors.New("document is not an RSS or Atom feed")

// ParseFeed parses an RSS 0.9x/1.0/2.0 or Atom document into res. Relative
// links are resolved against res.URL.
func ParseFeed(body []byte, res *resource.Resource) error {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return err
	}
	root := xmlquery.FindOne(doc, "/*[local-name()='rss' or local-name()='RDF' or local-name()='feed']")
	if root == nil {
		return errNotAFeed
	}
	base, _ := url.Parse(res.URL)

	head := root
	if ch := child(root, "channel"); ch != nil {
		head = ch
	}
	res.Title = childText(head, "title")
	res.Description = childText(head, "description", "subtitle", "tagline")
	if link := entryLink(head); link != "" && res.URL == "" {
		res.URL = resolve(base, link)
	}

	for _, n := range xmlquery.Find(root, "//*[local-name()='item' or local-name()='entry']") {
		e := resource.Entry{
			Title:     singleLine(childText(n, "title")),
			Link:      resolve(base, entryLink(n)),
			Published: childText(n, "pubDate", "published", "updated", "date", "issued", "modified"),
		}
		e.ID = childText(n, "guid", "id")
		if e.ID == "" {
			e.ID = e.Link
		}
		if summary := childText(n, "encoded", "content", "description", "summary"); summary != "" {
			e.Summary = toMarkdown(summary)
		}
		res.Entries = append(res.Entries, e)
	}
	return nil
}

// ParsePage parses an HTML page into res: its title, description, links
// and advertised feeds, with the readable body as a single entry.
func ParsePage(body []byte, res *resource.Resource) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return err
	}
	base, _ := url.Parse(res.URL)

	feedSet := map[string]struct{}{}
	doc.Find(`link[rel~="alternate"]`).Each(func(_ int, s *goquery.Selection) {
		t := strings.ToLower(s.AttrOr("type", ""))
		if !strings.Contains(t, "rss") && !strings.Contains(t, "atom") && !strings.Contains(t, "rdf") {
			return
		}
		if href := strings.TrimSpace(s.AttrOr("href", "")); href != "" {
			feedSet[resolve(base, href)] = struct{}{}
		}
	})
	res.Feeds = sortedKeys(feedSet, 0)

	// Remove non-visible elements
	doc.Find("script, style, noscript, iframe, object, embed, img, video, picture, svg, canvas, audio, source, track, map, area, form, label, input, button, select, textarea, progress, ins, applet").Remove()

	res.Title = singleLine(doc.Find("head > title").First().Text())
	res.Description = strings.TrimSpace(doc.Find("meta[name=description]").AttrOr("content", ""))

	linkSet := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "javascript:") {
			return
		}
		u, err := url.Parse(href)
		if err != nil {
			return
		}
		if !u.IsAbs() && base != nil {
			u = base.ResolveReference(u)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		u.Fragment = ""
		linkSet[u.String()] = struct{}{}
	})
	res.Links = sortedKeys(linkSet, maxLinks)

	doc.Find("a").Remove()
	doc.Find("header, footer, aside").Remove()

	plain := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	text := plain
	if html, err := doc.Html(); err == nil {
		if md, err := htmltomarkdown.ConvertString(html); err == nil {
			text = strings.TrimSpace(md)
		}
	}
	if text == "" {
		return errors.New("page has no readable content")
	}
	res.Entries = append(res.Entries, resource.Entry{
		ID:      res.URL,
		Title:   res.Title,
		Link:    res.URL,
		Summary: text,
	})
	return nil
}

func child(n *xmlquery.Node, name string) *xmlquery.Node {
	return xmlquery.FindOne(n, "./*[local-name()='"+name+"']")
}

// childText returns the text of the first non-empty child element among
// names, tried in order.
func childText(n *xmlquery.Node, names ...string) string {
	for _, name := range names {
		if c := child(n, name); c != nil {
			if s := strings.TrimSpace(c.InnerText()); s != "" {
				return s
			}
		}
	}
	return ""
}

// entryLink returns the RSS <link> text or the Atom alternate link href.
func entryLink(n *xmlquery.Node) string {
	var fallback string
	for _, l := range xmlquery.Find(n, "./*[local-name()='link']") {
		href := strings.TrimSpace(l.SelectAttr("href"))
		if href == "" {
			if s := strings.TrimSpace(l.InnerText()); s != "" && fallback == "" {
				fallback = s
			}
			continue
		}
		if rel := l.SelectAttr("rel"); rel == "" || rel == "alternate" {
			return href
		}
		if fallback == "" {
			fallback = href
		}
	}
	return fallback
}

func resolve(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	return base.ResolveReference(u).String()
}

func toMarkdown(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	md, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(md)
}

func sortedKeys(set map[string]struct{}, limit int) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// singleLine collapses whitespace so titles render on one line.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
