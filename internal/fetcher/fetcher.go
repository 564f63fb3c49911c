// Package fetcher turns a web page into entry text for import.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	maxBodyBytes = 5 << 20
	maxTextBytes = 10 << 10
	userAgent    = "journal/1.0 (+import)"
)

// ErrNoText is returned when a page has nothing readable in it
var ErrNoText = errors.New("no readable text")

// Page is the readable part of a fetched document
type Page struct {
	URL   string
	Title string
	Text  string
}

type Fetcher struct {
	client *http.Client
}

// New returns a fetcher whose requests give up after timeout
func New(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// Normalize adds a missing scheme and rejects anything but http(s)
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid URL: missing host")
	}
	return u.String(), nil
}

// Fetch downloads rawURL and extracts its title and body text
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	target, err := Normalize(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: HTTP %d", target, resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", target, err)
	}

	page := &Page{URL: target}
	page.Title, page.Text = extract(doc)
	if page.Text == "" {
		return nil, fmt.Errorf("%s: %w", target, ErrNoText)
	}
	if page.Title == "" {
		page.Title = target
	}
	return page, nil
}

var skipped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Nav: true, atom.Header: true,
	atom.Footer: true, atom.Aside: true, atom.Noscript: true, atom.Iframe: true,
}

// extract walks the tree once, collecting <title> and visible text
func extract(doc *html.Node) (title, text string) {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.DataAtom == atom.Title {
				if title == "" && n.FirstChild != nil {
					title = strings.Join(strings.Fields(n.FirstChild.Data), " ")
				}
				return
			}
			if skipped[n.DataAtom] {
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text = strings.Join(strings.Fields(sb.String()), " ")
	if len(text) > maxTextBytes {
		cut := maxTextBytes
		// back up to a rune boundary
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return title, text
}
