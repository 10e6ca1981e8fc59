package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"NewsIndexer/internal/domain"
	"NewsIndexer/internal/ports"
)

// NewsPageExtractor parses the fixed listing and detail layouts of the
// campus news site.
type NewsPageExtractor struct {
	source string
}

var _ ports.Extractor = (*NewsPageExtractor)(nil)

// NewNewsPageExtractor tags extracted articles with the given source name.
func NewNewsPageExtractor(source string) *NewsPageExtractor {
	return &NewsPageExtractor{source: source}
}

// ExtractList returns the listing rows in page order. Rows without a
// resolvable link or a title are dropped.
func (e *NewsPageExtractor) ExtractList(page []byte, baseURL string) ([]domain.ArticleSummary, error) {
	if len(bytes.TrimSpace(page)) == 0 {
		return nil, &domain.ParseError{Reason: domain.ParseEmpty, Detail: "listing page has no body"}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, &domain.ParseError{Reason: domain.ParseStructureChanged, Detail: err.Error()}
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %s: %w", baseURL, err)
	}

	rows := doc.Find("li.clearfix")
	if rows.Length() == 0 {
		return nil, &domain.ParseError{Reason: domain.ParseStructureChanged, Detail: "no li.clearfix rows"}
	}

	summaries := make([]domain.ArticleSummary, 0, rows.Length())
	rows.Each(func(_ int, row *goquery.Selection) {
		summary, ok := parseRow(row, base)
		if ok {
			summaries = append(summaries, summary)
		}
	})

	if len(summaries) == 0 {
		return nil, &domain.ParseError{Reason: domain.ParseEmpty, Detail: "no valid listing rows"}
	}
	return summaries, nil
}

func parseRow(row *goquery.Selection, base *url.URL) (domain.ArticleSummary, bool) {
	link := row.Find("div.width04 a").First()
	if link.Length() == 0 {
		return domain.ArticleSummary{}, false
	}

	title := strings.TrimSpace(link.AttrOr("title", ""))
	if title == "" {
		title = strings.TrimSpace(link.Find("span").First().Text())
	}
	if title == "" {
		title = strings.TrimSpace(link.Text())
	}

	href, _ := link.Attr("href")
	canonical, err := Canonicalize(base, href)
	if err != nil || title == "" {
		return domain.ArticleSummary{}, false
	}

	return domain.ArticleSummary{
		CanonicalURL:  canonical,
		Title:         title,
		Category:      strings.TrimSpace(row.Find("div.width02 a").First().Text()),
		Department:    strings.TrimSpace(row.Find("div.width03 a").First().Text()),
		PublishTime:   strings.TrimSpace(row.Find("div.width06").First().Text()),
		HasAttachment: row.Find("div.width05 img").Length() > 0,
	}, true
}

// Canonicalize resolves href against base and normalises it into the key
// used by the index: absolute http(s), lower-case host, no fragment.
func Canonicalize(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return "", fmt.Errorf("empty link")
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", href, err)
	}

	resolved := ref
	if base != nil {
		resolved = base.ResolveReference(ref)
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme in %q", href)
	}
	if resolved.Host == "" {
		return "", fmt.Errorf("link %q has no host", href)
	}

	resolved.Host = strings.ToLower(resolved.Host)
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return resolved.String(), nil
}
