package parser

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"NewsIndexer/internal/domain"
)

const (
	authorLabel      = "作者："
	publishTimeLabel = "发布时间："
	maxContentRunes  = 20000
)

var contentSelectors = []string{
	"div#vsb_content",
	"div.article-content",
	"div.news-content",
	"article",
}

// ExtractDetail parses an article page. ID, URL and fetch time are left
// for the caller.
func (e *NewsPageExtractor) ExtractDetail(page []byte) (domain.Article, error) {
	if len(bytes.TrimSpace(page)) == 0 {
		return domain.Article{}, &domain.ParseError{Reason: domain.ParseEmpty, Detail: "detail page has no body"}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return domain.Article{}, &domain.ParseError{Reason: domain.ParseStructureChanged, Detail: err.Error()}
	}

	var content *goquery.Selection
	for _, selector := range contentSelectors {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			content = sel
			break
		}
	}
	if content == nil {
		return domain.Article{}, &domain.ParseError{Reason: domain.ParseStructureChanged, Detail: "no article content container"}
	}

	content.Find("script, style").Remove()
	text := collectText(content)
	if text == "" {
		return domain.Article{}, &domain.ParseError{Reason: domain.ParseEmpty, Detail: "article content is empty"}
	}

	article := domain.Article{
		Title:   strings.TrimSpace(doc.Find("h1.article-title").First().Text()),
		Content: truncateRunes(text, maxContentRunes),
		Source:  e.source,
	}
	article.Author, article.PublishTime = parseByline(doc.Find("div.article-sm").First())

	return article, nil
}

// parseByline reads "作者：x | 发布时间：y | 点击数：z" style metadata.
func parseByline(sel *goquery.Selection) (author, published string) {
	if sel.Length() == 0 {
		return "", ""
	}

	var parts []string
	sel.Contents().Each(func(_ int, node *goquery.Selection) {
		if text := strings.TrimSpace(node.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	for _, chunk := range parts {
		for _, part := range strings.Split(chunk, "|") {
			part = strings.TrimSpace(part)
			switch {
			case strings.HasPrefix(part, authorLabel):
				author = strings.TrimSpace(strings.TrimPrefix(part, authorLabel))
			case strings.HasPrefix(part, publishTimeLabel):
				published = strings.TrimSpace(strings.TrimPrefix(part, publishTimeLabel))
			}
		}
	}
	return author, published
}

func collectText(sel *goquery.Selection) string {
	var lines []string
	sel.Find("p, div, li, h2, h3, td").Each(func(_ int, node *goquery.Selection) {
		if node.Children().Filter("p, div, li, table").Length() > 0 {
			return
		}
		if text := strings.TrimSpace(node.Text()); text != "" {
			lines = append(lines, text)
		}
	})
	if len(lines) == 0 {
		return strings.TrimSpace(sel.Text())
	}
	return strings.Join(lines, "\n")
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
