package parser

import (
	"fmt"
	"net/url"
	"strconv"

	"NewsIndexer/internal/ports"
)

const defaultPageParam = "PAGENUM"

// PagedListing addresses the numbered pages of one news listing.
type PagedListing struct {
	name      string
	listURL   string
	pageParam string
}

var _ ports.ListingSource = (*PagedListing)(nil)

// NewPagedListing validates the listing URL up front.
func NewPagedListing(name, listURL, pageParam string) (*PagedListing, error) {
	parsed, err := url.Parse(listURL)
	if err != nil {
		return nil, fmt.Errorf("invalid listing url %s: %w", listURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("listing url %s must be http(s)", listURL)
	}
	if pageParam == "" {
		pageParam = defaultPageParam
	}
	return &PagedListing{name: name, listURL: listURL, pageParam: pageParam}, nil
}

// Name identifies the listing in logs and article records.
func (p *PagedListing) Name() string {
	return p.name
}

// BaseURL is what relative listing links resolve against.
func (p *PagedListing) BaseURL() string {
	return p.listURL
}

// PageURL returns the address of the 1-based page; page 1 is the bare listing.
func (p *PagedListing) PageURL(page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("page must be >= 1, got %d", page)
	}
	if page == 1 {
		return p.listURL, nil
	}
	return buildPageURL(p.listURL, p.pageParam, page)
}

func buildPageURL(base, param string, page int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid listing url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set(param, strconv.Itoa(page))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
