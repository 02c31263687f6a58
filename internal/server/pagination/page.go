package pagination

import (
	"fmt"
	"net/url"
	"strconv"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Page is a 1-based page number and the number of items per page.
type Page struct {
	Number int
	Limit  int
}

// Offset is the number of rows preceding the page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// Parse reads the 'page' and 'limit' query parameters. A missing page means 1,
// a missing limit means DefaultLimit.
func Parse(query url.Values) (Page, error) {
	p := Page{Number: 1, Limit: DefaultLimit}

	if s := query.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return Page{}, fmt.Errorf("invalid 'page' parameter: must be a positive integer")
		}
		p.Number = n
	}

	if s := query.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > MaxLimit {
			return Page{}, fmt.Errorf("invalid 'limit' parameter: must be between 1 and %d", MaxLimit)
		}
		p.Limit = n
	}

	return p, nil
}
