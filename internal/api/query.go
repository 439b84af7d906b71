package api

import (
	"net/url"
	"strconv"
	"strings"
)

// maxSearchLimit: потолок страницы поиска ссылок.
const maxSearchLimit = 100

type searchParams struct {
	Term  string
	Limit int
}

// parseSearchParams: q (строка поиска) и limit или _limit (размер страницы).
func parseSearchParams(q url.Values, defLimit int) searchParams {
	limit := defLimit
	lv := q.Get("_limit")
	if lv == "" {
		lv = q.Get("limit")
	}
	if lv != "" {
		if n, err := strconv.Atoi(lv); err == nil && n > 0 && n <= maxSearchLimit {
			limit = n
		}
	}
	return searchParams{
		Term:  strings.TrimSpace(q.Get("q")),
		Limit: limit,
	}
}
