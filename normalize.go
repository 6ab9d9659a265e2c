package solsync

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Field spellings accepted for each pagination concept, in lookup order.
var (
	currentPageAliases = []string{"current_page", "currentPage"}
	perPageAliases     = []string{"per_page", "perPage"}
	totalAliases       = []string{"total"}
	lastPageAliases    = []string{"last_page", "lastPage"}
)

// NormalizeList converts any supported list response into a PagedResult.
//
// Items are taken from a "data" array, or from the body itself when it is an
// array. Pagination is read from a "meta" object when present, otherwise from
// top-level fields. page and perPage are the values the caller asked for and
// serve as fallbacks for missing or non-numeric fields.
func NormalizeList(body []byte, page, perPage int) (PagedResult, error) {
	if !gjson.ValidBytes(body) {
		return PagedResult{}, fmt.Errorf("normalize list: invalid JSON")
	}
	root := gjson.ParseBytes(body)

	items := []Record{}
	var list gjson.Result
	switch data := root.Get("data"); {
	case root.IsObject() && data.IsArray():
		list = data
	case root.IsArray():
		list = root
	}
	if list.Exists() {
		if err := json.Unmarshal([]byte(list.Raw), &items); err != nil {
			return PagedResult{}, fmt.Errorf("normalize list items: %w", err)
		}
	}

	meta := root
	if m := root.Get("meta"); root.IsObject() && m.IsObject() {
		meta = m
	}
	if !meta.IsObject() {
		meta = gjson.Result{}
	}

	per := lookupInt(meta, perPageAliases, perPage)
	total := lookupInt(meta, totalAliases, len(items))
	last := lookupInt(meta, lastPageAliases, 0)
	if last <= 0 {
		last = 1
		if total > 0 && per > 0 {
			last = max(1, int(math.Ceil(float64(total)/float64(per))))
		}
	}

	return PagedResult{
		Items: items,
		PageInfo: PageInfo{
			CurrentPage: lookupInt(meta, currentPageAliases, page),
			LastPage:    last,
			PerPage:     per,
			Total:       total,
		},
	}, nil
}

// lookupInt returns the first alias present in obj, coerced to int, or dflt
// when none is present or the value is not numeric.
func lookupInt(obj gjson.Result, aliases []string, dflt int) int {
	for _, name := range aliases {
		v := obj.Get(name)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if n, ok := coerceInt(v); ok {
			return n
		}
		return dflt
	}
	return dflt
}

func coerceInt(v gjson.Result) (int, bool) {
	switch v.Type {
	case gjson.Number:
		if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
			return 0, false
		}
		return int(v.Num), true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return int(f), true
	}
	return 0, false
}

// NormalizeStats decodes a stats body, tolerating numeric strings.
func NormalizeStats(body []byte) (Stats, error) {
	if !gjson.ValidBytes(body) {
		return Stats{}, fmt.Errorf("normalize stats: invalid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Stats{}, fmt.Errorf("normalize stats: expected an object")
	}
	return Stats{
		Total:     int64(lookupInt(root, []string{"total"}, 0)),
		Processed: int64(lookupInt(root, []string{"processed"}, 0)),
		Pending:   int64(lookupInt(root, []string{"pending"}, 0)),
	}, nil
}
