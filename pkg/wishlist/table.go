package wishlist

import (
	"strconv"
	"strings"
	"time"
)

// TableName is the name of the wishlist table in every record store.
const TableName = "願望清單"

// DateLayout is the date format stored in the table.
const DateLayout = "2006-01-02"

// Columns is the table header: owner, product, added date, lowest price,
// source, last updated.
var Columns = []string{"使用者ID", "商品名稱", "新增日期", "最低價格", "來源", "最後更新"}

// Column positions within a row.
const (
	ColOwner = iota
	ColProduct
	ColAddedDate
	ColPrice
	ColSource
	ColLastUpdated
)

// Row renders the item as a table row. Unknown values are empty cells.
func (t *TrackedItem) Row() []string {
	row := make([]string, len(Columns))
	row[ColOwner] = t.OwnerID
	row[ColProduct] = t.ProductQuery
	row[ColAddedDate] = formatDate(t.AddedAt)
	if t.HasPrice() {
		row[ColPrice] = strconv.FormatFloat(t.LastKnownPrice, 'f', -1, 64)
	}
	row[ColSource] = t.LastKnownSource
	row[ColLastUpdated] = formatDate(t.LastUpdatedAt)
	return row
}

// PriceCells renders the price, source and last-updated cells written by a
// price update.
func PriceCells(price float64, source string, at time.Time) []string {
	return []string{strconv.FormatFloat(NormalizePrice(price), 'f', -1, 64), source, formatDate(at)}
}

// ItemFromRow parses a table row. Short rows are padded; unparsable prices
// and dates are treated as unknown.
func ItemFromRow(row []string) *TrackedItem {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	item := &TrackedItem{
		OwnerID:         cell(ColOwner),
		ProductQuery:    cell(ColProduct),
		LastKnownSource: cell(ColSource),
		AddedAt:         parseDate(cell(ColAddedDate)),
		LastUpdatedAt:   parseDate(cell(ColLastUpdated)),
	}
	if p, err := strconv.ParseFloat(strings.ReplaceAll(cell(ColPrice), ",", ""), 64); err == nil && p > 0 {
		item.LastKnownPrice = p
	}
	return item
}

// ItemsFromRows parses rows in order, skipping rows without an owner or a
// product query.
func ItemsFromRows(rows [][]string) []*TrackedItem {
	items := make([]*TrackedItem, 0, len(rows))
	for _, row := range rows {
		item := ItemFromRow(row)
		if item.OwnerID == "" || item.ProductQuery == "" {
			continue
		}
		items = append(items, item)
	}
	return items
}

// Matches reports whether row belongs to owner and query.
func Matches(row []string, owner, query string) bool {
	return len(row) > ColProduct && row[ColOwner] == owner && row[ColProduct] == query
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
