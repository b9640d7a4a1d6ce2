// Package sheets implements the wishlist record store on a Google
// Spreadsheet.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"wishlist-notifier/pkg/wishlist"
)

const (
	lastColumn = "F"
	valueInput = "RAW"
)

// NewService creates a Sheets API client from service account credentials.
func NewService(ctx context.Context, credentialsJSON []byte, opts ...option.ClientOption) (*sheets.Service, error) {
	if len(credentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(credentialsJSON))
	}
	opts = append(opts, option.WithScopes(sheets.SpreadsheetsScope))
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

// Store is a record store backed by one sheet of a spreadsheet. Row 1 is the
// header; data row i lives on sheet row i+2.
// Writes hold writeMu across their read-modify-write. Edits made outside this
// process can still shift rows.
type Store struct {
	svc           *sheets.Service
	logger        *slog.Logger
	spreadsheetID string
	writeMu       sync.Mutex
	mu            sync.Mutex // guards sheetID and ready
	sheetID       int64
	ready         bool
}

// New creates a new store on the given spreadsheet.
func New(svc *sheets.Service, spreadsheetID string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		svc:           svc,
		logger:        logger,
		spreadsheetID: spreadsheetID,
	}
}

// EnsureTable adds the wishlist sheet with its header if it is missing.
func (s *Store) EnsureTable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	ss, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == wishlist.TableName {
			s.sheetID, s.ready = sh.Properties.SheetId, true
			return nil
		}
	}

	resp, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: wishlist.TableName},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
		s.sheetID = resp.Replies[0].AddSheet.Properties.SheetId
	}

	header := &sheets.ValueRange{Values: [][]any{toCells(wishlist.Columns)}}
	if _, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, a1(fmt.Sprintf("A1:%s1", lastColumn)), header).
		ValueInputOption(valueInput).Context(ctx).Do(); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	s.ready = true
	s.logger.Info("Wishlist sheet created", "spreadsheet", s.spreadsheetID, "sheet", wishlist.TableName, "sheet_id", s.sheetID)
	return nil
}

// Append adds an item as a new row. Duplicates are not rejected.
func (s *Store) Append(ctx context.Context, item *wishlist.TrackedItem) error {
	if err := s.EnsureTable(ctx); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	vr := &sheets.ValueRange{Values: [][]any{toCells(item.Row())}}
	if _, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, a1("A:"+lastColumn), vr).
		ValueInputOption(valueInput).InsertDataOption("INSERT_ROWS").Context(ctx).Do(); err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	s.logger.Info("Wishlist item added", "owner", item.OwnerID, "product", item.ProductQuery)
	return nil
}

// Find returns the 0-based data row index of the first row for owner and query.
func (s *Store) Find(ctx context.Context, owner, query string) (int, bool, error) {
	rows, err := s.rows(ctx)
	if err != nil {
		return 0, false, err
	}
	for i, row := range rows {
		if wishlist.Matches(row, owner, query) {
			return i, true, nil
		}
	}
	return -1, false, nil
}

// Delete removes the data row at index.
func (s *Store) Delete(ctx context.Context, index int) error {
	if err := s.EnsureTable(ctx); err != nil {
		return err
	}
	if index < 0 {
		return fmt.Errorf("delete row %d: negative index", index)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	sheetID := s.sheetID
	s.mu.Unlock()

	if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{deleteRowRequest(sheetID, index)},
	}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete row %d: %w", index, err)
	}
	s.logger.Info("Wishlist row deleted", "index", index)
	return nil
}

// ListByOwner returns the owner's items in sheet order.
func (s *Store) ListByOwner(ctx context.Context, owner string) ([]*wishlist.TrackedItem, error) {
	rows, err := s.rows(ctx)
	if err != nil {
		return nil, err
	}
	var items []*wishlist.TrackedItem
	for _, item := range wishlist.ItemsFromRows(rows) {
		if item.OwnerID == owner {
			items = append(items, item)
		}
	}
	return items, nil
}

// ListAll returns every item in sheet order. Rows without an owner or a
// product query are skipped.
func (s *Store) ListAll(ctx context.Context) ([]*wishlist.TrackedItem, error) {
	rows, err := s.rows(ctx)
	if err != nil {
		return nil, err
	}
	return wishlist.ItemsFromRows(rows), nil
}

// UpdatePriceFields overwrites the price, source and last-updated cells of
// the first row for owner and query. It reports false if no row matched.
func (s *Store) UpdatePriceFields(ctx context.Context, owner, query string, price float64, source string, at time.Time) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	index, found, err := s.Find(ctx, owner, query)
	if err != nil || !found {
		return false, err
	}

	row := index + 2
	vr := &sheets.ValueRange{Values: [][]any{{wishlist.NormalizePrice(price), source, at.Format(wishlist.DateLayout)}}}
	if _, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, a1(fmt.Sprintf("D%d:%s%d", row, lastColumn, row)), vr).
		ValueInputOption(valueInput).Context(ctx).Do(); err != nil {
		return false, fmt.Errorf("update price cells: %w", err)
	}
	s.logger.Info("Wishlist price updated", "owner", owner, "product", query, "price", price, "source", source)
	return true, nil
}

// rows returns the data rows, header excluded.
func (s *Store) rows(ctx context.Context) ([][]string, error) {
	if err := s.EnsureTable(ctx); err != nil {
		return nil, err
	}
	vr, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, a1("A:"+lastColumn)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(vr.Values) <= 1 {
		return nil, nil
	}
	rows := make([][]string, 0, len(vr.Values)-1)
	for _, r := range vr.Values[1:] {
		row := make([]string, len(r))
		for i, c := range r {
			row[i] = fmt.Sprint(c)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func deleteRowRequest(sheetID int64, index int) *sheets.Request {
	start := int64(index) + 1 // skip the header
	return &sheets.Request{
		DeleteDimension: &sheets.DeleteDimensionRequest{
			Range: &sheets.DimensionRange{
				SheetId:    sheetID,
				Dimension:  "ROWS",
				StartIndex: start,
				EndIndex:   start + 1,
				// The first sheet has ID 0, which would otherwise be omitted.
				ForceSendFields: []string{"SheetId", "StartIndex"},
			},
		},
	}
}

func a1(cells string) string {
	return wishlist.TableName + "!" + cells
}

func toCells(row []string) []any {
	out := make([]any, len(row))
	for i, v := range row {
		out[i] = v
	}
	return out
}
