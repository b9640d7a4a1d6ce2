// Package storage persists the wishlist table as a JSON document in Cloud
// Storage or a local directory.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/googleapi"

	"wishlist-notifier/pkg/wishlist"
)

// ObjectName is the object (or file) holding the wishlist table.
const ObjectName = "wishlist.json"

// ErrNotFound is returned when the table document does not exist yet.
var ErrNotFound = errors.New("storage: object doesn't exist")

// document is the stored form of the table.
type document struct {
	Table   string     `json:"table"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`

	generation int64
}

// Store is a record store backed by a single JSON table document.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
	mu        sync.Mutex
}

// New creates a new store. A non-empty localPath selects the local
// filesystem; otherwise the document lives in bucket.
func New(client *storage.Client, bucket, localPath string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// IsNotFound checks if an error indicates the table document was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// EnsureTable creates the table document with its header if it is missing.
func (s *Store) EnsureTable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.open(ctx)
	return err
}

// Append adds an item as a new row. Duplicates are not rejected.
func (s *Store) Append(ctx context.Context, item *wishlist.TrackedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.open(ctx)
	if err != nil {
		return err
	}
	doc.Rows = append(doc.Rows, item.Row())
	if err := s.save(ctx, doc); err != nil {
		return err
	}
	s.logger.Info("Wishlist item added", "owner", item.OwnerID, "product", item.ProductQuery)
	return nil
}

// Find returns the 0-based data row index of the first row for owner and query.
func (s *Store) Find(ctx context.Context, owner, query string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.open(ctx)
	if err != nil {
		return 0, false, err
	}
	i := slices.IndexFunc(doc.Rows, func(row []string) bool {
		return wishlist.Matches(row, owner, query)
	})
	return i, i >= 0, nil
}

// Delete removes the data row at index.
func (s *Store) Delete(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.open(ctx)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(doc.Rows) {
		return fmt.Errorf("delete row %d: index out of range [0,%d)", index, len(doc.Rows))
	}
	doc.Rows = slices.Delete(doc.Rows, index, index+1)
	if err := s.save(ctx, doc); err != nil {
		return err
	}
	s.logger.Info("Wishlist row deleted", "index", index)
	return nil
}

// ListByOwner returns the owner's items in table order.
func (s *Store) ListByOwner(ctx context.Context, owner string) ([]*wishlist.TrackedItem, error) {
	items, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(items, func(it *wishlist.TrackedItem) bool {
		return it.OwnerID != owner
	}), nil
}

// ListAll returns every item in table order. Rows without an owner or a
// product query are skipped.
func (s *Store) ListAll(ctx context.Context) ([]*wishlist.TrackedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	return wishlist.ItemsFromRows(doc.Rows), nil
}

// UpdatePriceFields overwrites the price, source and last-updated cells of
// the first row for owner and query. It reports false if no row matched.
func (s *Store) UpdatePriceFields(ctx context.Context, owner, query string, price float64, source string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.open(ctx)
	if err != nil {
		return false, err
	}
	i := slices.IndexFunc(doc.Rows, func(row []string) bool {
		return wishlist.Matches(row, owner, query)
	})
	if i < 0 {
		return false, nil
	}

	row := doc.Rows[i]
	if len(row) < len(wishlist.Columns) {
		row = append(row, make([]string, len(wishlist.Columns)-len(row))...)
	}
	copy(row[wishlist.ColPrice:], wishlist.PriceCells(price, source, at))
	doc.Rows[i] = row

	if err := s.save(ctx, doc); err != nil {
		return false, err
	}
	s.logger.Info("Wishlist price updated", "owner", owner, "product", query, "price", price, "source", source)
	return true, nil
}

// open loads the document, creating it on first use. Callers hold s.mu.
func (s *Store) open(ctx context.Context) (*document, error) {
	doc, err := s.load(ctx)
	if err == nil {
		return doc, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	doc = &document{Table: wishlist.TableName, Columns: wishlist.Columns}
	if err := s.save(ctx, doc); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	s.logger.Info("Wishlist table created", "table", wishlist.TableName, "object", ObjectName)
	return doc, nil
}

func (s *Store) load(ctx context.Context) (*document, error) {
	var data []byte
	var generation int64

	if s.localPath != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(s.localPath, ObjectName))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		notFound := false
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(ObjectName).NewReader(ctx)
				if openErr != nil {
					// Don't retry on "not found" errors
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						notFound = true
						return retry.Unrecoverable(ErrNotFound)
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				readData, readErr := io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				data, generation = readData, r.Attrs.Generation
				return nil
			},
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.MaxDelay(30*time.Second),
			retry.MaxJitter(time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, retryErr error) {
				s.logger.Info("Retrying load operation after error", "attempt", n, "object", ObjectName, "error", retryErr)
			}),
		)
		if notFound {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load after retries: %w", err)
		}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal table: %w", err)
	}
	doc.generation = generation
	return &doc, nil
}

func (s *Store) save(ctx context.Context, doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal table: %w", err)
	}

	if s.localPath != "" {
		if err := os.MkdirAll(s.localPath, 0o700); err != nil {
			return fmt.Errorf("create local storage directory: %w", err)
		}
		// Write then rename so a crash never leaves a truncated table.
		tmp := filepath.Join(s.localPath, ObjectName+".tmp")
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		if err := os.Rename(tmp, filepath.Join(s.localPath, ObjectName)); err != nil {
			return fmt.Errorf("replace local table: %w", err)
		}
		return nil
	}

	// The write is conditional on the generation that was read, so a
	// concurrent writer in another instance is detected instead of overwritten.
	cond := storage.Conditions{GenerationMatch: doc.generation}
	if doc.generation == 0 {
		cond = storage.Conditions{DoesNotExist: true}
	}

	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(ObjectName).If(cond).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				if isPreconditionFailed(closeErr) {
					return retry.Unrecoverable(fmt.Errorf("table modified concurrently: %w", closeErr))
				}
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			doc.generation = w.Attrs().Generation
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "object", ObjectName, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
