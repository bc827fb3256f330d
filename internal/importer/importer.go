package importer

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cntrlx-store/internal/domain"
	purchaserepo "cntrlx-store/internal/repository/purchase"
	"github.com/shopspring/decimal"
)

type PurchaseWriter interface {
	Insert(ctx context.Context, in purchaserepo.CreateInput) (*domain.Purchase, bool, error)
}

// CSVImporter reads purchase exports and records them through the same
// insert-or-ignore write the webhook uses.
//
// A row carrying user_id and session_id starts a purchase. Its items come
// from an "items" JSON column, from item.* columns, or both. Rows with
// empty user_id and session_id add further item.* lines to the purchase
// above them.
type CSVImporter struct {
	reader *csv.Reader
	repo   PurchaseWriter
}

func NewCSVImporter(r io.Reader, repo PurchaseWriter) *CSVImporter {
	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = -1 // rows may have trailing commas
	return &CSVImporter{
		reader: csvr,
		repo:   repo,
	}
}

// Result counts what Run did.
type Result struct {
	Imported int
	// Skipped counts purchases that were already on file.
	Skipped int
}

type csvRow struct {
	UserID    string
	SessionID string
	CreatedAt time.Time
	Items     []domain.PurchasedItem
}

// Run parses CSV rows and records purchases grouped by session.
func (i *CSVImporter) Run(ctx context.Context) (Result, error) {
	var res Result
	headers, err := i.reader.Read()
	if err != nil {
		return res, fmt.Errorf("read headers: %w", err)
	}
	index := headerIndex(headers)
	if _, ok := index["user_id"]; !ok {
		return res, errors.New("missing user_id column")
	}
	if _, ok := index["session_id"]; !ok {
		return res, errors.New("missing session_id column")
	}

	var current *csvRow
	for {
		record, err := i.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("read row: %w", err)
		}
		line, _ := i.reader.FieldPos(0)

		row, err := parseRow(record, index)
		if err != nil {
			return res, fmt.Errorf("line %d: %w", line, err)
		}
		if row == nil {
			continue
		}

		if row.UserID != "" || row.SessionID != "" {
			if current != nil {
				if err := i.save(ctx, current, &res); err != nil {
					return res, err
				}
			}
			current = row
			continue
		}

		// Continuation rows carry extra items for the current purchase.
		if current == nil {
			return res, fmt.Errorf("line %d: item row before any purchase", line)
		}
		current.Items = append(current.Items, row.Items...)
	}

	if current != nil {
		if err := i.save(ctx, current, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (i *CSVImporter) save(ctx context.Context, row *csvRow, res *Result) error {
	if row.UserID == "" || row.SessionID == "" {
		return fmt.Errorf("invalid purchase row (user_id and session_id required) for session %q", row.SessionID)
	}
	_, inserted, err := i.repo.Insert(ctx, purchaserepo.CreateInput{
		UserID:    row.UserID,
		SessionID: row.SessionID,
		Items:     row.Items,
		CreatedAt: row.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("insert purchase %q: %w", row.SessionID, err)
	}
	if inserted {
		res.Imported++
	} else {
		res.Skipped++
	}
	return nil
}

func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

func parseRow(record []string, index map[string]int) (*csvRow, error) {
	row := &csvRow{
		UserID:    pick(record, index, "user_id"),
		SessionID: pick(record, index, "session_id"),
	}

	if raw := pick(record, index, "created_at"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("created_at %q: %w", raw, err)
		}
		row.CreatedAt = ts
	}

	if raw := pick(record, index, "items"); raw != "" {
		var items []domain.PurchasedItem
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		row.Items = append(row.Items, items...)
	}

	name := pick(record, index, "item.name")
	productID := pick(record, index, "item.product_id")
	if name != "" || productID != "" {
		item := domain.PurchasedItem{ProductID: productID, Name: name}
		if raw := pick(record, index, "item.price"); raw != "" {
			price, err := decimal.NewFromString(strings.TrimPrefix(raw, "$"))
			if err != nil {
				return nil, fmt.Errorf("item.price %q: %w", raw, err)
			}
			item.Price = price
		}
		row.Items = append(row.Items, item)
	}

	if row.UserID == "" && row.SessionID == "" && len(row.Items) == 0 {
		return nil, nil
	}
	return row, nil
}

func pick(record []string, index map[string]int, key string) string {
	pos, ok := index[key]
	if !ok || pos >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[pos])
}
