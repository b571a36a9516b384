// Package postgres talks to the remote system of record through its
// server-side functions. Every function is keyed by a client-generated id so
// a replayed call is a no-op on the server.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
	"github.com/Kellyhimself/POS-sub002/internal/remote"
	"github.com/Kellyhimself/POS-sub002/pkg/database"
	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
)

// Querier is the subset of pgxpool.Pool used here. pgxmock pools satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const (
	createSaleSQL    = `SELECT create_sale($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	updateStockSQL   = `SELECT update_stock($1, $2, $3, $4, $5)`
	upsertProductSQL = `SELECT upsert_product($1, $2, $3, $4, $5, $6, $7)`
	listProductsSQL  = `SELECT id, store_id, name, sku, unit_price, vat_rate, quantity, updated_at
		FROM list_products($1)`
)

// Remote implements remote.SystemOfRecord over a Postgres pool.
type Remote struct {
	db     Querier
	logger *slog.Logger
}

// New creates a Remote.
func New(db Querier, logger *slog.Logger) *Remote {
	return &Remote{db: db, logger: logger}
}

var _ remote.SystemOfRecord = (*Remote)(nil)

// CreateSale calls create_sale. The sale id is the idempotency key.
func (r *Remote) CreateSale(ctx context.Context, sale domain.Sale, isSyncReplay bool) (txID string, err error) {
	raw, err := json.Marshal(sale.Lines)
	if err != nil {
		return "", fmt.Errorf("marshal sale items: %w", err)
	}

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "create_sale", createSaleSQL)
	defer func() { end(err) }()

	err = r.db.QueryRow(ctx, createSaleSQL,
		sale.ID, sale.StoreID, sale.UserID, sale.PaymentMethod,
		sale.TotalAmount, sale.VATTotal, string(raw), isSyncReplay, sale.CreatedAt,
	).Scan(&txID)
	if err != nil {
		return "", classify("create_sale", err)
	}
	return txID, nil
}

// UpdateStock calls update_stock. The update id is the idempotency key; the
// function returns false when the delta would take stock below zero.
func (r *Remote) UpdateStock(ctx context.Context, upd domain.StockUpdate) (applied bool, err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "update_stock", updateStockSQL)
	defer func() { end(err) }()

	err = r.db.QueryRow(ctx, updateStockSQL,
		upd.ID, upd.ProductID, upd.StoreID, upd.Delta, upd.Reason,
	).Scan(&applied)
	if err != nil {
		return false, classify("update_stock", err)
	}
	return applied, nil
}

// UpdateStockBatch applies updates one call at a time. A per-item rejection
// is reported in its result; a connectivity failure aborts the batch.
func (r *Remote) UpdateStockBatch(ctx context.Context, updates []domain.StockUpdate) ([]remote.BatchResult, error) {
	results := make([]remote.BatchResult, 0, len(updates))
	for _, u := range updates {
		ok, err := r.UpdateStock(ctx, u)
		res := remote.BatchResult{ID: u.ID, OK: ok}
		switch {
		case err != nil && !apperrors.IsPermanent(err):
			return nil, err
		case err != nil:
			r.logger.WarnContext(ctx, "remote rejected stock update",
				slog.String("update_id", u.ID),
				slog.String("error", err.Error()),
			)
			res.Error = err.Error()
		case !ok:
			res.Error = "stock would go negative"
		}
		results = append(results, res)
	}
	return results, nil
}

// CreateProductsBatch upserts each product through upsert_product.
func (r *Remote) CreateProductsBatch(ctx context.Context, products []domain.Product) ([]remote.BatchResult, error) {
	results := make([]remote.BatchResult, 0, len(products))
	for _, p := range products {
		err := r.upsertProduct(ctx, p)
		switch {
		case err != nil && !apperrors.IsPermanent(err):
			return nil, err
		case err != nil:
			r.logger.WarnContext(ctx, "remote rejected product",
				slog.String("product_id", p.ID),
				slog.String("error", err.Error()),
			)
			results = append(results, remote.BatchResult{ID: p.ID, Error: err.Error()})
		default:
			results = append(results, remote.BatchResult{ID: p.ID, OK: true})
		}
	}
	return results, nil
}

func (r *Remote) upsertProduct(ctx context.Context, p domain.Product) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "upsert_product", upsertProductSQL)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, upsertProductSQL,
		p.ID, p.StoreID, p.Name, p.SKU, p.UnitPrice, p.VATRate, p.Quantity,
	)
	if err != nil {
		return classify("upsert_product", err)
	}
	return nil
}

// ListProducts reads the remote catalog for storeID.
func (r *Remote) ListProducts(ctx context.Context, storeID string) (products []domain.Product, err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "list_products", listProductsSQL)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, listProductsSQL, storeID)
	if err != nil {
		return nil, classify("list_products", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err = rows.Scan(&p.ID, &p.StoreID, &p.Name, &p.SKU, &p.UnitPrice, &p.VATRate, &p.Quantity, &p.UpdatedAt); err != nil {
			return nil, classify("list_products", err)
		}
		p.Synced = true
		p.CreatedAt = p.UpdatedAt
		products = append(products, p)
	}
	if err = rows.Err(); err != nil {
		return nil, classify("list_products", err)
	}
	return products, nil
}

// Ping checks that the remote database is reachable.
func (r *Remote) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// classify maps driver errors onto the application's error classes:
// unreachable server is transient, data and raised exceptions are
// permanent, contention is transient.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "23"), pgErr.Code == "P0001":
			return &apperrors.AppError{
				Code:    "REMOTE_REJECTED",
				Message: fmt.Sprintf("%s rejected: %s", op, pgErr.Message),
				Status:  http.StatusBadRequest,
				Err:     fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err),
			}
		case pgErr.Code == "40001", pgErr.Code == "40P01", strings.HasPrefix(pgErr.Code, "53"), strings.HasPrefix(pgErr.Code, "57P"):
			return apperrors.Unavailable(op+" temporarily unavailable", err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if pgconn.Timeout(err) || database.IsConnectionError(err) || apperrors.IsTransient(err) {
		return apperrors.Unavailable(op+" unreachable", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
