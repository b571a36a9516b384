package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
)

const productColumns = `id, store_id, name, sku, unit_price, vat_rate, quantity, synced, created_at, updated_at`

// pendingDeltaSQL sums the deltas of product ? whose queue items have not
// reached the remote yet.
const pendingDeltaSQL = `
	COALESCE((
		SELECT SUM(d.delta)
		FROM stock_deltas d
		JOIN queue_items q ON q.domain = d.item_domain AND q.id = d.item_id
		WHERE d.product_id = ? AND q.synced = 0 AND q.status = 'pending'
	), 0)`

// RecordSale commits a sale, its optional fiscal invoice, one stock delta
// per product and the matching local decrements in one transaction.
// Quantities clamp at zero. Unknown products abort the whole sale.
func (s *Store) RecordSale(ctx context.Context, sale domain.Sale, invoice *domain.Invoice) error {
	saleItem, err := domain.NewQueueItem(domain.DomainSales, sale.ID, sale.StoreID, sale)
	if err != nil {
		return apperrors.InvalidInput(fmt.Sprintf("encode sale: %v", err))
	}
	saleItem.CreatedAt = sale.CreatedAt

	var taxItem *domain.QueueItem
	if invoice != nil {
		it, err := domain.NewQueueItem(domain.DomainTax, invoice.Number, invoice.StoreID, invoice)
		if err != nil {
			return apperrors.InvalidInput(fmt.Sprintf("encode invoice: %v", err))
		}
		it.CreatedAt = sale.CreatedAt
		taxItem = &it
	}

	return s.withTx(ctx, "record sale", func(tx *sql.Tx) error {
		if err := s.insertNewItem(ctx, tx, saleItem); err != nil {
			return err
		}
		if taxItem != nil {
			if err := s.insertNewItem(ctx, tx, *taxItem); err != nil {
				return err
			}
		}
		for _, line := range sale.Lines {
			if err := s.applyDelta(ctx, tx, domain.StockDelta{
				ItemDomain: domain.DomainSales,
				ItemID:     sale.ID,
				ProductID:  line.ProductID,
				Delta:      -line.Quantity,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordStockAdjustment queues upd and applies it to the local quantity in
// one transaction, returning the updated product.
func (s *Store) RecordStockAdjustment(ctx context.Context, upd domain.StockUpdate) (*domain.Product, error) {
	item, err := domain.NewQueueItem(domain.DomainStock, upd.ID, upd.StoreID, upd)
	if err != nil {
		return nil, apperrors.InvalidInput(fmt.Sprintf("encode stock update: %v", err))
	}
	item.CreatedAt = upd.CreatedAt

	var product *domain.Product
	err = s.withTx(ctx, "record stock adjustment", func(tx *sql.Tx) error {
		if err := s.insertNewItem(ctx, tx, item); err != nil {
			return err
		}
		if err := s.applyDelta(ctx, tx, domain.StockDelta{
			ItemDomain: domain.DomainStock,
			ItemID:     upd.ID,
			ProductID:  upd.ProductID,
			Delta:      upd.Delta,
		}); err != nil {
			return err
		}
		product, err = getProduct(ctx, tx, upd.ProductID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// UpsertProduct writes the product's catalog fields and queues it for the
// remote. Quantity is only taken for new products; existing quantities
// change through sales and adjustments.
func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) (*domain.Product, error) {
	var product *domain.Product
	err := s.withTx(ctx, "upsert product", func(tx *sql.Tx) error {
		now := s.nowNanos()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO products (`+productColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, MAX(?, 0), 0, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				sku = excluded.sku,
				unit_price = excluded.unit_price,
				vat_rate = excluded.vat_rate,
				synced = 0,
				updated_at = excluded.updated_at`,
			p.ID, p.StoreID, p.Name, p.SKU, p.UnitPrice, p.VATRate, p.Quantity, now, now,
		); err != nil {
			return apperrors.Persistence("upsert product", err)
		}

		var err error
		product, err = getProduct(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		// Queue the stored row so the remote sees the current quantity.
		item, err := domain.NewQueueItem(domain.DomainProducts, product.ID, product.StoreID, product)
		if err != nil {
			return apperrors.Internal(err)
		}
		if err := s.putItem(ctx, tx, item); err != nil {
			return apperrors.Persistence("upsert product", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// ImportProduct inserts a product known only to the remote. Existing rows
// are left alone. It reports whether a row was created.
func (s *Store) ImportProduct(ctx context.Context, p domain.Product) (bool, error) {
	now := s.nowNanos()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, MAX(?, 0), 1, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.StoreID, p.Name, p.SKU, p.UnitPrice, p.VATRate, p.Quantity, now, now)
	if err != nil {
		return false, apperrors.Persistence("import product", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ApplyRemoteQuantity sets the local quantity of productID to the remote
// quantity plus every delta still waiting to sync, clamped at zero, in a
// single statement. A sale recorded while the remote value was in flight is
// therefore never lost.
func (s *Store) ApplyRemoteQuantity(ctx context.Context, productID string, remoteQty int) (int, error) {
	var qty int
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET quantity = MAX(0, ? + `+pendingDeltaSQL+`), updated_at = ?
		WHERE id = ?
		RETURNING quantity`,
		remoteQty, productID, s.nowNanos(), productID,
	).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperrors.NotFound("product", productID)
	}
	if err != nil {
		return 0, apperrors.Persistence("apply remote quantity", err)
	}
	return qty, nil
}

// GetProduct returns one product.
func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return getProduct(ctx, s.db, id)
}

// GetProducts returns the products with the given ids, keyed by id.
// Missing ids are absent from the map.
func (s *Store) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if _, seen := out[id]; seen {
			continue
		}
		p, err := getProduct(ctx, s.db, id)
		if errors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = *p
	}
	return out, nil
}

// ListProducts pages through a store's products by name.
func (s *Store) ListProducts(ctx context.Context, storeID string, limit, offset int) ([]domain.Product, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE store_id = ?`, storeID).Scan(&total); err != nil {
		return nil, 0, apperrors.Persistence("count products", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE store_id = ?
		ORDER BY name, id
		LIMIT ? OFFSET ?`, storeID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Persistence("list products", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, apperrors.Persistence("list products", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.Persistence("list products", err)
	}
	return products, total, nil
}

// PendingDeltas returns the unsynced deltas for productID in queue order.
func (s *Store) PendingDeltas(ctx context.Context, productID string) ([]domain.StockDelta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.item_domain, d.item_id, d.product_id, d.delta
		FROM stock_deltas d
		JOIN queue_items q ON q.domain = d.item_domain AND q.id = d.item_id
		WHERE d.product_id = ? AND q.synced = 0 AND q.status = 'pending'
		ORDER BY q.created_at, q.rowid`, productID)
	if err != nil {
		return nil, apperrors.Persistence("pending deltas", err)
	}
	defer rows.Close()

	var deltas []domain.StockDelta
	for rows.Next() {
		var d domain.StockDelta
		if err := rows.Scan(&d.ItemDomain, &d.ItemID, &d.ProductID, &d.Delta); err != nil {
			return nil, apperrors.Persistence("pending deltas", err)
		}
		deltas = append(deltas, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("pending deltas", err)
	}
	return deltas, nil
}

// insertNewItem inserts item, failing with AlreadyExists on a duplicate key.
func (s *Store) insertNewItem(ctx context.Context, tx *sql.Tx, item domain.QueueItem) error {
	now := s.nowNanos()
	createdAt := now
	if !item.CreatedAt.IsZero() {
		createdAt = item.CreatedAt.UTC().UnixNano()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO queue_items (domain, id, store_id, idempotency_key, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain, id) DO NOTHING`,
		item.Domain, item.ID, item.StoreID, item.IdempotencyKey, []byte(item.Payload), createdAt, now)
	if err != nil {
		return apperrors.Persistence("enqueue "+string(item.Domain), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.AlreadyExists(string(item.Domain)+" item", "id", item.ID)
	}
	return nil
}

// applyDelta records d and applies it to the product's quantity, clamped at
// zero.
func (s *Store) applyDelta(ctx context.Context, tx *sql.Tx, d domain.StockDelta) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE products SET quantity = MAX(0, quantity + ?), updated_at = ?
		WHERE id = ?`, d.Delta, s.nowNanos(), d.ProductID)
	if err != nil {
		return apperrors.Persistence("apply stock delta", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("product", d.ProductID)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stock_deltas (item_domain, item_id, product_id, delta)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (item_domain, item_id, product_id) DO UPDATE SET delta = delta + excluded.delta`,
		d.ItemDomain, d.ItemID, d.ProductID, d.Delta); err != nil {
		return apperrors.Persistence("record stock delta", err)
	}
	return nil
}

// queryRower is satisfied by *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getProduct(ctx context.Context, q queryRower, id string) (*domain.Product, error) {
	row := q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("product", id)
	}
	if err != nil {
		return nil, apperrors.Persistence("get product", err)
	}
	return p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (*domain.Product, error) {
	var (
		p                domain.Product
		synced           int
		created, updated int64
	)
	if err := row.Scan(&p.ID, &p.StoreID, &p.Name, &p.SKU, &p.UnitPrice, &p.VATRate, &p.Quantity,
		&synced, &created, &updated); err != nil {
		return nil, err
	}
	p.Synced = synced == 1
	p.CreatedAt = fromNanos(created)
	p.UpdatedAt = fromNanos(updated)
	return &p, nil
}
