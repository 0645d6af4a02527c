package inventory

import (
	"context"
	"maps"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serat-auto/backoffice/internal/shared"
)

type memoryRepo struct {
	stock     map[int64]int
	movements []Movement
	nextID    int64
	keys      map[string]bool
	// failCommit makes the next WithTx fail after fn ran, as a cancelled commit would.
	failCommit error
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(stock map[int64]int) *memoryRepo {
	return &memoryRepo{stock: stock, keys: map[string]bool{}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Stock, shared.IdempotencyGuard) error) error {
	snapshot := maps.Clone(r.stock)
	keys := maps.Clone(r.keys)
	journal := len(r.movements)
	err := fn(ctx, &memoryTx{repo: r}, memoryKeys{r})
	if err == nil && r.failCommit != nil {
		err, r.failCommit = r.failCommit, nil
	}
	if err != nil {
		r.stock = snapshot
		r.keys = keys
		r.movements = r.movements[:journal]
		return err
	}
	return nil
}

func (r *memoryRepo) Available(ctx context.Context, productID int64) (int, error) {
	qty, ok := r.stock[productID]
	if !ok {
		return 0, shared.NewNotFound("product", productID)
	}
	return qty, nil
}

func (r *memoryRepo) Movements(ctx context.Context, filter StockCardFilter) ([]Movement, error) {
	var out []Movement
	for i := len(r.movements) - 1; i >= 0; i-- {
		if r.movements[i].ProductID == filter.ProductID {
			out = append(out, r.movements[i])
		}
	}
	return out, nil
}

func (tx *memoryTx) CheckAvailable(ctx context.Context, productID int64, qty int) (bool, error) {
	available, err := tx.Available(ctx, productID)
	return available >= qty, err
}

func (tx *memoryTx) Available(ctx context.Context, productID int64) (int, error) {
	return tx.repo.Available(ctx, productID)
}

func (tx *memoryTx) Decrement(ctx context.Context, productID int64, qty int, ref Reference) (Movement, error) {
	available, err := tx.Available(ctx, productID)
	if err != nil {
		return Movement{}, err
	}
	if available < qty {
		return Movement{}, &shared.InsufficientStockError{ProductID: productID, Available: available, Requested: qty}
	}
	return tx.post(productID, -qty, ref), nil
}

func (tx *memoryTx) Increment(ctx context.Context, productID int64, qty int, ref Reference) (Movement, error) {
	if _, err := tx.Available(ctx, productID); err != nil {
		return Movement{}, err
	}
	return tx.post(productID, qty, ref), nil
}

func (tx *memoryTx) post(productID int64, change int, ref Reference) Movement {
	tx.repo.stock[productID] += change
	tx.repo.nextID++
	m := Movement{
		ID:           tx.repo.nextID,
		ProductID:    productID,
		Type:         ref.Type,
		QtyChange:    change,
		BalanceAfter: tx.repo.stock[productID],
		RefModule:    ref.Module,
		ActorID:      ref.ActorID,
		Note:         ref.Note,
		PostedAt:     ref.At,
	}
	tx.repo.movements = append(tx.repo.movements, m)
	return m
}

type memoryKeys struct{ repo *memoryRepo }

func (m memoryKeys) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.repo.keys[module+":"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.repo.keys[module+":"+key] = true
	return nil
}

func (m memoryKeys) Delete(ctx context.Context, key, module string) error {
	delete(m.repo.keys, module+":"+key)
	return nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func TestPostAdjustmentMovesStockBothWays(t *testing.T) {
	repo := newMemoryRepo(map[int64]int{1: 4})
	audit := &recordingAudit{}
	svc := NewService(repo, audit, nil)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	entry, err := svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, Qty: 6, Note: "restock", ActorID: 9, At: at})
	require.NoError(t, err)
	assert.Equal(t, 6, entry.QtyIn)
	assert.Equal(t, 10, entry.BalanceQty)

	entry, err = svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, Qty: -3, Note: "damaged", ActorID: 9, At: at})
	require.NoError(t, err)
	assert.Equal(t, 3, entry.QtyOut)
	assert.Equal(t, 7, entry.BalanceQty)
	require.Len(t, audit.logs, 2)
	assert.Equal(t, "inventory.adjust", audit.logs[1].Action)
}

func TestPostAdjustmentNeverGoesNegative(t *testing.T) {
	repo := newMemoryRepo(map[int64]int{1: 2})
	svc := NewService(repo, nil, nil)

	_, err := svc.PostAdjustment(context.Background(), AdjustmentInput{ProductID: 1, Qty: -3})
	var shortfall *shared.InsufficientStockError
	require.ErrorAs(t, err, &shortfall)
	assert.Equal(t, 2, shortfall.Available)
	assert.Equal(t, 3, shortfall.Requested)
	assert.True(t, IsShortfall(err))
	assert.Equal(t, 2, repo.stock[1])
	assert.Empty(t, repo.movements)
}

func TestPostAdjustmentValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(map[int64]int{}), nil, nil)
	ctx := context.Background()

	_, err := svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, Qty: 0})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.PostAdjustment(ctx, AdjustmentInput{Qty: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 404, Qty: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPostAdjustmentIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo(map[int64]int{1: 1})
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, Qty: 5, Key: "k-1"})
	require.NoError(t, err)
	_, err = svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, Qty: 5, Key: "k-1"})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	assert.Equal(t, 6, repo.stock[1])

	_, err = svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, Qty: -50, Key: "k-2"})
	require.Error(t, err)
	assert.False(t, repo.keys["inventory:k-2"], "failed adjustment releases its key")

	repo.failCommit = context.Canceled
	_, err = svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, Qty: 2, Key: "k-3"})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, repo.keys["inventory:k-3"])
	assert.Equal(t, 6, repo.stock[1])

	_, err = svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, Qty: 2, Key: "k-3"})
	require.NoError(t, err)
	assert.Equal(t, 8, repo.stock[1])
}

func TestStockCardListsNewestFirst(t *testing.T) {
	repo := newMemoryRepo(map[int64]int{1: 10, 2: 3})
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, Qty: -4, Note: "first"})
	require.NoError(t, err)
	_, err = svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 2, Qty: 1})
	require.NoError(t, err)
	_, err = svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, Qty: 2, Note: "second"})
	require.NoError(t, err)

	card, err := svc.StockCard(ctx, StockCardFilter{ProductID: 1})
	require.NoError(t, err)
	assert.Equal(t, 8, card.Available)
	require.Len(t, card.Entries, 2)
	assert.Equal(t, "second", card.Entries[0].Note)
	assert.Equal(t, 4, card.Entries[1].QtyOut)

	_, err = svc.StockCard(ctx, StockCardFilter{ProductID: 99})
	require.ErrorIs(t, err, shared.ErrNotFound)
}
