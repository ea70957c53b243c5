package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	paymentpkg "github.com/frahmantamala/pos-payments/internal/payment"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "pos"

// TransactionRepository keeps one JSON document per transaction and a sorted
// set of pending PIX ids scored by their expiry in unix milliseconds.
type TransactionRepository struct {
	client redis.UniversalClient
	prefix string
}

func NewTransactionRepository(client redis.UniversalClient, prefix string) *TransactionRepository {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &TransactionRepository{client: client, prefix: prefix}
}

var (
	_ paymentpkg.Store            = (*TransactionRepository)(nil)
	_ paymentpkg.PendingPixLister = (*TransactionRepository)(nil)
)

type document struct {
	Version     int64                       `json:"version"`
	Transaction *paymentpkg.TransactionView `json:"transaction"`
}

func (r *TransactionRepository) Save(ctx context.Context, tx *paymentpkg.Transaction) error {
	key := r.transactionKey(tx.ID)
	next := tx.Version + 1

	data, err := json.Marshal(document{Version: next, Transaction: paymentpkg.ToView(tx)})
	if err != nil {
		return err
	}

	err = r.client.Watch(ctx, func(rtx *redis.Tx) error {
		current, err := r.storedVersion(ctx, rtx, key)
		if err != nil {
			return err
		}
		if current != tx.Version {
			return paymentpkg.ErrVersionConflict
		}

		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pix, ok := tx.Pix()
			if ok && tx.Status == paymentpkg.StatusPending {
				pipe.ZAdd(ctx, r.pendingPixKey(), redis.Z{
					Score:  float64(pix.ExpiresAt.UnixMilli()),
					Member: tx.ID,
				})
			} else if ok {
				pipe.ZRem(ctx, r.pendingPixKey(), tx.ID)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return paymentpkg.ErrVersionConflict
	}
	if err != nil {
		return err
	}

	tx.Version = next
	return nil
}

func (r *TransactionRepository) FindByID(ctx context.Context, id string) (*paymentpkg.Transaction, error) {
	val, err := r.client.Get(ctx, r.transactionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(id, val)
}

func (r *TransactionRepository) ListExpiredPix(ctx context.Context, now time.Time, limit int) ([]*paymentpkg.Transaction, error) {
	by := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := r.client.ZRangeByScore(ctx, r.pendingPixKey(), by).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*paymentpkg.Transaction, 0, len(ids))
	for _, id := range ids {
		tx, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if tx == nil || tx.Status != paymentpkg.StatusPending {
			continue
		}
		result = append(result, tx)
	}
	return result, nil
}

// PingContext reports whether redis is reachable.
func (r *TransactionRepository) PingContext(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	return nil
}

func (r *TransactionRepository) storedVersion(ctx context.Context, rtx *redis.Tx, key string) (int64, error) {
	val, err := rtx.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var doc document
	if err := json.Unmarshal([]byte(val), &doc); err != nil {
		return 0, fmt.Errorf("decode stored transaction: %w", err)
	}
	return doc.Version, nil
}

func (r *TransactionRepository) transactionKey(id string) string {
	return fmt.Sprintf("%s:transaction:%s", r.prefix, id)
}

func (r *TransactionRepository) pendingPixKey() string {
	return r.prefix + ":pix:pending"
}

func decode(id, val string) (*paymentpkg.Transaction, error) {
	var doc document
	if err := json.Unmarshal([]byte(val), &doc); err != nil {
		return nil, fmt.Errorf("transaction %s: %w", id, err)
	}
	if doc.Transaction == nil {
		return nil, fmt.Errorf("transaction %s: empty document", id)
	}
	tx, err := doc.Transaction.ToTransaction()
	if err != nil {
		return nil, err
	}
	tx.Version = doc.Version
	return tx, nil
}

// NewClient builds a go-redis client from connection settings.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}
