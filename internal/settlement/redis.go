package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	walletKey  = "housie:wallet:%s"  // hash: coins, wins, losses
	txnKey     = "housie:txn:%s"     // idempotency marker
	historyKey = "housie:history:%s" // list of GameRecord JSON

	txnTTL = 24 * time.Hour
)

// RedisLedger keeps wallets in a Redis hash per account. Transaction ids are
// recorded as short-lived marker keys so a retried settlement never applies
// twice. The server is the single writer for game settlements, so the
// check-then-increment sequence does not need a cross-process lock.
type RedisLedger struct {
	client  *redis.Client
	initial int
}

// NewRedisLedger connects a ledger to an existing Redis client. Unseen
// accounts start with initialCoins.
func NewRedisLedger(client *redis.Client, initialCoins int) *RedisLedger {
	return &RedisLedger{client: client, initial: initialCoins}
}

func (l *RedisLedger) stats(ctx context.Context, accountID string) (Stats, error) {
	key := fmt.Sprintf(walletKey, accountID)

	exists, err := l.client.Exists(ctx, key).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("read wallet: %w", err)
	}
	if exists == 0 {
		if err := l.client.HSet(ctx, key, "coins", l.initial, "wins", 0, "losses", 0).Err(); err != nil {
			return Stats{}, fmt.Errorf("create wallet: %w", err)
		}
		return Stats{Coins: l.initial}, nil
	}

	var s Stats
	if err := l.client.HGetAll(ctx, key).Scan(&s); err != nil {
		return Stats{}, fmt.Errorf("scan wallet: %w", err)
	}
	return s, nil
}

// alreadyApplied marks txnID as seen, reporting whether it had been seen
// before.
func (l *RedisLedger) alreadyApplied(ctx context.Context, txnID string) (bool, error) {
	set, err := l.client.SetNX(ctx, fmt.Sprintf(txnKey, txnID), 1, txnTTL).Result()
	if err != nil {
		return false, fmt.Errorf("txn marker: %w", err)
	}
	return !set, nil
}

func (l *RedisLedger) clearTxn(ctx context.Context, txnID string) {
	l.client.Del(ctx, fmt.Sprintf(txnKey, txnID))
}

// Deduct removes amount from the wallet.
func (l *RedisLedger) Deduct(ctx context.Context, accountID string, amount int, txnID string) (Stats, error) {
	applied, err := l.alreadyApplied(ctx, txnID)
	if err != nil {
		return Stats{}, err
	}
	if applied {
		return l.stats(ctx, accountID)
	}

	s, err := l.stats(ctx, accountID)
	if err != nil {
		l.clearTxn(ctx, txnID)
		return Stats{}, err
	}
	if s.Coins < amount {
		// Leave the txn retryable; nothing was applied.
		l.clearTxn(ctx, txnID)
		return s, ErrInsufficientFunds
	}

	coins, err := l.client.HIncrBy(ctx, fmt.Sprintf(walletKey, accountID), "coins", int64(-amount)).Result()
	if err != nil {
		l.clearTxn(ctx, txnID)
		return Stats{}, fmt.Errorf("deduct: %w", err)
	}
	s.Coins = int(coins)
	return s, nil
}

// Credit adds amount to the wallet.
func (l *RedisLedger) Credit(ctx context.Context, accountID string, amount int, txnID string) (Stats, error) {
	applied, err := l.alreadyApplied(ctx, txnID)
	if err != nil {
		return Stats{}, err
	}
	if applied {
		return l.stats(ctx, accountID)
	}

	s, err := l.stats(ctx, accountID)
	if err != nil {
		l.clearTxn(ctx, txnID)
		return Stats{}, err
	}
	coins, err := l.client.HIncrBy(ctx, fmt.Sprintf(walletKey, accountID), "coins", int64(amount)).Result()
	if err != nil {
		l.clearTxn(ctx, txnID)
		return Stats{}, fmt.Errorf("credit: %w", err)
	}
	s.Coins = int(coins)
	return s, nil
}

// RecordResult bumps the win or loss tally.
func (l *RedisLedger) RecordResult(ctx context.Context, accountID string, won bool, txnID string) (Stats, error) {
	applied, err := l.alreadyApplied(ctx, txnID)
	if err != nil {
		return Stats{}, err
	}
	if applied {
		return l.stats(ctx, accountID)
	}

	if _, err := l.stats(ctx, accountID); err != nil {
		l.clearTxn(ctx, txnID)
		return Stats{}, err
	}

	field := "losses"
	if won {
		field = "wins"
	}
	if _, err := l.client.HIncrBy(ctx, fmt.Sprintf(walletKey, accountID), field, 1).Result(); err != nil {
		l.clearTxn(ctx, txnID)
		return Stats{}, fmt.Errorf("record result: %w", err)
	}
	return l.stats(ctx, accountID)
}

// RedisHistory appends game records to a per-account list.
type RedisHistory struct {
	client *redis.Client
}

// NewRedisHistory connects a history store to an existing Redis client.
func NewRedisHistory(client *redis.Client) *RedisHistory {
	return &RedisHistory{client: client}
}

// Record pushes a game record onto the account's history list.
func (h *RedisHistory) Record(ctx context.Context, rec GameRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return h.client.LPush(ctx, fmt.Sprintf(historyKey, rec.AccountID), data).Err()
}

// Connect dials Redis and verifies the connection, mirroring how the wallet
// service is stood up.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}
