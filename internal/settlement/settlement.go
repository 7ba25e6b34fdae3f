// Package settlement connects game outcomes to the external coin ledger and
// game history collaborators. The gateway deducts entry fees synchronously in
// the join path, while payouts and history writes run through the async
// Settler so a win broadcast never blocks on the ledger.
package settlement

import (
	"context"
	"errors"
	"time"
)

// ErrInsufficientFunds is returned by Deduct when the account cannot cover
// the amount.
var ErrInsufficientFunds = errors.New("insufficient coins")

// Stats is the balance and win/loss tally pushed privately to a player after
// a ledger operation touches their account.
type Stats struct {
	Coins  int `json:"coins" redis:"coins"`
	Wins   int `json:"wins" redis:"wins"`
	Losses int `json:"losses" redis:"losses"`
}

// Result of a finished game for one account.
type Result string

const (
	ResultWin  Result = "WIN"
	ResultLoss Result = "LOSS"
)

// Game modes recorded in history.
const (
	ModeFree = "FREE"
	ModePaid = "PAID"
)

// GameRecord is one history entry.
type GameRecord struct {
	AccountID string    `json:"accountId"`
	RoomID    string    `json:"roomId"`
	Mode      string    `json:"mode"` // FREE or PAID
	EntryFee  int       `json:"entryFee"`
	Winnings  int       `json:"winnings"`
	Result    Result    `json:"result"`
	At        time.Time `json:"at"`
}

// Ledger is the coin wallet collaborator. Every mutation carries a caller
// supplied transaction id and must be idempotent under it: replaying the same
// txn id applies the change at most once and returns the current stats. That
// is what makes the settler's at-least-once retries safe.
type Ledger interface {
	Deduct(ctx context.Context, accountID string, amount int, txnID string) (Stats, error)
	Credit(ctx context.Context, accountID string, amount int, txnID string) (Stats, error)
	RecordResult(ctx context.Context, accountID string, won bool, txnID string) (Stats, error)
}

// History records finished games per account.
type History interface {
	Record(ctx context.Context, rec GameRecord) error
}
