// Package ledger records fairground token movements and derives balances
// and rankings through the aggregation pipeline.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fairground/go-services/internal/datastore"
	"github.com/fairground/go-services/internal/datastore/service"
)

const collection = "transactions"

var (
	ErrInvalidEntry = errors.New("ledger: entry needs a user and non-zero points")
	ErrUnavailable  = errors.New("ledger: storage unavailable")
)

type Entry struct {
	ID        string    `doc:"id" json:"id"`
	UserID    string    `doc:"userId" json:"userId"`
	Points    int64     `doc:"points" json:"points"`
	Reason    string    `doc:"reason" json:"reason,omitempty"`
	CreatedAt time.Time `doc:"createdAt" json:"createdAt"`
}

type Standing struct {
	UserID string `json:"userId"`
	Points int64  `json:"points"`
}

type Ledger struct {
	store service.Store
}

func New(store service.Store) *Ledger { return &Ledger{store: store} }

// Record appends an entry. Negative points spend tokens.
func (l *Ledger) Record(ctx context.Context, userID string, points int64, reason string) (*Entry, error) {
	if userID == "" || points == 0 {
		return nil, ErrInvalidEntry
	}
	d := l.store.Create(ctx, collection, datastore.Document{"userId": userID, "points": points, "reason": reason})
	if d == nil {
		return nil, ErrUnavailable
	}
	var e Entry
	if err := datastore.Decode(d, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Balance sums every entry for userID; unknown users have a zero balance.
func (l *Ledger) Balance(ctx context.Context, userID string) int64 {
	out := l.store.Aggregate(ctx, collection, datastore.Pipeline{
		datastore.Match(datastore.Filter{"userId": userID}),
		datastore.Group("", map[string]string{"balance": "points"}),
	})
	if len(out) == 0 {
		return 0
	}
	return toInt64(out[0]["balance"])
}

// Leaderboard returns the n users with the highest balances.
func (l *Ledger) Leaderboard(ctx context.Context, n int) []Standing {
	out := l.store.Aggregate(ctx, collection, datastore.Pipeline{
		datastore.Match(datastore.Filter{"userId": map[string]any{"$exists": true}}),
		datastore.Group("userId", map[string]string{"points": "points"}),
		datastore.Sort(datastore.Desc("points"), datastore.Asc(datastore.GroupKey)),
		datastore.Limit(n),
	})
	standings := make([]Standing, 0, len(out))
	for _, d := range out {
		uid, _ := d[datastore.GroupKey].(string)
		standings = append(standings, Standing{UserID: uid, Points: toInt64(d["points"])})
	}
	return standings
}

// History lists a user's entries, newest first. A stored entry that does
// not decode fails the whole listing.
func (l *Ledger) History(ctx context.Context, userID string) ([]Entry, error) {
	docs := l.store.Aggregate(ctx, collection, datastore.Pipeline{
		datastore.Match(datastore.Filter{"userId": userID}),
		datastore.Sort(datastore.Desc("createdAt")),
	})
	out := make([]Entry, 0, len(docs))
	for _, d := range docs {
		var e Entry
		if err := datastore.Decode(d, &e); err != nil {
			return nil, fmt.Errorf("ledger: entry %s: %w", d.ID(), err)
		}
		out = append(out, e)
	}
	return out, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(math.Round(n))
	}
	return 0
}
