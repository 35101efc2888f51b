// Package wallet implements the idempotent money commands on top of the
// double-entry ledger. Every command is one serializable store transaction
// holding its postings, its idempotency record and its outbox event.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/audit"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/auth"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/idempotency"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/ledger"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/metrics"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/outbox"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
)

// BalanceCache holds the encoded GetBalance response per player. Entries are
// stored under the generation read before the store load; Invalidate moves the
// player to a new generation.
type BalanceCache interface {
	Generation(ctx context.Context, playerID string) (int64, error)
	Get(ctx context.Context, playerID string, gen int64) ([]byte, bool, error)
	Set(ctx context.Context, playerID string, gen int64, payload []byte) error
	Invalidate(ctx context.Context, playerID string) error
}

type Options struct {
	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Cache   BalanceCache
	Audit   audit.Recorder
	// MaxAttempts bounds reruns after serialization failures and lost
	// idempotency races. Defaults to 5.
	MaxAttempts int
	RetryDelay  time.Duration
}

type Service struct {
	store    store.Store
	engine   *ledger.Engine
	guard    *idempotency.Guard
	writer   *outbox.Writer
	clk      clock.Clock
	log      *zap.Logger
	metrics  *metrics.Metrics
	cache    BalanceCache
	audit    audit.Recorder
	validate *validator.Validate

	maxAttempts int
	retryDelay  time.Duration
}

func New(s store.Store, opts Options) *Service {
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 10 * time.Millisecond
	}
	return &Service{
		store:       s,
		engine:      ledger.NewEngine(clk),
		guard:       idempotency.NewGuard(clk),
		writer:      outbox.NewWriter(clk),
		clk:         clk,
		log:         log,
		metrics:     opts.Metrics,
		cache:       opts.Cache,
		audit:       opts.Audit,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		maxAttempts: attempts,
		retryDelay:  delay,
	}
}

func (s *Service) Engine() *ledger.Engine { return s.engine }

func (s *Service) check(cmd any) error {
	if err := s.validate.Struct(cmd); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// command is one attempt of a handler body inside an open store transaction.
type command func(ctx context.Context, tx store.Tx) (Result, idempotency.Outcome, error)

// runCommand runs body in its own transaction, rerunning the whole command
// when the store reports a serialization failure or a concurrent command won
// the idempotency key. The rerun of a lost race replays the winner's result.
func (s *Service) runCommand(ctx context.Context, name string, body command) (Result, error) {
	start := s.clk.Now()
	var (
		res     Result
		outcome idempotency.Outcome
		err     error
	)
	for attempt := 1; ; attempt++ {
		err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var txErr error
			res, outcome, txErr = body(ctx, tx)
			return txErr
		})
		if err == nil || attempt >= s.maxAttempts || !retryable(err) {
			break
		}
		reason := "serialization"
		if errors.Is(err, idempotency.ErrDuplicateCommand) {
			reason = "duplicate"
		}
		s.metrics.ObserveCommandRetry(name, reason)
		s.log.Debug("retrying wallet command", zap.String("command", name), zap.Int("attempt", attempt), zap.Error(err))
		if werr := sleepCtx(ctx, time.Duration(attempt)*s.retryDelay); werr != nil {
			err = werr
			break
		}
	}
	if errors.Is(err, idempotency.ErrRequestMismatch) {
		err = &ValidationError{Err: err}
	}
	s.metrics.ObserveCommand(name, Code(err), s.clk.Now().Sub(start))
	if err != nil {
		if IsDenial(err) {
			s.log.Info("wallet command denied", zap.String("command", name), zap.Error(err))
		} else if Code(err) == CodeError {
			s.log.Error("wallet command failed", zap.String("command", name), zap.Error(err))
		}
		return Result{}, err
	}

	res.Replayed = outcome.Replayed
	if outcome.Replayed {
		s.metrics.ObserveReplay(name)
		return res, nil
	}
	s.afterCommit(ctx, name, res)
	return res, nil
}

func retryable(err error) bool {
	return store.IsRetryable(err) || errors.Is(err, idempotency.ErrDuplicateCommand)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// afterCommit runs the best-effort side effects of a committed command. The
// ledger is already durable, so failures here are logged only.
func (s *Service) afterCommit(ctx context.Context, name string, res Result) {
	log := s.log.With(zap.String("command", name), zap.String("tx_id", res.TransactionID), zap.String("player_id", res.PlayerID))
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, res.PlayerID); err != nil {
			s.metrics.ObserveCache("invalidate_error")
			log.Warn("balance cache invalidation failed", zap.Error(err))
		}
	}
	if s.audit != nil {
		after, _ := json.Marshal(res)
		actorID, actorType := store.SystemPlayerID, "SERVICE"
		if a, ok := auth.ActorFromContext(ctx); ok {
			actorID, actorType = a.ID, a.Type
		}
		_, err := s.audit.Append(ctx, audit.Event{
			OccurredAt: res.CreatedAt,
			ActorID:    actorID,
			ActorType:  actorType,
			ObjectType: audit.ObjectLedgerTransaction,
			ObjectID:   res.TransactionID,
			Action:     name,
			After:      after,
			Result:     audit.ResultSuccess,
		})
		if err != nil {
			log.Error("audit append failed", zap.Error(err))
		}
	}
	log.Info("wallet command committed", zap.String("tx_type", string(res.TxType)), zap.Stringer("amount_minor", res.AmountMinor))
}

// post runs the ledger post, appends the outbox event and shapes the Result.
func (s *Service) post(ctx context.Context, tx store.Tx, req ledger.PostRequest, main store.AccountKey, ev EventPayload, routing string) (Result, error) {
	posted, err := s.engine.Post(ctx, tx, req)
	if err != nil {
		return Result{}, err
	}
	now := posted.Transaction.CreatedAt
	ev.EventType = routing
	ev.TransactionID = posted.Transaction.TxID
	ev.OccurredAt = now
	if _, err := s.writer.Append(ctx, tx, outbox.Event{EventType: routing, RoutingKey: routing, Payload: ev}); err != nil {
		return Result{}, err
	}
	res := Result{
		TransactionID: posted.Transaction.TxID,
		TxType:        req.TxType,
		PlayerID:      main.PlayerID,
		Currency:      main.Asset.Currency,
		Network:       main.Asset.Network,
		AmountMinor:   ev.AmountMinor,
		FeeMinor:      ev.FeeMinor,
		Reference:     ev.Reference,
		CreatedAt:     now,
	}
	if id, ok := posted.Accounts[main]; ok {
		res.Main = viewOf(posted.Balances[id])
		return res, nil
	}
	locked, err := s.engine.Lock(ctx, tx, main)
	if err != nil {
		return Result{}, err
	}
	res.Main = viewOf(locked[main])
	return res, nil
}

// GetBalance returns the player's MAIN balances, read through the cache when
// one is configured.
func (s *Service) GetBalance(ctx context.Context, playerID string) ([]BalanceView, error) {
	if playerID == "" || playerID == store.SystemPlayerID {
		return nil, invalid("playerId is required")
	}
	var gen int64
	cached := s.cache != nil
	if cached {
		var err error
		if gen, err = s.cache.Generation(ctx, playerID); err != nil {
			cached = false
			s.metrics.ObserveCache("error")
			s.log.Warn("balance cache generation read failed", zap.String("player_id", playerID), zap.Error(err))
		}
	}
	if cached {
		raw, ok, err := s.cache.Get(ctx, playerID, gen)
		switch {
		case err != nil:
			s.metrics.ObserveCache("error")
			s.log.Warn("balance cache read failed", zap.String("player_id", playerID), zap.Error(err))
		case ok:
			var views []BalanceView
			if err := json.Unmarshal(raw, &views); err == nil {
				s.metrics.ObserveCache("hit")
				return views, nil
			}
		default:
			s.metrics.ObserveCache("miss")
		}
	}

	bals, err := s.store.Balances(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	views := make([]BalanceView, 0, len(bals))
	for _, b := range bals {
		if b.Key.Type == store.AccountMain {
			views = append(views, viewOf(b))
		}
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].Currency != views[j].Currency {
			return views[i].Currency < views[j].Currency
		}
		return views[i].Network < views[j].Network
	})
	if cached {
		if raw, err := json.Marshal(views); err == nil {
			if err := s.cache.Set(ctx, playerID, gen, raw); err != nil {
				s.log.Warn("balance cache write failed", zap.String("player_id", playerID), zap.Error(err))
			}
		}
	}
	return views, nil
}

// VerifyAccount recomputes one account's balance from its postings.
func (s *Service) VerifyAccount(ctx context.Context, key store.AccountKey) (ledger.Verification, error) {
	acct, err := s.store.FindAccount(ctx, key)
	if err != nil {
		return ledger.Verification{}, err
	}
	var out ledger.Verification
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		out, err = s.engine.Verify(ctx, tx, acct.ID)
		return err
	})
	return out, err
}
