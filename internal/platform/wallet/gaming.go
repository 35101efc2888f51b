package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/idempotency"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/ledger"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/money"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/outbox"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
)

func betRef(betID string) string { return "bet:" + betID }

// PlaceBet escrows the stake in the player's HOUSE_WAGER account.
func (s *Service) PlaceBet(ctx context.Context, cmd PlaceBet) (Result, error) {
	if err := s.check(cmd); err != nil {
		return Result{}, err
	}
	a := asset(cmd.Currency, cmd.Network)
	main := store.PlayerAccount(cmd.PlayerID, a, store.AccountMain)
	wager := store.PlayerAccount(cmd.PlayerID, a, store.AccountHouseWager)
	scope := idempotency.Scope{
		Source:      SourceBet,
		Key:         cmd.BetID,
		RequestHash: idempotency.HashRequest(cmd.PlayerID, cmd.Currency, cmd.Network, cmd.StakeMinor.String(), cmd.GameRef),
	}
	return s.runCommand(ctx, "PlaceBet", func(ctx context.Context, tx store.Tx) (Result, idempotency.Outcome, error) {
		return idempotency.Execute(ctx, s.guard, tx, scope, func(ctx context.Context) (string, Result, error) {
			locked, err := s.engine.Lock(ctx, tx, main, wager)
			if err != nil {
				return "", Result{}, err
			}
			if cash := locked[main].CashableMinor; cash < cmd.StakeMinor {
				return "", Result{}, fmt.Errorf("%w: cashable %s < stake %s", ErrInsufficientFunds, cash, cmd.StakeMinor)
			}
			res, err := s.post(ctx, tx, ledger.PostRequest{
				TxType:      store.TxBet,
				ExternalRef: betRef(cmd.BetID),
				Metadata:    cmd.Metadata,
				Entries:     []ledger.Entry{ledger.DebitOf(main, cmd.StakeMinor), ledger.CreditOf(wager, cmd.StakeMinor)},
			}, main, EventPayload{
				PlayerID:      cmd.PlayerID,
				Currency:      cmd.Currency,
				Network:       cmd.Network,
				AmountMinor:   cmd.StakeMinor,
				Reference:     cmd.BetID,
				CorrelationID: cmd.Correlation,
			}, outbox.BetPlaced)
			return res.TransactionID, res, err
		})
	})
}

// placedBet loads the recorded PlaceBet result for betID and checks it belongs
// to the given player and asset and has not been rolled back.
func (s *Service) placedBet(ctx context.Context, tx store.Tx, betID string, main store.AccountKey) (Result, error) {
	rec, found, err := s.guard.Lookup(ctx, tx, SourceBet, betID)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownBet, betID)
	}
	var bet Result
	if err := json.Unmarshal(rec.Response, &bet); err != nil {
		return Result{}, fmt.Errorf("decode bet %s: %w", betID, err)
	}
	if bet.PlayerID != main.PlayerID || bet.Currency != main.Asset.Currency || bet.Network != main.Asset.Network {
		return Result{}, fmt.Errorf("%w: %s belongs to another player or asset", ErrUnknownBet, betID)
	}
	_, rolledBack, err := s.guard.Lookup(ctx, tx, SourceRollbackTarget, rec.TxID)
	if err != nil {
		return Result{}, err
	}
	if rolledBack {
		return Result{}, fmt.Errorf("%w: %s was rolled back", ErrUnknownBet, betID)
	}
	return bet, nil
}

// SettleWin releases the bet's outstanding wager from HOUSE_WAGER and settles
// the difference to the win amount against HOUSE. A zero amount settles a
// losing bet: the whole wager goes to HOUSE.
func (s *Service) SettleWin(ctx context.Context, cmd SettleWin) (Result, error) {
	if err := s.check(cmd); err != nil {
		return Result{}, err
	}
	a := asset(cmd.Currency, cmd.Network)
	main := store.PlayerAccount(cmd.PlayerID, a, store.AccountMain)
	wager := store.PlayerAccount(cmd.PlayerID, a, store.AccountHouseWager)
	house := store.SystemAccount(a, store.AccountHouse)
	scope := idempotency.Scope{
		Source:      SourceWin,
		Key:         cmd.WinID,
		RequestHash: idempotency.HashRequest(cmd.PlayerID, cmd.Currency, cmd.Network, cmd.BetID, cmd.AmountMinor.String()),
	}
	return s.runCommand(ctx, "SettleWin", func(ctx context.Context, tx store.Tx) (Result, idempotency.Outcome, error) {
		return idempotency.Execute(ctx, s.guard, tx, scope, func(ctx context.Context) (string, Result, error) {
			locked, err := s.engine.Lock(ctx, tx, main, wager, house)
			if err != nil {
				return "", Result{}, err
			}
			if _, err := s.placedBet(ctx, tx, cmd.BetID, main); err != nil {
				return "", Result{}, err
			}
			outstanding, err := tx.SumPostingsByRef(ctx, locked[wager].AccountID, betRef(cmd.BetID))
			if err != nil {
				return "", Result{}, err
			}
			if outstanding == 0 && cmd.AmountMinor == 0 {
				return "", Result{}, fmt.Errorf("%w: %s", ErrBetSettled, cmd.BetID)
			}
			res, err := s.post(ctx, tx, ledger.PostRequest{
				TxType:      store.TxWin,
				ExternalRef: betRef(cmd.BetID),
				Metadata:    cmd.Metadata,
				Entries:     winEntries(main, wager, house, outstanding, cmd.AmountMinor),
			}, main, EventPayload{
				PlayerID:      cmd.PlayerID,
				Currency:      cmd.Currency,
				Network:       cmd.Network,
				AmountMinor:   cmd.AmountMinor,
				Reference:     cmd.WinID,
				CorrelationID: cmd.Correlation,
			}, outbox.WinSettled)
			return res.TransactionID, res, err
		})
	})
}

func winEntries(main, wager, house store.AccountKey, outstanding, win money.Amount) []ledger.Entry {
	var entries []ledger.Entry
	if outstanding > 0 {
		entries = append(entries, ledger.DebitOf(wager, outstanding))
	}
	switch diff := win - outstanding; {
	case diff > 0:
		entries = append(entries, ledger.DebitOf(house, diff))
	case diff < 0:
		entries = append(entries, ledger.CreditOf(house, -diff))
	}
	if win > 0 {
		entries = append(entries, ledger.CreditOf(main, win))
	}
	return entries
}

// rollbackTarget resolves the ledger TxID a Rollback names.
func (s *Service) rollbackTarget(ctx context.Context, tx store.Tx, cmd Rollback) (string, error) {
	if cmd.TransactionID != "" {
		return cmd.TransactionID, nil
	}
	source, key := SourceBet, cmd.BetID
	if cmd.WinID != "" {
		source, key = SourceWin, cmd.WinID
	}
	rec, found, err := s.guard.Lookup(ctx, tx, source, key)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: %s %s", ErrUnknownTransaction, source, key)
	}
	return rec.TxID, nil
}

// Rollback posts the mirror image of a BET or WIN transaction. Each original
// can be reversed once; a bet whose wager a win has already released cannot be
// reversed until that win is rolled back.
func (s *Service) Rollback(ctx context.Context, cmd Rollback) (Result, error) {
	if err := s.check(cmd); err != nil {
		return Result{}, err
	}
	targets := 0
	for _, v := range []string{cmd.TransactionID, cmd.BetID, cmd.WinID} {
		if v != "" {
			targets++
		}
	}
	if targets != 1 {
		return Result{}, invalid("exactly one of transactionId, betId or winId is required")
	}
	scope := idempotency.Scope{
		Source:      SourceRollback,
		Key:         cmd.RollbackID,
		RequestHash: idempotency.HashRequest(cmd.TransactionID, cmd.BetID, cmd.WinID),
	}
	return s.runCommand(ctx, "Rollback", func(ctx context.Context, tx store.Tx) (Result, idempotency.Outcome, error) {
		return idempotency.Execute(ctx, s.guard, tx, scope, func(ctx context.Context) (string, Result, error) {
			return s.rollback(ctx, tx, cmd)
		})
	})
}

func (s *Service) rollback(ctx context.Context, tx store.Tx, cmd Rollback) (string, Result, error) {
	targetID, err := s.rollbackTarget(ctx, tx, cmd)
	if err != nil {
		return "", Result{}, err
	}
	original, postings, err := tx.GetTransaction(ctx, targetID)
	if errors.Is(err, store.ErrNotFound) {
		return "", Result{}, fmt.Errorf("%w: %s", ErrUnknownTransaction, targetID)
	}
	if err != nil {
		return "", Result{}, err
	}
	if original.TxType != store.TxBet && original.TxType != store.TxWin {
		return "", Result{}, invalid("cannot roll back %s transaction %s", original.TxType, targetID)
	}
	if _, done, err := s.guard.Lookup(ctx, tx, SourceRollbackTarget, targetID); err != nil {
		return "", Result{}, err
	} else if done {
		return "", Result{}, fmt.Errorf("%w: %s", ErrAlreadyRolledBack, targetID)
	}

	ids := make([]int64, 0, len(postings))
	for _, p := range postings {
		ids = append(ids, p.AccountID)
	}
	byID, err := tx.LockBalances(ctx, ids)
	if err != nil {
		return "", Result{}, err
	}
	var player store.AccountKey
	keys := make([]store.AccountKey, 0, len(byID)+1)
	for _, b := range byID {
		keys = append(keys, b.Key)
		if b.Key.PlayerID != store.SystemPlayerID {
			player = b.Key
		}
	}
	if player.PlayerID == "" {
		return "", Result{}, fmt.Errorf("%w: %s has no player account", ErrUnknownTransaction, targetID)
	}
	main := store.PlayerAccount(player.PlayerID, player.Asset, store.AccountMain)
	locked, err := s.engine.Lock(ctx, tx, append(keys, main)...)
	if err != nil {
		return "", Result{}, err
	}

	var (
		entries  = make([]ledger.Entry, 0, len(postings))
		mainNet  money.Amount
		wagerNet money.Amount
	)
	for _, p := range postings {
		key := byID[p.AccountID].Key
		switch key.Type {
		case store.AccountMain:
			mainNet += p.Signed()
		case store.AccountHouseWager:
			wagerNet += p.Signed()
		}
		dir := store.Credit
		if p.Direction == store.Credit {
			dir = store.Debit
		}
		entries = append(entries, ledger.Entry{Account: key, Direction: dir, Amount: p.Amount})
	}

	if original.TxType == store.TxBet {
		outstanding, err := tx.SumPostingsByRef(ctx, locked[store.PlayerAccount(player.PlayerID, player.Asset, store.AccountHouseWager)].AccountID, original.ExternalRef)
		if err != nil {
			return "", Result{}, err
		}
		if outstanding != wagerNet {
			return "", Result{}, fmt.Errorf("%w: wager for %s already released", ErrBetSettled, original.ExternalRef)
		}
	}
	if mainNet > 0 && locked[main].CashableMinor < mainNet {
		return "", Result{}, fmt.Errorf("%w: cashable %s < %s to reverse", ErrInsufficientFunds, locked[main].CashableMinor, mainNet)
	}

	var meta json.RawMessage
	if cmd.Reason != "" {
		meta, _ = json.Marshal(map[string]string{"reason": cmd.Reason})
	}
	amount := mainNet
	if amount < 0 {
		amount = -amount
	}
	res, err := s.post(ctx, tx, ledger.PostRequest{
		TxType:      store.TxRollback,
		ExternalRef: original.ExternalRef,
		Metadata:    meta,
		Entries:     entries,
	}, main, EventPayload{
		PlayerID:      player.PlayerID,
		Currency:      player.Asset.Currency,
		Network:       player.Asset.Network,
		AmountMinor:   amount,
		Reference:     cmd.RollbackID,
		RelatedTxID:   targetID,
		CorrelationID: cmd.Correlation,
	}, outbox.TransactionRolledBack)
	if err != nil {
		return "", Result{}, err
	}
	err = s.guard.Record(ctx, tx, store.IdempotencyRecord{
		Source:      SourceRollbackTarget,
		Key:         targetID,
		TxID:        res.TransactionID,
		RequestHash: idempotency.HashRequest(cmd.RollbackID),
	})
	if err != nil {
		return "", Result{}, err
	}
	return res.TransactionID, res, nil
}
