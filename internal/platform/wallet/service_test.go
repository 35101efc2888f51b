package wallet

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/audit"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/idempotency"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/money"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
)

const (
	cur = "USDT"
	net = "TRON"
)

var usdt = store.CurrencyNetwork{Currency: cur, Network: net}

type fixture struct {
	store *store.Memory
	svc   *Service
	audit *audit.InMemoryStore
	clk   *clock.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	mem := store.NewMemory(clk)
	rec := audit.NewInMemoryStore()
	return &fixture{store: mem, svc: New(mem, Options{Clock: clk, Audit: rec, RetryDelay: time.Millisecond}), audit: rec, clk: clk}
}

func (f *fixture) deposit(t *testing.T, player string, amount money.Amount, hash string) Result {
	t.Helper()
	res, err := f.svc.ApplyDepositSettlement(context.Background(), ApplyDepositSettlement{
		PlayerID: player, Currency: cur, Network: net, AmountMinor: amount, TxHash: hash,
	})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return res
}

func (f *fixture) balance(t *testing.T, key store.AccountKey) store.Balance {
	t.Helper()
	bals, err := f.store.Balances(context.Background(), key.PlayerID)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	for _, b := range bals {
		if b.Key == key {
			return b
		}
	}
	return store.Balance{Key: key}
}

func (f *fixture) ledgerRows(t *testing.T) int {
	t.Helper()
	stats, err := f.store.OutboxStats(context.Background())
	if err != nil {
		t.Fatalf("outbox stats: %v", err)
	}
	return int(stats.Pending + stats.Published)
}

func mainOf(player string) store.AccountKey {
	return store.PlayerAccount(player, usdt, store.AccountMain)
}

func TestEndToEndBetWinWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "p1", 1_000_000, "0xdep1")

	bet, err := f.svc.PlaceBet(ctx, PlaceBet{PlayerID: "p1", Currency: cur, Network: net, BetID: "b1", StakeMinor: 100_000})
	if err != nil {
		t.Fatalf("bet: %v", err)
	}
	if bet.Main.BalanceMinor != 900_000 {
		t.Fatalf("MAIN after bet = %s", bet.Main.BalanceMinor)
	}
	wager := store.PlayerAccount("p1", usdt, store.AccountHouseWager)
	if got := f.balance(t, wager).BalanceMinor; got != 100_000 {
		t.Fatalf("HOUSE_WAGER after bet = %s", got)
	}

	if _, err := f.svc.SettleWin(ctx, SettleWin{PlayerID: "p1", Currency: cur, Network: net, WinID: "w1", BetID: "b1", AmountMinor: 180_000}); err != nil {
		t.Fatalf("win: %v", err)
	}
	if got := f.balance(t, mainOf("p1")).BalanceMinor; got != 1_080_000 {
		t.Fatalf("MAIN after win = %s", got)
	}
	if got := f.balance(t, wager).BalanceMinor; got != 0 {
		t.Fatalf("HOUSE_WAGER after win = %s", got)
	}
	if got := f.balance(t, store.SystemAccount(usdt, store.AccountHouse)).BalanceMinor; got != -80_000 {
		t.Fatalf("HOUSE after win = %s", got)
	}

	if _, err := f.svc.ReserveWithdrawal(ctx, ReserveWithdrawal{PlayerID: "p1", Currency: cur, Network: net, AmountMinor: 500_000, RequestID: "r1"}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	m := f.balance(t, mainOf("p1"))
	hold := store.PlayerAccount("p1", usdt, store.AccountWithdrawHold)
	if m.BalanceMinor != 580_000 || m.ReservedMinor != 500_000 || f.balance(t, hold).BalanceMinor != 500_000 {
		t.Fatalf("after reserve MAIN=%+v HOLD=%+v", m, f.balance(t, hold))
	}

	fin, err := f.svc.FinalizeWithdrawal(ctx, FinalizeWithdrawal{PlayerID: "p1", Currency: cur, Network: net, RequestID: "r1", FeeMinor: 1_000})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if fin.AmountMinor != 499_000 || fin.FeeMinor != 1_000 {
		t.Fatalf("unexpected finalize result: %+v", fin)
	}
	if got := f.balance(t, hold).BalanceMinor; got != 0 {
		t.Fatalf("HOLD after finalize = %s", got)
	}
	if got := f.balance(t, store.SystemAccount(usdt, store.AccountHouseFees)).BalanceMinor; got != 1_000 {
		t.Fatalf("HOUSE_FEES after finalize = %s", got)
	}
	// EXTERNAL funded the 1,000,000 deposit and received the 499,000 payout.
	if got := f.balance(t, store.SystemAccount(usdt, store.AccountExternal)).BalanceMinor; got != -501_000 {
		t.Fatalf("EXTERNAL after finalize = %s", got)
	}
	if m := f.balance(t, mainOf("p1")); m.ReservedMinor != 0 || m.BalanceMinor != 580_000 {
		t.Fatalf("MAIN after finalize = %+v", m)
	}

	// deposit, bet, win, reserve, finalize: one outbox row and one audit event each.
	if n := f.ledgerRows(t); n != 5 {
		t.Fatalf("expected 5 outbox events, got %d", n)
	}
	events := f.audit.Events()
	if len(events) != 5 {
		t.Fatalf("expected 5 audit events, got %d", len(events))
	}
	if err := audit.VerifyChain(events); err != nil {
		t.Fatalf("audit chain: %v", err)
	}
}

func TestReserveReplaysIdenticalCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "p1", 1_000, "0xa")
	cmd := ReserveWithdrawal{PlayerID: "p1", Currency: cur, Network: net, AmountMinor: 400, RequestID: "r1"}

	first, err := f.svc.ReserveWithdrawal(ctx, cmd)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.svc.ReserveWithdrawal(ctx, cmd)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.Replayed || !second.Replayed {
		t.Fatalf("replay flags: first=%v second=%v", first.Replayed, second.Replayed)
	}
	if first.TransactionID != second.TransactionID {
		t.Fatalf("replay returned a different tx: %s vs %s", first.TransactionID, second.TransactionID)
	}
	if got := f.balance(t, mainOf("p1")).CashableMinor; got != 600 {
		t.Fatalf("reserve applied twice, cashable = %s", got)
	}
	if n := f.ledgerRows(t); n != 2 {
		t.Fatalf("expected 2 outbox events, got %d", n)
	}

	cmd.AmountMinor = 401
	_, err = f.svc.ReserveWithdrawal(ctx, cmd)
	var ve *ValidationError
	if !errors.As(err, &ve) || !errors.Is(err, idempotency.ErrRequestMismatch) {
		t.Fatalf("reused key with new amount should be a validation error, got %v", err)
	}
}

func TestInsufficientFundsBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "p1", 500, "0xa")

	_, err := f.svc.ReserveWithdrawal(ctx, ReserveWithdrawal{PlayerID: "p1", Currency: cur, Network: net, AmountMinor: 501, RequestID: "r-over"})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if Code(err) != CodeDenied {
		t.Fatalf("code = %s", Code(err))
	}
	if n := f.ledgerRows(t); n != 1 {
		t.Fatalf("denied reserve must post nothing, outbox rows = %d", n)
	}

	// A denial is not recorded, so the same key succeeds once it is affordable.
	if _, err := f.svc.ReserveWithdrawal(ctx, ReserveWithdrawal{PlayerID: "p1", Currency: cur, Network: net, AmountMinor: 500, RequestID: "r-over"}); err != nil {
		t.Fatalf("reserving exactly the cashable balance: %v", err)
	}
	if got := f.balance(t, mainOf("p1")).CashableMinor; got != 0 {
		t.Fatalf("cashable = %s", got)
	}
}

func TestValidationRejectsBeforeWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := map[string]func() error{
		"zero deposit": func() error {
			_, err := f.svc.ApplyDepositSettlement(ctx, ApplyDepositSettlement{PlayerID: "p1", Currency: cur, Network: net, AmountMinor: 0, TxHash: "h"})
			return err
		},
		"deposit without key": func() error {
			_, err := f.svc.ApplyDepositSettlement(ctx, ApplyDepositSettlement{PlayerID: "p1", Currency: cur, Network: net, AmountMinor: 5})
			return err
		},
		"negative fee": func() error {
			_, err := f.svc.FinalizeWithdrawal(ctx, FinalizeWithdrawal{PlayerID: "p1", Currency: cur, Network: net, RequestID: "r", FeeMinor: -1})
			return err
		},
		"bet without id": func() error {
			_, err := f.svc.PlaceBet(ctx, PlaceBet{PlayerID: "p1", Currency: cur, Network: net, StakeMinor: 1})
			return err
		},
		"rollback two targets": func() error {
			_, err := f.svc.Rollback(ctx, Rollback{RollbackID: "rb", BetID: "b", WinID: "w"})
			return err
		},
	}
	for name, run := range cases {
		err := run()
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s: expected ValidationError, got %v", name, err)
		}
	}
	if n := f.ledgerRows(t); n != 0 {
		t.Fatalf("validation failures wrote %d outbox rows", n)
	}
}

func TestDepositFallsBackToIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := ApplyDepositSettlement{PlayerID: "p1", Currency: cur, Network: net, AmountMinor: 70, IdempotencyKey: "manual-1"}
	if _, err := f.svc.ApplyDepositSettlement(ctx, cmd); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	res, err := f.svc.ApplyDepositSettlement(ctx, cmd)
	if err != nil || !res.Replayed {
		t.Fatalf("expected replay, got %+v %v", res, err)
	}
	if got := f.balance(t, mainOf("p1")).BalanceMinor; got != 70 {
		t.Fatalf("balance = %s", got)
	}
}

func TestFinalizeAndReleaseNeedOpenReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "p1", 1_000, "0xa")

	_, err := f.svc.FinalizeWithdrawal(ctx, FinalizeWithdrawal{PlayerID: "p1", Currency: cur, Network: net, RequestID: "missing"})
	if !errors.Is(err, ErrNoSuchReservation) {
		t.Fatalf("expected ErrNoSuchReservation, got %v", err)
	}

	if _, err := f.svc.ReserveWithdrawal(ctx, ReserveWithdrawal{PlayerID: "p1", Currency: cur, Network: net, AmountMinor: 300, RequestID: "r1"}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	_, err = f.svc.FinalizeWithdrawal(ctx, FinalizeWithdrawal{PlayerID: "p1", Currency: cur, Network: net, RequestID: "r1", FeeMinor: 301})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("fee above reservation should be invalid, got %v", err)
	}

	rel, err := f.svc.ReleaseWithdrawal(ctx, ReleaseWithdrawal{PlayerID: "p1", Currency: cur, Network: net, RequestID: "r1", Reason: "provider rejected"})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if rel.AmountMinor != 300 || rel.Main.CashableMinor != 1_000 || rel.Main.ReservedMinor != 0 {
		t.Fatalf("unexpected release result: %+v", rel)
	}
	_, err = f.svc.FinalizeWithdrawal(ctx, FinalizeWithdrawal{PlayerID: "p1", Currency: cur, Network: net, RequestID: "r1"})
	if !errors.Is(err, ErrReservationClosed) {
		t.Fatalf("finalize after release: expected ErrReservationClosed, got %v", err)
	}
	// Another player cannot draw on p1's reservation.
	_, err = f.svc.FinalizeWithdrawal(ctx, FinalizeWithdrawal{PlayerID: "p2", Currency: cur, Network: net, RequestID: "r1"})
	if !errors.Is(err, ErrNoSuchReservation) {
		t.Fatalf("expected ErrNoSuchReservation for another player, got %v", err)
	}
	// The release key of r1 is taken; reusing it for p2 is a different request.
	_, err = f.svc.ReleaseWithdrawal(ctx, ReleaseWithdrawal{PlayerID: "p2", Currency: cur, Network: net, RequestID: "r1"})
	if !errors.Is(err, idempotency.ErrRequestMismatch) || Code(err) != CodeInvalid {
		t.Fatalf("expected request mismatch for reused release key, got %v", err)
	}
}

func TestSettleWinNeedsKnownBet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "p1", 1_000, "0xa")

	_, err := f.svc.SettleWin(ctx, SettleWin{PlayerID: "p1", Currency: cur, Network: net, WinID: "w1", BetID: "nope", AmountMinor: 10})
	if !errors.Is(err, ErrUnknownBet) {
		t.Fatalf("expected ErrUnknownBet, got %v", err)
	}
	if _, err := f.svc.PlaceBet(ctx, PlaceBet{PlayerID: "p1", Currency: cur, Network: net, BetID: "b1", StakeMinor: 100}); err != nil {
		t.Fatalf("bet: %v", err)
	}
	_, err = f.svc.SettleWin(ctx, SettleWin{PlayerID: "p2", Currency: cur, Network: net, WinID: "w1", BetID: "b1", AmountMinor: 10})
	if !errors.Is(err, ErrUnknownBet) {
		t.Fatalf("win for another player's bet: expected ErrUnknownBet, got %v", err)
	}

	// A losing settlement moves the whole wager to HOUSE.
	loss, err := f.svc.SettleWin(ctx, SettleWin{PlayerID: "p1", Currency: cur, Network: net, WinID: "w-loss", BetID: "b1"})
	if err != nil {
		t.Fatalf("loss: %v", err)
	}
	if loss.Main.BalanceMinor != 900 {
		t.Fatalf("MAIN after loss = %s", loss.Main.BalanceMinor)
	}
	if got := f.balance(t, store.SystemAccount(usdt, store.AccountHouse)).BalanceMinor; got != 100 {
		t.Fatalf("HOUSE after loss = %s", got)
	}
	_, err = f.svc.SettleWin(ctx, SettleWin{PlayerID: "p1", Currency: cur, Network: net, WinID: "w-loss-2", BetID: "b1"})
	if !errors.Is(err, ErrBetSettled) {
		t.Fatalf("second empty settlement: expected ErrBetSettled, got %v", err)
	}
}

func TestRollbackBetRestoresBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "p1", 1_000, "0xa")
	before := f.balance(t, mainOf("p1"))

	bet, err := f.svc.PlaceBet(ctx, PlaceBet{PlayerID: "p1", Currency: cur, Network: net, BetID: "b1", StakeMinor: 250})
	if err != nil {
		t.Fatalf("bet: %v", err)
	}
	rb, err := f.svc.Rollback(ctx, Rollback{RollbackID: "rb1", TransactionID: bet.TransactionID, Reason: "game aborted"})
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rb.TxType != store.TxRollback || rb.AmountMinor != 250 {
		t.Fatalf("unexpected rollback result: %+v", rb)
	}
	after := f.balance(t, mainOf("p1"))
	if after.BalanceMinor != before.BalanceMinor || after.CashableMinor != before.CashableMinor {
		t.Fatalf("rollback did not restore MAIN: before %+v after %+v", before, after)
	}
	if got := f.balance(t, store.PlayerAccount("p1", usdt, store.AccountHouseWager)).BalanceMinor; got != 0 {
		t.Fatalf("HOUSE_WAGER after rollback = %s", got)
	}

	replay, err := f.svc.Rollback(ctx, Rollback{RollbackID: "rb1", TransactionID: bet.TransactionID, Reason: "game aborted"})
	if err != nil || !replay.Replayed || replay.TransactionID != rb.TransactionID {
		t.Fatalf("same rollback id should replay, got %+v %v", replay, err)
	}
	_, err = f.svc.Rollback(ctx, Rollback{RollbackID: "rb2", BetID: "b1"})
	if !errors.Is(err, ErrAlreadyRolledBack) {
		t.Fatalf("expected ErrAlreadyRolledBack, got %v", err)
	}
	_, err = f.svc.SettleWin(ctx, SettleWin{PlayerID: "p1", Currency: cur, Network: net, WinID: "w1", BetID: "b1", AmountMinor: 10})
	if !errors.Is(err, ErrUnknownBet) {
		t.Fatalf("win on a rolled back bet: expected ErrUnknownBet, got %v", err)
	}
}

func TestRollbackWinThenBet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "p1", 1_000, "0xa")
	if _, err := f.svc.PlaceBet(ctx, PlaceBet{PlayerID: "p1", Currency: cur, Network: net, BetID: "b1", StakeMinor: 100}); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if _, err := f.svc.SettleWin(ctx, SettleWin{PlayerID: "p1", Currency: cur, Network: net, WinID: "w1", BetID: "b1", AmountMinor: 300}); err != nil {
		t.Fatalf("win: %v", err)
	}

	_, err := f.svc.Rollback(ctx, Rollback{RollbackID: "rb-bet", BetID: "b1"})
	if !errors.Is(err, ErrBetSettled) {
		t.Fatalf("rolling back a settled bet: expected ErrBetSettled, got %v", err)
	}

	if _, err := f.svc.Rollback(ctx, Rollback{RollbackID: "rb-win", WinID: "w1"}); err != nil {
		t.Fatalf("rollback win: %v", err)
	}
	if got := f.balance(t, mainOf("p1")).BalanceMinor; got != 900 {
		t.Fatalf("MAIN after win rollback = %s", got)
	}
	if _, err := f.svc.Rollback(ctx, Rollback{RollbackID: "rb-bet-2", BetID: "b1"}); err != nil {
		t.Fatalf("rollback bet after its win was reversed: %v", err)
	}
	if got := f.balance(t, mainOf("p1")).BalanceMinor; got != 1_000 {
		t.Fatalf("MAIN after full rollback = %s", got)
	}
	if got := f.balance(t, store.SystemAccount(usdt, store.AccountHouse)).BalanceMinor; got != 0 {
		t.Fatalf("HOUSE after full rollback = %s", got)
	}

	_, err = f.svc.Rollback(ctx, Rollback{RollbackID: "rb-x", TransactionID: "01UNKNOWN"})
	if !errors.Is(err, ErrUnknownTransaction) {
		t.Fatalf("expected ErrUnknownTransaction, got %v", err)
	}
}

func TestRollbackRejectsNonGamingTransactions(t *testing.T) {
	f := newFixture(t)
	dep := f.deposit(t, "p1", 1_000, "0xa")
	_, err := f.svc.Rollback(context.Background(), Rollback{RollbackID: "rb", TransactionID: dep.TransactionID})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestConcurrentDuplicateCommandPostsOnce(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "p1", 10_000, "0xa")
	cmd := PlaceBet{PlayerID: "p1", Currency: cur, Network: net, BetID: "b-race", StakeMinor: 700}

	const callers = 8
	var (
		wg      sync.WaitGroup
		results = make([]Result, callers)
		errs    = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.PlaceBet(context.Background(), cmd)
		}(i)
	}
	wg.Wait()

	replays := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].TransactionID != results[0].TransactionID {
			t.Fatalf("callers saw different transactions: %s vs %s", results[i].TransactionID, results[0].TransactionID)
		}
		if results[i].Replayed {
			replays++
		}
	}
	if replays != callers-1 {
		t.Fatalf("expected %d replays, got %d", callers-1, replays)
	}
	if got := f.balance(t, mainOf("p1")).BalanceMinor; got != 9_300 {
		t.Fatalf("stake debited more than once, MAIN = %s", got)
	}
}

func TestCancelledCommandLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "p1", 1_000, "0xa")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.PlaceBet(ctx, PlaceBet{PlayerID: "p1", Currency: cur, Network: net, BetID: "b1", StakeMinor: 10})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := f.balance(t, mainOf("p1")).BalanceMinor; got != 1_000 {
		t.Fatalf("cancelled bet leaked, MAIN = %s", got)
	}
	if _, err := f.svc.PlaceBet(context.Background(), PlaceBet{PlayerID: "p1", Currency: cur, Network: net, BetID: "b1", StakeMinor: 10}); err != nil {
		t.Fatalf("key must stay free after a cancelled attempt: %v", err)
	}
}

// flakyStore fails the first n transactions with a serialization error.
type flakyStore struct {
	store.Store
	mu    sync.Mutex
	fails int
}

func (s *flakyStore) InTx(ctx context.Context, fn func(context.Context, store.Tx) error) error {
	s.mu.Lock()
	fail := s.fails > 0
	if fail {
		s.fails--
	}
	s.mu.Unlock()
	if fail {
		return store.ErrSerialization
	}
	return s.Store.InTx(ctx, fn)
}

func TestRunCommandRetriesSerializationFailures(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	mem := store.NewMemory(clk)
	flaky := &flakyStore{Store: mem, fails: 2}
	svc := New(flaky, Options{Clock: clk, RetryDelay: time.Millisecond})
	res, err := svc.ApplyDepositSettlement(context.Background(), ApplyDepositSettlement{PlayerID: "p1", Currency: cur, Network: net, AmountMinor: 5, TxHash: "h"})
	if err != nil {
		t.Fatalf("deposit after retries: %v", err)
	}
	if res.Main.BalanceMinor != 5 {
		t.Fatalf("balance = %s", res.Main.BalanceMinor)
	}

	flaky.fails = 10
	_, err = svc.ApplyDepositSettlement(context.Background(), ApplyDepositSettlement{PlayerID: "p1", Currency: cur, Network: net, AmountMinor: 5, TxHash: "h2"})
	if !errors.Is(err, store.ErrSerialization) {
		t.Fatalf("expected ErrSerialization once attempts run out, got %v", err)
	}
}

// Random command streams across two players must keep every projection equal
// to its postings, the books balanced, and MAIN.reserved equal to the hold.
func TestRandomizedCommandsKeepInvariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	players := []string{"p1", "p2"}
	for _, p := range players {
		f.deposit(t, p, 50_000, "seed-"+p)
	}
	var (
		bets     []PlaceBet
		reserves []ReserveWithdrawal
		txIDs    []string
	)
	for i := 0; i < 400; i++ {
		p := players[rng.Intn(len(players))]
		amt := money.Amount(rng.Intn(5_000) + 1)
		var (
			res Result
			err error
		)
		switch rng.Intn(7) {
		case 0:
			res, err = f.svc.ApplyDepositSettlement(ctx, ApplyDepositSettlement{PlayerID: p, Currency: cur, Network: net, AmountMinor: amt, TxHash: "h" + strconv.Itoa(i)})
		case 1:
			cmd := PlaceBet{PlayerID: p, Currency: cur, Network: net, BetID: "b" + strconv.Itoa(i), StakeMinor: amt}
			res, err = f.svc.PlaceBet(ctx, cmd)
			if err == nil {
				bets = append(bets, cmd)
			}
		case 2:
			if len(bets) == 0 {
				continue
			}
			b := bets[rng.Intn(len(bets))]
			res, err = f.svc.SettleWin(ctx, SettleWin{PlayerID: b.PlayerID, Currency: cur, Network: net, WinID: "w" + strconv.Itoa(i), BetID: b.BetID, AmountMinor: money.Amount(rng.Intn(8_000))})
		case 3:
			cmd := ReserveWithdrawal{PlayerID: p, Currency: cur, Network: net, AmountMinor: amt, RequestID: "r" + strconv.Itoa(i)}
			res, err = f.svc.ReserveWithdrawal(ctx, cmd)
			if err == nil {
				reserves = append(reserves, cmd)
			}
		case 4:
			if len(reserves) == 0 {
				continue
			}
			r := reserves[rng.Intn(len(reserves))]
			res, err = f.svc.FinalizeWithdrawal(ctx, FinalizeWithdrawal{PlayerID: r.PlayerID, Currency: cur, Network: net, RequestID: r.RequestID, FeeMinor: money.Amount(rng.Intn(int(r.AmountMinor) + 1))})
		case 5:
			if len(reserves) == 0 {
				continue
			}
			r := reserves[rng.Intn(len(reserves))]
			res, err = f.svc.ReleaseWithdrawal(ctx, ReleaseWithdrawal{PlayerID: r.PlayerID, Currency: cur, Network: net, RequestID: r.RequestID})
		case 6:
			if len(txIDs) == 0 {
				continue
			}
			res, err = f.svc.Rollback(ctx, Rollback{RollbackID: "rb" + strconv.Itoa(i), TransactionID: txIDs[rng.Intn(len(txIDs))]})
		}
		if err != nil {
			var ve *ValidationError
			if !IsDenial(err) && !errors.As(err, &ve) {
				t.Fatalf("step %d: unexpected error %v", i, err)
			}
			continue
		}
		txIDs = append(txIDs, res.TransactionID)
	}

	var total money.Amount
	for _, p := range append(players, store.SystemPlayerID) {
		bals, err := f.store.Balances(ctx, p)
		if err != nil {
			t.Fatalf("balances: %v", err)
		}
		for _, b := range bals {
			total += b.BalanceMinor
			v, err := f.svc.VerifyAccount(ctx, b.Key)
			if err != nil {
				t.Fatalf("verify %+v: %v", b.Key, err)
			}
			if !v.OK {
				t.Fatalf("projection drift: %+v", v)
			}
			if b.Key.Type == store.AccountMain && b.CashableMinor < 0 {
				t.Fatalf("negative cashable balance: %+v", b)
			}
		}
	}
	if total != 0 {
		t.Fatalf("books do not balance: %s", total)
	}
	for _, p := range players {
		m := f.balance(t, mainOf(p))
		h := f.balance(t, store.PlayerAccount(p, usdt, store.AccountWithdrawHold))
		if m.ReservedMinor != h.BalanceMinor {
			t.Fatalf("%s: MAIN.reserved %s != HOLD %s", p, m.ReservedMinor, h.BalanceMinor)
		}
	}
}
