package ledger

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/money"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
)

var btc = store.CurrencyNetwork{Currency: "BTC", Network: "BITCOIN"}

func newFixture() (*store.Memory, *Engine) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return store.NewMemory(clk), NewEngine(clk)
}

func post(t *testing.T, s store.Store, e *Engine, req PostRequest) Posted {
	t.Helper()
	var out Posted
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = e.Post(ctx, tx, req)
		return err
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return out
}

func balanceOf(t *testing.T, s store.Store, key store.AccountKey) store.Balance {
	t.Helper()
	bals, err := s.Balances(context.Background(), key.PlayerID)
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

func TestPostRejectsUnbalanced(t *testing.T) {
	s, e := newFixture()
	main := store.PlayerAccount("p1", btc, store.AccountMain)
	ext := store.SystemAccount(btc, store.AccountExternal)
	cases := map[string]PostRequest{
		"empty":    {TxType: store.TxDeposit},
		"uneven":   {TxType: store.TxDeposit, Entries: []Entry{DebitOf(ext, 10), CreditOf(main, 9)}},
		"zero":     {TxType: store.TxDeposit, Entries: []Entry{DebitOf(ext, 0), CreditOf(main, 0)}},
		"negative": {TxType: store.TxDeposit, Entries: []Entry{DebitOf(ext, -5), CreditOf(main, -5)}},
		"cross-asset": {TxType: store.TxDeposit, Entries: []Entry{
			DebitOf(store.SystemAccount(store.CurrencyNetwork{Currency: "ETH", Network: "ETHEREUM"}, store.AccountExternal), 5),
			CreditOf(main, 5),
		}},
	}
	for name, req := range cases {
		err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			_, err := e.Post(ctx, tx, req)
			return err
		})
		if !errors.Is(err, ErrUnbalancedPosting) {
			t.Fatalf("%s: expected ErrUnbalancedPosting, got %v", name, err)
		}
	}
	if _, err := s.FindAccount(context.Background(), main); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("rejected posts must not create accounts, got %v", err)
	}
}

func TestPostAppliesAccountTypeRules(t *testing.T) {
	s, e := newFixture()
	main := store.PlayerAccount("p1", btc, store.AccountMain)
	hold := store.PlayerAccount("p1", btc, store.AccountWithdrawHold)
	bonus := store.PlayerAccount("p1", btc, store.AccountBonus)
	ext := store.SystemAccount(btc, store.AccountExternal)

	post(t, s, e, PostRequest{TxType: store.TxDeposit, Entries: []Entry{DebitOf(ext, 1000), CreditOf(main, 1000)}})
	post(t, s, e, PostRequest{TxType: store.TxDeposit, Entries: []Entry{DebitOf(ext, 50), CreditOf(bonus, 50)}})
	post(t, s, e, PostRequest{TxType: store.TxWithdrawReserve, Entries: []Entry{DebitOf(main, 400), CreditOf(hold, 400)}})

	m := balanceOf(t, s, main)
	if m.BalanceMinor != 600 || m.CashableMinor != 600 || m.ReservedMinor != 400 {
		t.Fatalf("unexpected MAIN after reserve: %+v", m)
	}
	h := balanceOf(t, s, hold)
	if h.BalanceMinor != 400 || h.ReservedMinor != 400 || h.CashableMinor != 0 {
		t.Fatalf("unexpected HOLD after reserve: %+v", h)
	}
	b := balanceOf(t, s, bonus)
	if b.BalanceMinor != 50 || b.CashableMinor != 0 {
		t.Fatalf("bonus must never be cashable: %+v", b)
	}

	// Finalize touches only HOLD and EXTERNAL, yet MAIN's reserved mirror follows.
	post(t, s, e, PostRequest{TxType: store.TxWithdrawFinalize, Entries: []Entry{DebitOf(hold, 400), CreditOf(ext, 400)}})
	m = balanceOf(t, s, main)
	if m.ReservedMinor != 0 || m.BalanceMinor != 600 {
		t.Fatalf("unexpected MAIN after finalize: %+v", m)
	}
	if h := balanceOf(t, s, hold); h.BalanceMinor != 0 || h.ReservedMinor != 0 {
		t.Fatalf("unexpected HOLD after finalize: %+v", h)
	}
}

func TestVerifyMatchesProjection(t *testing.T) {
	s, e := newFixture()
	main := store.PlayerAccount("p1", btc, store.AccountMain)
	ext := store.SystemAccount(btc, store.AccountExternal)
	posted := post(t, s, e, PostRequest{TxType: store.TxDeposit, Entries: []Entry{DebitOf(ext, 77), CreditOf(main, 77)}})

	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, id := range posted.Accounts {
			v, err := e.Verify(ctx, tx, id)
			if err != nil {
				return err
			}
			if !v.OK {
				t.Fatalf("verification failed: %+v", v)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestPostIsAtomicWithCallerTransaction(t *testing.T) {
	s, e := newFixture()
	main := store.PlayerAccount("p1", btc, store.AccountMain)
	ext := store.SystemAccount(btc, store.AccountExternal)
	abort := errors.New("abort")
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if _, err := e.Post(ctx, tx, PostRequest{TxType: store.TxDeposit, Entries: []Entry{DebitOf(ext, 5), CreditOf(main, 5)}}); err != nil {
			return err
		}
		return abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("expected abort, got %v", err)
	}
	if got := balanceOf(t, s, main); got.BalanceMinor != 0 {
		t.Fatalf("aborted post leaked: %+v", got)
	}
}

// Randomized postings between a fixed set of accounts must keep the sum of all
// balances at zero and every projection equal to its postings.
func TestRandomizedPostingsKeepGlobalInvariant(t *testing.T) {
	s, e := newFixture()
	rng := rand.New(rand.NewSource(42))
	keys := []store.AccountKey{
		store.PlayerAccount("p1", btc, store.AccountMain),
		store.PlayerAccount("p1", btc, store.AccountWithdrawHold),
		store.PlayerAccount("p1", btc, store.AccountBonus),
		store.PlayerAccount("p1", btc, store.AccountHouseWager),
		store.PlayerAccount("p2", btc, store.AccountMain),
		store.SystemAccount(btc, store.AccountHouse),
		store.SystemAccount(btc, store.AccountHouseFees),
		store.SystemAccount(btc, store.AccountExternal),
	}
	ids := map[int64]struct{}{}
	for i := 0; i < 300; i++ {
		from := keys[rng.Intn(len(keys))]
		to := keys[rng.Intn(len(keys))]
		amt := money.Amount(rng.Intn(10_000) + 1)
		entries := []Entry{DebitOf(from, amt), CreditOf(to, amt)}
		if rng.Intn(4) == 0 {
			third := keys[rng.Intn(len(keys))]
			entries = []Entry{DebitOf(from, amt*2), CreditOf(to, amt), CreditOf(third, amt)}
		}
		p := post(t, s, e, PostRequest{TxType: store.TxFee, Entries: entries})
		for _, id := range p.Accounts {
			ids[id] = struct{}{}
		}
	}

	var total money.Amount
	for _, player := range []string{"p1", "p2", store.SystemPlayerID} {
		bals, err := s.Balances(context.Background(), player)
		if err != nil {
			t.Fatalf("balances: %v", err)
		}
		for _, b := range bals {
			total += b.BalanceMinor
		}
	}
	if total != 0 {
		t.Fatalf("sum of balances must be zero, got %s", total)
	}

	hold := balanceOf(t, s, keys[1])
	main := balanceOf(t, s, keys[0])
	if main.ReservedMinor != hold.BalanceMinor {
		t.Fatalf("MAIN.reserved %s != HOLD.balance %s", main.ReservedMinor, hold.BalanceMinor)
	}

	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for id := range ids {
			v, err := e.Verify(ctx, tx, id)
			if err != nil {
				return err
			}
			if !v.OK {
				t.Fatalf("projection drift on %d: %+v", id, v)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestLockCreatesAndReturnsBalances(t *testing.T) {
	s, e := newFixture()
	main := store.PlayerAccount("p1", btc, store.AccountMain)
	house := store.SystemAccount(btc, store.AccountHouse)
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		got, err := e.Lock(ctx, tx, house, main, main)
		if err != nil {
			return err
		}
		if len(got) != 2 || got[main].Key != main || got[house].BalanceMinor != 0 {
			t.Fatalf("unexpected lock result: %+v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
}
