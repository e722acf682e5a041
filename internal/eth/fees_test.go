package eth

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

func TestProfileFor(t *testing.T) {
	l2 := ProfileFor("GIWA Sepolia")
	if l2.TipCap.Cmp(big.NewInt(2_000_000_000)) != 0 || l2.MultiplierPct != 250 {
		t.Fatalf("l2 profile: got tip=%s mult=%d", l2.TipCap, l2.MultiplierPct)
	}

	l1 := ProfileFor("Ethereum Sepolia")
	if l1.TipCap.Cmp(big.NewInt(8_000_000_000)) != 0 || l1.MultiplierPct != 400 {
		t.Fatalf("default profile: got tip=%s mult=%d", l1.TipCap, l1.MultiplierPct)
	}
}

func TestQuoteFees_FeeCapFormula(t *testing.T) {
	backend := newFakeBackend()
	backend.baseFee = big.NewInt(100_000_000_000) // 100 gwei

	q := QuoteFees(context.Background(), backend, ProfileFor("Ethereum Sepolia"))

	// 100 gwei * 4.0 + 2 * 8 gwei = 416 gwei
	want := big.NewInt(416_000_000_000)
	if q.FeeCap.Cmp(want) != 0 {
		t.Fatalf("feeCap: got %s want %s", q.FeeCap, want)
	}
	if q.BaseFee.Cmp(backend.baseFee) != 0 {
		t.Fatalf("baseFee: got %s want %s", q.BaseFee, backend.baseFee)
	}
}

func TestQuoteFees_FallsBackOnHeaderError(t *testing.T) {
	backend := newFakeBackend()
	backend.headerErr = errors.New("rpc down")

	q := QuoteFees(context.Background(), backend, ProfileFor("GIWA Sepolia"))

	// fallback base 2 gwei * 2.5 + 2 * 2 gwei = 9 gwei
	want := big.NewInt(9_000_000_000)
	if q.FeeCap.Cmp(want) != 0 {
		t.Fatalf("feeCap: got %s want %s", q.FeeCap, want)
	}
}

func TestQuoteFees_FeeCapAlwaysAtLeastTwiceTip(t *testing.T) {
	backend := newFakeBackend()
	backend.baseFee = big.NewInt(0)

	for _, name := range []string{"GIWA Sepolia", "Ethereum Sepolia"} {
		q := QuoteFees(context.Background(), backend, ProfileFor(name))
		min := new(big.Int).Mul(q.TipCap, big.NewInt(2))
		if q.FeeCap.Cmp(min) < 0 {
			t.Fatalf("%s: feeCap %s < 2*tip %s", name, q.FeeCap, min)
		}
	}
}

func TestBumpFees(t *testing.T) {
	tip, fee, err := BumpFees(big.NewInt(100), big.NewInt(400), 25)
	if err != nil {
		t.Fatalf("BumpFees: %v", err)
	}
	if tip.Cmp(big.NewInt(125)) != 0 || fee.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("bumped fees: got tip=%s fee=%s", tip, fee)
	}

	if _, _, err := BumpFees(nil, big.NewInt(1), 25); !errors.Is(err, ErrInvalidFeeArgs) {
		t.Fatalf("nil tip: got %v", err)
	}
	if _, _, err := BumpFees(big.NewInt(1), big.NewInt(1), 0); !errors.Is(err, ErrInvalidFeeArgs) {
		t.Fatalf("zero percent: got %v", err)
	}
}
