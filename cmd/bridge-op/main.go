// bridge-op runs one bridge operation with the first configured operator
// account. It exists for debugging a single flow without scheduling a full
// cycle.
package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/giwa-labs/bridge-runner/internal/bridge"
	"github.com/giwa-labs/bridge-runner/internal/erc20"
	"github.com/giwa-labs/bridge-runner/internal/eth"
	"github.com/giwa-labs/bridge-runner/internal/queue"
	"github.com/giwa-labs/bridge-runner/internal/reporter"
	"github.com/giwa-labs/bridge-runner/internal/secrets"
)

const (
	opDepositERC20  = "deposit-erc20"
	opDepositETH    = "deposit-eth"
	opWithdrawETH   = "withdraw-eth"
	opWithdrawERC20 = "withdraw-erc20"
	opSelfTransfer  = "self-transfer"
	opDistribute    = "distribute"
	opFaucetClaim   = "faucet-claim"
)

func main() {
	var (
		op = flag.String("op", "", "operation: deposit-erc20|deposit-eth|withdraw-eth|withdraw-erc20|self-transfer|distribute|faucet-claim (required)")

		l1RPC     = flag.String("l1-rpc", "", "L1 RPC URL (required)")
		l2RPC     = flag.String("l2-rpc", "", "L2 RPC URL (required)")
		l1Name    = flag.String("l1-name", "Ethereum Sepolia", "L1 network name (selects the fee profile)")
		l2Name    = flag.String("l2-name", "GIWA Sepolia", "L2 network name (selects the fee profile)")
		l1ChainID = flag.Uint64("l1-chain-id", 11155111, "expected L1 chain id")
		l2ChainID = flag.Uint64("l2-chain-id", 91342, "expected L2 chain id")

		l1Bridge        = flag.String("l1-bridge", "", "L1 standard bridge address (required)")
		l2Bridge        = flag.String("l2-bridge", "", "L2 standard bridge address (required)")
		l2MessagePasser = flag.String("l2-message-passer", "", "L2 to L1 message passer address (required)")
		l1Token         = flag.String("l1-token", "", "L1 test token address (required)")
		l2Token         = flag.String("l2-token", "", "L2 test token address (required)")

		amount      = flag.String("amount", "", "operation amount in wei (op-specific default when empty)")
		onL2        = flag.Bool("l2", false, "run faucet-claim against the L2 token instead of the L1 token")
		perTarget   = flag.String("per-target", "100000000000000000", "distribute: native wei transferred per target")
		fractionPct = flag.Int64("bridge-fraction-pct", 50, "distribute: percent of per-target bridged to L2")
		targetsCSV  = flag.String("targets", "", "distribute: comma-separated target addresses (default: remaining operator accounts)")

		keySource = flag.String("key-source", secrets.SourceEnv, "operator key source: env|aws")
		keyName   = flag.String("key-name", "BRIDGE_OPERATOR_KEYS", "env var or secret id holding comma-separated operator private keys")

		timeout = flag.Duration("timeout", 15*time.Minute, "overall operation deadline")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *op == "" {
		fmt.Fprintln(os.Stderr, "error: --op is required")
		os.Exit(2)
	}
	if *l1RPC == "" || *l2RPC == "" {
		fmt.Fprintln(os.Stderr, "error: --l1-rpc and --l2-rpc are required")
		os.Exit(2)
	}
	for _, a := range []struct{ flag, value string }{
		{"--l1-bridge", *l1Bridge},
		{"--l2-bridge", *l2Bridge},
		{"--l2-message-passer", *l2MessagePasser},
		{"--l1-token", *l1Token},
		{"--l2-token", *l2Token},
	} {
		if !common.IsHexAddress(a.value) {
			fmt.Fprintf(os.Stderr, "error: %s must be a valid hex address\n", a.flag)
			os.Exit(2)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	keyProvider, err := secrets.NewProvider(ctx, *keySource)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	keys, err := secrets.OperatorKeys(ctx, keyProvider, *keyName)
	if err != nil {
		log.Error("load operator keys", "err", err)
		os.Exit(2)
	}

	l1Client, err := ethclient.DialContext(ctx, *l1RPC)
	if err != nil {
		log.Error("dial l1 rpc", "err", err)
		os.Exit(1)
	}
	defer l1Client.Close()
	l2Client, err := ethclient.DialContext(ctx, *l2RPC)
	if err != nil {
		log.Error("dial l2 rpc", "err", err)
		os.Exit(1)
	}
	defer l2Client.Close()

	rep := reporter.NewSlog(log)
	sub := eth.NewSubmitter(eth.SubmitterConfig{Reporter: rep})
	acct, err := erc20.NewAccountant(sub, rep, erc20.AllowanceConfig{})
	if err != nil {
		log.Error("init token accountant", "err", err)
		os.Exit(2)
	}
	ops, err := bridge.New(bridge.Config{
		Addresses: bridge.Addresses{
			L1StandardBridge: common.HexToAddress(*l1Bridge),
			L2StandardBridge: common.HexToAddress(*l2Bridge),
			L2MessagePasser:  common.HexToAddress(*l2MessagePasser),
			L1Token:          common.HexToAddress(*l1Token),
			L2Token:          common.HexToAddress(*l2Token),
		},
	}, sub, acct, rep, log)
	if err != nil {
		log.Error("init bridge ops", "err", err)
		os.Exit(2)
	}

	signer := eth.NewLocalSigner(keys[0])
	l1h, err := eth.NewHandle(eth.HandleConfig{
		Name:    *l1Name,
		RPC:     *l1RPC,
		ChainID: new(big.Int).SetUint64(*l1ChainID),
		Backend: l1Client,
		Signer:  signer,
	})
	if err != nil {
		log.Error("init l1 handle", "err", err)
		os.Exit(2)
	}
	l2h, err := eth.NewHandle(eth.HandleConfig{
		Name:               *l2Name,
		RPC:                *l2RPC,
		ChainID:            new(big.Int).SetUint64(*l2ChainID),
		Backend:            l2Client,
		Signer:             signer,
		RequiresFundsCheck: true,
	})
	if err != nil {
		log.Error("init l2 handle", "err", err)
		os.Exit(2)
	}

	if err := runOp(ctx, runOpConfig{
		op:          strings.ToLower(strings.TrimSpace(*op)),
		amount:      *amount,
		onL2:        *onL2,
		perTarget:   *perTarget,
		fractionPct: *fractionPct,
		targetsCSV:  *targetsCSV,
		keys:        keys,
		ops:         ops,
		l1h:         l1h,
		l2h:         l2h,
		log:         log,
	}); err != nil {
		log.Error("operation failed", "op", *op, "err", err)
		os.Exit(1)
	}
}

type runOpConfig struct {
	op          string
	amount      string
	onL2        bool
	perTarget   string
	fractionPct int64
	targetsCSV  string

	keys []*ecdsa.PrivateKey
	ops  *bridge.Ops
	l1h  *eth.Handle
	l2h  *eth.Handle
	log  *slog.Logger
}

func runOp(ctx context.Context, cfg runOpConfig) error {
	switch cfg.op {
	case opDepositERC20:
		amount, err := parseWei(cfg.amount, tokens(10))
		if err != nil {
			return err
		}
		res, err := cfg.ops.DepositERC20(ctx, cfg.l1h, cfg.l2h, amount)
		if err != nil {
			return err
		}
		cfg.log.Info("deposit submitted", "tx", res.TxRef, "amount", res.Amount, "remaining", res.Remaining)
		return nil
	case opDepositETH:
		amount, err := parseWei(cfg.amount, big.NewInt(100_000_000_000_000)) // 0.0001 ETH
		if err != nil {
			return err
		}
		out, err := cfg.ops.DepositETH(ctx, cfg.l1h, cfg.l1h.Address(), amount)
		if err != nil {
			return err
		}
		cfg.log.Info("deposit submitted", "tx", out.TxRef)
		return nil
	case opWithdrawETH:
		amount, err := parseWei(cfg.amount, big.NewInt(100_000_000_000_000))
		if err != nil {
			return err
		}
		out, err := cfg.ops.WithdrawETH(ctx, cfg.l2h, cfg.l1h.Address(), amount)
		if err != nil {
			return err
		}
		cfg.log.Info("withdrawal initiated", "tx", out.TxRef, "note", bridge.ChallengePeriodNote)
		return nil
	case opWithdrawERC20:
		amount, err := parseWei(cfg.amount, tokens(10))
		if err != nil {
			return err
		}
		res, err := cfg.ops.WithdrawERC20(ctx, cfg.l2h, cfg.l1h, amount)
		if err != nil {
			return err
		}
		cfg.log.Info("withdrawal submitted", "tx", res.TxRef, "amount", res.Amount, "note", bridge.ChallengePeriodNote)
		return nil
	case opSelfTransfer:
		amount, err := parseWei(cfg.amount, big.NewInt(50_000_000_000_000)) // 0.00005 ETH
		if err != nil {
			return err
		}
		out, err := cfg.ops.SelfTransfer(ctx, cfg.l2h, amount)
		if err != nil {
			return err
		}
		cfg.log.Info("self-transfer submitted", "tx", out.TxRef)
		return nil
	case opDistribute:
		perTarget, err := parseWei(cfg.perTarget, nil)
		if err != nil {
			return fmt.Errorf("parse --per-target: %w", err)
		}
		if cfg.fractionPct < 0 || cfg.fractionPct > 100 {
			return fmt.Errorf("--bridge-fraction-pct must be 0..100")
		}
		targets, err := distributeTargets(cfg.targetsCSV, cfg.keys)
		if err != nil {
			return err
		}
		outcomes, err := cfg.ops.DistributeAndBridge(ctx, cfg.l1h, targets, bridge.DistributeConfig{
			PerTarget:         perTarget,
			BridgeFractionPct: cfg.fractionPct,
		})
		if err != nil {
			return err
		}
		completed := 0
		for _, out := range outcomes {
			if out.Completed() {
				completed++
				continue
			}
			cfg.log.Warn("target incomplete", "target", out.Target.Hex(), "err", out.Err)
		}
		cfg.log.Info("distribution finished", "targets", len(outcomes), "completed", completed)
		return nil
	case opFaucetClaim:
		h := cfg.l1h
		if cfg.onL2 {
			h = cfg.l2h
		}
		out, err := cfg.ops.ClaimFaucet(ctx, h, cfg.onL2)
		if err != nil {
			return err
		}
		cfg.log.Info("faucet claimed", "tx", out.TxRef, "chain", out.Chain)
		return nil
	default:
		return fmt.Errorf("unsupported --op %q", cfg.op)
	}
}

func distributeTargets(csv string, keys []*ecdsa.PrivateKey) ([]common.Address, error) {
	if strings.TrimSpace(csv) != "" {
		parts := queue.SplitCommaList(csv)
		targets := make([]common.Address, 0, len(parts))
		for _, p := range parts {
			if !common.IsHexAddress(p) {
				return nil, fmt.Errorf("invalid target address %q", p)
			}
			targets = append(targets, common.HexToAddress(p))
		}
		return targets, nil
	}
	if len(keys) < 2 {
		return nil, fmt.Errorf("distribute needs --targets or at least two operator keys")
	}
	targets := make([]common.Address, 0, len(keys)-1)
	for _, k := range keys[1:] {
		targets = append(targets, crypto.PubkeyToAddress(k.PublicKey))
	}
	return targets, nil
}

func parseWei(s string, fallback *big.Int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if fallback == nil {
			return nil, fmt.Errorf("amount is required")
		}
		return fallback, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be a positive decimal wei value")
	}
	return v, nil
}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}
