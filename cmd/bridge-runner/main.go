package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/giwa-labs/bridge-runner/internal/archive"
	"github.com/giwa-labs/bridge-runner/internal/bridge"
	"github.com/giwa-labs/bridge-runner/internal/cycle"
	"github.com/giwa-labs/bridge-runner/internal/erc20"
	"github.com/giwa-labs/bridge-runner/internal/eth"
	"github.com/giwa-labs/bridge-runner/internal/queue"
	"github.com/giwa-labs/bridge-runner/internal/reporter"
	"github.com/giwa-labs/bridge-runner/internal/runstore"
	runstorepg "github.com/giwa-labs/bridge-runner/internal/runstore/postgres"
	"github.com/giwa-labs/bridge-runner/internal/secrets"
)

func main() {
	var (
		l1RPC      = flag.String("l1-rpc", "", "L1 RPC URL (required)")
		l2RPC      = flag.String("l2-rpc", "", "L2 RPC URL (required)")
		l1Name     = flag.String("l1-name", "Ethereum Sepolia", "L1 network name (selects the fee profile)")
		l2Name     = flag.String("l2-name", "GIWA Sepolia", "L2 network name (selects the fee profile)")
		l1ChainID  = flag.Uint64("l1-chain-id", 11155111, "expected L1 chain id")
		l2ChainID  = flag.Uint64("l2-chain-id", 91342, "expected L2 chain id")
		l1Explorer = flag.String("l1-explorer", "https://sepolia.etherscan.io/tx/", "L1 explorer tx URL prefix")
		l2Explorer = flag.String("l2-explorer", "https://sepolia-explorer.giwa.io/tx/", "L2 explorer tx URL prefix")

		l1Bridge        = flag.String("l1-bridge", "", "L1 standard bridge address (required)")
		l2Bridge        = flag.String("l2-bridge", "", "L2 standard bridge address (required)")
		l2MessagePasser = flag.String("l2-message-passer", "", "L2 to L1 message passer address (required)")
		l1Token         = flag.String("l1-token", "", "L1 test token address (required)")
		l2Token         = flag.String("l2-token", "", "L2 test token address (required)")
		l2GasHint       = flag.Uint64("l2-gas-hint", uint64(bridge.DefaultL2GasHint), "l2 gas hint attached to deposit messages")

		depositAmount      = flag.String("deposit-amount", "", "ERC20 deposit amount in wei (default 10 tokens)")
		withdrawETHAmount  = flag.String("withdraw-eth-amount", "", "ETH withdrawal amount in wei (default 0.0001 ETH)")
		selfTransferAmount = flag.String("self-transfer-amount", "", "L2 self-transfer amount in wei (default 0.00005 ETH)")

		keySource = flag.String("key-source", secrets.SourceEnv, "operator key source: env|aws")
		keyName   = flag.String("key-name", "BRIDGE_OPERATOR_KEYS", "env var or secret id holding comma-separated operator private keys")

		storeDriver = flag.String("store-driver", "memory", "run store driver: postgres|memory")
		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required when --store-driver=postgres)")

		queueDriver  = flag.String("queue-driver", queue.DriverStdio, "event queue driver: kafka|stdio")
		queueBrokers = flag.String("queue-brokers", "", "comma-separated queue brokers (required for kafka)")

		archiveDriver = flag.String("archive-driver", "off", "summary archive driver: s3|memory|off")
		archiveBucket = flag.String("archive-bucket", "", "S3 bucket for cycle summaries (required for s3)")
		archivePrefix = flag.String("archive-prefix", "bridge-runner", "object key prefix for cycle summaries")

		loop     = flag.Bool("loop", false, "repeat cycles until interrupted")
		interval = flag.Duration("interval", cycle.DefaultLoopInterval, "wait between cycles in loop mode")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *l1RPC == "" || *l2RPC == "" {
		fmt.Fprintln(os.Stderr, "error: --l1-rpc and --l2-rpc are required")
		os.Exit(2)
	}
	if *l1ChainID == 0 || *l2ChainID == 0 {
		fmt.Fprintln(os.Stderr, "error: --l1-chain-id and --l2-chain-id must be > 0")
		os.Exit(2)
	}
	addrs, err := parseBridgeAddresses(*l1Bridge, *l2Bridge, *l2MessagePasser, *l1Token, *l2Token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if *l2GasHint == 0 || *l2GasHint > uint64(^uint32(0)) {
		fmt.Fprintln(os.Stderr, "error: --l2-gas-hint must be > 0 and fit uint32")
		os.Exit(2)
	}
	amounts, err := parseAmounts(*depositAmount, *withdrawETHAmount, *selfTransferAmount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if *interval <= 0 {
		fmt.Fprintln(os.Stderr, "error: --interval must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	startupCtx, cancelStartup := context.WithTimeout(ctx, 10*time.Second)
	defer cancelStartup()

	l1Client, err := dialChecked(startupCtx, *l1RPC, *l1ChainID)
	if err != nil {
		log.Error("connect l1", "err", err)
		os.Exit(1)
	}
	defer l1Client.Close()
	l2Client, err := dialChecked(startupCtx, *l2RPC, *l2ChainID)
	if err != nil {
		log.Error("connect l2", "err", err)
		os.Exit(1)
	}
	defer l2Client.Close()

	var store runstore.Store
	switch strings.ToLower(strings.TrimSpace(*storeDriver)) {
	case "postgres":
		if strings.TrimSpace(*postgresDSN) == "" {
			fmt.Fprintln(os.Stderr, "error: --postgres-dsn is required when --store-driver=postgres")
			os.Exit(2)
		}
		pool, err := pgxpool.New(ctx, *postgresDSN)
		if err != nil {
			log.Error("init pgx pool", "err", err)
			os.Exit(2)
		}
		defer pool.Close()

		pgStore, err := runstorepg.New(pool)
		if err != nil {
			log.Error("init run store", "err", err)
			os.Exit(2)
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Error("ensure run store schema", "err", err)
			os.Exit(2)
		}
		store = pgStore
	case "memory":
		store = runstore.NewMemoryStore()
	default:
		fmt.Fprintf(os.Stderr, "error: unsupported --store-driver %q\n", *storeDriver)
		os.Exit(2)
	}

	producer, err := queue.NewProducer(queue.ProducerConfig{
		Driver:  *queueDriver,
		Brokers: queue.SplitCommaList(*queueBrokers),
	})
	if err != nil {
		log.Error("init queue producer", "err", err)
		os.Exit(2)
	}
	defer func() { _ = producer.Close() }()

	archiver, err := newArchiver(ctx, *archiveDriver, *archiveBucket, *archivePrefix)
	if err != nil {
		log.Error("init summary archive", "err", err)
		os.Exit(2)
	}

	rep := reporter.NewSlog(log)
	sub := eth.NewSubmitter(eth.SubmitterConfig{Reporter: rep})
	acct, err := erc20.NewAccountant(sub, rep, erc20.AllowanceConfig{})
	if err != nil {
		log.Error("init token accountant", "err", err)
		os.Exit(2)
	}
	ops, err := bridge.New(bridge.Config{
		Addresses: addrs,
		L2GasHint: uint32(*l2GasHint),
	}, sub, acct, rep, log)
	if err != nil {
		log.Error("init bridge ops", "err", err)
		os.Exit(2)
	}

	runner, err := cycle.NewRunner(cycle.Config{
		L1: cycle.ChainConfig{
			Name:           *l1Name,
			ChainID:        new(big.Int).SetUint64(*l1ChainID),
			Backend:        l1Client,
			ExplorerTxBase: *l1Explorer,
		},
		L2: cycle.ChainConfig{
			Name:               *l2Name,
			ChainID:            new(big.Int).SetUint64(*l2ChainID),
			Backend:            l2Client,
			RequiresFundsCheck: true,
			ExplorerTxBase:     *l2Explorer,
		},
		Accounts: keys,
		Ops:      ops,
		Amounts:  amounts,
		Store:    store,
		Events:   queue.NewEvents(producer),
		Archiver: archiver,
		Reporter: rep,
		Log:      log,
	})
	if err != nil {
		log.Error("init cycle runner", "err", err)
		os.Exit(2)
	}

	log.Info("bridge runner started",
		"accounts", len(keys),
		"l1", *l1Name,
		"l2", *l2Name,
		"storeDriver", strings.ToLower(strings.TrimSpace(*storeDriver)),
		"queueDriver", *queueDriver,
		"archiveDriver", strings.ToLower(strings.TrimSpace(*archiveDriver)),
		"loop", *loop,
	)

	if *loop {
		err = runner.RunLoop(ctx, *interval)
	} else {
		_, err = runner.RunCycle(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("cycle run", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown", "reason", ctx.Err())
}

func dialChecked(ctx context.Context, rpcURL string, wantChainID uint64) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	gotChainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	if gotChainID.Cmp(new(big.Int).SetUint64(wantChainID)) != 0 {
		client.Close()
		return nil, fmt.Errorf("chain id mismatch: want %d got %s", wantChainID, gotChainID)
	}
	return client, nil
}

func parseBridgeAddresses(l1Bridge, l2Bridge, l2MessagePasser, l1Token, l2Token string) (bridge.Addresses, error) {
	type field struct {
		flag  string
		value string
		out   *common.Address
	}
	var addrs bridge.Addresses
	fields := []field{
		{"--l1-bridge", l1Bridge, &addrs.L1StandardBridge},
		{"--l2-bridge", l2Bridge, &addrs.L2StandardBridge},
		{"--l2-message-passer", l2MessagePasser, &addrs.L2MessagePasser},
		{"--l1-token", l1Token, &addrs.L1Token},
		{"--l2-token", l2Token, &addrs.L2Token},
	}
	for _, f := range fields {
		if !common.IsHexAddress(f.value) {
			return bridge.Addresses{}, fmt.Errorf("%s must be a valid hex address", f.flag)
		}
		*f.out = common.HexToAddress(f.value)
	}
	return addrs, nil
}

func parseAmounts(deposit, withdrawETH, selfTransfer string) (cycle.Amounts, error) {
	var out cycle.Amounts
	var err error
	if out.DepositERC20, err = parseWeiOptional("--deposit-amount", deposit); err != nil {
		return cycle.Amounts{}, err
	}
	if out.WithdrawETH, err = parseWeiOptional("--withdraw-eth-amount", withdrawETH); err != nil {
		return cycle.Amounts{}, err
	}
	if out.SelfTransfer, err = parseWeiOptional("--self-transfer-amount", selfTransfer); err != nil {
		return cycle.Amounts{}, err
	}
	return out, nil
}

func parseWeiOptional(flagName, s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("%s must be a positive decimal wei amount", flagName)
	}
	return v, nil
}

func newArchiver(ctx context.Context, driver, bucket, prefix string) (archive.Archiver, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "off" {
		return nil, nil
	}
	cfg := archive.Config{
		Driver: driver,
		Bucket: strings.TrimSpace(bucket),
		Prefix: strings.TrimSpace(prefix),
	}
	if driver == archive.DriverS3 {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		cfg.S3Client = awss3.NewFromConfig(awsCfg)
	}
	return archive.New(cfg)
}
