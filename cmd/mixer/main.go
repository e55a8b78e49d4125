// Command mixer runs a single mixing session against a node wallet.
//
// The requested amount moves from the source account to the destination
// through freshly created mix accounts. With --initial-amount a larger sum
// is mixed and the excess returns to the source, masking the real amount.
//
// # Usage
//
//	go run ./cmd/mixer --wallet=W --source=xrb_src --dest=xrb_dst --amount=10M
//	go run ./cmd/mixer --wallet=W --source=xrb_src --dest=xrb_dst --amount=10M --initial-amount=25M --dest-from-multiple
//	go run ./cmd/mixer --wallet=W --source=xrb_src --clean
//	go run ./cmd/mixer --simulate --source=a --dest=b --amount=5k
//
// Amounts are raw integers or integers with a k (krai) or M (Mrai) suffix.
//
// --clean moves the balance of every other account of the wallet to the
// source, which is how funds are recovered after a crash.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flashbots/ledgermix/cmd/common"
	"github.com/flashbots/ledgermix/mixer"
	"github.com/flashbots/ledgermix/nanorpc"
	"github.com/shopspring/decimal"
)

type options struct {
	wallet           string
	node             string
	source           string
	dest             string
	amount           string
	initialAmount    string
	destFromMultiple bool
	numMixers        int
	numRounds        int
	clean            bool
	simulate         bool
	seedSecret       string
	logLevel         string
	pollInterval     time.Duration
	confirmTimeout   time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.wallet, "wallet", "", "Wallet ID holding the source account")
	flag.StringVar(&opts.node, "node", "http://[::1]:7076", "Node RPC URL")
	flag.StringVar(&opts.source, "source", "", "Source account")
	flag.StringVar(&opts.dest, "dest", "", "Destination account")
	flag.StringVar(&opts.amount, "amount", "", "Amount to deliver (raw, or with k/M suffix)")
	flag.StringVar(&opts.initialAmount, "initial-amount", "", "Amount to mix, at least --amount; the rest returns to the source")
	flag.BoolVar(&opts.destFromMultiple, "dest-from-multiple", false, "Send to the destination from several mix accounts")
	flag.IntVar(&opts.numMixers, "num-mixers", 4, "Number of mix accounts to create")
	flag.IntVar(&opts.numRounds, "num-rounds", 2, "Number of mixing rounds")
	flag.BoolVar(&opts.clean, "clean", false, "Move every other wallet account's balance to the source and exit")
	flag.BoolVar(&opts.simulate, "simulate", false, "Run against an in-memory ledger instead of a node")
	flag.StringVar(&opts.seedSecret, "seed-secret", "", "Derive routing randomness from this secret (replayable runs)")
	flag.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	flag.DurationVar(&opts.pollInterval, "poll-interval", time.Second, "Confirmation poll interval")
	flag.DurationVar(&opts.confirmTimeout, "confirm-timeout", 20*time.Second, "Confirmation timeout per transfer")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		fmt.Println("Interrupted, stopping at the next transfer boundary...")
		cancel()
	}()

	if err := run(ctx, &opts); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	if opts.source == "" {
		return errors.New("--source is required")
	}
	if !opts.simulate && opts.wallet == "" {
		return errors.New("--wallet is required")
	}

	log, err := common.NewLogger(opts.logLevel, false)
	if err != nil {
		return err
	}

	nodeCfg := common.NodeConfig{
		URL:            opts.node,
		Wallet:         opts.wallet,
		PollInterval:   opts.pollInterval,
		ConfirmTimeout: opts.confirmTimeout,
		Simulate:       opts.simulate,
	}

	mixerOpts := []mixer.Option{
		mixer.WithLogger(log),
		mixer.WithConfirmConfig(mixer.ConfirmConfig{PollInterval: opts.pollInterval, Timeout: opts.confirmTimeout}),
		mixer.WithEventHandler(printEvent),
	}
	if opts.seedSecret != "" {
		mixerOpts = append(mixerOpts, mixer.WithSeedSecret([]byte(opts.seedSecret)))
	}

	if opts.clean {
		client, err := common.NewLedgerClient(nodeCfg, log)
		if err != nil {
			return err
		}
		return clean(ctx, client, mixer.NewMixer(client, mixerOpts...), mixer.AccountID(opts.source))
	}

	params, err := sessionParams(opts)
	if err != nil {
		return err
	}

	if opts.simulate {
		nodeCfg.SimulatedBalances = map[string]string{
			opts.source: params.FundingAmount.String(),
			opts.dest:   "0",
		}
	}

	client, err := common.NewLedgerClient(nodeCfg, log)
	if err != nil {
		return err
	}

	fmt.Printf("Mixing %s (sending %s) from %s to %s through %d accounts, %d rounds\n",
		nanorpc.FormatMrai(params.FundingAmount), nanorpc.FormatMrai(params.RequestedAmount),
		params.Origin, params.Destination, params.NumMixAccounts, params.NumRounds)

	result, err := mixer.NewMixer(client, mixerOpts...).RunSession(ctx, params)
	if err != nil {
		var sessionErr *mixer.SessionError
		if errors.As(err, &sessionErr) && len(sessionErr.LiveAccounts) > 0 {
			fmt.Println("Mix accounts left alive (run with --clean to recover their funds):")
			for _, acc := range sessionErr.LiveAccounts {
				fmt.Printf("  %s\n", acc)
			}
		}
		return err
	}

	fmt.Printf("Done: %d transfers in %s\n", result.TransferCount, result.Duration.Round(time.Millisecond))
	fmt.Printf("  %s balance: %s\n", params.Destination, nanorpc.FormatMrai(result.FinalDestinationBalance))
	fmt.Printf("  %s balance: %s\n", params.Origin, nanorpc.FormatMrai(result.FinalOriginBalance))
	return nil
}

func sessionParams(opts *options) (mixer.SessionParams, error) {
	if opts.dest == "" {
		return mixer.SessionParams{}, errors.New("--dest is required")
	}
	if opts.amount == "" {
		return mixer.SessionParams{}, errors.New("--amount is required")
	}

	requested, err := nanorpc.ParseAmount(opts.amount)
	if err != nil {
		return mixer.SessionParams{}, fmt.Errorf("--amount: %w", err)
	}

	funding := requested
	if opts.initialAmount != "" {
		funding, err = nanorpc.ParseAmount(opts.initialAmount)
		if err != nil {
			return mixer.SessionParams{}, fmt.Errorf("--initial-amount: %w", err)
		}
	}

	params := mixer.SessionParams{
		Origin:              mixer.AccountID(opts.source),
		Destination:         mixer.AccountID(opts.dest),
		RequestedAmount:     requested,
		FundingAmount:       funding,
		NumMixAccounts:      opts.numMixers,
		NumRounds:           opts.numRounds,
		MultiSourceFinalHop: opts.destFromMultiple,
	}
	return params, params.Validate()
}

func clean(ctx context.Context, client common.WalletClient, m *mixer.Mixer, source mixer.AccountID) error {
	accounts, err := client.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("listing wallet accounts: %w", err)
	}

	fmt.Printf("Moving the balance of %d accounts to %s\n", len(accounts)-1, source)
	res, err := m.Collect(ctx, accounts, source)
	if res != nil && res.Recovered.GreaterThan(decimal.Zero) {
		fmt.Printf("Recovered %s\n", nanorpc.FormatMrai(res.Recovered))
	}
	return err
}

func printEvent(ev mixer.Event) {
	switch ev.Kind {
	case mixer.EventPhaseStarted:
		fmt.Printf("== %s\n", ev.Phase)
	case mixer.EventAccountsProvisioned:
		fmt.Printf("Created %d mix accounts\n", len(ev.Accounts))
	case mixer.EventTransferApplied:
		fmt.Printf("  #%d %s -> %s: %s\n", ev.Transfer.Seq, ev.Transfer.From, ev.Transfer.To, nanorpc.FormatMrai(ev.Transfer.Amount))
	case mixer.EventTransferRolledBack:
		fmt.Printf("  #%d %s -> %s failed: %s\n", ev.Transfer.Seq, ev.Transfer.From, ev.Transfer.To, ev.Err)
	case mixer.EventSessionFailed:
		fmt.Printf("Session failed: %s\n", ev.Err)
	}
}
