package main

// 额度账本运维命令：查询余额、充值入账、重放核对

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"BulkSMS/internal/service"
	"BulkSMS/pkg/logger"
	"BulkSMS/storage/database"
)

const usage = `usage: ledger <command> [flags]

commands:
  balance -store ID [-entries N]          show balance and recent entries
  grant   -store ID -amount N -ref REF    credit a store (idempotent per reference)
  verify  -store ID                       replay entries and compare with the balance
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logger.Init("ledger")
	defer logger.Sync()

	if err := database.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer func() { _ = database.Close(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := run(ctx, service.Ledger(), os.Stdout, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// ledgerOps 命令用到的账本操作
type ledgerOps interface {
	Balance(ctx context.Context, storeID int64) (int64, error)
	Entries(ctx context.Context, storeID int64, limit int) ([]service.LedgerEntry, error)
	Purchase(ctx context.Context, storeID, amount int64, reference string) (*service.LedgerEntry, error)
	VerifyReplay(ctx context.Context, storeID int64) (*service.ReplayReport, error)
}

func run(ctx context.Context, ledger ledgerOps, out io.Writer, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	storeID := fs.Int64("store", 0, "store id")

	switch cmd {
	case "balance":
		limit := fs.Int("entries", 10, "number of recent entries to show")
		if err := parse(fs, args, storeID); err != nil {
			return err
		}
		balance, err := ledger.Balance(ctx, *storeID)
		if err != nil {
			return err
		}
		entries, err := ledger.Entries(ctx, *storeID, *limit)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]interface{}{"store_id": *storeID, "balance": balance, "entries": entries})

	case "grant":
		amount := fs.Int64("amount", 0, "credits to add")
		ref := fs.String("ref", "", "unique reference, e.g. the payment id")
		if err := parse(fs, args, storeID); err != nil {
			return err
		}
		if *ref == "" {
			return fmt.Errorf("-ref is required")
		}
		entry, err := ledger.Purchase(ctx, *storeID, *amount, *ref)
		if err != nil {
			return err
		}
		return printJSON(out, entry)

	case "verify":
		if err := parse(fs, args, storeID); err != nil {
			return err
		}
		report, err := ledger.VerifyReplay(ctx, *storeID)
		if err != nil {
			return err
		}
		if err := printJSON(out, report); err != nil {
			return err
		}
		if !report.Consistent {
			return fmt.Errorf("balance %d does not match entry sum %d", report.Balance, report.EntrySum)
		}
		return nil
	}

	return fmt.Errorf("unknown command %q\n%s", cmd, usage)
}

func parse(fs *flag.FlagSet, args []string, storeID *int64) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *storeID <= 0 {
		return fmt.Errorf("-store must be a positive store id")
	}
	return nil
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
