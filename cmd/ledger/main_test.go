package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"BulkSMS/internal/model"
	"BulkSMS/internal/service"
)

type fakeLedger struct {
	balance    int64
	purchases  []string
	consistent bool
}

func (f *fakeLedger) Balance(context.Context, int64) (int64, error) { return f.balance, nil }

func (f *fakeLedger) Entries(_ context.Context, storeID int64, limit int) ([]service.LedgerEntry, error) {
	return []service.LedgerEntry{{StoreID: storeID, Type: model.TransactionTypePurchase, Amount: f.balance, Reference: "grant:1"}}, nil
}

func (f *fakeLedger) Purchase(_ context.Context, storeID, amount int64, reference string) (*service.LedgerEntry, error) {
	f.purchases = append(f.purchases, reference)
	f.balance += amount
	return &service.LedgerEntry{StoreID: storeID, Type: model.TransactionTypePurchase, Amount: amount, Reference: reference}, nil
}

func (f *fakeLedger) VerifyReplay(_ context.Context, storeID int64) (*service.ReplayReport, error) {
	sum := f.balance
	if !f.consistent {
		sum--
	}
	return &service.ReplayReport{StoreID: storeID, Balance: f.balance, EntrySum: sum, Consistent: f.consistent}, nil
}

func TestRunBalance(t *testing.T) {
	var out bytes.Buffer
	ledger := &fakeLedger{balance: 25, consistent: true}

	if err := run(context.Background(), ledger, &out, "balance", []string{"-store", "3"}); err != nil {
		t.Fatalf("balance: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not json: %s", out.String())
	}
	if got["balance"] != float64(25) || got["store_id"] != float64(3) {
		t.Errorf("output = %v", got)
	}
}

func TestRunGrant(t *testing.T) {
	var out bytes.Buffer
	ledger := &fakeLedger{consistent: true}

	if err := run(context.Background(), ledger, &out, "grant", []string{"-store", "3", "-amount", "100"}); err == nil {
		t.Error("grant without -ref should fail")
	}
	if err := run(context.Background(), ledger, &out, "grant", []string{"-store", "3", "-amount", "100", "-ref", "pay_1"}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if len(ledger.purchases) != 1 || ledger.purchases[0] != "pay_1" || ledger.balance != 100 {
		t.Errorf("ledger = %+v", ledger)
	}
}

func TestRunVerify(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &fakeLedger{balance: 5, consistent: true}, &out, "verify", []string{"-store", "1"}); err != nil {
		t.Errorf("consistent ledger: %v", err)
	}

	out.Reset()
	err := run(context.Background(), &fakeLedger{balance: 5}, &out, "verify", []string{"-store", "1"})
	if err == nil || !strings.Contains(err.Error(), "does not match") {
		t.Errorf("inconsistent ledger err = %v", err)
	}
	if !strings.Contains(out.String(), `"consistent": false`) {
		t.Errorf("report not printed: %s", out.String())
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	var out bytes.Buffer
	ledger := &fakeLedger{}

	if err := run(context.Background(), ledger, &out, "balance", nil); err == nil {
		t.Error("missing -store should fail")
	}
	if err := run(context.Background(), ledger, &out, "explode", nil); err == nil {
		t.Error("unknown command should fail")
	}
}
