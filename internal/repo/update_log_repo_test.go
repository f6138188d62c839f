package repo

import (
	"context"
	"testing"
	"time"
)

func TestListPendingUpdateLogs_OrderAndFilter(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)

	l2, _ := CreateUpdateLog(ctx, db, 2, false, false, base.Add(2*time.Second))
	l1, _ := CreateUpdateLog(ctx, db, 1, true, false, base.Add(time.Second))
	_, _ = CreateUpdateLog(ctx, db, 3, false, true, base) // still open, ignored

	rows, err := ListPendingUpdateLogs(ctx, db, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != l1.ID || rows[1].ID != l2.ID {
		t.Fatalf("unexpected rows: %+v", rows)
	}

	rows, _ = ListPendingUpdateLogs(ctx, db, 1)
	if len(rows) != 1 {
		t.Fatalf("limit ignored: %d", len(rows))
	}
}

func TestClaimUpdateLog_OnlyOnce(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	l, _ := CreateUpdateLog(ctx, db, 9, false, false, time.Now())

	ok, err := ClaimUpdateLog(ctx, db, l.ID)
	if err != nil || !ok {
		t.Fatalf("first claim: %v %v", ok, err)
	}
	ok, err = ClaimUpdateLog(ctx, db, l.ID)
	if err != nil || ok {
		t.Fatalf("second claim must fail: %v %v", ok, err)
	}

	n, _ := CountStaleUpdateLogs(ctx, db)
	if n != 1 {
		t.Fatalf("stale=%d", n)
	}
	if err := DeleteUpdateLog(ctx, db, l.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	n, _ = CountStaleUpdateLogs(ctx, db)
	if n != 0 {
		t.Fatalf("stale after delete=%d", n)
	}
}
