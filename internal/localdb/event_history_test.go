package localdb

import (
	"testing"
	"time"
)

func TestEventHistoryCRUD(t *testing.T) {
	setupLedgerTestDB(t)

	now := time.Now()
	records := []EventHistory{
		{EventID: "l-1", Kind: "lottery", Outcome: "winners", Participants: 3, SummaryJSON: `{"fee":"1"}`, SettledAt: now.Add(-2 * time.Minute)},
		{EventID: "g-1", Kind: "giveaway", Outcome: "no_participants", SettledAt: now.Add(-1 * time.Minute)},
		{EventID: "l-2", Kind: "lottery", Outcome: "winners", Participants: 1, SettledAt: now},
	}
	for _, r := range records {
		if err := SaveEventHistory(r); err != nil {
			t.Fatalf("SaveEventHistory(%s) failed: %v", r.EventID, err)
		}
	}
	// 同じイベントの二重保存は無視される
	if err := SaveEventHistory(records[0]); err != nil {
		t.Fatalf("SaveEventHistory duplicate failed: %v", err)
	}

	all, err := GetEventHistory("", 0)
	if err != nil {
		t.Fatalf("GetEventHistory failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unexpected history length: got=%d want=3", len(all))
	}
	if all[0].EventID != "l-2" {
		t.Fatalf("history order mismatch: got=%q want=%q", all[0].EventID, "l-2")
	}

	lotteries, err := GetEventHistory("lottery", 1)
	if err != nil {
		t.Fatalf("GetEventHistory(lottery) failed: %v", err)
	}
	if len(lotteries) != 1 || lotteries[0].EventID != "l-2" {
		t.Fatalf("unexpected filtered history: %+v", lotteries)
	}

	if err := DeleteEventHistory(all[0].ID); err != nil {
		t.Fatalf("DeleteEventHistory failed: %v", err)
	}
	afterDelete, err := GetEventHistory("", 0)
	if err != nil {
		t.Fatalf("GetEventHistory after delete failed: %v", err)
	}
	if len(afterDelete) != 2 {
		t.Fatalf("unexpected history length after delete: got=%d want=2", len(afterDelete))
	}
}
