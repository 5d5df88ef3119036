package logger

import (
	"fmt"
	"testing"
	"time"
)

func TestJournalKeepsNewest(t *testing.T) {
	j := New(3)
	for i := 0; i < 5; i++ {
		j.Committed(int64(i), time.Unix(int64(i), 0), fmt.Sprintf("h%d", i), "currency_issue")
	}

	all := j.GetAll()
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].TxHash != "h4" || all[2].TxHash != "h2" {
		t.Fatalf("unexpected order: %s .. %s", all[0].TxHash, all[2].TxHash)
	}

	recent := j.GetRecent(10)
	if len(recent) != 3 {
		t.Fatalf("GetRecent should clamp to size, got %d", len(recent))
	}
}

func TestJournalRejectedCarriesCode(t *testing.T) {
	j := New(10)
	code := uint8(2)
	j.Rejected(1, time.Unix(1, 0), "h", "transfer", &code, "Receiver doesn't exist")
	j.Rejected(1, time.Unix(1, 0), "h2", "transfer", nil, "overflow")

	got := j.GetRecent(2)
	if got[1].Code == nil || *got[1].Code != 2 || got[1].Outcome != OutcomeRejected {
		t.Fatalf("unexpected coded entry: %+v", got[1])
	}
	if got[0].Code != nil {
		t.Fatalf("uncoded rejection should have nil code")
	}
}
