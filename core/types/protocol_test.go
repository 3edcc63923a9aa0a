package types

import (
	"testing"
	"time"
)

func TestLockPeriodDurations(t *testing.T) {
	cases := map[LockPeriod]int{
		LockThreeMonths:  90,
		LockSixMonths:    180,
		LockTwelveMonths: 365,
	}
	for period, days := range cases {
		if got := period.Duration(); got != time.Duration(days)*Day {
			t.Fatalf("%s: unexpected duration %s", period, got)
		}
	}
	if LockPeriod(9).Valid() || LockPeriodUnknown.Duration() != 0 {
		t.Fatalf("unknown lock period must be invalid")
	}
}

func TestParseLockPeriod(t *testing.T) {
	period, err := ParseLockPeriod(" 6M ")
	if err != nil || period != LockSixMonths {
		t.Fatalf("unexpected parse result %v %v", period, err)
	}
	if _, err := ParseLockPeriod("24m"); err == nil {
		t.Fatalf("expected error for unsupported tier")
	}
}

func TestParseAssetClass(t *testing.T) {
	class, err := ParseAssetClass("Commodity")
	if err != nil || class != AssetClassCommodity {
		t.Fatalf("unexpected class %v %v", class, err)
	}
	if _, err := ParseAssetClass("equity"); err == nil {
		t.Fatalf("expected error for unknown class")
	}
}

func TestEventCloneDetachesAttributes(t *testing.T) {
	evt := &Event{Type: "vault.deposit", Attributes: map[string]string{"shares": "10"}}
	cp := evt.Clone()
	cp.Attributes["shares"] = "20"
	if evt.Attr("shares") != "10" || cp.Attr("shares") != "20" {
		t.Fatalf("clone shares attribute map")
	}
	var missing *Event
	if missing.Attr("shares") != "" || missing.Clone() != nil {
		t.Fatalf("nil event must be inert")
	}
}
