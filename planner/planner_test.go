package planner

import "testing"

func TestPlanCoalescesAdjacent(t *testing.T) {
	items := []Item{
		{Address: 0x2000_0000, Size: 4, Index: 0},
		{Address: 0x2000_0004, Size: 4, Index: 1},
		{Address: 0x2000_0008, Size: 4, Index: 2},
	}
	regions := Plan(items, DefaultGapThreshold)
	if len(regions) != 1 {
		t.Fatalf("got %d regions, want 1", len(regions))
	}
	if regions[0].Address != 0x2000_0000 || regions[0].Size != 12 {
		t.Errorf("region = %+v, want addr=0x20000000 size=12", regions[0])
	}
}

func TestPlanSplitsOnBigGap(t *testing.T) {
	items := []Item{
		{Address: 0x2000_0000, Size: 4, Index: 0},
		{Address: 0x2000_0100, Size: 4, Index: 1},
	}
	regions := Plan(items, DefaultGapThreshold)
	if len(regions) != 2 {
		t.Fatalf("got %d regions, want 2", len(regions))
	}
}

func TestPlanSortsUnorderedInput(t *testing.T) {
	items := []Item{
		{Address: 0x2000_0004, Size: 4, Index: 0},
		{Address: 0x2000_0000, Size: 4, Index: 1},
		{Address: 0x2000_0008, Size: 4, Index: 2},
	}
	regions := Plan(items, DefaultGapThreshold)
	if len(regions) != 1 {
		t.Fatalf("got %d regions, want 1", len(regions))
	}
	if regions[0].Address != 0x2000_0000 {
		t.Errorf("region address = %#x, want 0x20000000", regions[0].Address)
	}
	seen := map[int]bool{}
	for _, idx := range regions[0].MemberIndices {
		seen[idx] = true
	}
	for _, want := range []int{0, 1, 2} {
		if !seen[want] {
			t.Errorf("member indices %v missing original index %d", regions[0].MemberIndices, want)
		}
	}
}

func TestPlanCoversUnionOfRanges(t *testing.T) {
	items := []Item{
		{Address: 100, Size: 4, Index: 0},
		{Address: 110, Size: 4, Index: 1},
		{Address: 500, Size: 8, Index: 2},
	}
	regions := Plan(items, 16)
	covered := func(addr uint64) bool {
		for _, r := range regions {
			if addr >= r.Address && addr < r.End() {
				return true
			}
		}
		return false
	}
	for _, it := range items {
		for b := it.Address; b < it.Address+uint64(it.Size); b++ {
			if !covered(b) {
				t.Errorf("address %#x (item index %d) not covered by any region", b, it.Index)
			}
		}
	}
	for i := 0; i < len(regions)-1; i++ {
		gap := regions[i+1].Address - regions[i].End()
		if gap <= 16 {
			t.Errorf("regions %d,%d have gap %d, want > 16", i, i+1, gap)
		}
	}
}

func TestExtractValue(t *testing.T) {
	region := Region{Address: 0x1000, Size: 12}
	bytes := make([]byte, 12)
	bytes[4] = 0xAB

	item := Item{Address: 0x1004, Size: 1}
	got, ok := ExtractValue(item, region, bytes)
	if !ok || len(got) != 1 || got[0] != 0xAB {
		t.Fatalf("ExtractValue = %v, %v, want [0xAB], true", got, ok)
	}

	outside := Item{Address: 0x2000, Size: 4}
	if _, ok := ExtractValue(outside, region, bytes); ok {
		t.Errorf("ExtractValue for out-of-range item returned ok=true")
	}

	tooShort := Item{Address: 0x1000, Size: 4}
	if _, ok := ExtractValue(tooShort, region, bytes[:2]); ok {
		t.Errorf("ExtractValue with short byte slice returned ok=true")
	}
}

func TestSavings(t *testing.T) {
	regions, saved := Savings(5, 2)
	if regions != 2 || saved != 3 {
		t.Errorf("Savings(5,2) = %d,%d, want 2,3", regions, saved)
	}
}
