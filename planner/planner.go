// Package planner coalesces a scattered set of target addresses into the
// minimum number of contiguous probe read regions. It has no knowledge
// of the probe itself; Sampler is the only caller.
package planner

import "sort"

// DefaultGapThreshold is the default maximum unread address span the
// planner will bridge to merge two reads into one.
const DefaultGapThreshold = 64

// Item is the minimal description of one variable's memory footprint
// that the planner needs: its address, byte size, and the caller's
// original index (so results can be mapped back to the caller's slice).
type Item struct {
	Address uint64
	Size    int
	Index   int // index into the caller's original, unsorted slice
}

// Region is a single contiguous read the planner has decided to issue.
// MemberIndices lists, in the order they were merged, the original
// indices of variables covered by this region.
type Region struct {
	Address       uint64
	Size          int
	MemberIndices []int
}

// End returns the first address past the region.
func (r Region) End() uint64 { return r.Address + uint64(r.Size) }

// Plan coalesces items into a minimum-sized list of contiguous regions
// such that every item is covered and any two regions are separated by
// more than gapThreshold bytes of unread memory.
//
// Sort is stable, so equal addresses preserve relative input order.
func Plan(items []Item, gapThreshold uint64) []Region {
	if len(items) == 0 {
		return nil
	}
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Address < sorted[j].Address
	})

	regions := make([]Region, 0, len(sorted))
	cur := Region{
		Address:       sorted[0].Address,
		Size:          sorted[0].Size,
		MemberIndices: []int{sorted[0].Index},
	}
	currentEnd := sorted[0].Address + uint64(sorted[0].Size)

	for _, it := range sorted[1:] {
		if it.Address <= currentEnd+gapThreshold {
			end := it.Address + uint64(it.Size)
			if end > currentEnd {
				currentEnd = end
			}
			cur.MemberIndices = append(cur.MemberIndices, it.Index)
		} else {
			cur.Size = int(currentEnd - cur.Address)
			regions = append(regions, cur)
			cur = Region{Address: it.Address, MemberIndices: []int{it.Index}}
			currentEnd = it.Address + uint64(it.Size)
		}
	}
	cur.Size = int(currentEnd - cur.Address)
	regions = append(regions, cur)
	return regions
}

// ExtractValue returns the bytes for item within region's already-read
// bytes, or (nil, false) if item does not lie fully within the region, or
// the byte slice is too short.
func ExtractValue(item Item, region Region, bytes []byte) ([]byte, bool) {
	if item.Address < region.Address {
		return nil, false
	}
	end := item.Address + uint64(item.Size)
	if end > region.Address+uint64(len(bytes)) {
		return nil, false
	}
	offset := item.Address - region.Address
	return bytes[offset : offset+uint64(item.Size)], true
}

// Savings reports the optimization the planner achieved: the region
// count, and how many individual reads were avoided by coalescing.
func Savings(individualReads, regionCount int) (regions int, saved int) {
	return regionCount, individualReads - regionCount
}
