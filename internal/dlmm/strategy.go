package dlmm

import "dlmm-risk-manager/internal/domain"

// DefaultBinWidth is the number of bins on each side of the active bin.
const DefaultBinWidth = 10

// StrategySpotBalanced names the uniform two-sided distribution.
const StrategySpotBalanced = "SpotBalanced"

// BinRange returns the inclusive bin range active±width.
func BinRange(active int32, width int) (int32, int32) {
	return active - int32(width), active + int32(width)
}

// SpotBalanced spreads totalX uniformly over bins active..active+width and
// totalY uniformly over bins active-width..active. The active bin holds a share
// of both. Remainders go to the bins closest to the active bin so the sums are exact.
func SpotBalanced(active int32, width int, totalX, totalY uint64) []domain.BinAllocation {
	if width < 0 {
		width = 0
	}
	n := uint64(width + 1)
	minBin, maxBin := BinRange(active, width)

	allocs := make([]domain.BinAllocation, 0, 2*width+1)
	for bin := minBin; bin <= maxBin; bin++ {
		a := domain.BinAllocation{BinID: bin}
		if bin >= active {
			a.XAmount = share(totalX, n, uint64(bin-active))
		}
		if bin <= active {
			a.YAmount = share(totalY, n, uint64(active-bin))
		}
		allocs = append(allocs, a)
	}
	return allocs
}

// share splits total into n parts; part i (0 = closest to active) gets one
// extra unit while i < total%n.
func share(total, n, i uint64) uint64 {
	s := total / n
	if i < total%n {
		s++
	}
	return s
}
