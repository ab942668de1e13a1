package dlmm

import "math"

// PricePerLamport is the active-bin price in base units:
// (1 + binStep/10000)^activeID.
func PricePerLamport(activeID int32, binStep uint16) float64 {
	return math.Pow(1+float64(binStep)/10000, float64(activeID))
}

// DecimalsFactor converts a base-unit price of X in Y to a human-scale price.
func DecimalsFactor(decimalsX, decimalsY uint8) float64 {
	return math.Pow10(int(decimalsX) - int(decimalsY))
}

// HumanPrice converts a price per lamport into token units.
func HumanPrice(pricePerLamport float64, decimalsX, decimalsY uint8) float64 {
	return pricePerLamport * DecimalsFactor(decimalsX, decimalsY)
}
