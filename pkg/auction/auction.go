package auction

import (
	"math/big"
)

// RateScale is the number of fixed-point units per 1.0 of exchange rate. All
// rates in the system are integers at this scale so the ledger and the
// coordinator always agree on pricing, bit for bit.
const RateScale = 1_000_000

// CurrentRate returns the rate of a linearly decaying auction at the given
// time. Times are unix seconds. Before the window it returns startRate, after
// the window endRate, and inside the window the linear interpolation
//
//	rate = startRate - (startRate-endRate)*(now-start)/(end-start)
//
// computed entirely in integer arithmetic. The returned value is always a
// fresh big.Int, never an alias of the inputs.
func CurrentRate(startRate, endRate *big.Int, startTime, endTime, now int64) *big.Int {
	if now <= startTime || endTime <= startTime {
		return new(big.Int).Set(startRate)
	}
	if now >= endTime {
		return new(big.Int).Set(endRate)
	}

	elapsed := big.NewInt(now - startTime)
	window := big.NewInt(endTime - startTime)

	decay := new(big.Int).Sub(startRate, endRate)
	decay.Mul(decay, elapsed)
	decay.Quo(decay, window)

	return new(big.Int).Sub(startRate, decay)
}
