package model

// TriggerKind classifies a trigger condition.
type TriggerKind string

const (
	TriggerPriceAbove      TriggerKind = "PRICE_ABOVE"
	TriggerPriceBelow      TriggerKind = "PRICE_BELOW"
	TriggerVolumeAbove     TriggerKind = "VOLUME_ABOVE"
	TriggerVolatilityAbove TriggerKind = "VOLATILITY_ABOVE"
	TriggerCrossOver       TriggerKind = "CROSS_OVER"
)

// TriggerCondition is a threshold or crossover condition evaluated against an
// indicator's current observation. Threshold is set for the four threshold
// kinds; FastPeriod/SlowPeriod only for CrossOver.
type TriggerCondition struct {
	Kind       TriggerKind `json:"kind"`
	Threshold  float64     `json:"threshold,omitempty"`
	FastPeriod int         `json:"fast_period,omitempty"`
	SlowPeriod int         `json:"slow_period,omitempty"`
}

// PriceAbove fires when the last observed price exceeds t.
func PriceAbove(t float64) TriggerCondition {
	return TriggerCondition{Kind: TriggerPriceAbove, Threshold: t}
}

// PriceBelow fires when the last observed price is under t.
func PriceBelow(t float64) TriggerCondition {
	return TriggerCondition{Kind: TriggerPriceBelow, Threshold: t}
}

// VolumeAbove fires when the last observed trade volume exceeds t.
func VolumeAbove(t float64) TriggerCondition {
	return TriggerCondition{Kind: TriggerVolumeAbove, Threshold: t}
}

// VolatilityAbove fires when the observed annualized volatility exceeds t.
func VolatilityAbove(t float64) TriggerCondition {
	return TriggerCondition{Kind: TriggerVolatilityAbove, Threshold: t}
}

// CrossOver fires when a fast/slow moving-average pair crossed on the last
// update. Only indicators that maintain both averages can answer it.
func CrossOver(fastPeriod, slowPeriod int) TriggerCondition {
	return TriggerCondition{Kind: TriggerCrossOver, FastPeriod: fastPeriod, SlowPeriod: slowPeriod}
}
