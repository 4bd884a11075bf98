package indicator

import (
	"context"
	"fmt"

	"mdstreamv1/internal/model"
)

// CrossMA tracks a fast and a slow SMA over the same trade stream and
// flags golden and death crosses. It is the indicator that answers
// CROSS_OVER trigger conditions.
type CrossMA struct {
	id         string
	symbol     string
	fastPeriod int
	slowPeriod int

	fastBuf []float64
	slowBuf []float64
	fastIdx int
	slowIdx int
	fastSum float64
	slowSum float64
	count   int

	prevDiff float64
	havePrev bool
}

// NewCrossMA creates a moving-average crossover indicator. fast must be
// shorter than slow for the golden/death semantics to mean anything.
func NewCrossMA(fastPeriod, slowPeriod int, symbol string) *CrossMA {
	return &CrossMA{
		id:         fmt.Sprintf("crossma-%d-%d-%s", fastPeriod, slowPeriod, symbol),
		symbol:     symbol,
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		fastBuf:    make([]float64, fastPeriod),
		slowBuf:    make([]float64, slowPeriod),
	}
}

func (c *CrossMA) ID() string     { return c.id }
func (c *CrossMA) Name() string   { return fmt.Sprintf("CrossMA(%d/%d)", c.fastPeriod, c.slowPeriod) }
func (c *CrossMA) Symbol() string { return c.symbol }

func (c *CrossMA) Process(ctx context.Context, in <-chan model.TradeRecord) <-chan model.IndicatorState {
	return scan(ctx, in, c.symbol, c.step)
}

func (c *CrossMA) step(tr model.TradeRecord) (model.IndicatorState, bool) {
	if c.count >= c.fastPeriod {
		c.fastSum -= c.fastBuf[c.fastIdx]
	}
	c.fastBuf[c.fastIdx] = tr.Price
	c.fastSum += tr.Price
	c.fastIdx = (c.fastIdx + 1) % c.fastPeriod

	if c.count >= c.slowPeriod {
		c.slowSum -= c.slowBuf[c.slowIdx]
	}
	c.slowBuf[c.slowIdx] = tr.Price
	c.slowSum += tr.Price
	c.slowIdx = (c.slowIdx + 1) % c.slowPeriod

	c.count++
	if c.count < c.slowPeriod {
		return model.IndicatorState{}, false
	}

	fast := c.fastSum / float64(c.fastPeriod)
	slow := c.slowSum / float64(c.slowPeriod)
	diff := fast - slow

	crossed := 0
	if c.havePrev {
		switch {
		case c.prevDiff <= 0 && diff > 0:
			crossed = 1 // golden cross
		case c.prevDiff >= 0 && diff < 0:
			crossed = -1 // death cross
		}
	}
	c.prevDiff = diff
	c.havePrev = true

	return model.IndicatorState{
		ID:         c.id,
		Name:       c.Name(),
		Symbol:     c.symbol,
		LastUpdate: tr.SourceTS,
		Value:      diff,
		Metadata: map[string]interface{}{
			"lastPrice":  tr.Price,
			"lastVolume": tr.Volume,
			"fast":       fast,
			"slow":       slow,
			"fastPeriod": c.fastPeriod,
			"slowPeriod": c.slowPeriod,
			"crossed":    crossed,
		},
	}, true
}

func (c *CrossMA) Signal(st model.IndicatorState) model.Signal {
	crossed, ok := st.Meta("crossed")
	if !ok {
		return model.Hold(st.LastUpdate)
	}
	fast, _ := st.Meta("fast")
	slow, _ := st.Meta("slow")

	switch {
	case crossed > 0:
		return model.Buy(0.6, st.LastUpdate,
			fmt.Sprintf("%s: golden cross (fast %.2f over slow %.2f)", st.Name, fast, slow))
	case crossed < 0:
		return model.Sell(0.6, st.LastUpdate,
			fmt.Sprintf("%s: death cross (fast %.2f under slow %.2f)", st.Name, fast, slow))
	default:
		return model.Hold(st.LastUpdate)
	}
}

func (c *CrossMA) CheckTrigger(st model.IndicatorState, cond model.TriggerCondition) bool {
	return evaluateTrigger(st, cond)
}
