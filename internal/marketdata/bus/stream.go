package bus

import "mdstreamv1/internal/model"

// Stream helpers over trade sequences. Each spawns one goroutine that runs
// until the input closes, then closes its output, so end-of-stream
// propagates through every stage.

// FilterSymbol passes through only trades for symbol.
func FilterSymbol(in <-chan model.TradeRecord, symbol string) <-chan model.TradeRecord {
	out := make(chan model.TradeRecord)
	go func() {
		defer close(out)
		for t := range in {
			if t.Symbol == symbol {
				out <- t
			}
		}
	}()
	return out
}

// FilterSymbols passes through only trades whose symbol is in symbols.
func FilterSymbols(in <-chan model.TradeRecord, symbols ...string) <-chan model.TradeRecord {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	out := make(chan model.TradeRecord)
	go func() {
		defer close(out)
		for t := range in {
			if _, ok := set[t.Symbol]; ok {
				out <- t
			}
		}
	}()
	return out
}

// Tap invokes observe on every trade and passes it through unchanged.
// observe runs on the stream goroutine and must not block.
func Tap(in <-chan model.TradeRecord, observe func(model.TradeRecord)) <-chan model.TradeRecord {
	out := make(chan model.TradeRecord)
	go func() {
		defer close(out)
		for t := range in {
			observe(t)
			out <- t
		}
	}()
	return out
}
