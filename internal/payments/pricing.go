package payments

// PriceFunc computes the price of one invocation in sats. Zero means free.
type PriceFunc func(method string, params []string) int64

// Pricer maps methods to their price functions. Methods without an entry are
// free and bypass the gate entirely; built-in signer methods are never
// registered here.
type Pricer struct {
	funcs map[string]PriceFunc
}

func NewPricer() *Pricer {
	return &Pricer{funcs: make(map[string]PriceFunc)}
}

func (p *Pricer) Set(method string, fn PriceFunc) {
	p.funcs[method] = fn
}

func (p *Pricer) Price(method string, params []string) int64 {
	fn, ok := p.funcs[method]
	if !ok {
		return 0
	}
	price := fn(method, params)
	if price < 0 {
		return 0
	}
	return price
}
