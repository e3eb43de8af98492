package exchange

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Pair is an exchange trading pair such as "ltc_btc".
type Pair string

func ParsePair(raw string) (Pair, error) {
	pair := Pair(strings.ToLower(strings.TrimSpace(raw)))
	if _, _, err := pair.Assets(); err != nil {
		return "", err
	}
	return pair, nil
}

// Assets splits the pair into upper-case base and quote asset codes.
func (p Pair) Assets() (string, string, error) {
	base, quote, ok := strings.Cut(string(p), "_")
	if !ok || base == "" || quote == "" || strings.Contains(quote, "_") {
		return "", "", fmt.Errorf("invalid currency pair %q: expected base_quote", string(p))
	}
	return strings.ToUpper(base), strings.ToUpper(quote), nil
}

func (p Pair) String() string { return string(p) }

// Balances maps an asset code to an amount. Snapshots are never mutated after
// they are returned.
type Balances map[string]decimal.Decimal

// Get returns the amount for asset, zero when it is absent (pruned as dust).
func (b Balances) Get(asset string) decimal.Decimal {
	if v, ok := b[asset]; ok {
		return v
	}
	return decimal.Zero
}

type BalanceSheet struct {
	Available Balances
	Locked    Balances
}

type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

func (l *Level) UnmarshalJSON(b []byte) error {
	var raw []decimal.Decimal
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) < 2 {
		return fmt.Errorf("order book level needs price and quantity, got %d values", len(raw))
	}
	l.Price, l.Quantity = raw[0], raw[1]
	return nil
}

// MarshalJSON keeps the exchange [price, quantity] shape.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]decimal.Decimal{l.Price, l.Quantity})
}

// OrderBook keeps the level order exactly as returned by the exchange.
type OrderBook struct {
	Asks []Level `json:"asks"`
	Bids []Level `json:"bids"`
}

// BestAsk is the last element of the ask sequence. The exchange lists asks
// from the far side of the book towards the spread.
func (b OrderBook) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[len(b.Asks)-1], true
}

// BestBid is the first element of the bid sequence.
func (b OrderBook) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

type C2CEntry struct {
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	MinAmount decimal.Decimal `json:"min_amount"`
	MaxAmount decimal.Decimal `json:"max_amount"`
}

func (e *C2CEntry) UnmarshalJSON(b []byte) error {
	var raw []decimal.Decimal
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) < 4 {
		return fmt.Errorf("c2c entry needs price, amount, min and max, got %d values", len(raw))
	}
	e.Price, e.Amount, e.MinAmount, e.MaxAmount = raw[0], raw[1], raw[2], raw[3]
	return nil
}

type C2COrderBook struct {
	Asks []C2CEntry `json:"asks"`
	Bids []C2CEntry `json:"bids"`
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func ParseSide(raw string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(raw))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("invalid side %q", raw)
}

// SideFilter selects which orders CancelAllOrders removes.
type SideFilter int

const (
	SideFilterSell SideFilter = 0
	SideFilterBuy  SideFilter = 1
	SideFilterAny  SideFilter = -1
)

func ParseSideFilter(raw string) (SideFilter, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "any", "all", "-1":
		return SideFilterAny, nil
	case "buy", "1":
		return SideFilterBuy, nil
	case "sell", "0":
		return SideFilterSell, nil
	}
	return 0, fmt.Errorf("invalid side filter %q", raw)
}

type OrderType string

const (
	OrderTypeNormal OrderType = ""
	OrderTypeIOC    OrderType = "ioc"
)

type OrderRequest struct {
	Side   Side
	Pair   Pair
	Rate   decimal.Decimal
	Amount int64
	Type   OrderType
}

func (r OrderRequest) validate() error {
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("invalid side %q", r.Side)
	}
	if _, _, err := r.Pair.Assets(); err != nil {
		return err
	}
	if !r.Rate.IsPositive() {
		return errors.New("order rate must be > 0")
	}
	if r.Amount <= 0 {
		return errors.New("order amount must be > 0")
	}
	return nil
}

// OrderPlacement is the result of a buy or sell call. OrderNumber is empty
// when no order was created on the exchange (dry-run).
type OrderPlacement struct {
	Side         Side        `json:"-"`
	DryRun       bool        `json:"-"`
	OrderNumber  FlexString  `json:"orderNumber"`
	Rate         FlexDecimal `json:"rate"`
	LeftAmount   FlexDecimal `json:"leftAmount"`
	FilledAmount FlexDecimal `json:"filledAmount"`
	FilledRate   FlexDecimal `json:"filledRate"`
	Message      string      `json:"message"`
	CTime        FlexInt     `json:"ctime"`
}

type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderCancelled OrderStatus = "cancelled"
	OrderClosed    OrderStatus = "closed"
)

type Order struct {
	ID            FlexString  `json:"id"`
	OrderNumber   FlexString  `json:"orderNumber"`
	Status        OrderStatus `json:"status"`
	CurrencyPair  string      `json:"currencyPair"`
	Type          Side        `json:"type"`
	Rate          FlexDecimal `json:"rate"`
	Amount        FlexDecimal `json:"amount"`
	InitialRate   FlexDecimal `json:"initialRate"`
	InitialAmount FlexDecimal `json:"initialAmount"`
}

// Number returns the exchange order number, whichever field carried it.
func (o Order) Number() string {
	if o.OrderNumber != "" {
		return string(o.OrderNumber)
	}
	return string(o.ID)
}

type OrderRef struct {
	OrderNumber  string `json:"orderNumber"`
	CurrencyPair string `json:"currencyPair"`
}

// FlexString accepts a JSON string, number or null.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// FlexInt accepts a JSON integer, quoted integer or null.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	raw := strings.Trim(string(b), `"`)
	if raw == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", raw, err)
	}
	*f = FlexInt(int64(n))
	return nil
}

// FlexDecimal is a decimal that also accepts an empty string as zero.
type FlexDecimal struct {
	decimal.Decimal
}

func (f *FlexDecimal) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" || string(b) == `""` {
		f.Decimal = decimal.Zero
		return nil
	}
	return f.Decimal.UnmarshalJSON(b)
}
