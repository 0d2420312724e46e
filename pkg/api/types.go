package api

// Request/response types for the REST API and WebSocket stream.

// ==============================
// REST Request Types
// ==============================

// DepositRequest is the payload for POST /api/v1/deposit. Deposits are
// treated as already-settled external transfers-in (§4.4); the API
// layer only records the balance increase.
type DepositRequest struct {
	User     string `json:"user"`
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	Decimals uint8  `json:"decimals"`
}

// WithdrawRequest is the payload for POST /api/v1/withdraw.
type WithdrawRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// SignedTradeRequest is one element of the execute_trade_batch payload:
// the TradeRequest fields plus the signature authorizing it.
type SignedTradeRequest struct {
	User          string `json:"user"`
	Base          string `json:"base"`
	Quote         string `json:"quote"`
	Side          uint8  `json:"side"` // 0 = buy, 1 = sell
	Price         string `json:"price"`
	Amount        string `json:"amount"`
	PreApprovalID string `json:"preApprovalId"`
	Deadline      string `json:"deadline"`
	Signature     string `json:"signature"`
}

// ExecuteTradeBatchRequest is the payload for POST /api/v1/orders/batch.
type ExecuteTradeBatchRequest struct {
	Requests []SignedTradeRequest `json:"requests"`
}

// TradeResult reports the outcome of one request within a batch. Batch
// processing never aborts early: each request either places an order or
// reports its own error independently of its siblings.
type TradeResult struct {
	OrderID string `json:"orderId,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel.
type CancelOrderRequest struct {
	User          string `json:"user"`
	OrderID       string `json:"orderId"`
	PreApprovalID string `json:"preApprovalId"`
	Deadline      string `json:"deadline"`
	Signature     string `json:"signature"`
}

// AddPairRequest is the payload for POST /api/v1/admin/pairs.
type AddPairRequest struct {
	Caller    string `json:"caller"`
	Base      string `json:"base"`
	Quote     string `json:"quote"`
	MinAmount string `json:"minAmount"`
}

// RemovePairRequest is the payload for POST /api/v1/admin/pairs/remove.
type RemovePairRequest struct {
	Caller string `json:"caller"`
	PairID string `json:"pairId"`
}

// SetFeeRatesRequest is the payload for POST /api/v1/admin/fee-rates.
type SetFeeRatesRequest struct {
	Caller   string `json:"caller"`
	MakerBps uint64 `json:"makerBps"`
	TakerBps uint64 `json:"takerBps"`
}

// WithdrawFeesRequest is the payload for POST /api/v1/admin/fees/withdraw.
type WithdrawFeesRequest struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
}

// ==============================
// REST Response Types
// ==============================

type PairResponse struct {
	PairID        string `json:"pairId"`
	Base          string `json:"base"`
	Quote         string `json:"quote"`
	BaseDecimals  uint8  `json:"baseDecimals"`
	QuoteDecimals uint8  `json:"quoteDecimals"`
	MinAmount     string `json:"minAmount"`
	Active        bool   `json:"active"`
}

type OrderResponse struct {
	ID        string `json:"id"`
	User      string `json:"user"`
	PairID    string `json:"pairId"`
	Side      string `json:"side"` // "buy" | "sell"
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	Remaining string `json:"remaining"`
	Active    bool   `json:"active"`
	CreatedAt int64  `json:"createdAt"`
}

type PriceLevelResponse struct {
	Price      string `json:"price"`
	OrderCount int    `json:"orderCount"`
}

type BalanceResponse struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type LockedAmountResponse struct {
	OrderID string `json:"orderId"`
	Amount  string `json:"amount"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"` // errs.Kind
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the envelope every event-stream push is wrapped in.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// WSSubscribeRequest is sent by a client to (un)subscribe to channels,
// "pair:<0x pairId>" for a pair's events, or "events" for events that
// carry no pair.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"`
}
