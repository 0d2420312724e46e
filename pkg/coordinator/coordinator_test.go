package coordinator

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	clobcrypto "github.com/hyperlicked-labs/clobvault/pkg/crypto"
	"github.com/hyperlicked-labs/clobvault/pkg/engine"
	"github.com/hyperlicked-labs/clobvault/pkg/events"
	"github.com/hyperlicked-labs/clobvault/pkg/orderstore"
	"github.com/hyperlicked-labs/clobvault/pkg/pair"
	"github.com/hyperlicked-labs/clobvault/pkg/vault"
)

type fakeMetadata struct{ decimals map[common.Address]uint8 }

func (m fakeMetadata) Decimals(a common.Address) (uint8, bool) {
	d, ok := m.decimals[a]
	return d, ok
}

var (
	admin      = common.HexToAddress("0x9999999999999999999999999999999999999aaa")
	baseAsset  = common.HexToAddress("0x1111111111111111111111111111111111111aaa")
	quoteAsset = common.HexToAddress("0x2222222222222222222222222222222222222bbb")
)

type testHarness struct {
	coord  *Coordinator
	signer *clobcrypto.RequestSigner
	pairID pair.ID
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	meta := fakeMetadata{decimals: map[common.Address]uint8{baseAsset: 18, quoteAsset: 6}}
	pairs, err := pair.NewRegistry(nil, meta)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	p, err := pairs.AddPair(baseAsset, quoteAsset, uint256.NewInt(1))
	if err != nil {
		t.Fatalf("AddPair: %v", err)
	}

	v, err := vault.New(nil)
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}

	bus := events.NewBus(64)
	store := orderstore.New()
	eng := engine.New(store, pairs, v, bus, 10, 15, 500)

	signer := clobcrypto.NewRequestSigner(clobcrypto.DefaultDomain())
	coord := New(v, eng, pairs, signer, bus, admin, uint256.NewInt(1))

	return &testHarness{coord: coord, signer: signer, pairID: p.ID}
}

func signTradeRequest(t *testing.T, signer *clobcrypto.RequestSigner, key *clobcrypto.Signer, req *clobcrypto.TradeRequest) []byte {
	t.Helper()
	hash, err := signer.HashTradeRequest(req)
	if err != nil {
		t.Fatalf("HashTradeRequest: %v", err)
	}
	sig, err := key.Sign(hash)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return sig
}

func signCancelRequest(t *testing.T, signer *clobcrypto.RequestSigner, key *clobcrypto.Signer, req *clobcrypto.CancelRequest) []byte {
	t.Helper()
	hash, err := signer.HashCancelRequest(req)
	if err != nil {
		t.Fatalf("HashCancelRequest: %v", err)
	}
	sig, err := key.Sign(hash)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return sig
}

func TestExecuteTradeDepositThenPlaceOrder(t *testing.T) {
	h := newHarness(t)
	alice, _ := clobcrypto.GenerateKey()

	if err := h.coord.Deposit(alice.Address(), quoteAsset, uint256.NewInt(10000), 6); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	req := &clobcrypto.TradeRequest{
		User: alice.Address(), Base: baseAsset, Quote: quoteAsset,
		Side: 0, Price: big.NewInt(100), Amount: big.NewInt(10),
		PreApprovalID: "p1", Deadline: big.NewInt(1),
	}
	sig := signTradeRequest(t, h.signer, alice, req)

	orderID, err := h.coord.ExecuteTrade(req, sig)
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	if orderID == 0 {
		t.Error("expected a nonzero order id")
	}
}

func TestExecuteTradeRejectsInvalidSignature(t *testing.T) {
	h := newHarness(t)
	alice, _ := clobcrypto.GenerateKey()
	impostor, _ := clobcrypto.GenerateKey()
	h.coord.Deposit(alice.Address(), quoteAsset, uint256.NewInt(10000), 6)

	req := &clobcrypto.TradeRequest{
		User: alice.Address(), Base: baseAsset, Quote: quoteAsset,
		Side: 0, Price: big.NewInt(100), Amount: big.NewInt(10),
		PreApprovalID: "p1", Deadline: big.NewInt(1),
	}
	sig := signTradeRequest(t, h.signer, impostor, req)

	if _, err := h.coord.ExecuteTrade(req, sig); err == nil {
		t.Error("expected InvalidSignature error")
	}
}

func TestExecuteTradeRejectsReplayedPreApprovalID(t *testing.T) {
	h := newHarness(t)
	alice, _ := clobcrypto.GenerateKey()
	h.coord.Deposit(alice.Address(), quoteAsset, uint256.NewInt(100000), 6)

	req := &clobcrypto.TradeRequest{
		User: alice.Address(), Base: baseAsset, Quote: quoteAsset,
		Side: 0, Price: big.NewInt(100), Amount: big.NewInt(10),
		PreApprovalID: "reused", Deadline: big.NewInt(1),
	}
	sig := signTradeRequest(t, h.signer, alice, req)

	if _, err := h.coord.ExecuteTrade(req, sig); err != nil {
		t.Fatalf("first ExecuteTrade: %v", err)
	}

	req2 := &clobcrypto.TradeRequest{
		User: alice.Address(), Base: baseAsset, Quote: quoteAsset,
		Side: 1, Price: big.NewInt(100), Amount: big.NewInt(5),
		PreApprovalID: "reused", Deadline: big.NewInt(1),
	}
	sig2 := signTradeRequest(t, h.signer, alice, req2)
	if _, err := h.coord.ExecuteTrade(req2, sig2); err == nil {
		t.Error("reusing a pre_approval_id must be rejected")
	}
}

func TestExecuteTradeLocksQuoteForLimitBuy(t *testing.T) {
	h := newHarness(t)
	alice, _ := clobcrypto.GenerateKey()
	h.coord.Deposit(alice.Address(), quoteAsset, uint256.NewInt(10000), 6)

	req := &clobcrypto.TradeRequest{
		User: alice.Address(), Base: baseAsset, Quote: quoteAsset,
		Side: 0, Price: big.NewInt(100), Amount: big.NewInt(10),
		PreApprovalID: "p1", Deadline: big.NewInt(1),
	}
	sig := signTradeRequest(t, h.signer, alice, req)
	h.coord.ExecuteTrade(req, sig)

	// 10 * 100 = 1000 quote locked, leaving 9000 spendable
	got := h.coord.vault.GetBalance(alice.Address(), quoteAsset)
	if !got.Eq(uint256.NewInt(9000)) {
		t.Errorf("balance after lock = %s, want 9000", got)
	}
}

func TestExecuteTradeRejectsInsufficientBalance(t *testing.T) {
	h := newHarness(t)
	alice, _ := clobcrypto.GenerateKey()
	h.coord.Deposit(alice.Address(), quoteAsset, uint256.NewInt(50), 6)

	req := &clobcrypto.TradeRequest{
		User: alice.Address(), Base: baseAsset, Quote: quoteAsset,
		Side: 0, Price: big.NewInt(100), Amount: big.NewInt(10), // needs 1000 quote
		PreApprovalID: "p1", Deadline: big.NewInt(1),
	}
	sig := signTradeRequest(t, h.signer, alice, req)
	if _, err := h.coord.ExecuteTrade(req, sig); err == nil {
		t.Error("expected InsufficientBalance error")
	}
}

func TestCancelOrderRefundsRemainingAndRejectsWrongOwner(t *testing.T) {
	h := newHarness(t)
	alice, _ := clobcrypto.GenerateKey()
	mallory, _ := clobcrypto.GenerateKey()
	h.coord.Deposit(alice.Address(), quoteAsset, uint256.NewInt(10000), 6)

	req := &clobcrypto.TradeRequest{
		User: alice.Address(), Base: baseAsset, Quote: quoteAsset,
		Side: 0, Price: big.NewInt(100), Amount: big.NewInt(10),
		PreApprovalID: "p1", Deadline: big.NewInt(1),
	}
	sig := signTradeRequest(t, h.signer, alice, req)
	orderID, err := h.coord.ExecuteTrade(req, sig)
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}

	// mallory tries to cancel alice's order with her own valid signature
	cancelReq := &clobcrypto.CancelRequest{
		User: mallory.Address(), OrderID: new(big.Int).SetUint64(orderID),
		PreApprovalID: "c1", Deadline: big.NewInt(1),
	}
	cancelSig := signCancelRequest(t, h.signer, mallory, cancelReq)
	if err := h.coord.CancelOrder(cancelReq, cancelSig); err == nil {
		t.Error("a non-owner cancel request must be rejected")
	}

	cancelReq2 := &clobcrypto.CancelRequest{
		User: alice.Address(), OrderID: new(big.Int).SetUint64(orderID),
		PreApprovalID: "c2", Deadline: big.NewInt(1),
	}
	cancelSig2 := signCancelRequest(t, h.signer, alice, cancelReq2)
	if err := h.coord.CancelOrder(cancelReq2, cancelSig2); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}

	got := h.coord.vault.GetBalance(alice.Address(), quoteAsset)
	if !got.Eq(uint256.NewInt(10000)) {
		t.Errorf("balance after cancel refund = %s, want full 10000 back", got)
	}
}

func TestCancelOrderRejectsReplayedPreApprovalID(t *testing.T) {
	h := newHarness(t)
	alice, _ := clobcrypto.GenerateKey()
	h.coord.Deposit(alice.Address(), quoteAsset, uint256.NewInt(10000), 6)

	req := &clobcrypto.TradeRequest{
		User: alice.Address(), Base: baseAsset, Quote: quoteAsset,
		Side: 0, Price: big.NewInt(100), Amount: big.NewInt(10),
		PreApprovalID: "p1", Deadline: big.NewInt(1),
	}
	sig := signTradeRequest(t, h.signer, alice, req)
	orderID, _ := h.coord.ExecuteTrade(req, sig)

	cancelReq := &clobcrypto.CancelRequest{
		User: alice.Address(), OrderID: new(big.Int).SetUint64(orderID),
		PreApprovalID: "p1", // same id already used by the trade above
		Deadline:      big.NewInt(1),
	}
	cancelSig := signCancelRequest(t, h.signer, alice, cancelReq)
	if err := h.coord.CancelOrder(cancelReq, cancelSig); err == nil {
		t.Error("a pre_approval_id already used by a trade must not authorize a cancel")
	}
}

func TestAddPairRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	notAdmin := common.HexToAddress("0x5555555555555555555555555555555555555aaa")
	third := common.HexToAddress("0x3333333333333333333333333333333333333ccc")

	if _, err := h.coord.AddPair(notAdmin, baseAsset, third, uint256.NewInt(1)); err == nil {
		t.Error("expected NotAuthorized for a non-admin caller")
	}
}

func TestSetFeeRatesRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	notAdmin := common.HexToAddress("0x5555555555555555555555555555555555555aaa")
	if err := h.coord.SetFeeRates(notAdmin, 1, 1); err == nil {
		t.Error("expected NotAuthorized for a non-admin caller")
	}
	if err := h.coord.SetFeeRates(admin, 20, 30); err != nil {
		t.Errorf("admin SetFeeRates should succeed: %v", err)
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	h := newHarness(t)
	alice, _ := clobcrypto.GenerateKey()

	if err := h.coord.Deposit(alice.Address(), quoteAsset, uint256.NewInt(500), 6); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := h.coord.Withdraw(alice.Address(), quoteAsset, uint256.NewInt(200)); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	got := h.coord.vault.GetBalance(alice.Address(), quoteAsset)
	if !got.Eq(uint256.NewInt(300)) {
		t.Errorf("balance = %s, want 300", got)
	}
}

func TestDepositRejectsInsufficientDecimals(t *testing.T) {
	h := newHarness(t)
	alice, _ := clobcrypto.GenerateKey()
	lowDecimalAsset := common.HexToAddress("0x4444444444444444444444444444444444444ddd")

	if err := h.coord.Deposit(alice.Address(), lowDecimalAsset, uint256.NewInt(100), 2); err == nil {
		t.Error("expected InsufficientDecimals error for a sub-6-decimal asset")
	}
}
