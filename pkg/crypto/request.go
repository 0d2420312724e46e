package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain separates signatures across deployments, mirroring EIP-712's
// domain separator without requiring the full typed-data struct zoo: a
// trade request carries one opaque signature, not a per-operation schema.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

func DefaultDomain() Domain {
	return Domain{
		Name:              "clobvault",
		Version:           "1",
		ChainID:           big.NewInt(1),
		VerifyingContract: common.Address{},
	}
}

// TradeRequest is the payload a user signs to authorize a trade. Every
// field that can affect settlement is included so a signature cannot be
// replayed against a mutated request.
type TradeRequest struct {
	User          common.Address
	Base          common.Address
	Quote         common.Address
	Side          uint8 // 0 = buy, 1 = sell
	Price         *big.Int
	Amount        *big.Int
	PreApprovalID string
	Deadline      *big.Int
}

// CancelRequest is the payload a user signs to authorize cancelling an
// open order.
type CancelRequest struct {
	User          common.Address
	OrderID       *big.Int
	PreApprovalID string
	Deadline      *big.Int
}

// RequestSigner hashes and verifies the signed envelopes above under a
// single domain. It exposes exactly one verification predicate per
// envelope kind so callers never have to choose between two equivalent
// checking paths.
type RequestSigner struct {
	domain Domain
}

func NewRequestSigner(domain Domain) *RequestSigner {
	return &RequestSigner{domain: domain}
}

func (s *RequestSigner) typedDataDomain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              s.domain.Name,
		Version:           s.domain.Version,
		ChainId:           (*math.HexOrDecimal256)(s.domain.ChainID),
		VerifyingContract: s.domain.VerifyingContract.Hex(),
	}
}

func (s *RequestSigner) hash(primaryType string, types apitypes.Types, message apitypes.TypedDataMessage) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       types,
		PrimaryType: primaryType,
		Domain:      s.typedDataDomain(),
		Message:     message,
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(primaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}

	raw := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(messageHash)))
	return crypto.Keccak256Hash(raw).Bytes(), nil
}

var domainTypes = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// HashTradeRequest returns the digest a wallet must sign for req.
func (s *RequestSigner) HashTradeRequest(req *TradeRequest) ([]byte, error) {
	deadline := req.Deadline
	if deadline == nil {
		deadline = big.NewInt(0)
	}
	price := req.Price
	if price == nil {
		price = big.NewInt(0)
	}
	types := apitypes.Types{
		"EIP712Domain": domainTypes,
		"TradeRequest": []apitypes.Type{
			{Name: "user", Type: "address"},
			{Name: "base", Type: "address"},
			{Name: "quote", Type: "address"},
			{Name: "side", Type: "uint8"},
			{Name: "price", Type: "uint256"},
			{Name: "amount", Type: "uint256"},
			{Name: "preApprovalId", Type: "string"},
			{Name: "deadline", Type: "uint256"},
		},
	}
	message := apitypes.TypedDataMessage{
		"user":          req.User.Hex(),
		"base":          req.Base.Hex(),
		"quote":         req.Quote.Hex(),
		"side":          fmt.Sprintf("%d", req.Side),
		"price":         price.String(),
		"amount":        req.Amount.String(),
		"preApprovalId": req.PreApprovalID,
		"deadline":      deadline.String(),
	}
	return s.hash("TradeRequest", types, message)
}

// VerifyTradeRequest is the uniform verify_request predicate for order
// placement: it returns true only if signature recovers to req.User.
func (s *RequestSigner) VerifyTradeRequest(req *TradeRequest, signature []byte) bool {
	hash, err := s.HashTradeRequest(req)
	if err != nil {
		return false
	}
	return VerifySignature(req.User, hash, signature)
}

// HashCancelRequest returns the digest a wallet must sign for req.
func (s *RequestSigner) HashCancelRequest(req *CancelRequest) ([]byte, error) {
	deadline := req.Deadline
	if deadline == nil {
		deadline = big.NewInt(0)
	}
	types := apitypes.Types{
		"EIP712Domain": domainTypes,
		"CancelRequest": []apitypes.Type{
			{Name: "user", Type: "address"},
			{Name: "orderId", Type: "uint256"},
			{Name: "preApprovalId", Type: "string"},
			{Name: "deadline", Type: "uint256"},
		},
	}
	message := apitypes.TypedDataMessage{
		"user":          req.User.Hex(),
		"orderId":       req.OrderID.String(),
		"preApprovalId": req.PreApprovalID,
		"deadline":      deadline.String(),
	}
	return s.hash("CancelRequest", types, message)
}

// VerifyCancelRequest is the uniform verify_request predicate for
// cancellation.
func (s *RequestSigner) VerifyCancelRequest(req *CancelRequest, signature []byte) bool {
	hash, err := s.HashCancelRequest(req)
	if err != nil {
		return false
	}
	return VerifySignature(req.User, hash, signature)
}
