package engine

import (
	"github.com/holiman/uint256"

	"github.com/hyperlicked-labs/clobvault/pkg/events"
	"github.com/hyperlicked-labs/clobvault/pkg/numeric"
	"github.com/hyperlicked-labs/clobvault/pkg/orderbook"
	"github.com/hyperlicked-labs/clobvault/pkg/orderstore"
	"github.com/hyperlicked-labs/clobvault/pkg/pair"
)

// matchBuy walks the sell side from the lowest price up, per §4.6.2.
// remaining is denominated in quote for a market incoming order and in
// base for a limit incoming order; it is mutated in place.
func (e *Engine) matchBuy(incoming *orderstore.Order, book *orderbook.Book, p pair.Pair, remaining *uint256.Int, iterations *int) error {
	for {
		if remaining.IsZero() {
			return nil
		}
		best := book.BestSell()
		if best == nil || best.IsZero() {
			return nil
		}
		if !incoming.IsMarket() && best.Cmp(incoming.Price) > 0 {
			return nil
		}
		if *iterations >= e.maxIterations {
			return nil
		}

		for {
			if remaining.IsZero() || *iterations >= e.maxIterations {
				break
			}
			restingID, ok := book.Head(orderstore.Sell, best)
			if !ok {
				break
			}
			resting, err := e.store.Get(restingID)
			if err != nil {
				return err
			}
			*iterations++

			if !resting.Active {
				book.PopFront(orderstore.Sell, best)
				continue
			}

			var fill *uint256.Int
			if !incoming.IsMarket() {
				fill = minU256(remaining, resting.Remaining)
			} else {
				maxBase := new(uint256.Int).Div(remaining, best)
				fill = minU256(maxBase, resting.Remaining)
			}
			if fill.IsZero() {
				break
			}

			if err := e.settleFill(incoming, resting, p, best, fill); err != nil {
				return err
			}
			if resting.Remaining.IsZero() {
				book.PopFront(orderstore.Sell, best)
			}

			if incoming.IsMarket() {
				cost, err := numeric.Mul(fill, best)
				if err != nil {
					return err
				}
				remaining.Sub(remaining, cost)
			} else {
				remaining.Sub(remaining, fill)
			}
		}
	}
}

// matchSell walks the buy side from the highest price down. Unlike Buy,
// remaining is always base-denominated here (market sell's "amount" is a
// base quantity per §4.7's lock-accounting choice), so fill computation
// needs no quote/base conversion.
func (e *Engine) matchSell(incoming *orderstore.Order, book *orderbook.Book, p pair.Pair, remaining *uint256.Int, iterations *int) error {
	for {
		if remaining.IsZero() {
			return nil
		}
		best := book.BestBuy()
		if best == nil || best.IsZero() {
			return nil
		}
		if !incoming.IsMarket() && best.Cmp(incoming.Price) < 0 {
			return nil
		}
		if *iterations >= e.maxIterations {
			return nil
		}

		for {
			if remaining.IsZero() || *iterations >= e.maxIterations {
				break
			}
			restingID, ok := book.Head(orderstore.Buy, best)
			if !ok {
				break
			}
			resting, err := e.store.Get(restingID)
			if err != nil {
				return err
			}
			*iterations++

			if !resting.Active {
				book.PopFront(orderstore.Buy, best)
				continue
			}

			fill := minU256(remaining, resting.Remaining)
			if fill.IsZero() {
				break
			}

			if err := e.settleFill(incoming, resting, p, best, fill); err != nil {
				return err
			}
			if resting.Remaining.IsZero() {
				book.PopFront(orderstore.Buy, best)
			}
			remaining.Sub(remaining, fill)
		}
	}
}

// settleFill applies one fill between incoming (the taker) and resting
// (the maker) at price, crediting both sides net of fees and emitting
// TradeExecuted. It decrements resting.Remaining and deactivates resting
// if fully consumed, but never touches incoming's remaining — the
// caller tracks that across the whole loop.
func (e *Engine) settleFill(incoming, resting *orderstore.Order, p pair.Pair, price, fill *uint256.Int) error {
	newRestRemaining, err := numeric.Sub(resting.Remaining, fill)
	if err != nil {
		return err
	}
	resting.Remaining = newRestRemaining
	if resting.Remaining.IsZero() {
		resting.Active = false
		if err := e.vault.ClearLocked(resting.ID); err != nil {
			return err
		}
	}

	var takerAsset, makerAsset = p.Base, p.Quote
	var takerGross, makerGross *uint256.Int
	if incoming.Side == orderstore.Buy {
		takerAsset, makerAsset = p.Base, p.Quote
		takerGross = numeric.Clone(fill)
		gross, err := numeric.Mul(fill, price)
		if err != nil {
			return err
		}
		makerGross = gross
	} else {
		takerAsset, makerAsset = p.Quote, p.Base
		gross, err := numeric.Mul(fill, price)
		if err != nil {
			return err
		}
		takerGross = gross
		makerGross = numeric.Clone(fill)
	}

	takerFee, err := e.bpsOf(takerGross, e.takerFeeBps)
	if err != nil {
		return err
	}
	takerNet, err := numeric.Sub(takerGross, takerFee)
	if err != nil {
		return err
	}

	makerFee, err := e.bpsOf(makerGross, e.makerFeeBps)
	if err != nil {
		return err
	}
	makerNet, err := numeric.Sub(makerGross, makerFee)
	if err != nil {
		return err
	}

	if err := e.vault.Credit(incoming.User, takerAsset, takerNet); err != nil {
		return err
	}
	if err := e.vault.Credit(resting.User, makerAsset, makerNet); err != nil {
		return err
	}
	if err := e.vault.AddTakerFee(takerAsset, takerFee); err != nil {
		return err
	}
	if err := e.vault.AddMakerFee(makerAsset, makerFee); err != nil {
		return err
	}

	var makerID, takerID uint64 = resting.ID, incoming.ID
	e.bus.EmitTradeExecuted(events.TradeExecutedData{
		PairID:     p.ID,
		TakerOrder: takerID,
		MakerOrder: makerID,
		TakerUser:  incoming.User,
		MakerUser:  resting.User,
		Price:      numeric.Clone(price),
		Amount:     numeric.Clone(fill),
		TakerFee:   takerFee,
		MakerFee:   makerFee,
	})
	return nil
}

func (e *Engine) bpsOf(amount *uint256.Int, bps uint64) (*uint256.Int, error) {
	return numeric.MulDiv(amount, numeric.FromUint64(bps), numeric.FromUint64(10000))
}

// refundMarketResidual implements §4.6.2's market-order residual rule:
// an unfilled market order never rests on the book, so whatever it
// couldn't match is returned to the user and the order is finalized
// inactive.
func (e *Engine) refundMarketResidual(incoming *orderstore.Order, p pair.Pair, remaining *uint256.Int) error {
	incoming.Active = false

	if incoming.Side == orderstore.Buy {
		locked := e.vault.LockedAmount(incoming.ID)
		refund, err := numeric.MulDiv(locked, remaining, incoming.Amount)
		if err != nil {
			return err
		}
		return e.vault.Credit(incoming.User, p.Quote, refund)
	}
	return e.vault.Credit(incoming.User, p.Base, numeric.Clone(remaining))
}
