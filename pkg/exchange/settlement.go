package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Settlement moves assets for trades. For each trade it pulls the base
// quantity from the seller to the buyer and the quote notional from the
// buyer to the seller, using allowances granted to the operator address.
//
// Both legs run inside the ledger sessions of the surrounding placeOrder
// call, so a rejected leg never leaves a half-settled trade behind: the
// engine discards both sessions and restores the book.
type Settlement struct {
	// operator is the spender identity the traders grant allowances to.
	operator common.Address
	log      *zap.SugaredLogger
}

func NewSettlement(operator common.Address, log *zap.SugaredLogger) *Settlement {
	return &Settlement{operator: operator, log: log}
}

// Execute settles one trade inside the given ledger sessions.
// Returns a wrapped ErrSettlementFailed if either leg is rejected.
func (s *Settlement) Execute(baseTx, quoteTx LedgerTx, t Trade) error {
	if err := baseTx.TransferFrom(t.Seller, t.Buyer, t.Quantity); err != nil {
		s.log.Infow("settlement_rejected",
			"trade", t.ID, "leg", "base", "seller", t.Seller.Hex(), "err", err)
		return fmt.Errorf("%w: base leg: %v", ErrSettlementFailed, err)
	}
	if err := quoteTx.TransferFrom(t.Buyer, t.Seller, t.Notional()); err != nil {
		s.log.Infow("settlement_rejected",
			"trade", t.ID, "leg", "quote", "buyer", t.Buyer.Hex(), "err", err)
		return fmt.Errorf("%w: quote leg: %v", ErrSettlementFailed, err)
	}
	return nil
}
