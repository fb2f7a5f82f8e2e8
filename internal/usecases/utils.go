package usecases

import (
	"fmt"
	"strings"

	domainerrors "escrow-pay.backend/internal/domain/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// normalizeWallet validates an EVM address and returns its lowercase form,
// which is how wallets are stored and compared.
func normalizeWallet(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: %q is not a wallet address", domainerrors.ErrInvalidInput, addr)
	}
	return strings.ToLower(common.HexToAddress(addr).Hex()), nil
}

// normalizeHash lowercases a 0x-prefixed hash for lookups.
func normalizeHash(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if h != "" && !strings.HasPrefix(h, "0x") {
		h = "0x" + h
	}
	return h
}

func parseDecimal(field, raw string, allowZero bool) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s must be a decimal number", domainerrors.ErrInvalidInput, field)
	}
	if d.IsNegative() || (!allowZero && d.IsZero()) {
		return decimal.Zero, fmt.Errorf("%w: %s must be positive", domainerrors.ErrInvalidInput, field)
	}
	return d, nil
}
