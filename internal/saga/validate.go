package saga

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"time"

	"recharge-core/internal/offers"
	"recharge-core/internal/repo"
	"recharge-core/internal/telco"
)

const refidAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// newRefID builds a globally unique transaction reference:
// SHR_<unix millis>_<6 random lowercase alphanumerics>.
func newRefID(now time.Time) string {
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = refidAlphabet[rand.Intn(len(refidAlphabet))]
	}
	return "SHR_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + string(suffix)
}

// validate rejects malformed requests before any side effect. For drive
// offers it also resolves the catalogue entry the amount must match.
func (o *Orchestrator) validate(ctx context.Context, req Request) (*offers.Offer, error) {
	if req.UID == "" {
		return nil, fmt.Errorf("%w: uid is required", ErrInvalidRequest)
	}
	if req.Type != repo.TypeRecharge && req.Type != repo.TypeDriveOffer {
		return nil, fmt.Errorf("%w: unknown transaction type %q", ErrInvalidRequest, req.Type)
	}
	if _, ok := telco.Operators[req.Operator]; !ok {
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidRequest, req.Operator)
	}
	if _, ok := telco.NumberTypes[req.NumberType]; !ok {
		return nil, fmt.Errorf("%w: unknown number type %q", ErrInvalidRequest, req.NumberType)
	}
	if !telco.ValidPhone(req.Phone) {
		return nil, fmt.Errorf("%w: phone must be 11 digits starting with 01", ErrInvalidRequest)
	}

	if req.Type == repo.TypeDriveOffer {
		offer := o.offers.FindOffer(ctx, req.Operator, req.Amount)
		if offer == nil {
			return nil, fmt.Errorf("%w: no active offer at %.2f BDT for operator %s", ErrInvalidRequest, req.Amount, req.Operator)
		}
		return offer, nil
	}

	s := o.settings()
	if req.Amount < s.RechargeMinAmount || req.Amount > s.RechargeMaxAmount {
		return nil, fmt.Errorf("%w: amount must be between %.0f and %.0f BDT", ErrInvalidRequest, s.RechargeMinAmount, s.RechargeMaxAmount)
	}
	if math.Mod(req.Amount, 10) != 0 {
		return nil, fmt.Errorf("%w: amount must be a multiple of 10 BDT", ErrInvalidRequest)
	}
	return nil, nil
}
