package services

import (
	"context"
	"fmt"
	"options-market/interfaces"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// OptionRegistry owns option records: writing, ownership, exercise and expiry collection.
// Callers hold the market write lock for every mutating method.
type OptionRegistry struct {
	options       map[uint64]*interfaces.Option
	nextID        uint64
	vault         *CollateralVault
	tradeCurrency string
	tokens        interfaces.TokenResolver
	logger        *logrus.Logger
}

func NewOptionRegistry(vault *CollateralVault, tokens interfaces.TokenResolver, tradeCurrency string, logger *logrus.Logger) *OptionRegistry {
	return &OptionRegistry{
		options:       make(map[uint64]*interfaces.Option),
		vault:         vault,
		tradeCurrency: interfaces.NormalizeAccount(tradeCurrency),
		tokens:        tokens,
		logger:        logger,
	}
}

// collateral returns the token and amount an option locks for its lifetime
func (r *OptionRegistry) collateral(o *interfaces.Option) (string, decimal.Decimal) {
	if o.Kind == interfaces.Call {
		return o.UnderlyingToken, o.Amount
	}
	return r.tradeCurrency, o.StrikePrice.Mul(o.Amount)
}

func (r *OptionRegistry) write(ctx context.Context, op *operation, req interfaces.WriteOptionRequest) (*interfaces.Option, error) {
	writer := interfaces.NormalizeAccount(req.Writer)
	token := interfaces.NormalizeAccount(req.UnderlyingToken)

	if writer == "" {
		return nil, fmt.Errorf("%w: writer required", interfaces.ErrInvalidAccount)
	}
	if req.Kind != interfaces.Call && req.Kind != interfaces.Put {
		return nil, interfaces.ErrInvalidKind
	}
	// Expiries are kept to the second; the stored value must still be in the future
	expiry := req.Expiry.UTC().Truncate(time.Second)
	if !expiry.After(op.now) {
		return nil, fmt.Errorf("%w: expiry %s is not after %s",
			interfaces.ErrExpired, expiry.Format(time.RFC3339), op.now.Format(time.RFC3339Nano))
	}
	if err := validateUnits("amount", req.Amount, false); err != nil {
		return nil, err
	}
	if err := validateUnits("strike price", req.StrikePrice, true); err != nil {
		return nil, err
	}
	if _, err := r.tokens.Token(token); err != nil {
		return nil, err
	}

	option := &interfaces.Option{
		ID:              r.nextID,
		Kind:            req.Kind,
		Expiry:          expiry,
		Status:          interfaces.OptionNone,
		Writer:          writer,
		Owner:           writer,
		UnderlyingToken: token,
		Amount:          req.Amount,
		StrikePrice:     req.StrikePrice,
		CreatedAt:       op.now,
		UpdatedAt:       op.now,
	}

	// Lock first; the record only exists once custody holds the collateral
	collateralToken, collateralAmount := r.collateral(option)
	if err := r.vault.Lock(ctx, writer, collateralToken, collateralAmount); err != nil {
		return nil, err
	}
	op.touchEscrow(collateralToken)

	r.options[option.ID] = option
	r.nextID++

	op.touchOption(option)
	op.emit(&interfaces.Event{
		Name:     interfaces.EventOptionWritten,
		OptionID: option.ID,
		Writer:   writer,
		Kind:     option.Kind,
	})

	r.logger.WithFields(logrus.Fields{
		"option_id":  option.ID,
		"kind":       option.Kind.String(),
		"writer":     writer,
		"token":      token,
		"amount":     option.Amount.String(),
		"strike":     option.StrikePrice.String(),
		"expiry":     option.Expiry,
		"collateral": collateralAmount.String(),
	}).Info("Option written")

	return option, nil
}

func (r *OptionRegistry) exercise(ctx context.Context, op *operation, id uint64, caller string) (*interfaces.Option, error) {
	caller = interfaces.NormalizeAccount(caller)

	option, err := r.get(id)
	if err != nil {
		return nil, err
	}
	if option.Status.Resolved() {
		return nil, fmt.Errorf("%w: option %d is %s", interfaces.ErrAlreadyResolved, id, option.Status)
	}
	if option.ExpiredAt(op.now) {
		return nil, fmt.Errorf("%w: option %d expired at %s", interfaces.ErrExpired, id, option.Expiry.Format(time.RFC3339))
	}
	if caller != option.Owner {
		return nil, fmt.Errorf("%w: option %d", interfaces.ErrNotOwner, id)
	}

	// The exerciser's leg is a fresh payment; the writer's leg comes out of escrow
	var payToken string
	var payAmount decimal.Decimal
	if option.Kind == interfaces.Call {
		payToken, payAmount = r.tradeCurrency, option.StrikePrice
	} else {
		payToken, payAmount = option.UnderlyingToken, option.Amount
	}
	releaseToken, releaseAmount := r.collateral(option)

	if err := r.vault.CheckReleasable(releaseToken, releaseAmount); err != nil {
		return nil, err
	}
	if err := r.vault.Receive(ctx, caller, payToken, payAmount); err != nil {
		return nil, err
	}
	if err := r.vault.Disburse(ctx, option.Writer, payToken, payAmount); err != nil {
		r.vault.Refund(ctx, caller, payToken, payAmount)
		return nil, err
	}
	// Release was checked above and only the vault can debit custody, so it cannot fail short of a broken token
	if err := r.vault.Release(ctx, caller, releaseToken, releaseAmount); err != nil {
		return nil, err
	}
	op.touchEscrow(releaseToken)

	option.Status = interfaces.OptionExercised
	option.UpdatedAt = op.now
	op.touchOption(option)

	r.logger.WithFields(logrus.Fields{
		"option_id": id,
		"kind":      option.Kind.String(),
		"owner":     caller,
		"writer":    option.Writer,
		"paid":      payAmount.String(),
		"released":  releaseAmount.String(),
	}).Info("Option exercised")

	return option, nil
}

func (r *OptionRegistry) collect(ctx context.Context, op *operation, id uint64, caller string) (*interfaces.Option, error) {
	caller = interfaces.NormalizeAccount(caller)

	option, err := r.get(id)
	if err != nil {
		return nil, err
	}
	if option.Status.Resolved() {
		return nil, fmt.Errorf("%w: option %d is %s", interfaces.ErrAlreadyResolved, id, option.Status)
	}
	if !option.ExpiredAt(op.now) {
		return nil, fmt.Errorf("%w: option %d expires at %s", interfaces.ErrNotExpired, id, option.Expiry.Format(time.RFC3339))
	}
	if caller != option.Writer {
		return nil, fmt.Errorf("%w: option %d", interfaces.ErrNotWriter, id)
	}

	token, amount := r.collateral(option)
	if err := r.vault.Release(ctx, option.Writer, token, amount); err != nil {
		return nil, err
	}
	op.touchEscrow(token)

	option.Status = interfaces.OptionCollected
	option.UpdatedAt = op.now
	op.touchOption(option)

	r.logger.WithFields(logrus.Fields{
		"option_id": id,
		"writer":    option.Writer,
		"token":     token,
		"amount":    amount.String(),
	}).Info("Expired option collected")

	return option, nil
}

// transferOwnership hands exercise rights to newOwner. Only the trade book calls it.
func (r *OptionRegistry) transferOwnership(op *operation, id uint64, newOwner string) error {
	option, err := r.get(id)
	if err != nil {
		return err
	}
	option.Owner = interfaces.NormalizeAccount(newOwner)
	option.UpdatedAt = op.now
	op.touchOption(option)
	return nil
}

// get returns the live record; callers must not leak it outside the lock
func (r *OptionRegistry) get(id uint64) (*interfaces.Option, error) {
	option, ok := r.options[id]
	if !ok {
		return nil, fmt.Errorf("%w: option %d", interfaces.ErrNotFound, id)
	}
	return option, nil
}

func (r *OptionRegistry) list(filter interfaces.OptionFilter) []*interfaces.Option {
	token := interfaces.NormalizeAccount(filter.Token)
	writer := interfaces.NormalizeAccount(filter.Writer)
	owner := interfaces.NormalizeAccount(filter.Owner)

	out := make([]*interfaces.Option, 0)
	for _, o := range r.options {
		if filter.Kind != 0 && o.Kind != filter.Kind {
			continue
		}
		if token != "" && o.UnderlyingToken != token {
			continue
		}
		if writer != "" && o.Writer != writer {
			continue
		}
		if owner != "" && o.Owner != owner {
			continue
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		if !filter.ExpiresAfter.IsZero() && !o.Expiry.After(filter.ExpiresAfter) {
			continue
		}
		if !filter.ExpiresBefore.IsZero() && !o.Expiry.Before(filter.ExpiresBefore) {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// expiredUnresolved returns ids of options past expiry still holding collateral
func (r *OptionRegistry) expiredUnresolved(now time.Time) []uint64 {
	ids := make([]uint64, 0)
	for id, o := range r.options {
		if o.Status == interfaces.OptionNone && o.ExpiredAt(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *OptionRegistry) restore(options []*interfaces.Option) {
	for _, o := range options {
		r.options[o.ID] = o
		if o.ID >= r.nextID {
			r.nextID = o.ID + 1
		}
	}
}

// validateUnits requires a whole, non-negative number of base units; zero only when allowZero
func validateUnits(field string, v decimal.Decimal, allowZero bool) error {
	if v.IsNegative() {
		return fmt.Errorf("%w: %s must not be negative", interfaces.ErrInvalidAmount, field)
	}
	if !allowZero && v.IsZero() {
		return fmt.Errorf("%w: %s must be positive", interfaces.ErrInvalidAmount, field)
	}
	if !v.Equal(v.Truncate(0)) {
		return fmt.Errorf("%w: %s must be a whole number of base units", interfaces.ErrInvalidAmount, field)
	}
	return nil
}
