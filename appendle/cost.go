package appendle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"

	"parcelmint/chain"
	"parcelmint/fileset"
	"parcelmint/observability"
	"parcelmint/workflow"
)

const (
	// CostPerFile is charged for every appended file.
	CostPerFile = 3.0
	// CostPerGiB is charged per gibibyte of appended data.
	CostPerGiB = 50.0

	gib = 1 << 30
)

var stepPayment = workflow.Step{Name: "request-payment", Failure: "failed to pay for append"}

// FileCost is the price of appending a file of size bytes.
func FileCost(size int64) float64 {
	return CostPerFile + CostPerGiB*float64(size)/gib
}

// RoundCost rounds to three decimal places.
func RoundCost(cost float64) float64 {
	return math.Round(cost*1000) / 1000
}

// PaymentWei converts a cost to the value sent to the facilitator:
// ceil(cost * 1e10) * 1e8.
func PaymentWei(cost float64) *big.Int {
	units := new(big.Float).SetFloat64(math.Ceil(cost * 1e10))
	wei, _ := units.Int(nil)
	return wei.Mul(wei, big.NewInt(1e8))
}

func (a *Appendle) paidKey(index uint64, file *fileset.File) string {
	return fmt.Sprintf("paid-%s-%d-%s", a.Contract(), index, file.Name)
}

// CalculateCost prices every planned file that has not been paid for yet.
func (a *Appendle) CalculateCost() (float64, error) {
	if err := a.requireState(StatePlanned); err != nil {
		return 0, fmt.Errorf("calculateCost: %w", err)
	}
	var total float64
	var lookupErr error
	a.plan.Files(func(index uint64, file *fileset.File) {
		if lookupErr != nil {
			return
		}
		paid, err := a.ledger.Has(a.paidKey(index, file))
		if err != nil {
			lookupErr = err
			return
		}
		if !paid {
			total += FileCost(file.Size)
		}
	})
	if lookupErr != nil {
		return 0, lookupErr
	}
	return RoundCost(total), nil
}

// RequestPayment sends the outstanding cost to the facilitator and marks
// every planned file as paid. It does nothing once paid.
func (a *Appendle) RequestPayment(ctx context.Context) error {
	if err := a.requireState(StatePlanned); err != nil {
		return fmt.Errorf("requestPayment: %w", err)
	}
	if a.state >= StatePaid {
		return nil
	}
	runner := workflow.NewRunner("append", a.Namespace(), a.logger)
	err := runner.Run(ctx, stepPayment, func(ctx context.Context) error {
		cost, err := a.CalculateCost()
		if err != nil {
			return err
		}
		if cost > 0 {
			if err := a.pay(ctx, runner, cost); err != nil {
				return err
			}
		} else {
			runner.Skip(ctx, stepPayment, "nothing to pay for")
		}
		var markErr error
		a.plan.Files(func(index uint64, file *fileset.File) {
			if markErr == nil {
				markErr = a.ledger.Set(a.paidKey(index, file), true)
			}
		})
		return markErr
	})
	if err != nil {
		return err
	}
	a.state = StatePaid
	return nil
}

func (a *Appendle) pay(ctx context.Context, runner *workflow.Runner, cost float64) error {
	value := PaymentWei(cost)
	tx, err := a.signer.SendTransaction(ctx, chain.FacilitatorAddress, value)
	if err != nil {
		return err
	}
	hash := tx.Hash().Hex()
	runner.Logger().Info("payment sent", slog.String("tx", hash), slog.String("value", value.String()))
	_, err = chain.WaitSuccess(ctx, tx)
	observability.Workflow().RecordTransaction("append-payment", err)
	if err != nil {
		if errors.Is(err, chain.ErrTxFailed) {
			return fmt.Errorf("payment tx %s failed: %w", hash, chain.ErrTxFailed)
		}
		return err
	}
	return nil
}
