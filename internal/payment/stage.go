package payment

import (
	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
	"github.com/hackgods/dna-testing-scheduling/internal/appointment"
)

// DetermineStage picks the stage and amount of the next payment from what
// has been paid so far.
func DetermineStage(a appointment.Appointment) (Stage, int64, error) {
	switch {
	case a.AmountPaid >= a.TotalAmount:
		return "", 0, apperr.Wrap(apperr.KindAlreadyFullyPaid, apperr.ErrAlreadyFullyPaid,
			"appointment %s paid %d of %d", a.ID, a.AmountPaid, a.TotalAmount)
	case a.AmountPaid == 0 && a.DepositAmount > 0:
		return StageDeposit, a.DepositAmount, nil
	case a.AmountPaid >= a.DepositAmount:
		return StageRemaining, a.TotalAmount - a.AmountPaid, nil
	default:
		return "", 0, apperr.New(apperr.KindConflict,
			"appointment %s has a partial deposit (%d of %d) and needs manual reconciliation", a.ID, a.AmountPaid, a.DepositAmount)
	}
}
