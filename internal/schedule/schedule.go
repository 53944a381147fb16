// Package schedule computes fee installment dates and statuses.
package schedule

import (
	"time"

	"github.com/ukydev/school-transport/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type plan struct {
	count int
	step  int // months between installments
}

var plans = map[models.Installments]plan{
	models.InstallmentsMonthly:  {count: 12, step: 1},
	models.InstallmentsQuarter:  {count: 4, step: 3},
	models.InstallmentsThird:    {count: 3, step: 4},
	models.InstallmentsHalfYear: {count: 2, step: 6},
	models.InstallmentsYearly:   {count: 1, step: 12},
}

// DueDates returns the installment due dates for a billing frequency, starting
// on the 1st of now's month. Unknown frequencies get the monthly schedule.
func DueDates(installments models.Installments, now time.Time) []time.Time {
	if !installments.IsValid() {
		installments = models.InstallmentsMonthly
	}
	p := plans[installments]

	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	dates := make([]time.Time, 0, p.count)
	for i := 0; i < p.count; i++ {
		dates = append(dates, start.AddDate(0, i*p.step, 0))
	}
	return dates
}

// InitialStatus is the status a freshly generated installment starts with.
// Only the first installment is payable straight away.
func InitialStatus(index int, due, now time.Time) models.FeeStatus {
	if index > 0 {
		return models.FeeNotStarted
	}
	if due.Before(now) {
		return models.FeeOverdue
	}
	return models.FeePending
}

// Advance returns the status an installment should have at now. lead is how
// long before its due date a not_started installment becomes payable.
func Advance(status models.FeeStatus, due, now time.Time, lead time.Duration) models.FeeStatus {
	switch status {
	case models.FeeNotStarted:
		if due.Before(now) {
			return models.FeeOverdue
		}
		if !now.Before(due.Add(-lead)) {
			return models.FeePending
		}
	case models.FeePending:
		if due.Before(now) {
			return models.FeeOverdue
		}
	}
	return status
}

// BusFees builds the fee schedule for a new bus assignment. Every installment
// carries the route's fare.
func BusFees(sb models.StudentBus, route models.RouteDetail, installments models.Installments, now time.Time) []models.StudentBusFee {
	dates := DueDates(installments, now)
	fees := make([]models.StudentBusFee, 0, len(dates))
	for i, due := range dates {
		fees = append(fees, models.StudentBusFee{
			ID:                   primitive.NewObjectID(),
			ClientOrganizationID: sb.ClientOrganizationID,
			StudentID:            sb.StudentID,
			StudentBusID:         sb.ID,
			BusID:                sb.BusID,
			RouteID:              sb.RouteID,
			AcademicYearID:       sb.AcademicYearID,
			InstallmentNo:        i + 1,
			Amount:               route.Amount,
			DueDate:              due,
			Status:               InitialStatus(i, due, now),
			IsActive:             true,
			CreatedDate:          now,
			ModifiedDate:         now,
		})
	}
	return fees
}

// StudentFees builds the academic fee schedule from a class fee structure.
func StudentFees(sc models.StudentClass, fs models.FeesStructure, now time.Time) []models.StudentFee {
	fees := make([]models.StudentFee, 0, len(fs.Installments))
	for i, inst := range fs.Installments {
		fees = append(fees, models.StudentFee{
			ID:                   primitive.NewObjectID(),
			ClientOrganizationID: sc.ClientOrganizationID,
			StudentID:            sc.StudentID,
			StudentClassID:       sc.ID,
			FeesStructureID:      fs.ID,
			AcademicYearID:       sc.AcademicYearID,
			InstallmentNo:        i + 1,
			Amount:               inst.Amount,
			DueDate:              inst.DueDate,
			Status:               InitialStatus(i, inst.DueDate, now),
			IsActive:             true,
			CreatedDate:          now,
			ModifiedDate:         now,
		})
	}
	return fees
}
