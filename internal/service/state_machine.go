package service

import (
	"fmt"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/kidcare-enrollment-api/pkg/errors"
)

// lifecycleEvent drives an existing enrollment through its review workflow.
type lifecycleEvent string

const (
	lifecycleApprove lifecycleEvent = "approve"
	lifecycleReject  lifecycleEvent = "reject"
	lifecycleCancel  lifecycleEvent = "cancel"
	lifecycleReset   lifecycleEvent = "reset"
	lifecycleArchive lifecycleEvent = "archive"
)

// ledgerEffect is the seat movement a transition requires.
type ledgerEffect int

const (
	ledgerNone ledgerEffect = iota
	ledgerReserve
	ledgerRelease
)

type transition struct {
	To     models.EnrollmentStatus
	Ledger ledgerEffect
	Emits  models.EventType
}

// enrollmentTransitions is the whole review workflow. Creation (Enroll) is not
// listed: it always lands in pending+active and reserves a seat.
var enrollmentTransitions = map[models.EnrollmentStatus]map[lifecycleEvent]transition{
	models.EnrollmentStatusPending: {
		lifecycleApprove: {To: models.EnrollmentStatusApproved, Emits: models.EventEnrollmentApproved},
		lifecycleReject:  {To: models.EnrollmentStatusRejected, Ledger: ledgerRelease, Emits: models.EventEnrollmentRejected},
		lifecycleCancel:  {To: models.EnrollmentStatusRejected, Ledger: ledgerRelease, Emits: models.EventEnrollmentCancelled},
		lifecycleArchive: {To: models.EnrollmentStatusRejected, Emits: models.EventEnrollmentArchived},
	},
	models.EnrollmentStatusApproved: {
		lifecycleCancel:  {To: models.EnrollmentStatusRejected, Ledger: ledgerRelease, Emits: models.EventEnrollmentCancelled},
		lifecycleReset:   {To: models.EnrollmentStatusPending, Emits: models.EventEnrollmentReset},
		lifecycleArchive: {To: models.EnrollmentStatusApproved, Emits: models.EventEnrollmentArchived},
	},
	models.EnrollmentStatusRejected: {
		lifecycleReset:   {To: models.EnrollmentStatusPending, Ledger: ledgerReserve, Emits: models.EventEnrollmentReset},
		lifecycleArchive: {To: models.EnrollmentStatusRejected, Emits: models.EventEnrollmentArchived},
	},
}

// nextState resolves ev against the record's current state.
func nextState(e models.Enrollment, ev lifecycleEvent) (transition, error) {
	if e.Type == models.EnrollmentTypeHistorical {
		return transition{}, appErrors.Clone(appErrors.ErrInvalidStateTransition, "historical enrollments are immutable")
	}
	t, ok := enrollmentTransitions[e.Status][ev]
	if !ok {
		return transition{}, appErrors.Clone(appErrors.ErrInvalidStateTransition, fmt.Sprintf("cannot %s an enrollment that is %s", ev, e.Status))
	}
	return t, nil
}
