package app

import "errors"

// Sentinel errors returned by the application core. Handlers map each to an
// HTTP status and machine-readable code; wrap with fmt.Errorf("...: %w", err)
// to add detail without losing the kind.
var (
	ErrBookNotFound = errors.New("book not found")
	ErrUserNotFound = errors.New("user not found")
	ErrLoanNotFound = errors.New("loan not found")

	// ErrForbidden: the acting principal may not perform this operation.
	ErrForbidden = errors.New("forbidden")
	// ErrCannotBorrow: account suspended/deleted or unpaid fines.
	ErrCannotBorrow = errors.New("cannot borrow")

	// ErrNoCopies: no available copies to borrow.
	ErrNoCopies = errors.New("no copies available")
	// ErrLoanLimit: concurrent-loan cap reached.
	ErrLoanLimit = errors.New("loan limit reached")
	// ErrRenewalLimit: renewal cap reached.
	ErrRenewalLimit = errors.New("renewal limit reached")
	// ErrNotRenewable: loan is overdue or returned.
	ErrNotRenewable = errors.New("loan not renewable")
	// ErrAlreadyReturned: return called on a returned loan.
	ErrAlreadyReturned = errors.New("loan already returned")

	ErrInvalidArgument    = errors.New("invalid argument")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTxConflict: the transaction aborted on contention or timeout;
	// safe for the caller to retry.
	ErrTxConflict = errors.New("transaction conflict")
	// ErrIntegrity: an invariant violation was detected mid-transaction.
	// Never coerced away; the transaction aborts and the fault surfaces.
	ErrIntegrity = errors.New("data integrity fault")
)
