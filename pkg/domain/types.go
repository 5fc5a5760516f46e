package domain

import "time"

type LoanStatus string

const (
	LoanActive   LoanStatus = "active"
	LoanOverdue  LoanStatus = "overdue"
	LoanReturned LoanStatus = "returned"
)

type UserRole string

const (
	RoleStudent   UserRole = "student"
	RoleFaculty   UserRole = "faculty"
	RoleLibrarian UserRole = "librarian"
	RoleAdmin     UserRole = "admin"
)

// Elevated reports whether the role can act on other users' loans and records.
func (r UserRole) Elevated() bool {
	return r == RoleLibrarian || r == RoleAdmin
}

type UserStatus string

const (
	StatusActive    UserStatus = "active"
	StatusSuspended UserStatus = "suspended"
	StatusDeleted   UserStatus = "deleted"
)

type User struct {
	ID               string     `json:"id"`
	FirstName        string     `json:"firstName"`
	LastName         string     `json:"lastName"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	Role             UserRole   `json:"role"`
	Status           UserStatus `json:"status"`
	CurrentFines     float64    `json:"currentFines"`
	Phone            string     `json:"phone,omitempty"`
	Address          *Address   `json:"address,omitempty"`
	RegistrationDate time.Time  `json:"registrationDate"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

type Book struct {
	ID              string     `json:"id"`
	ISBN            string     `json:"isbn"`
	Title           string     `json:"title"`
	Subtitle        string     `json:"subtitle,omitempty"`
	Authors         []string   `json:"authors"`
	Categories      []string   `json:"categories"`
	TotalCopies     int        `json:"totalCopies"`
	AvailableCopies int        `json:"availableCopies"`
	Publisher       string     `json:"publisher,omitempty"`
	PublicationDate *time.Time `json:"publicationDate,omitempty"`
	Pages           int        `json:"pages,omitempty"`
	Language        string     `json:"language,omitempty"`
	Summary         string     `json:"summary,omitempty"`
	CoverKey        string     `json:"-"`
	Deleted         bool       `json:"-"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Available reports whether at least one copy can be borrowed.
func (b Book) Available() bool {
	return !b.Deleted && b.AvailableCopies > 0
}

type Loan struct {
	ID                 string     `json:"id"`
	BookID             string     `json:"bookId"`
	UserID             string     `json:"userId"`
	BorrowDate         time.Time  `json:"borrowDate"`
	ExpectedReturnDate time.Time  `json:"expectedReturnDate"`
	ActualReturnDate   *time.Time `json:"actualReturnDate,omitempty"`
	Status             LoanStatus `json:"status"`
	RenewalCount       int        `json:"renewalCount"`
	FineAmount         float64    `json:"fineAmount"`
	// FineCharged is the portion of FineAmount already added to the
	// borrower's balance. Deltas against it prevent double-charging when
	// overdue fines are recomputed.
	FineCharged float64   `json:"-"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type BorrowHistoryEntry struct {
	LoanID     string     `json:"loanId"`
	BorrowDate time.Time  `json:"borrowDate"`
	ReturnDate *time.Time `json:"returnDate,omitempty"`
}

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// LoanPolicy carries the circulation constants. They are configurable because
// deployments disagree on the exact values; defaults are the canonical policy.
type LoanPolicy struct {
	LoanDays       int
	RenewalDays    int
	MaxRenewals    int
	MaxActiveLoans int
	FinePerDay     float64
}

// DefaultLoanPolicy returns the canonical circulation policy.
func DefaultLoanPolicy() LoanPolicy {
	return LoanPolicy{
		LoanDays:       14,
		RenewalDays:    14,
		MaxRenewals:    2,
		MaxActiveLoans: 5,
		FinePerDay:     0.50,
	}
}

// Stats is the aggregate snapshot served to librarians.
type Stats struct {
	TotalBooks       int64   `json:"totalBooks"`
	TotalCopies      int64   `json:"totalCopies"`
	AvailableCopies  int64   `json:"availableCopies"`
	TotalUsers       int64   `json:"totalUsers"`
	ActiveUsers      int64   `json:"activeUsers"`
	UsersWithFines   int64   `json:"usersWithFines"`
	ActiveLoans      int64   `json:"activeLoans"`
	OverdueLoans     int64   `json:"overdueLoans"`
	ReturnedLoans    int64   `json:"returnedLoans"`
	OutstandingFines float64 `json:"outstandingFines"`
}
