package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID               string `gorm:"primaryKey"`
	FirstName        string `gorm:"not null"`
	LastName         string `gorm:"not null"`
	Email            string `gorm:"uniqueIndex;not null"`
	PasswordHash     string `gorm:"not null"`
	Role             string `gorm:"not null;index"`
	Status           string `gorm:"not null;index"`
	CurrentFines     float64
	Phone            string
	Address          datatypes.JSON `gorm:"type:jsonb"`
	RegistrationDate time.Time      `gorm:"not null"`
	CreatedAt        time.Time      `gorm:"not null"`
	UpdatedAt        time.Time
}

type BookModel struct {
	ID              string `gorm:"primaryKey"`
	ISBN            string `gorm:"uniqueIndex;not null"`
	Title           string `gorm:"not null"`
	Subtitle        string
	Authors         datatypes.JSON `gorm:"type:jsonb"`
	Categories      datatypes.JSON `gorm:"type:jsonb"`
	TotalCopies     int            `gorm:"not null"`
	AvailableCopies int            `gorm:"not null;index"`
	Publisher       string
	PublicationDate *time.Time
	Pages           int
	Language        string
	Summary         string `gorm:"type:text"`
	CoverKey        string
	Deleted         bool      `gorm:"not null;index"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

type LoanModel struct {
	ID                 string    `gorm:"primaryKey"`
	BookID             string    `gorm:"not null;index"`
	UserID             string    `gorm:"not null;index"`
	BorrowDate         time.Time `gorm:"not null;index"`
	ExpectedReturnDate time.Time `gorm:"not null;index"`
	ActualReturnDate   *time.Time
	Status             string `gorm:"not null;index"`
	RenewalCount       int    `gorm:"not null"`
	FineAmount         float64
	FineCharged        float64
	Notes              string
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

type BorrowHistoryModel struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	UserID     string    `gorm:"not null;index"`
	LoanID     string    `gorm:"not null;index"`
	BorrowDate time.Time `gorm:"not null"`
	ReturnDate *time.Time
}

type NotificationModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index"`
	Kind      string `gorm:"not null"`
	Message   string `gorm:"not null"`
	Read      bool
	CreatedAt time.Time `gorm:"not null;index"`
}
