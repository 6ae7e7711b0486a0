package model

import "time"

type User struct {
	ID                string
	Email             string
	PasswordHash      string
	FirstName         string
	LastName          string
	SpiritualMasterID *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         *time.Time
}

type Role struct {
	UserID   string
	UserType string
}

const (
	BatchStatusPendingApproval = "pending_approval"
	BatchStatusActive          = "active"
	BatchStatusInactive        = "inactive"
)

type Batch struct {
	ID        string
	MentorID  string
	Name      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Membership struct {
	ID       string
	BatchID  string
	MenteeID string
	JoinedAt time.Time
	LeftAt   *time.Time
}

type SadhanaLog struct {
	ID             string
	UserID         string
	LogDate        time.Time
	JapaRounds     int32
	ReadingMinutes int32
	MangalaArati   bool
	MorningProgram bool
	BookReading    bool
	Score          int32
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ServiceLog struct {
	ID            string
	UserID        string
	DepartmentID  string
	LogDate       time.Time
	DurationHours float64
	Description   *string
	CreatedAt     time.Time
}

type PushToken struct {
	ID         string
	UserID     string
	Token      string
	Platform   string
	CreatedAt  time.Time
	LastSeenAt time.Time
}

type RefreshSession struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	UserAgent *string
	IPAddress *string
}

// Reference rows shared read-only by every authenticated principal.

type SpiritualMaster struct {
	ID   string
	Name string
}

type Department struct {
	ID   string
	Name string
}

type CourseCategory struct {
	ID   string
	Name string
}
