package store

import "time"

// ErrorProcessing marks an aggregate row that is an in-flight placeholder.
const ErrorProcessing = "PROCESSING"

// MatchResult is the per-tender aggregate. Exactly one row exists per
// (tender_id, registry_type); while a worker owns the tender its
// error_reason is PROCESSING.
type MatchResult struct {
	ID                    int64   `gorm:"primaryKey;autoIncrement"`
	TenderID              int64   `gorm:"not null;uniqueIndex:ux_tender_document_matches_key,priority:1"`
	RegistryType          string  `gorm:"size:16;not null;uniqueIndex:ux_tender_document_matches_key,priority:2"`
	MatchCount            int     `gorm:"not null;default:0"`
	MatchPercentage       float64 `gorm:"not null;default:0"`
	ProcessingTimeSeconds float64 `gorm:"not null;default:0"`
	TotalFilesProcessed   int     `gorm:"not null;default:0"`
	TotalSizeBytes        int64   `gorm:"not null;default:0"`
	ErrorReason           *string `gorm:"size:255;index"`
	FolderName            string  `gorm:"size:255"`
	HasError              bool    `gorm:"not null;default:false"`
	IsInteresting         bool    `gorm:"not null;default:false;index"`
	WorkerID              string  `gorm:"size:64"`
	CreatedAt             time.Time
	UpdatedAt             time.Time `gorm:"index"`
}

func (MatchResult) TableName() string { return "tender_document_matches" }

// Processing reports whether the row is an in-flight placeholder.
func (m MatchResult) Processing() bool {
	return m.ErrorReason != nil && *m.ErrorReason == ErrorProcessing
}

// MatchDetail is one matched product of an aggregate.
type MatchDetail struct {
	ID              int64        `gorm:"primaryKey;autoIncrement"`
	MatchID         int64        `gorm:"not null;index"`
	Match           *MatchResult `gorm:"foreignKey:MatchID;constraint:OnDelete:CASCADE" json:"-"`
	ProductName     string       `gorm:"not null"`
	Score           float64      `gorm:"not null"`
	SheetName       string
	RowIndex        int
	ColumnLetter    string `gorm:"size:8"`
	CellAddress     string
	SourceFile      string
	MatchedText     string
	MatchedKeywords string // JSON array
	RowContext      string // JSON object, empty when unavailable
	CreatedAt       time.Time
}

func (MatchDetail) TableName() string { return "tender_document_match_details" }

// FileError records one document that could not be processed.
type FileError struct {
	ID            int64        `gorm:"primaryKey;autoIncrement"`
	MatchID       int64        `gorm:"not null;index"`
	Match         *MatchResult `gorm:"foreignKey:MatchID;constraint:OnDelete:CASCADE" json:"-"`
	FileName      string       `gorm:"not null"`
	FilePath      string
	ErrorMessage  string
	ErrorType     string `gorm:"size:32;not null"`
	FileSizeBytes int64
	CreatedAt     time.Time
}

func (FileError) TableName() string { return "tender_document_file_errors" }

// TenderLock is a dedicated lease used by manual reprocessing.
type TenderLock struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	TenderID     int64     `gorm:"not null;uniqueIndex:ux_tender_locks_key,priority:1"`
	RegistryType string    `gorm:"size:16;not null;uniqueIndex:ux_tender_locks_key,priority:2"`
	WorkerID     string    `gorm:"size:64;not null"`
	AcquiredAt   time.Time `gorm:"not null"`
	ExpiresAt    time.Time `gorm:"not null;index"`
}

func (TenderLock) TableName() string { return "tender_locks" }
