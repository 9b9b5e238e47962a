package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbroker/pkg/db/pagination"
	"gorm.io/gorm"
)

type AppendRequest struct {
	Email      string
	SourceType SourceType
	SourceCode string
	OrderNo    string
	ResourceID snowflake.ID
	GrantedAt  time.Time
}

// Filter narrows ledger queries. Email, SourceCode and OrderNo match as
// case-insensitive substrings. DateFrom and DateTo are inclusive calendar days
// (YYYY-MM-DD) in the configured timezone.
type Filter struct {
	Email      string       `form:"email"`
	SourceCode string       `form:"code"`
	OrderNo    string       `form:"order_no"`
	ResourceID snowflake.ID `form:"resource_id"`
	SourceType SourceType   `form:"source_type"`
	DateFrom   string       `form:"date_from"`
	DateTo     string       `form:"date_to"`
}

// Criteria is a resolved Filter handed to the repository.
type Criteria struct {
	Email      string
	SourceCode string
	OrderNo    string
	ResourceID snowflake.ID
	SourceType SourceType
	From       *time.Time
	Until      *time.Time
}

type QueryRequest struct {
	Filter
	pagination.Pagination
}

type QueryResponse struct {
	Entries  []Entry             `json:"entries"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

// StatsWindow holds the lower bounds for the rolling counters.
type StatsWindow struct {
	Today time.Time
	Week  time.Time
	Month time.Time
}

// Lookup selects the history of one member. Code takes precedence over Email.
type Lookup struct {
	Email string
	Code  string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Entry, error)
	FindByOrderNo(ctx context.Context, db *gorm.DB, sourceType SourceType, orderNo string) (*Entry, error)
	Query(ctx context.Context, db *gorm.DB, criteria Criteria, cursor *pagination.Cursor, limit int) ([]Entry, error)
	Stats(ctx context.Context, db *gorm.DB, criteria Criteria, window StatsWindow) (Stats, error)
	Latest(ctx context.Context, db *gorm.DB, lookup Lookup, anchoringOnly bool) (*Entry, error)
	History(ctx context.Context, db *gorm.DB, lookup Lookup, limit int) ([]Entry, error)
	HasNewerGrant(ctx context.Context, db *gorm.DB, entry Entry) (bool, error)
	HasGrantOn(ctx context.Context, db *gorm.DB, email string, resourceID snowflake.ID) (bool, error)
	ListCleanupCandidates(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Entry, error)
	UpsertCleanup(ctx context.Context, db *gorm.DB, cleanup *Cleanup) error
}

type Service interface {
	// Append records a grant. Payment grants are deduplicated by order number;
	// a repeat returns the stored entry with inserted=false. tx may be nil.
	Append(ctx context.Context, tx *gorm.DB, req AppendRequest) (entry *Entry, inserted bool, err error)
	Query(ctx context.Context, req QueryRequest) (QueryResponse, error)
	Stats(ctx context.Context, filter Filter) (Stats, error)
	// Anchor returns the latest redemption_code or payment grant for lookup.
	Anchor(ctx context.Context, lookup Lookup) (*Entry, error)
	// Latest returns the latest grant of any source for lookup.
	Latest(ctx context.Context, lookup Lookup) (*Entry, error)
	History(ctx context.Context, lookup Lookup, limit int) ([]Entry, error)
	HasNewerGrant(ctx context.Context, entry Entry) (bool, error)
	// HasGrantOn reports whether any committed grant places email on resourceID.
	HasGrantOn(ctx context.Context, email string, resourceID snowflake.ID) (bool, error)
	ListCleanupCandidates(ctx context.Context, olderThan time.Duration, limit int) ([]Entry, error)
	RecordCleanup(ctx context.Context, entryID snowflake.ID, outcome CleanupOutcome, detail string) error
}
