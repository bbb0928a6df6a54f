package join

import "time"

// Status is the lifecycle state of a Join.
type Status uint8

const (
	Pending Status = iota
	Completed
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Join is a fan-in aggregate: it tracks how many of ExpectedSteps
// members have completed or failed.
type Join struct {
	Id             string
	TenantId       string
	ExpectedSteps  uint32
	CompletedSteps uint32
	FailedSteps    uint32
	Status         Status
	Metadata       string

	CreatedOn     time.Time
	LastUpdatedOn time.Time
}

// Done reports whether every expected step has been accounted for.
func (j *Join) Done() bool {
	return j.CompletedSteps+j.FailedSteps >= j.ExpectedSteps
}

// Member links one work item to one join. The primary key is
// (JoinId, WorkItemId); Counted records whether this member has
// already incremented a counter, which is what makes
// IncrementCompleted/IncrementFailed idempotent per member regardless
// of how many times the underlying work item itself is retried.
type Member struct {
	JoinId     string
	WorkItemId string
	Counted    bool
	AttachedOn time.Time
}
