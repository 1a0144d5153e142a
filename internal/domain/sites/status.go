package sites

// OperationStatus is the lifecycle position of an Operation.
type OperationStatus string

const (
	StatusPending    OperationStatus = "pending"
	StatusPaid       OperationStatus = "paid"
	StatusProcessing OperationStatus = "processing"
	StatusCompleted  OperationStatus = "completed"
	StatusFailed     OperationStatus = "failed"
	StatusDeployed   OperationStatus = "deployed"
)

// Rank orders statuses along the pipeline. completed and failed share a rank.
func (s OperationStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusPaid:
		return 1
	case StatusProcessing:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	case StatusDeployed:
		return 4
	default:
		return -1
	}
}

func (s OperationStatus) Valid() bool { return s.Rank() >= 0 }

// Done reports whether generation has produced a published site.
func (s OperationStatus) Done() bool {
	return s == StatusCompleted || s == StatusDeployed
}

var transitions = map[OperationStatus][]OperationStatus{
	StatusPending:    {StatusPaid, StatusFailed},
	StatusPaid:       {StatusProcessing, StatusFailed},
	StatusFailed:     {StatusProcessing},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusDeployed},
}

// CanTransition reports whether from → to is an allowed status write.
// failed → processing (manual retry) and processing → processing (stale
// claim) are the only moves that do not advance the rank.
func CanTransition(from, to OperationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ClaimableFrom lists the statuses a worker may claim into processing.
// processing itself is only claimable once the previous claim went stale.
// A failed operation is only retried on a manual trigger.
func ClaimableFrom(manual bool) []OperationStatus {
	if manual {
		return []OperationStatus{StatusPaid, StatusFailed}
	}
	return []OperationStatus{StatusPaid}
}
