package queue

// Queue names in strict receive order. Receive drains high completely before
// looking at normal, and normal before low.
const (
	QueueHigh   = "high"
	QueueNormal = "normal"
	QueueLow    = "low"
)

var receiveOrder = []string{QueueHigh, QueueNormal, QueueLow}

// QueueNames lists the valid queue names in priority order.
func QueueNames() []string {
	return []string{QueueHigh, QueueNormal, QueueLow}
}

// QueueForPriority maps a job priority to a queue name. Priorities at or
// above 10 are urgent (deletion, cancellation), negative priorities are
// background work (bulk ingest, re-embedding).
func QueueForPriority(priority int) string {
	switch {
	case priority >= 10:
		return QueueHigh
	case priority < 0:
		return QueueLow
	default:
		return QueueNormal
	}
}
