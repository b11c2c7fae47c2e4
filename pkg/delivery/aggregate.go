package delivery

// Aggregate implements the pure status-aggregation function (spec §4.6):
// the overall delivery status is a deterministic function of the current
// per-destination substate set. Evaluation order matters — failed is
// checked first so a delivery with zero destinations never reports queued.
func Aggregate(destinations []DestinationSubstate) Status {
	if len(destinations) == 0 {
		return StatusFailed
	}

	allFailedOrSkipped := true
	allDelivered := true
	anyDelivered := false
	anyFailedStrict := false
	anyNonTerminal := false
	anyAttempted := false

	for _, d := range destinations {
		if d.Status != DestFailed && d.Status != DestSkipped {
			allFailedOrSkipped = false
		}
		if d.Status == DestDelivered {
			anyDelivered = true
		} else {
			allDelivered = false
		}
		if d.Status == DestFailed {
			anyFailedStrict = true
		}
		if d.Status == DestProcessing || d.Status == DestPending {
			anyNonTerminal = true
		}
		if d.Attempts > 0 {
			anyAttempted = true
		}
	}

	switch {
	case allFailedOrSkipped:
		return StatusFailed
	case allDelivered:
		return StatusCompleted
	case anyDelivered && anyFailedStrict && !anyNonTerminal:
		return StatusPartial
	case anyNonTerminal && anyAttempted:
		return StatusProcessing
	default:
		return StatusQueued
	}
}
