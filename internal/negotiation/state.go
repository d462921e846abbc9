package negotiation

// State is the position of a conversation in the negotiation.
type State int

const (
	Idle State = iota
	RequestingInfo
	ReceivedOptions
	CheckingSeat
	RequestingBooking
	WaitingConfirmation
	BookingCompleted
	Error
)

var stateNames = [...]string{
	Idle:                "IDLE",
	RequestingInfo:      "REQUESTING_INFO",
	ReceivedOptions:     "RECEIVED_OPTIONS",
	CheckingSeat:        "CHECKING_SEAT",
	RequestingBooking:   "REQUESTING_BOOKING",
	WaitingConfirmation: "WAITING_CONFIRMATION",
	BookingCompleted:    "BOOKING_COMPLETED",
	Error:               "ERROR",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// Terminal reports whether the conversation is over.
func (s State) Terminal() bool { return s == BookingCompleted || s == Error }

// Waiting reports whether a reply from the authority is expected, which
// is when the timeout applies.
func (s State) Waiting() bool {
	switch s {
	case RequestingInfo, CheckingSeat, RequestingBooking, WaitingConfirmation:
		return true
	}
	return false
}
