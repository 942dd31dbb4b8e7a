package enum

// MessageKind represents the delivery payload type of a queued notification.
type MessageKind int

const (
	// MessageKindText is a rendered text message.
	MessageKindText MessageKind = iota
	// MessageKindLocation is a paired map location message.
	MessageKindLocation
)

// String returns the name of the message kind.
func (k MessageKind) String() string {
	switch k {
	case MessageKindText:
		return "text"
	case MessageKindLocation:
		return "location"
	default:
		return "unknown"
	}
}

// DeliveryResult classifies the messenger API response for one send attempt.
type DeliveryResult int

const (
	// DeliveryResultCompleted marks a successful send.
	DeliveryResultCompleted DeliveryResult = iota
	// DeliveryResultBadRequest marks a permanently rejected payload.
	DeliveryResultBadRequest
	// DeliveryResultRecipientGone marks a blocked or deactivated recipient.
	DeliveryResultRecipientGone
	// DeliveryResultFloodControl marks a transient rate-limit rejection.
	DeliveryResultFloodControl
	// DeliveryResultUnknown marks any other terminal failure.
	DeliveryResultUnknown
)

// String returns the name of the delivery result.
func (r DeliveryResult) String() string {
	switch r {
	case DeliveryResultCompleted:
		return "completed"
	case DeliveryResultBadRequest:
		return "cancelled_bad_request"
	case DeliveryResultRecipientGone:
		return "cancelled_recipient_gone"
	case DeliveryResultFloodControl:
		return "failed_flood_control"
	case DeliveryResultUnknown:
		return "cancelled_unknown"
	default:
		return "unknown"
	}
}
