package models

// PushPriority mirrors the priority levels accepted by the push provider.
type PushPriority string

const (
	PushPriorityNormal PushPriority = "normal"
	PushPriorityHigh   PushPriority = "high"
)

// PushMessage is one notification handed to the push provider.
type PushMessage struct {
	To       string            `json:"to"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Sound    string            `json:"sound,omitempty"`
	Priority PushPriority      `json:"priority,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
}

// PushTicketStatus tags the two shapes a provider ticket can take.
type PushTicketStatus string

const (
	PushStatusOK    PushTicketStatus = "ok"
	PushStatusError PushTicketStatus = "error"
)

// PushErrorCode enumerates the provider error details this service reacts to.
// Codes are validated at the adapter boundary so nothing downstream inspects
// raw provider JSON.
type PushErrorCode string

// PushErrorDeviceNotRegistered means the provider has confirmed the token
// will never receive further notifications. It is auto-remediated by clearing
// the subscriber's token rather than surfaced as an operator error.
const PushErrorDeviceNotRegistered PushErrorCode = "DeviceNotRegistered"

// PushTicket is the provider's immediate answer for one submitted message:
// accepted with a receipt id, or rejected with a reason.
type PushTicket struct {
	Status    PushTicketStatus `json:"status"`
	ReceiptID string           `json:"id,omitempty"`
	Message   string           `json:"message,omitempty"`
	ErrorCode PushErrorCode    `json:"error_code,omitempty"`
}

// Accepted reports whether the message was accepted for delivery.
func (t PushTicket) Accepted() bool {
	return t.Status == PushStatusOK && t.ReceiptID != ""
}

// PushReceipt is the provider's asynchronous delivery confirmation for a
// previously accepted message.
type PushReceipt struct {
	Status    PushTicketStatus `json:"status"`
	Message   string           `json:"message,omitempty"`
	ErrorCode PushErrorCode    `json:"error_code,omitempty"`
}

// Delivered reports whether the notification reached the device.
func (r PushReceipt) Delivered() bool {
	return r.Status == PushStatusOK
}

// DeviceNotRegistered reports whether the provider declared the target token
// permanently dead.
func (r PushReceipt) DeviceNotRegistered() bool {
	return r.Status == PushStatusError && r.ErrorCode == PushErrorDeviceNotRegistered
}

// SMSResult is the SMS provider's synchronous acknowledgement of one send.
type SMSResult struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}
