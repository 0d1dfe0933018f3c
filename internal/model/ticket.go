package model

import (
	"encoding/json"
	"regexp"
	"time"
)

// Ticket statuses as reported by the upstream API. The API spells
// "canceled" with one l; both spellings show up in historical payloads.
const (
	TicketStatusValid     = "valid"
	TicketStatusCanceled  = "canceled"
	TicketStatusCancelled = "cancelled"
	TicketStatusRefunded  = "refunded"
)

// Ticket is the last-known snapshot of one sold ticket. The identifier
// fields and label fields are extracted from the upstream payload; the
// filtered payload itself is kept verbatim in Payload.
type Ticket struct {
	TicketID     FlexID  `json:"ticket_id" db:"ticket_id"`
	OrderID      FlexID  `json:"order_id" db:"order_id"`
	ProductID    FlexID  `json:"product_id" db:"product_id"`
	EventID      FlexID  `json:"event_id" db:"event_id"`
	EventName    string  `json:"event_name" db:"event_name"`
	Title        string  `json:"ticket_title" db:"ticket_title"`
	SubCategory  string  `json:"ticket_sub_category" db:"-"`
	Status       string  `json:"ticket_status" db:"ticket_status"`
	Price        float64 `json:"ticket_price" db:"ticket_price"`
	Channel      string  `json:"channel" db:"channel"`
	BuyerCountry string  `json:"buyer_country" db:"buyer_country"`
	BuyerCity    string  `json:"buyer_city" db:"buyer_city"`
	OrderedAt    string  `json:"ordered_at" db:"ordered_at"`
	RedeemedAt   string  `json:"ticket_redeemed_at" db:"ticket_redeemed_at"`
	CancelledAt  string  `json:"cancelled_at" db:"cancelled_at"`

	// Payload is the raw upstream record with buyer PII removed.
	Payload []byte `json:"-" db:"ticket_data"`

	FirstSeenAt   time.Time `json:"-" db:"first_seen_at"`
	LastUpdatedAt time.Time `json:"-" db:"last_updated_at"`
}

// IsValid reports whether the ticket counts as sold.
func (t *Ticket) IsValid() bool {
	return t.Status == TicketStatusValid
}

// IsRefunded reports whether the ticket counts toward the refund total.
func (t *Ticket) IsRefunded() bool {
	switch t.Status {
	case TicketStatusRefunded, TicketStatusCanceled, TicketStatusCancelled:
		return true
	}
	return false
}

// IsRedeemed reports whether the ticket was scanned at the door.
func (t *Ticket) IsRedeemed() bool {
	return t.RedeemedAt != ""
}

var numericTitle = regexp.MustCompile(`^\d{3,}`)

// NormalizedTitle returns the label value for the ticket_title dimension.
// Some organizers use bare numeric codes as titles; those collapse into a
// useless label, so the sub-category is preferred when the title starts
// with three or more digits.
func (t *Ticket) NormalizedTitle() string {
	title := t.Title
	if title == "" {
		return "Unknown Ticket"
	}
	if numericTitle.MatchString(title) && t.SubCategory != "" {
		return t.SubCategory
	}
	return title
}

// LabelEventID returns the event_id label value, never empty.
func (t *Ticket) LabelEventID() string {
	if t.EventID == "" {
		return "unknown"
	}
	return t.EventID.String()
}

// LabelEventName returns the event_name label value, never empty.
func (t *Ticket) LabelEventName() string {
	if t.EventName == "" {
		return "Unknown Event"
	}
	return t.EventName
}

// LabelChannel returns the channel label value, never empty.
func (t *Ticket) LabelChannel() string {
	if t.Channel == "" {
		return "unknown"
	}
	return t.Channel
}

// personalFields are stripped from the raw payload before it is persisted.
// The exporter only ever needs aggregate numbers; buyer identity has no
// business being on disk.
var personalFields = []string{
	"buyer_email",
	"buyer_phone",
	"buyer_first_name",
	"buyer_last_name",
	"buyer_gender",
	"buyer_birthday",
	"buyer_company_name",
	"buyer_newsletter_optin",
}

// FilterPersonalData removes buyer PII from a raw upstream ticket record
// and returns the re-encoded payload.
func FilterPersonalData(raw map[string]any) ([]byte, error) {
	for _, field := range personalFields {
		delete(raw, field)
	}
	return json.Marshal(raw)
}
