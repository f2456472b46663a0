package deal

import "time"

// Status tracks a deal through the sales pipeline as far as this module
// cares: only accepted deals can be projected into a contract.
type Status string

const (
	StatusOpen       Status = "open"
	StatusAccepted   Status = "accepted"
	StatusContracted Status = "contracted"
	StatusLost       Status = "lost"
)

// Deal mirrors the deals table columns the contract projection reads. The
// deal lifecycle itself is owned by the CRM pipeline, not by this module.
type Deal struct {
	ID            string
	Status        Status
	ClientName    string
	ClientEmail   string
	ClientCompany string
	EventTitle    string
	EventDate     time.Time
	EventLocation string
	EventType     string
	FeeAmount     float64
	Currency      string
	SpeakerName   string
	SpeakerEmail  string
	SpeakerFee    float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
