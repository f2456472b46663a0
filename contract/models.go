package contract

import "time"

// Status is the lifecycle state of a contract record.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusSent            Status = "sent"
	StatusClientSigned    Status = "client_signed"
	StatusSpeakerSigned   Status = "speaker_signed"
	StatusPartiallySigned Status = "partially_signed"
	StatusFullyExecuted   Status = "fully_executed"
	StatusCancelled       Status = "cancelled"
)

// SignerType identifies which signature slot and signing token applies.
type SignerType string

const (
	SignerClient  SignerType = "client"
	SignerSpeaker SignerType = "speaker"
	SignerAdmin   SignerType = "admin"
)

// SignatureMethod records how a signature was captured.
type SignatureMethod string

const (
	MethodDigitalPad SignatureMethod = "digital_pad"
	MethodElectronic SignatureMethod = "electronic"
	MethodWet        SignatureMethod = "wet"
)

// TokenRole distinguishes the three bearer tokens minted per contract.
type TokenRole string

const (
	TokenAccess         TokenRole = "access"
	TokenClientSigning  TokenRole = "client_signing"
	TokenSpeakerSigning TokenRole = "speaker_signing"
)

// ClientSnapshot freezes the client-side fields at contract creation.
type ClientSnapshot struct {
	Name    string
	Email   string
	Company string
}

// SpeakerSnapshot freezes the speaker-side fields at contract creation.
type SpeakerSnapshot struct {
	Name  string
	Email string
	Fee   float64
}

// EventSnapshot freezes the engagement details at contract creation.
type EventSnapshot struct {
	Title    string
	Date     time.Time
	Location string
	Type     string
}

// Terms captures the financial terms of the engagement.
type Terms struct {
	FeeAmount    float64
	PaymentTerms string
	Currency     string
}

// Tokens holds the three independent bearer tokens for a contract. Each
// grants exactly its role's capability: access is read-only preview, the
// signing tokens additionally authorize that role's signature submission.
type Tokens struct {
	Access         string
	ClientSigning  string
	SpeakerSigning string
}

// Record mirrors the contracts table. ContractNumber is the human-facing
// identifier; ID is the true identity key.
type Record struct {
	ID             string
	DealID         *string
	ContractNumber string
	Title          string
	Modality       string
	Status         Status

	Terms   Terms
	Event   EventSnapshot
	Client  ClientSnapshot
	Speaker SpeakerSnapshot

	Tokens Tokens

	GeneratedAt     time.Time
	SentAt          *time.Time
	ClientSignedAt  *time.Time
	SpeakerSignedAt *time.Time
	CompletedAt     *time.Time
	ExpiresAt       time.Time

	Metadata map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the contract's signing window has closed. Expiry is
// advisory: callers compare against their own clock, nothing flips the status.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Version is one append-only rendered snapshot of the contract terms.
type Version struct {
	ID            string
	ContractID    string
	VersionNumber int
	TermsText     string
	ChangeSummary string
	CreatedAt     time.Time
}

// Signature is the active signature for one (contract, signer role) slot.
// Resubmission for the same role overwrites in place.
type Signature struct {
	ID          string
	ContractID  string
	SignerType  SignerType
	SignerName  string
	SignerEmail string
	SignerTitle string
	Payload     string
	Method      SignatureMethod
	SignedAt    time.Time
	OriginAddr  string
	OriginAgent string
	Verified    bool
}

// SignerDetails is the identity a signer asserts at submission time.
type SignerDetails struct {
	Name  string
	Email string
	Title string
}

// OriginMetadata records where a signature submission came from.
type OriginMetadata struct {
	Address string
	Client  string
}

// CreateParams is the input to contract creation, assembled from an accepted
// deal snapshot plus optional speaker and signer overrides.
type CreateParams struct {
	DealID          *string
	Title           string
	Client          ClientSnapshot
	Speaker         SpeakerSnapshot
	Event           EventSnapshot
	FeeAmount       float64
	PaymentTerms    string
	Currency        string
	AdditionalTerms string
	Metadata        map[string]any
}

// SignatureResult is returned by signature recording.
type SignatureResult struct {
	SignatureID           string
	ContractFullyExecuted bool
	Status                Status
}
