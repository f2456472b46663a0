package render

import "fmt"

// Field names a merge value the renderer substitutes into section text.
type Field string

const (
	FieldContractNumber  Field = "contract_number"
	FieldGeneratedDate   Field = "generated_date"
	FieldExpirationDate  Field = "expiration_date"
	FieldClientName      Field = "client_name"
	FieldClientCompany   Field = "client_company"
	FieldClientEmail     Field = "client_email"
	FieldSpeakerName     Field = "speaker_name"
	FieldSpeakerEmail    Field = "speaker_email"
	FieldEventTitle      Field = "event_title"
	FieldEventDate       Field = "event_date"
	FieldEventLocation   Field = "event_location"
	FieldEventType       Field = "event_type"
	FieldFeeAmount       Field = "fee_amount"
	FieldPaymentTerms    Field = "payment_terms"
	FieldCurrency        Field = "currency"
	FieldAdditionalTerms Field = "additional_terms"
)

// Modality selects which template variant applies to an engagement.
type Modality string

const (
	ModalityVirtual  Modality = "virtual"
	ModalityInPerson Modality = "in_person"
)

// Segment is one ordered piece of a section body: literal prose or a field
// reference resolved at render time. Modelling bodies as segments lets the
// library validate field coverage statically instead of scanning prose for
// placeholder syntax at render time.
type Segment struct {
	Literal string
	Field   Field
}

func text(s string) Segment { return Segment{Literal: s} }
func field(f Field) Segment { return Segment{Field: f} }

func (s Segment) isField() bool { return s.Field != "" }

// Section is a named, ordered block of contract prose.
type Section struct {
	ID       string
	Title    string
	Segments []Segment
}

// Fields returns the fields referenced by this section in order of first use.
func (s Section) Fields() []Field {
	seen := map[Field]bool{}
	out := []Field{}
	for _, seg := range s.Segments {
		if seg.isField() && !seen[seg.Field] {
			seen[seg.Field] = true
			out = append(out, seg.Field)
		}
	}
	return out
}

// Template is an ordered list of sections for one engagement modality.
type Template struct {
	Name     string
	Modality Modality
	Sections []Section
}

// Validate checks that every field referenced by the template belongs to the
// known vocabulary, so an unresolvable reference is caught at startup rather
// than mid-render of a legal document.
func (t Template) Validate() error {
	for _, sec := range t.Sections {
		if sec.ID == "" || sec.Title == "" {
			return fmt.Errorf("render: template %s: section missing id or title", t.Name)
		}
		if len(sec.Segments) == 0 {
			return fmt.Errorf("render: template %s: section %s has no content", t.Name, sec.ID)
		}
		for _, f := range sec.Fields() {
			if !knownFields[f] {
				return fmt.Errorf("render: template %s: section %s references unknown field %q", t.Name, sec.ID, f)
			}
		}
	}
	return nil
}

// Fields returns every field the template references across all sections.
func (t Template) Fields() []Field {
	seen := map[Field]bool{}
	out := []Field{}
	for _, sec := range t.Sections {
		for _, f := range sec.Fields() {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

var knownFields = map[Field]bool{
	FieldContractNumber:  true,
	FieldGeneratedDate:   true,
	FieldExpirationDate:  true,
	FieldClientName:      true,
	FieldClientCompany:   true,
	FieldClientEmail:     true,
	FieldSpeakerName:     true,
	FieldSpeakerEmail:    true,
	FieldEventTitle:      true,
	FieldEventDate:       true,
	FieldEventLocation:   true,
	FieldEventType:       true,
	FieldFeeAmount:       true,
	FieldPaymentTerms:    true,
	FieldCurrency:        true,
	FieldAdditionalTerms: true,
}

// ModalityForEventType maps an event type string onto a template modality.
// Virtual-style events select the virtual template; anything else, including
// an empty type, falls back to the in-person template.
func ModalityForEventType(eventType string) Modality {
	switch eventType {
	case "virtual", "webinar", "online":
		return ModalityVirtual
	default:
		return ModalityInPerson
	}
}

// TemplateForModality returns the library template for the given modality.
func TemplateForModality(m Modality) Template {
	if m == ModalityVirtual {
		return virtualTemplate
	}
	return inPersonTemplate
}

func partiesSection() Section {
	return Section{
		ID:    "parties",
		Title: "Parties",
		Segments: []Segment{
			text("This Speaking Engagement Agreement (Contract No. "), field(FieldContractNumber),
			text(") is entered into on "), field(FieldGeneratedDate),
			text(" between "), field(FieldClientCompany),
			text(", represented by "), field(FieldClientName),
			text(" (\"Client\", "), field(FieldClientEmail),
			text("), and "), field(FieldSpeakerName),
			text(" (\"Speaker\", "), field(FieldSpeakerEmail),
			text("). This agreement expires if not fully executed by "), field(FieldExpirationDate),
			text("."),
		},
	}
}

func engagementSection() Section {
	return Section{
		ID:    "engagement",
		Title: "Engagement",
		Segments: []Segment{
			text("The Speaker agrees to deliver a presentation at \""), field(FieldEventTitle),
			text("\" ("), field(FieldEventType),
			text(") on "), field(FieldEventDate),
			text(" at "), field(FieldEventLocation),
			text(". The scope of the engagement includes the agreed presentation and a reasonable question-and-answer period."),
		},
	}
}

func compensationSection() Section {
	return Section{
		ID:    "compensation",
		Title: "Compensation",
		Segments: []Segment{
			text("The Client shall pay the Speaker a fee of "), field(FieldFeeAmount),
			text(" "), field(FieldCurrency),
			text(" for the engagement described above. Payment terms: "), field(FieldPaymentTerms),
			text("."),
		},
	}
}

func additionalTermsSection() Section {
	return Section{
		ID:    "additional_terms",
		Title: "Additional Terms",
		Segments: []Segment{
			field(FieldAdditionalTerms),
		},
	}
}

var inPersonTemplate = Template{
	Name:     "speaking-engagement/in-person",
	Modality: ModalityInPerson,
	Sections: []Section{
		partiesSection(),
		engagementSection(),
		compensationSection(),
		{
			ID:    "travel",
			Title: "Travel and Accommodation",
			Segments: []Segment{
				text("The Client shall arrange and bear the cost of the Speaker's reasonable travel to and accommodation at "), field(FieldEventLocation),
				text(", including ground transportation between the venue and accommodation. Travel arrangements shall be confirmed no later than fourteen (14) days before "), field(FieldEventDate),
				text("."),
			},
		},
		{
			ID:    "cancellation",
			Title: "Cancellation",
			Segments: []Segment{
				text("Either party may cancel this engagement with written notice. If the Client cancels within thirty (30) days of "), field(FieldEventDate),
				text(", fifty percent (50%) of the fee is payable; within fourteen (14) days, the full fee is payable together with non-refundable travel costs already incurred."),
			},
		},
		{
			ID:    "intellectual_property",
			Title: "Intellectual Property",
			Segments: []Segment{
				text("All presentation materials remain the property of the Speaker. The Client may photograph and record the on-site presentation for internal archival use only; public distribution of recordings requires the Speaker's prior written consent."),
			},
		},
		{
			ID:    "general",
			Title: "General Terms",
			Segments: []Segment{
				text("The Speaker shall arrive at the venue at least sixty (60) minutes before the scheduled start. The Client provides standard stage, audio, and projection facilities. This agreement constitutes the entire understanding between "), field(FieldClientCompany),
				text(" and the Speaker regarding the engagement."),
			},
		},
		additionalTermsSection(),
	},
}

var virtualTemplate = Template{
	Name:     "speaking-engagement/virtual",
	Modality: ModalityVirtual,
	Sections: []Section{
		partiesSection(),
		engagementSection(),
		compensationSection(),
		{
			ID:    "technical",
			Title: "Technical Requirements",
			Segments: []Segment{
				text("The Speaker shall deliver the presentation remotely over a video platform designated by the Client for \""), field(FieldEventTitle),
				text("\". The Speaker provides a stable internet connection, camera, and microphone, and shall join a technical rehearsal no later than forty-eight (48) hours before "), field(FieldEventDate),
				text(". The Client operates the hosting platform and manages attendee access."),
			},
		},
		{
			ID:    "cancellation",
			Title: "Cancellation",
			Segments: []Segment{
				text("Either party may cancel this engagement with written notice. If the Client cancels within fourteen (14) days of "), field(FieldEventDate),
				text(", fifty percent (50%) of the fee is payable; within seventy-two (72) hours, the full fee is payable. A cancelled session may be rescheduled once at no additional charge within ninety (90) days."),
			},
		},
		{
			ID:    "intellectual_property",
			Title: "Intellectual Property",
			Segments: []Segment{
				text("All presentation materials remain the property of the Speaker. The Client may record the virtual presentation and replay it to registered attendees for up to twelve (12) months; any other distribution requires the Speaker's prior written consent."),
			},
		},
		{
			ID:    "general",
			Title: "General Terms",
			Segments: []Segment{
				text("The Speaker shall join the virtual session at least fifteen (15) minutes before the scheduled start. Outage of the Client's hosting platform does not constitute a breach by the Speaker. This agreement constitutes the entire understanding between "), field(FieldClientCompany),
				text(" and the Speaker regarding the engagement."),
			},
		},
		additionalTermsSection(),
	},
}
