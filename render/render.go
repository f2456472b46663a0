package render

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
)

// Snapshot carries the frozen contract fields the renderer substitutes into a
// template. It is independent of storage types so rendering stays a pure
// function of its inputs.
type Snapshot struct {
	ContractNumber  string
	GeneratedAt     time.Time
	ExpiresAt       time.Time
	ClientName      string
	ClientCompany   string
	ClientEmail     string
	SpeakerName     string
	SpeakerEmail    string
	EventTitle      string
	EventDate       time.Time
	EventLocation   string
	EventType       string
	FeeAmount       float64
	Currency        string
	PaymentTerms    string
	AdditionalTerms string
}

// Rendered holds both output formats of a single render pass. Text is the
// canonical form persisted on a contract version; HTML is the on-screen
// preview produced by the identical substitution.
type Rendered struct {
	Text string
	HTML string
}

// MissingFieldError reports a field reference the value map could not
// resolve. It is fatal for the render call: an unresolved reference must
// never leak into contract text.
type MissingFieldError struct {
	Field   Field
	Section string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("render: no value for field %q in section %q", e.Field, e.Section)
}

const (
	sentinelTBD = "TBD"
	sentinelNA  = "N/A"
)

// Values flattens a snapshot into the field map consumed by Render. Optional
// values that are absent map to explicit sentinels rather than empty strings.
func Values(s Snapshot) map[Field]string {
	return map[Field]string{
		FieldContractNumber:  orSentinel(s.ContractNumber, sentinelTBD),
		FieldGeneratedDate:   formatDate(s.GeneratedAt),
		FieldExpirationDate:  formatDate(s.ExpiresAt),
		FieldClientName:      orSentinel(s.ClientName, sentinelTBD),
		FieldClientCompany:   orSentinel(s.ClientCompany, s.ClientName),
		FieldClientEmail:     orSentinel(s.ClientEmail, sentinelTBD),
		FieldSpeakerName:     orSentinel(s.SpeakerName, sentinelTBD),
		FieldSpeakerEmail:    orSentinel(s.SpeakerEmail, sentinelTBD),
		FieldEventTitle:      orSentinel(s.EventTitle, sentinelTBD),
		FieldEventDate:       formatDate(s.EventDate),
		FieldEventLocation:   orSentinel(s.EventLocation, sentinelTBD),
		FieldEventType:       orSentinel(s.EventType, "in-person"),
		FieldFeeAmount:       formatMoney(s.FeeAmount),
		FieldCurrency:        orSentinel(s.Currency, "USD"),
		FieldPaymentTerms:    orSentinel(s.PaymentTerms, "Net 30 days from event date"),
		FieldAdditionalTerms: orSentinel(strings.TrimSpace(s.AdditionalTerms), sentinelNA),
	}
}

// Render substitutes the snapshot into the template and returns the canonical
// text plus the HTML preview. Identical inputs always produce byte-identical
// output; section and segment order is fixed by the template.
func Render(tpl Template, snap Snapshot) (Rendered, error) {
	values := Values(snap)

	var txt strings.Builder
	var htm strings.Builder

	htm.WriteString("<article class=\"contract\">\n")
	for i, sec := range tpl.Sections {
		if i > 0 {
			txt.WriteString("\n\n")
		}
		txt.WriteString(strings.ToUpper(sec.Title))
		txt.WriteString("\n")

		htm.WriteString("<section id=\"")
		htm.WriteString(html.EscapeString(sec.ID))
		htm.WriteString("\">\n<h2>")
		htm.WriteString(html.EscapeString(sec.Title))
		htm.WriteString("</h2>\n<p>")

		for _, seg := range sec.Segments {
			if seg.isField() {
				v, ok := values[seg.Field]
				if !ok {
					return Rendered{}, &MissingFieldError{Field: seg.Field, Section: sec.ID}
				}
				txt.WriteString(v)
				htm.WriteString(html.EscapeString(v))
				continue
			}
			txt.WriteString(seg.Literal)
			htm.WriteString(html.EscapeString(seg.Literal))
		}

		htm.WriteString("</p>\n</section>\n")
	}
	htm.WriteString("</article>\n")

	return Rendered{
		Text: normalizeText(txt.String()),
		HTML: htm.String(),
	}, nil
}

// formatDate renders a timestamp as long-form prose, e.g. "March 14, 2026".
// A zero time maps to the TBD sentinel rather than an epoch date.
func formatDate(t time.Time) string {
	if t.IsZero() {
		return sentinelTBD
	}
	return t.Format("January 2, 2006")
}

// formatMoney renders an amount with thousands separators and two decimals,
// e.g. 12500 -> "12,500.00".
func formatMoney(amount float64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	s := strconv.FormatFloat(amount, 'f', 2, 64)
	dot := strings.IndexByte(s, '.')
	whole, frac := s[:dot], s[dot:]

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteString(frac)
	return b.String()
}

func orSentinel(v, sentinel string) string {
	if v == "" {
		return sentinel
	}
	return v
}

// normalizeText canonicalises line endings and trims trailing whitespace so
// two renders of the same snapshot compare byte-for-byte.
func normalizeText(in string) string {
	s := strings.ReplaceAll(in, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n") + "\n"
}
