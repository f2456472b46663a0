package notify

import "fmt"

// Outbox topics emitted by the contract lifecycle. Each maps to one
// notification a downstream dispatcher delivers.
const (
	TopicContractCreated    = "contract.created"
	TopicContractDispatched = "contract.dispatched"
	TopicContractSigned     = "contract.signed"
	TopicContractExecuted   = "contract.fully_executed"
	TopicContractCancelled  = "contract.cancelled"
)

// Message is the rendered notification content enqueued on the outbox. The
// lifecycle core supplies recipient and content only; delivery, retries and
// provider configuration belong to the dispatcher.
type Message struct {
	ContractID     string `json:"contract_id"`
	ContractNumber string `json:"contract_number"`
	Recipient      string `json:"recipient"`
	Subject        string `json:"subject"`
	Text           string `json:"text,omitempty"`
	HTML           string `json:"html,omitempty"`
}

// Payload flattens the message into the outbox payload shape.
func (m Message) Payload() map[string]any {
	payload := map[string]any{
		"contract_id":     m.ContractID,
		"contract_number": m.ContractNumber,
		"recipient":       m.Recipient,
		"subject":         m.Subject,
	}
	if m.Text != "" {
		payload["text"] = m.Text
	}
	if m.HTML != "" {
		payload["html"] = m.HTML
	}
	return payload
}

// SubjectFor builds the human-facing subject line for a lifecycle topic.
func SubjectFor(topic, contractNumber string) string {
	switch topic {
	case TopicContractCreated:
		return fmt.Sprintf("Your speaking engagement contract %s is ready", contractNumber)
	case TopicContractDispatched:
		return fmt.Sprintf("Contract %s is ready for your signature", contractNumber)
	case TopicContractSigned:
		return fmt.Sprintf("A signature was recorded on contract %s", contractNumber)
	case TopicContractExecuted:
		return fmt.Sprintf("Contract %s is fully executed", contractNumber)
	case TopicContractCancelled:
		return fmt.Sprintf("Contract %s has been cancelled", contractNumber)
	default:
		return fmt.Sprintf("Update on contract %s", contractNumber)
	}
}
