package notify

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestSubjectFor(t *testing.T) {
	cases := []struct {
		topic string
		want  string
	}{
		{TopicContractCreated, "Your speaking engagement contract CTR-20260310-0042 is ready"},
		{TopicContractDispatched, "Contract CTR-20260310-0042 is ready for your signature"},
		{TopicContractSigned, "A signature was recorded on contract CTR-20260310-0042"},
		{TopicContractExecuted, "Contract CTR-20260310-0042 is fully executed"},
		{TopicContractCancelled, "Contract CTR-20260310-0042 has been cancelled"},
		{"contract.unknown", "Update on contract CTR-20260310-0042"},
	}
	for _, tc := range cases {
		if got := SubjectFor(tc.topic, "CTR-20260310-0042"); got != tc.want {
			t.Errorf("SubjectFor(%q) = %q, want %q", tc.topic, got, tc.want)
		}
	}
}

func TestPayloadRoundtrip(t *testing.T) {
	msg := Message{
		ContractID:     "contract-1",
		ContractNumber: "CTR-20260310-0042",
		Recipient:      "jordan@northwind.example",
		Subject:        SubjectFor(TopicContractCreated, "CTR-20260310-0042"),
		Text:           "SPEAKING ENGAGEMENT AGREEMENT\n",
		HTML:           "<article><h1>Agreement</h1></article>",
	}

	// The outbox stores Payload() as jsonb and the drainer unmarshals it back
	// into a Message. The two shapes have to agree.
	raw, err := json.Marshal(msg.Payload())
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var decoded Message
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded != msg {
		t.Errorf("payload roundtrip changed the message:\ngot  %+v\nwant %+v", decoded, msg)
	}
}

func TestPayloadOmitsEmptyBodies(t *testing.T) {
	payload := Message{
		ContractID:     "contract-1",
		ContractNumber: "CTR-20260310-0042",
		Recipient:      "jordan@northwind.example",
		Subject:        "subject",
	}.Payload()

	if _, ok := payload["text"]; ok {
		t.Error("empty text must not appear in the payload")
	}
	if _, ok := payload["html"]; ok {
		t.Error("empty html must not appear in the payload")
	}
}

func TestLogDispatcherNeverFails(t *testing.T) {
	d := &LogDispatcher{}
	msg := Message{Recipient: "jordan@northwind.example", Subject: "subject"}
	if err := d.Send(context.Background(), TopicContractCreated, msg); err != nil {
		t.Fatalf("log dispatcher: %v", err)
	}
}

func TestTopicsShareNamespace(t *testing.T) {
	topics := []string{
		TopicContractCreated,
		TopicContractDispatched,
		TopicContractSigned,
		TopicContractExecuted,
		TopicContractCancelled,
	}
	seen := map[string]bool{}
	for _, topic := range topics {
		if !strings.HasPrefix(topic, "contract.") {
			t.Errorf("topic %q outside the contract namespace", topic)
		}
		if seen[topic] {
			t.Errorf("duplicate topic %q", topic)
		}
		seen[topic] = true
	}
}
