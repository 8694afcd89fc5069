package notify

import (
	"encoding/json"
	"time"
)

// envelope is the JSON body shared by the machine-to-machine channels
// (webhook, mqtt, kafka).
type envelope struct {
	ReleaseID string            `json:"releaseId"`
	To        string            `json:"to"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Document  *envelopeDocument `json:"document,omitempty"`
	SentAt    time.Time         `json:"sentAt"`
}

type envelopeDocument struct {
	Name   string `json:"name"`
	URL    string `json:"url,omitempty"`
	Size   int64  `json:"size,omitempty"`
	Digest string `json:"digest,omitempty"`
}

func newEnvelope(to string, msg Message) envelope {
	e := envelope{
		ReleaseID: msg.ReleaseID,
		To:        to,
		Subject:   msg.Subject,
		Body:      msg.Body,
		SentAt:    time.Now().UTC(),
	}
	if a := msg.Attachment; a != nil {
		e.Document = &envelopeDocument{Name: a.Name, URL: a.URL, Size: a.Size, Digest: a.Digest}
	}
	return e
}

func (e envelope) marshal() ([]byte, error) { return json.Marshal(e) }
