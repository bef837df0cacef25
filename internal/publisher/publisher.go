// Package publisher defines the message shape shared by lifecycle notification
// publishers.
package publisher

// Message is one notification handed to a publisher. Payload is marshaled to
// JSON; Attributes travel as message metadata.
type Message struct {
	Topic       string
	OrderingKey string
	Attributes  map[string]string
	Payload     any
}
