package relay

import "time"

// Wire types for the message relay. The relay is a separate process; weft
// speaks to it over local HTTP with JSON bodies and treats it as unreliable
// by default.

// Message is one relay message as delivered to an inbox.
type Message struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterRequest announces an agent to the relay.
type RegisterRequest struct {
	Agent        string   `json:"agent"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// RegisterResponse carries the relay-assigned session.
type RegisterResponse struct {
	SessionID string `json:"session_id"`
}

// SendRequest publishes a message to a topic or directly to an agent.
type SendRequest struct {
	From  string `json:"from"`
	Topic string `json:"topic,omitempty"`
	To    string `json:"to,omitempty"`
	Body  string `json:"body"`
}

// SendResponse acknowledges a publish.
type SendResponse struct {
	MessageID string `json:"message_id"`
}

// FetchInboxRequest pulls pending messages for an agent.
type FetchInboxRequest struct {
	Agent string `json:"agent"`
	Max   int    `json:"max,omitempty"`
}

// FetchInboxResponse is the agent's pending messages, oldest first.
type FetchInboxResponse struct {
	Messages []Message `json:"messages"`
}

// AcknowledgeRequest marks messages as consumed.
type AcknowledgeRequest struct {
	Agent      string   `json:"agent"`
	MessageIDs []string `json:"message_ids"`
}

// AcknowledgeResponse reports how many messages were acknowledged.
type AcknowledgeResponse struct {
	Acknowledged int `json:"acknowledged"`
}

// ReserveTopicRequest claims a topic for exclusive publishing.
type ReserveTopicRequest struct {
	Agent string        `json:"agent"`
	Topic string        `json:"topic"`
	TTL   time.Duration `json:"ttl,omitempty"`
}

// ReserveTopicResponse reports the claim outcome. A conflict is data, not
// an error: Granted false with the current holder named.
type ReserveTopicResponse struct {
	Granted   bool      `json:"granted"`
	Holder    string    `json:"holder,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// ReleaseTopicRequest gives a claimed topic back.
type ReleaseTopicRequest struct {
	Agent string `json:"agent"`
	Topic string `json:"topic"`
}

// ReleaseTopicResponse acknowledges the release.
type ReleaseTopicResponse struct {
	Released bool `json:"released"`
}

// SummarizeThreadRequest asks the relay for a digest of a topic's history.
type SummarizeThreadRequest struct {
	Topic string `json:"topic"`
	Max   int    `json:"max,omitempty"`
}

// SummarizeThreadResponse carries the digest.
type SummarizeThreadResponse struct {
	Summary      string `json:"summary"`
	MessageCount int    `json:"message_count"`
}

// errorResponse is the relay's error body shape.
type errorResponse struct {
	Error string `json:"error"`
}
