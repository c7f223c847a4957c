package model

// RoutingDecision is where an inbound message lands.
type RoutingDecision struct {
	ConversationID string        `json:"conversationId"`
	UserID         string        `json:"userId"`
	Source         RoutingSource `json:"source"`
}

// InboundMessage is the normalized form of a webhook delivery.
type InboundMessage struct {
	From        string
	Body        string
	ProfileName string
	MessageSID  string
}
