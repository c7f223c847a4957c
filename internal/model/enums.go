package model

type PairingStatus string

const (
	PairingStatusPending  PairingStatus = "pending"
	PairingStatusLinked   PairingStatus = "linked"
	PairingStatusExpired  PairingStatus = "expired"
	PairingStatusCanceled PairingStatus = "canceled"
)

var PairingStatuses = []string{
	string(PairingStatusPending),
	string(PairingStatusLinked),
	string(PairingStatusExpired),
	string(PairingStatusCanceled),
}

type RoutingSource string

const (
	RoutingSourceLinkedDevice RoutingSource = "linked-device"
	RoutingSourceDefaultRoute RoutingSource = "default-route"
)

// DispatchPath names the downstream that produces a reply.
type DispatchPath string

const (
	DispatchPathAgent DispatchPath = "agent"
	DispatchPathSkill DispatchPath = "skill"
)
