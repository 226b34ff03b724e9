// Package iso manages Bluetooth LE isochronous channels on the host side:
// connected isochronous groups and streams (CIG/CIS) for unicast audio and
// broadcast isochronous groups and streams (BIG/BIS) for broadcast audio.
//
// The Manager tracks stream lifecycle driven by asynchronous controller
// events, shares the controller's ISO buffer credits across all active
// streams, and demultiplexes inbound ISO data to per-stream sequence-loss
// accounting.
//
// Except for traffic observer registration, the Manager is confined to one
// execution context: all operations, completion callbacks and data-path calls
// must run on the single goroutine that drives HCI events. This mirrors the
// handler-bound design of the controller stack it talks to and removes the
// need for locking around the stream table and credit counters.
package iso

import "github.com/srg/isoch/hciev"

// Transport is the HCI boundary the manager drives. EnqueueCommand submits a
// command asynchronously; onComplete, when non-nil, is invoked exactly once
// with the completion return parameters, on the manager's execution context.
// SendData transmits one outbound ISO data packet.
type Transport interface {
	EnqueueCommand(opcode uint16, params []byte, onComplete func(ret []byte))
	SendData(pkt []byte) error
}

// BufferInfo carries the controller's ISO buffer capabilities, discovered via
// LE Read Buffer Size V2 before the manager is constructed.
type BufferInfo struct {
	Credits    uint16 // total number of ISO data packets the controller can hold
	BufferSize uint16 // maximum ISO data packet payload length
}

// AddressResolver maps an ACL connection handle to a printable peer address.
// It is consulted at EstablishCis time purely to enrich logs and diagnostics.
type AddressResolver func(aclHandle uint16) (addr string, ok bool)

// CisConfig is the per-stream portion of the CIG parameters.
type CisConfig struct {
	CisID      uint8
	MaxSduMToS uint16
	MaxSduSToM uint16
	PhyMToS    uint8
	PhySToM    uint8
	RtnMToS    uint8
	RtnSToM    uint8
}

// CigParams are the group parameters for CreateCig and ReconfigureCig.
type CigParams struct {
	SduIntervalMToS uint32 // microseconds; echoed into every member stream
	SduIntervalSToM uint32
	SCA             uint8
	Packing         uint8
	Framing         uint8
	MaxLatencyMToS  uint16 // milliseconds
	MaxLatencySToM  uint16
	CisConfigs      []CisConfig
}

// CisPair names one CIS to establish together with the ACL link it rides on.
type CisPair struct {
	CisHandle uint16
	AclHandle uint16
}

// CisEstablishParams are the arguments of EstablishCis.
type CisEstablishParams struct {
	Pairs []CisPair
}

// BigParams are the group parameters for CreateBig.
type BigParams struct {
	AdvHandle     uint8
	NumBis        uint8
	SduInterval   uint32 // microseconds
	MaxSdu        uint16
	MaxLatency    uint16
	Rtn           uint8
	Phy           uint8
	Packing       uint8
	Framing       uint8
	Encryption    uint8
	BroadcastCode [16]byte
}

// Data path directions of LE Setup ISO Data Path.
const (
	DataPathDirectionIn  = 0x00 // host to controller
	DataPathDirectionOut = 0x01 // controller to host
)

// DataPathParams configure SetupDataPath.
type DataPathParams struct {
	Direction       uint8
	PathID          uint8
	CodecFormat     uint8
	CodecCompany    uint16
	CodecVendor     uint16
	ControllerDelay uint32 // microseconds, three bytes on the wire
	CodecConfig     []byte
}

// CisEstablishedEvent reports the outcome of a CIS establishment attempt.
type CisEstablishedEvent struct {
	hciev.CisEstablished
	CigID uint8
}

// CisDisconnectedEvent reports a CIS teardown.
type CisDisconnectedEvent struct {
	Reason        uint8
	CigID         uint8
	CisConnHandle uint16
}

// DataEvent is one received ISO SDU with its loss accounting.
type DataEvent struct {
	CisConnHandle uint16
	CigID         uint8
	Timestamp     uint32 // zero when the packet carried no timestamp
	SeqNb         uint16
	Lost          uint16 // events lost before this one, modulo 2^16
	Data          []byte
}

// CigCallbacks receives unicast group outcomes. Registered once; invoked on
// the manager's execution context in controller order per handle.
type CigCallbacks interface {
	OnCigCreateComplete(evt hciev.CigCreateComplete)
	OnCigReconfigureComplete(evt hciev.CigCreateComplete)
	OnCigRemoveComplete(evt hciev.CigRemoveComplete)
	OnCisEstablished(evt CisEstablishedEvent)
	OnCisDisconnected(evt CisDisconnectedEvent)
	OnCisData(evt DataEvent)
	OnSetupDataPathComplete(status uint8, connHandle uint16, cigID uint8)
	OnRemoveDataPathComplete(status uint8, connHandle uint16, cigID uint8)
	OnLinkQualityRead(evt hciev.LinkQuality, groupID uint8)
}

// BigCallbacks receives broadcast group outcomes.
type BigCallbacks interface {
	OnBigCreateComplete(evt hciev.BigCreateComplete)
	OnBigTerminateComplete(evt hciev.BigTerminateComplete)
	OnSetupDataPathComplete(status uint8, connHandle uint16, bigHandle uint8)
	OnRemoveDataPathComplete(status uint8, connHandle uint16, bigHandle uint8)
}
