package hciev

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned when an event payload is shorter than the fixed
// minimum its event code mandates. ISO event lengths are exact per spec, so a
// short payload signals a malformed controller rather than a legacy variant.
var ErrTruncated = errors.New("hciev: truncated event payload")

// Fixed payload lengths per event.
const (
	cigCreateCompleteMinLen = 3
	cigRemoveCompleteLen    = 2
	cisEstablishedLen       = 28
	cisRequestLen           = 6
	bigSyncEstMinLen        = 14
	bigSyncLostLen          = 2
	createCisStatusLen      = 2
	bigCreateCompleteMinLen = 18
	bigTerminateCompleteLen = 2
	dataPathCompleteMinLen  = 3
	linkQualityLen          = 31 // 1 + 2 + 4*7
)

func le16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func le24(b []byte) uint32 { return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 }
func le32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

// CigCreateComplete is the return of LE Set CIG Parameters: one connection
// handle per CIS member of the group. The same payload serves creation and
// reconfiguration; which one it was is decided by the issuer.
type CigCreateComplete struct {
	Status      uint8
	CigID       uint8
	ConnHandles []uint16
}

// UnmarshalCigCreateComplete decodes an LE Set CIG Parameters completion.
// Handles are present only on success; a successful payload shorter than
// 3 + 2*cis_count is malformed.
func UnmarshalCigCreateComplete(b []byte) (CigCreateComplete, error) {
	var e CigCreateComplete
	if len(b) < cigCreateCompleteMinLen {
		return e, fmt.Errorf("%w: cig create complete, len %d", ErrTruncated, len(b))
	}
	e.Status = b[0]
	e.CigID = b[1]
	cisCount := int(b[2])
	if e.Status != StatusSuccess {
		return e, nil
	}
	if len(b) < cigCreateCompleteMinLen+2*cisCount {
		return e, fmt.Errorf("%w: cig create complete, len %d for %d cis", ErrTruncated, len(b), cisCount)
	}
	e.ConnHandles = make([]uint16, 0, cisCount)
	for i := 0; i < cisCount; i++ {
		e.ConnHandles = append(e.ConnHandles, le16(b[3+2*i:]))
	}
	return e, nil
}

// CigRemoveComplete is the return of LE Remove CIG.
type CigRemoveComplete struct {
	Status uint8
	CigID  uint8
}

// UnmarshalCigRemoveComplete decodes an LE Remove CIG completion.
func UnmarshalCigRemoveComplete(b []byte) (CigRemoveComplete, error) {
	if len(b) < cigRemoveCompleteLen {
		return CigRemoveComplete{}, fmt.Errorf("%w: cig remove complete, len %d", ErrTruncated, len(b))
	}
	return CigRemoveComplete{Status: b[0], CigID: b[1]}, nil
}

// UnmarshalCreateCisStatus decodes the status payload reported for the
// LE Create CIS command itself (distinct from the CIS Established event).
func UnmarshalCreateCisStatus(b []byte) (uint8, error) {
	if len(b) < createCisStatusLen {
		return 0, fmt.Errorf("%w: create cis status, len %d", ErrTruncated, len(b))
	}
	return uint8(le16(b)), nil
}

// CisRequest is the LE CIS Request subevent, sent to a peripheral when a
// central asks to establish a stream. This manager drives the central role
// and ignores it, but the decoder still understands the payload.
type CisRequest struct {
	AclConnHandle uint16
	CisConnHandle uint16
	CigID         uint8
	CisID         uint8
}

// UnmarshalCisRequest decodes a CIS Request subevent payload.
func UnmarshalCisRequest(b []byte) (CisRequest, error) {
	if len(b) != cisRequestLen {
		return CisRequest{}, fmt.Errorf("%w: cis request, len %d", ErrTruncated, len(b))
	}
	return CisRequest{
		AclConnHandle: ConnHandle(le16(b)),
		CisConnHandle: ConnHandle(le16(b[2:])),
		CigID:         b[4],
		CisID:         b[5],
	}, nil
}

// CisEstablished is the LE CIS Established subevent [Vol 4, Part E, 7.7.65.25].
type CisEstablished struct {
	Status        uint8
	CisConnHandle uint16
	CigSyncDelay  uint32 // three bytes on the wire
	CisSyncDelay  uint32
	TransLatMToS  uint32
	TransLatSToM  uint32
	PhyMToS       uint8
	PhySToM       uint8
	Nse           uint8
	BnMToS        uint8
	BnSToM        uint8
	FtMToS        uint8
	FtSToM        uint8
	MaxPduMToS    uint16
	MaxPduSToM    uint16
	IsoInterval   uint16
}

// UnmarshalCisEstablished decodes a CIS Established subevent payload
// (the subevent code itself already stripped).
func UnmarshalCisEstablished(b []byte) (CisEstablished, error) {
	var e CisEstablished
	if len(b) != cisEstablishedLen {
		return e, fmt.Errorf("%w: cis established, len %d", ErrTruncated, len(b))
	}
	e.Status = b[0]
	e.CisConnHandle = ConnHandle(le16(b[1:]))
	e.CigSyncDelay = le24(b[3:])
	e.CisSyncDelay = le24(b[6:])
	e.TransLatMToS = le24(b[9:])
	e.TransLatSToM = le24(b[12:])
	e.PhyMToS = b[15]
	e.PhySToM = b[16]
	e.Nse = b[17]
	e.BnMToS = b[18]
	e.BnSToM = b[19]
	e.FtMToS = b[20]
	e.FtSToM = b[21]
	e.MaxPduMToS = le16(b[22:])
	e.MaxPduSToM = le16(b[24:])
	e.IsoInterval = le16(b[26:])
	return e, nil
}

// BigCreateComplete is the LE Create BIG Complete subevent.
type BigCreateComplete struct {
	Status           uint8
	BigHandle        uint8
	BigSyncDelay     uint32
	TransportLatency uint32
	Phy              uint8
	Nse              uint8
	Bn               uint8
	Pto              uint8
	Irc              uint8
	MaxPdu           uint16
	IsoInterval      uint16
	ConnHandles      []uint16
}

// UnmarshalBigCreateComplete decodes an LE Create BIG Complete subevent
// payload. The BIS count must be non-zero and match the payload length
// exactly.
func UnmarshalBigCreateComplete(b []byte) (BigCreateComplete, error) {
	var e BigCreateComplete
	if len(b) < bigCreateCompleteMinLen {
		return e, fmt.Errorf("%w: big create complete, len %d", ErrTruncated, len(b))
	}
	e.Status = b[0]
	e.BigHandle = b[1]
	e.BigSyncDelay = le24(b[2:])
	e.TransportLatency = le24(b[5:])
	e.Phy = b[8]
	e.Nse = b[9]
	e.Bn = b[10]
	e.Pto = b[11]
	e.Irc = b[12]
	e.MaxPdu = le16(b[13:])
	e.IsoInterval = le16(b[15:])
	numBis := int(b[17])
	if numBis == 0 {
		return e, fmt.Errorf("hciev: big create complete with zero bis")
	}
	if len(b) != bigCreateCompleteMinLen+2*numBis {
		return e, fmt.Errorf("%w: big create complete, len %d for %d bis", ErrTruncated, len(b), numBis)
	}
	e.ConnHandles = make([]uint16, 0, numBis)
	for i := 0; i < numBis; i++ {
		e.ConnHandles = append(e.ConnHandles, le16(b[18+2*i:]))
	}
	return e, nil
}

// BigSyncEstablished is the LE BIG Sync Established subevent, reported to a
// broadcast receiver. Decoded for diagnostics; the manager's broadcaster role
// never consumes it.
type BigSyncEstablished struct {
	Status           uint8
	BigHandle        uint8
	TransportLatency uint32
	Nse              uint8
	Bn               uint8
	Pto              uint8
	Irc              uint8
	MaxPdu           uint16
	IsoInterval      uint16
	ConnHandles      []uint16
}

// UnmarshalBigSyncEstablished decodes a BIG Sync Established subevent payload.
func UnmarshalBigSyncEstablished(b []byte) (BigSyncEstablished, error) {
	var e BigSyncEstablished
	if len(b) < bigSyncEstMinLen {
		return e, fmt.Errorf("%w: big sync established, len %d", ErrTruncated, len(b))
	}
	e.Status = b[0]
	e.BigHandle = b[1]
	e.TransportLatency = le24(b[2:])
	e.Nse = b[5]
	e.Bn = b[6]
	e.Pto = b[7]
	e.Irc = b[8]
	e.MaxPdu = le16(b[9:])
	e.IsoInterval = le16(b[11:])
	numBis := int(b[13])
	if len(b) != bigSyncEstMinLen+2*numBis {
		return e, fmt.Errorf("%w: big sync established, len %d for %d bis", ErrTruncated, len(b), numBis)
	}
	e.ConnHandles = make([]uint16, 0, numBis)
	for i := 0; i < numBis; i++ {
		e.ConnHandles = append(e.ConnHandles, le16(b[14+2*i:]))
	}
	return e, nil
}

// BigSyncLost is the LE BIG Sync Lost subevent.
type BigSyncLost struct {
	BigHandle uint8
	Reason    uint8
}

// UnmarshalBigSyncLost decodes a BIG Sync Lost subevent payload.
func UnmarshalBigSyncLost(b []byte) (BigSyncLost, error) {
	if len(b) < bigSyncLostLen {
		return BigSyncLost{}, fmt.Errorf("%w: big sync lost, len %d", ErrTruncated, len(b))
	}
	return BigSyncLost{BigHandle: b[0], Reason: b[1]}, nil
}

// BigTerminateComplete is the LE Terminate BIG Complete subevent.
type BigTerminateComplete struct {
	BigHandle uint8
	Reason    uint8
}

// UnmarshalBigTerminateComplete decodes an LE Terminate BIG Complete subevent.
func UnmarshalBigTerminateComplete(b []byte) (BigTerminateComplete, error) {
	if len(b) < bigTerminateCompleteLen {
		return BigTerminateComplete{}, fmt.Errorf("%w: big terminate complete, len %d", ErrTruncated, len(b))
	}
	return BigTerminateComplete{BigHandle: b[0], Reason: b[1]}, nil
}

// DataPathComplete is the return of LE Setup/Remove ISO Data Path; the two
// commands share one completion shape.
type DataPathComplete struct {
	Status     uint8
	ConnHandle uint16
}

// UnmarshalDataPathComplete decodes a data path setup/removal completion.
func UnmarshalDataPathComplete(b []byte) (DataPathComplete, error) {
	if len(b) < dataPathCompleteMinLen {
		return DataPathComplete{}, fmt.Errorf("%w: data path complete, len %d", ErrTruncated, len(b))
	}
	return DataPathComplete{Status: b[0], ConnHandle: ConnHandle(le16(b[1:]))}, nil
}

// LinkQuality is the return of LE Read ISO Link Quality.
type LinkQuality struct {
	Status                uint8
	ConnHandle            uint16
	TxUnackedPackets      uint32
	TxFlushedPackets      uint32
	TxLastSubeventPackets uint32
	RetransmittedPackets  uint32
	CrcErrorPackets       uint32
	RxUnreceivedPackets   uint32
	DuplicatePackets      uint32
}

// UnmarshalLinkQuality decodes an LE Read ISO Link Quality completion.
func UnmarshalLinkQuality(b []byte) (LinkQuality, error) {
	var e LinkQuality
	if len(b) < linkQualityLen {
		return e, fmt.Errorf("%w: iso link quality, len %d", ErrTruncated, len(b))
	}
	e.Status = b[0]
	e.ConnHandle = ConnHandle(le16(b[1:]))
	e.TxUnackedPackets = le32(b[3:])
	e.TxFlushedPackets = le32(b[7:])
	e.TxLastSubeventPackets = le32(b[11:])
	e.RetransmittedPackets = le32(b[15:])
	e.CrcErrorPackets = le32(b[19:])
	e.RxUnreceivedPackets = le32(b[23:])
	e.DuplicatePackets = le32(b[27:])
	return e, nil
}
