// Package hciev decodes the ISO-domain HCI event payloads consumed by the
// isochronous channel manager: CIG/BIG command completions, CIS establishment,
// data path changes and link quality reads.
//
// All multi-byte integers are little-endian on the wire. Connection handle
// fields are 12-bit values embedded in a 16-bit word whose upper bits carry
// the packet-boundary and broadcast flags of the HCI ISO framing.
package hciev

// LE Meta subevent codes for isochronous channels [Vol 4, Part E, 7.7.65].
const (
	SubeventCisEstablished       = 0x19
	SubeventCisRequest           = 0x1A
	SubeventCreateBigComplete    = 0x1B
	SubeventTerminateBigComplete = 0x1C
	SubeventBigSyncEstablished   = 0x1D
	SubeventBigSyncLost          = 0x1E
)

// Command opcodes issued by the manager (OGF 0x08, plus Disconnect).
const (
	OpDisconnect           = 0x0406
	OpLESetCigParameters   = 0x2062
	OpLECreateCis          = 0x2064
	OpLERemoveCig          = 0x2065
	OpLECreateBig          = 0x2068
	OpLETerminateBig       = 0x206A
	OpLESetupIsoDataPath   = 0x206E
	OpLERemoveIsoDataPath  = 0x206F
	OpLEReadIsoLinkQuality = 0x2075
)

// ISO data packet header lengths [Vol 4, Part E, 5.4.5].
const (
	IsoHeaderLen       = 8  // handle word + data load length + seq + SDU length
	IsoHeaderLenWithTS = 12 // as above, with a 4-byte timestamp before the seq
)

const handleMask = 0x0FFF

// ConnHandle extracts the 12-bit connection handle from a handle word.
func ConnHandle(w uint16) uint16 {
	return w & handleMask
}

// HandleWord builds a handle word from a connection handle and PB flag bits.
func HandleWord(handle uint16, pb uint8) uint16 {
	return (handle & handleMask) | uint16(pb&0x3)<<12
}

// PBFlag extracts the packet-boundary flag bits from a handle word.
func PBFlag(w uint16) uint8 {
	return uint8(w>>12) & 0x3
}

// Packet boundary flag values of the ISO data framing.
const (
	PBFirstFragment        = 0x0
	PBContinuationFragment = 0x1
	PBCompleteSDU          = 0x2
	PBLastFragment         = 0x3
)
