package iso

import (
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// CisState is the lifecycle state of a connected isochronous stream.
type CisState uint8

const (
	CisUnconnected CisState = iota
	CisConnecting
	CisConnected
	// CisCancelled marks a stream whose disconnect was requested while it was
	// still connecting; the eventual establishment outcome tears it down
	// instead of promoting it.
	CisCancelled
)

func (s CisState) String() string {
	switch s {
	case CisUnconnected:
		return "unconnected"
	case CisConnecting:
		return "connecting"
	case CisConnected:
		return "connected"
	case CisCancelled:
		return "cancelled"
	default:
		return "invalid"
	}
}

type syncInfo struct {
	txSeqNb uint16
	rxSeqNb uint16
}

// creditStats and eventStats are diagnostic counters only; they never drive
// control flow.
type creditStats struct {
	underflowBytes uint64
	underflowCount uint64
	lastUnderflow  time.Time
}

type eventStats struct {
	lostCount        uint64
	seqMismatchCount uint64
	lastLost         time.Time
}

// streamBase holds the fields shared by CIS and BIS records. The broadcast
// distinction is a type distinction, not a flag: CIS-only operations cannot
// be applied to a BIS record.
type streamBase struct {
	groupID     uint8 // CIG id for CIS, BIG handle for BIS
	sync        syncInfo
	sduInterval uint32
	hasDataPath bool
	usedCredits uint16
	crStats     creditStats
	evStats     eventStats
}

type cisRecord struct {
	streamBase
	state CisState
}

type bisRecord struct {
	streamBase
}

// stream is the common view the data path and data-path operations take over
// both record kinds.
type stream interface {
	base() *streamBase
	broadcast() bool
}

func (c *cisRecord) base() *streamBase { return &c.streamBase }
func (c *cisRecord) broadcast() bool   { return false }
func (b *bisRecord) base() *streamBase { return &b.streamBase }
func (b *bisRecord) broadcast() bool   { return true }

// streamTable owns all stream records. External references are by connection
// handle only; a handle is present in the CIS map or the BIS map, never both.
// Insertion order is kept so diagnostics list streams in creation order.
type streamTable struct {
	cis *orderedmap.OrderedMap[uint16, *cisRecord]
	bis *orderedmap.OrderedMap[uint16, *bisRecord]
}

func newStreamTable() streamTable {
	return streamTable{
		cis: orderedmap.New[uint16, *cisRecord](),
		bis: orderedmap.New[uint16, *bisRecord](),
	}
}

func (t *streamTable) cisFor(handle uint16) *cisRecord {
	c, _ := t.cis.Get(handle)
	return c
}

func (t *streamTable) bisFor(handle uint16) *bisRecord {
	b, _ := t.bis.Get(handle)
	return b
}

func (t *streamTable) anyFor(handle uint16) stream {
	if c := t.cisFor(handle); c != nil {
		return c
	}
	if b := t.bisFor(handle); b != nil {
		return b
	}
	return nil
}

func (t *streamTable) isCigKnown(cigID uint8) bool {
	for pair := t.cis.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.groupID == cigID {
			return true
		}
	}
	return false
}

func (t *streamTable) isBigKnown(bigHandle uint8) bool {
	for pair := t.bis.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.groupID == bigHandle {
			return true
		}
	}
	return false
}

// purgeCig removes every CIS record of the group and reports whether any
// existed. Removal is atomic with respect to observers: callers notify only
// after the table is consistent.
func (t *streamTable) purgeCig(cigID uint8) bool {
	var doomed []uint16
	for pair := t.cis.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.groupID == cigID {
			doomed = append(doomed, pair.Key)
		}
	}
	for _, h := range doomed {
		t.cis.Delete(h)
	}
	return len(doomed) > 0
}

func (t *streamTable) purgeBig(bigHandle uint8) bool {
	var doomed []uint16
	for pair := t.bis.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.groupID == bigHandle {
			doomed = append(doomed, pair.Key)
		}
	}
	for _, h := range doomed {
		t.bis.Delete(h)
	}
	return len(doomed) > 0
}

func (t *streamTable) insertCis(handle uint16, cigID uint8, sduItv uint32) {
	t.cis.Set(handle, &cisRecord{
		streamBase: streamBase{groupID: cigID, sduInterval: sduItv},
		state:      CisUnconnected,
	})
}

func (t *streamTable) insertBis(handle uint16, bigHandle uint8, sduItv uint32) {
	t.bis.Set(handle, &bisRecord{
		streamBase: streamBase{groupID: bigHandle, sduInterval: sduItv},
	})
}

func (t *streamTable) size() int {
	return t.cis.Len() + t.bis.Len()
}
