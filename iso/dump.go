package iso

import (
	"fmt"
	"io"
	"time"
)

func dumpCreditStats(w io.Writer, s *creditStats) {
	fmt.Fprintf(w, "        Credits Stats:\n")
	fmt.Fprintf(w, "          Credits underflow (count): %d\n", s.underflowCount)
	fmt.Fprintf(w, "          Credits underflow (bytes): %d\n", s.underflowBytes)
	fmt.Fprintf(w, "          Last underflow time ago (ms): %d\n", msAgo(s.lastUnderflow))
}

func dumpEventStats(w io.Writer, s *eventStats) {
	fmt.Fprintf(w, "        Event Stats:\n")
	fmt.Fprintf(w, "          Sequence number mismatch (count): %d\n", s.seqMismatchCount)
	fmt.Fprintf(w, "          Event lost (count): %d\n", s.lostCount)
	fmt.Fprintf(w, "          Last event lost time ago (ms): %d\n", msAgo(s.lastLost))
}

func msAgo(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return time.Since(t).Milliseconds()
}

// Dump writes an operator-facing report of the manager state: pool level,
// per-stream flow control and loss counters, and the recent lifecycle
// breadcrumbs (which are consumed by the dump). Intended for bugreport-style
// commands, not as a stable machine-readable format. Dump runs on the
// manager's execution context like every other operation; it is not safe to
// call concurrently with event handling.
func (m *Manager) Dump(w io.Writer) {
	fmt.Fprintf(w, "  ----------------\n")
	fmt.Fprintf(w, "  ISO Manager:\n")
	fmt.Fprintf(w, "    Available credits: %d (of %d)\n", m.isoCredits, m.capacity)
	fmt.Fprintf(w, "    Controller buffer size: %d\n", m.isoBufferSize)
	fmt.Fprintf(w, "    Num of ISO traffic callbacks: %d\n", m.observerCount())
	fmt.Fprintf(w, "    CISes:\n")
	for pair := m.table.cis.Oldest(); pair != nil; pair = pair.Next() {
		cis := pair.Value
		fmt.Fprintf(w, "      CIS Connection handle: %d\n", pair.Key)
		if addr, ok := m.addrByCis.Get(pair.Key); ok {
			fmt.Fprintf(w, "        Peer: %s\n", addr)
		}
		fmt.Fprintf(w, "        CIG ID: %d\n", cis.groupID)
		fmt.Fprintf(w, "        Used Credits: %d\n", cis.usedCredits)
		fmt.Fprintf(w, "        SDU Interval: %d\n", cis.sduInterval)
		fmt.Fprintf(w, "        State: %s\n", cis.state)
		fmt.Fprintf(w, "        Data path set: %t\n", cis.hasDataPath)
		dumpCreditStats(w, &cis.crStats)
		dumpEventStats(w, &cis.evStats)
	}
	fmt.Fprintf(w, "    BISes:\n")
	for pair := m.table.bis.Oldest(); pair != nil; pair = pair.Next() {
		bis := pair.Value
		fmt.Fprintf(w, "      BIS Connection handle: %d\n", pair.Key)
		fmt.Fprintf(w, "        BIG Handle: %d\n", bis.groupID)
		fmt.Fprintf(w, "        Used Credits: %d\n", bis.usedCredits)
		fmt.Fprintf(w, "        SDU Interval: %d\n", bis.sduInterval)
		fmt.Fprintf(w, "        Data path set: %t\n", bis.hasDataPath)
		dumpCreditStats(w, &bis.crStats)
		dumpEventStats(w, &bis.evStats)
	}
	fmt.Fprintf(w, "    Recent events (%d recorded, %d overwritten):\n",
		m.hist.Written(), m.hist.Overwritten())
	m.hist.DumpTo(w)
	fmt.Fprintf(w, "  ----------------\n")
}
