package iso

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/isoch/hciev"
	"github.com/stretchr/testify/suite"
)

type issuedCommand struct {
	opcode     uint16
	params     []byte
	onComplete func(ret []byte)
}

// fakeTransport records issued commands and outbound data packets so tests
// can inspect them and feed back canned completion payloads.
type fakeTransport struct {
	commands []issuedCommand
	sent     [][]byte
	sendErr  error
}

func (t *fakeTransport) EnqueueCommand(opcode uint16, params []byte, onComplete func(ret []byte)) {
	t.commands = append(t.commands, issuedCommand{opcode: opcode, params: params, onComplete: onComplete})
}

func (t *fakeTransport) SendData(pkt []byte) error {
	t.sent = append(t.sent, pkt)
	return t.sendErr
}

func (t *fakeTransport) last() issuedCommand {
	return t.commands[len(t.commands)-1]
}

func (t *fakeTransport) completeLast(ret []byte) {
	t.last().onComplete(ret)
}

// recCallbacks records every callback invocation.
type recCallbacks struct {
	cigCreates    []hciev.CigCreateComplete
	cigReconfigs  []hciev.CigCreateComplete
	cigRemoves    []hciev.CigRemoveComplete
	established   []CisEstablishedEvent
	disconnected  []CisDisconnectedEvent
	data          []DataEvent
	pathSetups    []uint16
	pathRemovals  []uint16
	linkQualities []hciev.LinkQuality
	bigCreates    []hciev.BigCreateComplete
	bigTerminates []hciev.BigTerminateComplete
	bigPathSetups []uint16
}

func (c *recCallbacks) OnCigCreateComplete(evt hciev.CigCreateComplete) {
	c.cigCreates = append(c.cigCreates, evt)
}

func (c *recCallbacks) OnCigReconfigureComplete(evt hciev.CigCreateComplete) {
	c.cigReconfigs = append(c.cigReconfigs, evt)
}

func (c *recCallbacks) OnCigRemoveComplete(evt hciev.CigRemoveComplete) {
	c.cigRemoves = append(c.cigRemoves, evt)
}

func (c *recCallbacks) OnCisEstablished(evt CisEstablishedEvent) {
	c.established = append(c.established, evt)
}

func (c *recCallbacks) OnCisDisconnected(evt CisDisconnectedEvent) {
	c.disconnected = append(c.disconnected, evt)
}

func (c *recCallbacks) OnCisData(evt DataEvent) {
	c.data = append(c.data, evt)
}

func (c *recCallbacks) OnSetupDataPathComplete(status uint8, connHandle uint16, groupID uint8) {
	c.pathSetups = append(c.pathSetups, connHandle)
}

func (c *recCallbacks) OnRemoveDataPathComplete(status uint8, connHandle uint16, groupID uint8) {
	c.pathRemovals = append(c.pathRemovals, connHandle)
}

func (c *recCallbacks) OnLinkQualityRead(evt hciev.LinkQuality, groupID uint8) {
	c.linkQualities = append(c.linkQualities, evt)
}

// bigCallbacks shares the recording struct; setup/remove completions for BIS
// handles land in separate slices to verify routing.
type recBigCallbacks struct {
	rec *recCallbacks
}

func (c *recBigCallbacks) OnBigCreateComplete(evt hciev.BigCreateComplete) {
	c.rec.bigCreates = append(c.rec.bigCreates, evt)
}

func (c *recBigCallbacks) OnBigTerminateComplete(evt hciev.BigTerminateComplete) {
	c.rec.bigTerminates = append(c.rec.bigTerminates, evt)
}

func (c *recBigCallbacks) OnSetupDataPathComplete(status uint8, connHandle uint16, groupID uint8) {
	c.rec.bigPathSetups = append(c.rec.bigPathSetups, connHandle)
}

func (c *recBigCallbacks) OnRemoveDataPathComplete(status uint8, connHandle uint16, groupID uint8) {
}

type ManagerTestSuite struct {
	suite.Suite

	transport *fakeTransport
	cb        *recCallbacks
	mgr       *Manager
	traffic   []bool
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func (s *ManagerTestSuite) SetupTest() {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s.transport = &fakeTransport{}
	s.cb = &recCallbacks{}
	s.traffic = nil
	s.mgr = NewManager(s.transport, BufferInfo{Credits: 4, BufferSize: 100}, logger)
	s.mgr.RegisterCigCallbacks(s.cb)
	s.mgr.RegisterBigCallbacks(&recBigCallbacks{rec: s.cb})
	s.mgr.AddTrafficObserver(func(active bool) {
		s.traffic = append(s.traffic, active)
	})
}

func cigParams(n int) CigParams {
	p := CigParams{
		SduIntervalMToS: 10000,
		SduIntervalSToM: 10000,
		MaxLatencyMToS:  20,
		MaxLatencySToM:  20,
	}
	for i := 0; i < n; i++ {
		p.CisConfigs = append(p.CisConfigs, CisConfig{
			CisID: uint8(i), MaxSduMToS: 120, MaxSduSToM: 120, PhyMToS: 0x02, PhySToM: 0x02,
		})
	}
	return p
}

func cigCreateRet(status, cigID uint8, handles ...uint16) []byte {
	ret := []byte{status, cigID, uint8(len(handles))}
	if status != hciev.StatusSuccess {
		return ret
	}
	for _, h := range handles {
		ret = binary.LittleEndian.AppendUint16(ret, h)
	}
	return ret
}

func cisEstablishedPayload(handle uint16, status uint8) []byte {
	payload := make([]byte, 28)
	payload[0] = status
	binary.LittleEndian.PutUint16(payload[1:], handle)
	return payload
}

func inboundPacket(handle uint16, seq uint16, data []byte, ts uint32, withTS bool) []byte {
	headerLen := hciev.IsoHeaderLen
	if withTS {
		headerLen = hciev.IsoHeaderLenWithTS
	}
	pkt := make([]byte, headerLen+len(data))
	binary.LittleEndian.PutUint16(pkt, hciev.HandleWord(handle, hciev.PBCompleteSDU))
	binary.LittleEndian.PutUint16(pkt[2:], uint16(len(data)+4))
	off := 4
	if withTS {
		binary.LittleEndian.PutUint32(pkt[off:], ts)
		off += 4
	}
	binary.LittleEndian.PutUint16(pkt[off:], seq)
	binary.LittleEndian.PutUint16(pkt[off+2:], uint16(len(data)))
	copy(pkt[headerLen:], data)
	return pkt
}

// createCig drives a CIG creation to completion with the given handles.
func (s *ManagerTestSuite) createCig(cigID uint8, handles ...uint16) {
	s.mgr.CreateCig(cigID, cigParams(len(handles)))
	s.Require().Equal(uint16(hciev.OpLESetCigParameters), s.transport.last().opcode)
	s.transport.completeLast(cigCreateRet(hciev.StatusSuccess, cigID, handles...))
}

// connectCis drives one CIS through establishment to connected.
func (s *ManagerTestSuite) connectCis(handle uint16) {
	s.mgr.EstablishCis(CisEstablishParams{Pairs: []CisPair{{CisHandle: handle, AclHandle: 0x0010}}})
	s.transport.completeLast([]byte{hciev.StatusSuccess, 0x00})
	s.mgr.HandleSubevent(hciev.SubeventCisEstablished, cisEstablishedPayload(handle, hciev.StatusSuccess))
}

// setupDataPath drives a data path setup to successful completion.
func (s *ManagerTestSuite) setupDataPath(handle uint16) {
	s.mgr.SetupDataPath(handle, DataPathParams{Direction: DataPathDirectionIn})
	ret := []byte{hciev.StatusSuccess, 0, 0}
	binary.LittleEndian.PutUint16(ret[1:], handle)
	s.transport.completeLast(ret)
}

func (s *ManagerTestSuite) TestCreateCigLifecycle() {
	s.createCig(1, 0x0060, 0x0061)

	s.Require().Len(s.cb.cigCreates, 1)
	s.Equal(uint8(1), s.cb.cigCreates[0].CigID)
	s.Equal([]uint16{0x0060, 0x0061}, s.cb.cigCreates[0].ConnHandles)
	s.Equal([]bool{true}, s.traffic)
	s.Equal(2, s.mgr.ActiveStreamCount())

	cis := s.mgr.table.cisFor(0x0060)
	s.Require().NotNil(cis)
	s.Equal(CisUnconnected, cis.state)
	s.Equal(uint32(10000), cis.sduInterval)
}

func (s *ManagerTestSuite) TestCreateCigDuplicatePanics() {
	s.createCig(1, 0x0060)
	s.Panics(func() { s.mgr.CreateCig(1, cigParams(1)) })
}

func (s *ManagerTestSuite) TestCigCreateFailureAddsNoStreams() {
	s.mgr.CreateCig(1, cigParams(2))
	s.transport.completeLast(cigCreateRet(hciev.StatusLimitedResources, 1))

	s.Require().Len(s.cb.cigCreates, 1)
	s.Equal(uint8(hciev.StatusLimitedResources), s.cb.cigCreates[0].Status)
	s.Equal(0, s.mgr.ActiveStreamCount())
	// A failed creation still reports the attempt to traffic observers.
	s.Equal([]bool{true}, s.traffic)
}

func (s *ManagerTestSuite) TestReconfigureCigReplacesRecords() {
	s.createCig(1, 0x0060, 0x0061)

	s.mgr.ReconfigureCig(1, cigParams(1))
	s.transport.completeLast(cigCreateRet(hciev.StatusSuccess, 1, 0x0062))

	s.Require().Len(s.cb.cigReconfigs, 1)
	s.Len(s.cb.cigCreates, 1, "reconfiguration must not report as creation")
	s.Equal(1, s.mgr.ActiveStreamCount())
	s.Nil(s.mgr.table.cisFor(0x0060))
	s.NotNil(s.mgr.table.cisFor(0x0062))
	s.Equal([]bool{true}, s.traffic, "reconfiguration must not renotify observers")
}

func (s *ManagerTestSuite) TestReconfigureUnknownCigPanics() {
	s.Panics(func() { s.mgr.ReconfigureCig(9, cigParams(1)) })
}

func (s *ManagerTestSuite) TestEstablishCis() {
	s.createCig(1, 0x0060)

	s.mgr.EstablishCis(CisEstablishParams{Pairs: []CisPair{{CisHandle: 0x0060, AclHandle: 0x0010}}})
	s.Equal(uint16(hciev.OpLECreateCis), s.transport.last().opcode)
	s.Equal(CisConnecting, s.mgr.table.cisFor(0x0060).state)

	// A successful command status keeps the stream connecting until the
	// established subevent arrives.
	s.transport.completeLast([]byte{hciev.StatusSuccess, 0x00})
	s.Empty(s.cb.established)
	s.Equal(CisConnecting, s.mgr.table.cisFor(0x0060).state)

	s.mgr.HandleSubevent(hciev.SubeventCisEstablished, cisEstablishedPayload(0x0060, hciev.StatusSuccess))
	s.Require().Len(s.cb.established, 1)
	s.Equal(uint8(hciev.StatusSuccess), s.cb.established[0].Status)
	s.Equal(uint8(1), s.cb.established[0].CigID)
	s.Equal(CisConnected, s.mgr.table.cisFor(0x0060).state)
}

func (s *ManagerTestSuite) TestEstablishCisUnknownHandlePanics() {
	s.Panics(func() {
		s.mgr.EstablishCis(CisEstablishParams{Pairs: []CisPair{{CisHandle: 0x0099, AclHandle: 0x0010}}})
	})
}

func (s *ManagerTestSuite) TestEstablishCisCommandFailure() {
	s.createCig(1, 0x0060, 0x0061)

	s.mgr.EstablishCis(CisEstablishParams{Pairs: []CisPair{
		{CisHandle: 0x0060, AclHandle: 0x0010},
		{CisHandle: 0x0061, AclHandle: 0x0011},
	}})
	s.transport.completeLast([]byte{hciev.StatusCommandDisallowed, 0x00})

	s.Require().Len(s.cb.established, 2)
	for i, evt := range s.cb.established {
		s.Equal(uint8(hciev.StatusCommandDisallowed), evt.Status, "pair %d", i)
	}
	s.Equal(CisUnconnected, s.mgr.table.cisFor(0x0060).state)
	s.Equal(CisUnconnected, s.mgr.table.cisFor(0x0061).state)
}

func (s *ManagerTestSuite) TestCisEstablishedFailure() {
	s.createCig(1, 0x0060)
	s.mgr.EstablishCis(CisEstablishParams{Pairs: []CisPair{{CisHandle: 0x0060, AclHandle: 0x0010}}})
	s.transport.completeLast([]byte{hciev.StatusSuccess, 0x00})

	s.mgr.HandleSubevent(hciev.SubeventCisEstablished,
		cisEstablishedPayload(0x0060, hciev.StatusConnFailedToEstablish))

	s.Require().Len(s.cb.established, 1)
	s.Equal(uint8(hciev.StatusConnFailedToEstablish), s.cb.established[0].Status)
	s.Equal(CisUnconnected, s.mgr.table.cisFor(0x0060).state)
}

func (s *ManagerTestSuite) TestDisconnectWhileConnecting() {
	s.createCig(1, 0x0060)
	s.mgr.EstablishCis(CisEstablishParams{Pairs: []CisPair{{CisHandle: 0x0060, AclHandle: 0x0010}}})
	s.transport.completeLast([]byte{hciev.StatusSuccess, 0x00})

	s.mgr.DisconnectCis(0x0060, hciev.StatusRemoteUserTerminated)
	s.Equal(uint16(hciev.OpDisconnect), s.transport.last().opcode)
	s.Equal(CisCancelled, s.mgr.table.cisFor(0x0060).state)

	// A successful establishment of a cancelled stream does not promote it;
	// the pending disconnect tears it down.
	s.mgr.HandleSubevent(hciev.SubeventCisEstablished, cisEstablishedPayload(0x0060, hciev.StatusSuccess))
	s.Equal(CisCancelled, s.mgr.table.cisFor(0x0060).state)
	s.Len(s.cb.established, 1)

	s.mgr.DisconnectionComplete(0x0060, hciev.StatusLocalHostTerminated)
	s.Require().Len(s.cb.disconnected, 1)
	s.Equal(uint8(hciev.StatusLocalHostTerminated), s.cb.disconnected[0].Reason)
	s.Equal(CisUnconnected, s.mgr.table.cisFor(0x0060).state)
}

func (s *ManagerTestSuite) TestDisconnectionCompleteFiltering() {
	s.createCig(1, 0x0060)

	// Unknown handles belong to other transports and are ignored.
	s.mgr.DisconnectionComplete(0x0999, hciev.StatusConnTimeout)
	s.Empty(s.cb.disconnected)

	// A stream that never connected yields no callback either.
	s.mgr.DisconnectionComplete(0x0060, hciev.StatusConnTimeout)
	s.Empty(s.cb.disconnected)
}

func (s *ManagerTestSuite) TestDisconnectReclaimsCredits() {
	s.createCig(1, 0x0060)
	s.connectCis(0x0060)
	s.setupDataPath(0x0060)

	s.mgr.SendData(0x0060, []byte{1, 2, 3})
	s.mgr.SendData(0x0060, []byte{4, 5, 6})
	s.Equal(uint16(2), s.mgr.isoCredits)

	s.mgr.DisconnectionComplete(0x0060, hciev.StatusConnTimeout)
	s.Equal(uint16(4), s.mgr.isoCredits, "in-flight credits must return to the pool")
	s.Equal(uint16(0), s.mgr.table.cisFor(0x0060).usedCredits)
}

func (s *ManagerTestSuite) TestRemoveCig() {
	s.createCig(1, 0x0060, 0x0061)

	s.mgr.RemoveCig(1, false)
	s.Equal(uint16(hciev.OpLERemoveCig), s.transport.last().opcode)
	s.transport.completeLast([]byte{hciev.StatusSuccess, 1})

	s.Require().Len(s.cb.cigRemoves, 1)
	s.Equal(0, s.mgr.ActiveStreamCount())
	s.Equal([]bool{true, false}, s.traffic)
}

func (s *ManagerTestSuite) TestRemoveCigForce() {
	s.Panics(func() { s.mgr.RemoveCig(9, false) })
	s.NotPanics(func() { s.mgr.RemoveCig(9, true) })
	s.transport.completeLast([]byte{hciev.StatusUnknownConnID, 9})
	s.Len(s.cb.cigRemoves, 1, "failed removal still reports completion")
}

func (s *ManagerTestSuite) TestSendDataFlow() {
	s.createCig(1, 0x0060)
	s.connectCis(0x0060)
	s.setupDataPath(0x0060)

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	s.mgr.SendData(0x0060, payload)

	s.Require().Len(s.transport.sent, 1)
	pkt := s.transport.sent[0]
	s.Equal(uint16(0x0060), hciev.ConnHandle(binary.LittleEndian.Uint16(pkt)))
	s.Equal(uint8(hciev.PBCompleteSDU), hciev.PBFlag(binary.LittleEndian.Uint16(pkt)))
	s.Equal(uint16(len(payload)+4), binary.LittleEndian.Uint16(pkt[2:]))
	s.Equal(uint16(0), binary.LittleEndian.Uint16(pkt[4:]), "first packet carries sequence zero")
	s.Equal(uint16(len(payload)), binary.LittleEndian.Uint16(pkt[6:]))
	s.Equal(payload, pkt[8:])

	s.Equal(uint16(3), s.mgr.isoCredits)
	s.Equal(uint16(1), s.mgr.table.cisFor(0x0060).usedCredits)

	s.mgr.NumCompletedPackets(0x0060, 1)
	s.Equal(uint16(4), s.mgr.isoCredits)
	s.Equal(uint16(0), s.mgr.table.cisFor(0x0060).usedCredits)
}

func (s *ManagerTestSuite) TestSendDataCreditExhaustion() {
	s.createCig(1, 0x0060)
	s.connectCis(0x0060)
	s.setupDataPath(0x0060)

	for i := 0; i < 5; i++ {
		s.mgr.SendData(0x0060, []byte{byte(i)})
	}

	s.Len(s.transport.sent, 4, "pool of four admits four packets")
	s.Equal(uint16(0), s.mgr.isoCredits)

	cis := s.mgr.table.cisFor(0x0060)
	s.Equal(uint64(1), cis.crStats.underflowCount)
	s.Equal(uint64(1), cis.crStats.underflowBytes)

	// The sequence number advances for the dropped packet too, so the next
	// transmission stays aligned with the SDU interval.
	s.mgr.NumCompletedPackets(0x0060, 4)
	s.mgr.SendData(0x0060, []byte{9})
	s.Require().Len(s.transport.sent, 5)
	s.Equal(uint16(5), binary.LittleEndian.Uint16(s.transport.sent[4][4:]))
}

func (s *ManagerTestSuite) TestSendDataOversizedSduDropped() {
	s.createCig(1, 0x0060)
	s.connectCis(0x0060)
	s.setupDataPath(0x0060)

	s.mgr.SendData(0x0060, make([]byte, 101))
	s.Empty(s.transport.sent)
	s.Equal(uint16(4), s.mgr.isoCredits, "an oversized drop must not consume a credit")
	s.Equal(uint64(1), s.mgr.table.cisFor(0x0060).crStats.underflowCount)
}

func (s *ManagerTestSuite) TestSendDataRequiresReadyStream() {
	s.createCig(1, 0x0060)

	s.NotPanics(func() { s.mgr.SendData(0x0999, []byte{1}) })
	s.Empty(s.transport.sent)

	// Not yet connected.
	s.mgr.SendData(0x0060, []byte{1})
	s.Empty(s.transport.sent)

	// Connected but no data path.
	s.connectCis(0x0060)
	s.mgr.SendData(0x0060, []byte{1})
	s.Empty(s.transport.sent)
}

func (s *ManagerTestSuite) TestCompletionOverReleaseIsCapped() {
	s.createCig(1, 0x0060)
	s.connectCis(0x0060)
	s.setupDataPath(0x0060)

	s.mgr.SendData(0x0060, []byte{1})
	s.mgr.NumCompletedPackets(0x0060, 10)
	s.Equal(uint16(4), s.mgr.isoCredits, "pool must never exceed its capacity")

	s.mgr.NumCompletedPackets(0x0999, 3)
	s.Equal(uint16(4), s.mgr.isoCredits, "unknown handles release nothing")
}

func (s *ManagerTestSuite) TestHandleDataSequenceLoss() {
	s.createCig(1, 0x0060)
	s.connectCis(0x0060)

	s.mgr.HandleData(inboundPacket(0x0060, 0, []byte{1}, 0, false), false)
	s.Require().Len(s.cb.data, 1)
	s.Equal(uint16(0), s.cb.data[0].Lost)

	// Jump from expected 1 to 3: two SDUs lost.
	s.mgr.HandleData(inboundPacket(0x0060, 3, []byte{2}, 0, false), false)
	s.Require().Len(s.cb.data, 2)
	s.Equal(uint16(2), s.cb.data[1].Lost)

	// A duplicate is behind the expectation; modular distance reports it as
	// a near-full-range loss rather than hiding it.
	s.mgr.HandleData(inboundPacket(0x0060, 3, []byte{3}, 0, false), false)
	s.Require().Len(s.cb.data, 3)
	s.Equal(uint16(0xFFFF), s.cb.data[2].Lost)

	cis := s.mgr.table.cisFor(0x0060)
	s.Equal(uint64(2+0xFFFF), cis.evStats.lostCount)
	s.Equal(uint64(2), cis.evStats.seqMismatchCount)
}

func (s *ManagerTestSuite) TestHandleDataTimestamp() {
	s.createCig(1, 0x0060)
	s.connectCis(0x0060)

	payload := []byte{0xAA, 0xBB}
	s.mgr.HandleData(inboundPacket(0x0060, 7, payload, 123456, true), true)

	s.Require().Len(s.cb.data, 1)
	evt := s.cb.data[0]
	s.Equal(uint32(123456), evt.Timestamp)
	s.Equal(uint16(7), evt.SeqNb)
	s.Equal(uint8(1), evt.CigID)
	s.Equal(payload, evt.Data)
}

func (s *ManagerTestSuite) TestHandleDataUnregisteredHandle() {
	s.NotPanics(func() {
		s.mgr.HandleData(inboundPacket(0x0777, 0, []byte{1}, 0, false), false)
	})
	s.Empty(s.cb.data)
}

func (s *ManagerTestSuite) TestBigLifecycle() {
	s.mgr.CreateBig(2, BigParams{NumBis: 2, SduInterval: 10000, MaxSdu: 100, Phy: 0x02})
	s.Equal(uint16(hciev.OpLECreateBig), s.transport.last().opcode)

	payload := make([]byte, 18+4)
	payload[0] = hciev.StatusSuccess
	payload[1] = 2 // big_handle
	payload[17] = 2
	binary.LittleEndian.PutUint16(payload[18:], 0x0070)
	binary.LittleEndian.PutUint16(payload[20:], 0x0071)
	s.mgr.HandleSubevent(hciev.SubeventCreateBigComplete, payload)

	s.Require().Len(s.cb.bigCreates, 1)
	s.Equal([]uint16{0x0070, 0x0071}, s.cb.bigCreates[0].ConnHandles)
	s.Equal(2, s.mgr.ActiveStreamCount())
	s.Equal([]bool{true}, s.traffic)

	bis := s.mgr.table.bisFor(0x0070)
	s.Require().NotNil(bis)
	s.Equal(uint32(10000), bis.sduInterval)

	// A broadcast stream has no establishment phase; the data path may be
	// set up immediately after creation.
	s.setupDataPath(0x0070)
	s.Equal([]uint16{0x0070}, s.cb.bigPathSetups)
	s.True(bis.hasDataPath)

	s.mgr.SendData(0x0070, []byte{1, 2})
	s.Len(s.transport.sent, 1)

	s.mgr.TerminateBig(2, hciev.StatusLocalHostTerminated)
	s.Equal(uint16(hciev.OpLETerminateBig), s.transport.last().opcode)
	s.mgr.HandleSubevent(hciev.SubeventTerminateBigComplete, []byte{2, hciev.StatusLocalHostTerminated})

	s.Require().Len(s.cb.bigTerminates, 1)
	s.Equal(0, s.mgr.ActiveStreamCount())
	s.Equal([]bool{true, false}, s.traffic)
}

func (s *ManagerTestSuite) TestCreateBigDuplicatePanics() {
	s.mgr.CreateBig(2, BigParams{NumBis: 1, SduInterval: 10000})
	payload := make([]byte, 20)
	payload[1] = 2
	payload[17] = 1
	binary.LittleEndian.PutUint16(payload[18:], 0x0070)
	s.mgr.HandleSubevent(hciev.SubeventCreateBigComplete, payload)

	s.Panics(func() { s.mgr.CreateBig(2, BigParams{NumBis: 1}) })
}

func (s *ManagerTestSuite) TestDataPathRemoval() {
	s.createCig(1, 0x0060)
	s.connectCis(0x0060)
	s.setupDataPath(0x0060)
	s.Equal([]uint16{0x0060}, s.cb.pathSetups)

	s.mgr.RemoveDataPath(0x0060, DataPathDirectionIn)
	ret := []byte{hciev.StatusSuccess, 0x60, 0x00}
	s.transport.completeLast(ret)

	s.Equal([]uint16{0x0060}, s.cb.pathRemovals)
	s.False(s.mgr.table.cisFor(0x0060).hasDataPath)
}

func (s *ManagerTestSuite) TestSetupDataPathRequiresConnectedCis() {
	s.createCig(1, 0x0060)
	s.Panics(func() { s.mgr.SetupDataPath(0x0060, DataPathParams{}) })
}

func (s *ManagerTestSuite) TestLinkQuality() {
	s.createCig(1, 0x0060)
	s.connectCis(0x0060)

	before := len(s.transport.commands)
	s.mgr.ReadLinkQuality(0x0999)
	s.Len(s.transport.commands, before, "unknown handle must not reach the controller")

	s.mgr.ReadLinkQuality(0x0060)
	s.Equal(uint16(hciev.OpLEReadIsoLinkQuality), s.transport.last().opcode)

	ret := make([]byte, 31)
	binary.LittleEndian.PutUint16(ret[1:], 0x0060)
	binary.LittleEndian.PutUint32(ret[23:], 5)
	s.transport.completeLast(ret)

	s.Require().Len(s.cb.linkQualities, 1)
	s.Equal(uint32(5), s.cb.linkQualities[0].RxUnreceivedPackets)
}

func (s *ManagerTestSuite) TestAddressResolution() {
	s.mgr.SetAddressResolver(func(aclHandle uint16) (string, bool) {
		if aclHandle == 0x0010 {
			return "AA:BB:CC:DD:EE:FF", true
		}
		return "", false
	})

	s.createCig(1, 0x0060)
	s.connectCis(0x0060)
	s.Equal("AA:BB:CC:DD:EE:FF", s.mgr.peerFor(0x0060))

	s.mgr.DisconnectionComplete(0x0060, hciev.StatusConnTimeout)
	s.Empty(s.mgr.peerFor(0x0060))
}

func (s *ManagerTestSuite) TestTwoStreamGroupTeardown() {
	s.createCig(1, 0x0060, 0x0061)
	s.mgr.EstablishCis(CisEstablishParams{Pairs: []CisPair{
		{CisHandle: 0x0060, AclHandle: 0x0010},
		{CisHandle: 0x0061, AclHandle: 0x0011},
	}})
	s.transport.completeLast([]byte{hciev.StatusSuccess, 0x00})
	s.mgr.HandleSubevent(hciev.SubeventCisEstablished, cisEstablishedPayload(0x0060, hciev.StatusSuccess))
	s.mgr.HandleSubevent(hciev.SubeventCisEstablished, cisEstablishedPayload(0x0061, hciev.StatusSuccess))

	s.Equal(CisConnected, s.mgr.table.cisFor(0x0060).state)
	s.Equal(CisConnected, s.mgr.table.cisFor(0x0061).state)

	// Tearing down one stream leaves the other connected and the group known.
	s.mgr.DisconnectCis(0x0060, hciev.StatusRemoteUserTerminated)
	s.mgr.DisconnectionComplete(0x0060, hciev.StatusRemoteUserTerminated)
	s.Equal(CisUnconnected, s.mgr.table.cisFor(0x0060).state)
	s.Equal(CisConnected, s.mgr.table.cisFor(0x0061).state)
	s.True(s.mgr.table.isCigKnown(1))

	s.mgr.RemoveCig(1, false)
	s.transport.completeLast([]byte{hciev.StatusSuccess, 1})
	s.Equal(0, s.mgr.ActiveStreamCount())
	s.False(s.mgr.table.isCigKnown(1))
	s.Equal([]bool{true, false}, s.traffic)
}

func (s *ManagerTestSuite) TestMalformedCompletionRefused() {
	s.mgr.CreateCig(1, cigParams(1))
	s.NotPanics(func() { s.transport.completeLast([]byte{0x00}) })
	s.Empty(s.cb.cigCreates)
	s.Equal(0, s.mgr.ActiveStreamCount())
}

func (s *ManagerTestSuite) TestUnknownSubeventIgnored() {
	s.NotPanics(func() { s.mgr.HandleSubevent(0x42, []byte{1, 2, 3}) })
	s.NotPanics(func() { s.mgr.HandleSubevent(hciev.SubeventCisRequest, []byte{1}) })
}
