package iso

// Parameter marshalling for the ISO-related HCI commands the manager issues.
// Layouts per [Vol 4, Part E, 7.8.97 ff]; all integers little-endian.

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}

func appendUint24(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16))
}

func marshalCigParams(cigID uint8, p CigParams) []byte {
	b := make([]byte, 0, 15+9*len(p.CisConfigs))
	b = append(b, cigID)
	b = appendUint24(b, p.SduIntervalMToS)
	b = appendUint24(b, p.SduIntervalSToM)
	b = append(b, p.SCA, p.Packing, p.Framing)
	b = appendUint16(b, p.MaxLatencyMToS)
	b = appendUint16(b, p.MaxLatencySToM)
	b = append(b, uint8(len(p.CisConfigs)))
	for _, c := range p.CisConfigs {
		b = append(b, c.CisID)
		b = appendUint16(b, c.MaxSduMToS)
		b = appendUint16(b, c.MaxSduSToM)
		b = append(b, c.PhyMToS, c.PhySToM, c.RtnMToS, c.RtnSToM)
	}
	return b
}

func marshalRemoveCig(cigID uint8) []byte {
	return []byte{cigID}
}

func marshalCreateCis(pairs []CisPair) []byte {
	b := make([]byte, 0, 1+4*len(pairs))
	b = append(b, uint8(len(pairs)))
	for _, p := range pairs {
		b = appendUint16(b, p.CisHandle)
		b = appendUint16(b, p.AclHandle)
	}
	return b
}

func marshalCreateBig(bigHandle uint8, p BigParams) []byte {
	b := make([]byte, 0, 31)
	b = append(b, bigHandle, p.AdvHandle, p.NumBis)
	b = appendUint24(b, p.SduInterval)
	b = appendUint16(b, p.MaxSdu)
	b = appendUint16(b, p.MaxLatency)
	b = append(b, p.Rtn, p.Phy, p.Packing, p.Framing, p.Encryption)
	b = append(b, p.BroadcastCode[:]...)
	return b
}

func marshalTerminateBig(bigHandle uint8, reason uint8) []byte {
	return []byte{bigHandle, reason}
}

func marshalSetupDataPath(connHandle uint16, p DataPathParams) []byte {
	b := make([]byte, 0, 13+len(p.CodecConfig))
	b = appendUint16(b, connHandle)
	b = append(b, p.Direction, p.PathID, p.CodecFormat)
	b = appendUint16(b, p.CodecCompany)
	b = appendUint16(b, p.CodecVendor)
	b = appendUint24(b, p.ControllerDelay)
	b = append(b, uint8(len(p.CodecConfig)))
	b = append(b, p.CodecConfig...)
	return b
}

func marshalRemoveDataPath(connHandle uint16, direction uint8) []byte {
	b := make([]byte, 0, 3)
	b = appendUint16(b, connHandle)
	return append(b, direction)
}

func marshalReadLinkQuality(connHandle uint16) []byte {
	return appendUint16(make([]byte, 0, 2), connHandle)
}

func marshalDisconnect(connHandle uint16, reason uint8) []byte {
	b := appendUint16(make([]byte, 0, 3), connHandle)
	return append(b, reason)
}
