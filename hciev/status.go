package hciev

import "fmt"

// HCI status and reason codes surfaced by the ISO completion events
// [Vol 1, Part F, 1.3].
const (
	StatusSuccess                   = 0x00
	StatusUnknownConnID             = 0x02
	StatusConnTimeout               = 0x08
	StatusCommandDisallowed         = 0x0C
	StatusLimitedResources          = 0x0D
	StatusInvalidParams             = 0x12
	StatusRemoteUserTerminated      = 0x13
	StatusLocalHostTerminated       = 0x16
	StatusUnsupportedRemoteFeature  = 0x1A
	StatusUnspecifiedError          = 0x1F
	StatusLMPResponseTimeout        = 0x22
	StatusInstantPassed             = 0x28
	StatusConnFailedToEstablish     = 0x3E
	StatusLimitReached              = 0x43
	StatusPacketTooLong             = 0x45
	StatusConnRejectedNoSuitableCIS = 0x2B
)

var statusName = map[uint8]string{
	StatusSuccess:                   "success",
	StatusUnknownConnID:             "unknown connection identifier",
	StatusConnTimeout:               "connection timeout",
	StatusCommandDisallowed:         "command disallowed",
	StatusLimitedResources:          "connection rejected due to limited resources",
	StatusInvalidParams:             "invalid HCI command parameters",
	StatusRemoteUserTerminated:      "remote user terminated connection",
	StatusLocalHostTerminated:       "connection terminated by local host",
	StatusUnsupportedRemoteFeature:  "unsupported remote feature",
	StatusUnspecifiedError:          "unspecified error",
	StatusLMPResponseTimeout:        "LMP response timeout",
	StatusInstantPassed:             "instant passed",
	StatusConnFailedToEstablish:     "connection failed to be established",
	StatusLimitReached:              "limit reached",
	StatusPacketTooLong:             "packet too long",
	StatusConnRejectedNoSuitableCIS: "no suitable channel found",
}

// StatusText renders an HCI status or reason code for logs.
func StatusText(code uint8) string {
	if s, ok := statusName[code]; ok {
		return s
	}
	return fmt.Sprintf("unknown status 0x%02X", code)
}
