package lctr

import "fmt"

// Status is an HCI error code reported to the host.
type Status uint8

const (
	StatusSuccess               Status = 0x00
	StatusUnknownConnID         Status = 0x02
	StatusMemCapExceeded        Status = 0x07
	StatusConnTimeout           Status = 0x08
	StatusCommandDisallowed     Status = 0x0C
	StatusInvalidParams         Status = 0x12
	StatusRemoteUserTerminated  Status = 0x13
	StatusLocalHostTerminated   Status = 0x16
	StatusUnspecified           Status = 0x1F
	StatusAdvTimeout            Status = 0x3C
	StatusConnFailedToEstablish Status = 0x3E
	StatusOpCancelledByHost     Status = 0x44
)

var statusNames = map[Status]string{
	StatusSuccess:               "success",
	StatusUnknownConnID:         "unknown connection identifier",
	StatusMemCapExceeded:        "memory capacity exceeded",
	StatusConnTimeout:           "connection timeout",
	StatusCommandDisallowed:     "command disallowed",
	StatusInvalidParams:         "invalid parameters",
	StatusRemoteUserTerminated:  "remote user terminated connection",
	StatusLocalHostTerminated:   "connection terminated by local host",
	StatusUnspecified:           "unspecified error",
	StatusAdvTimeout:            "advertising timeout",
	StatusConnFailedToEstablish: "connection failed to be established",
	StatusOpCancelledByHost:     "operation cancelled by host",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status 0x%02x", uint8(s))
}

// Error lets a non-success status travel as an error.
func (s Status) Error() string {
	return fmt.Sprintf("hci 0x%02x: %s", uint8(s), s.String())
}

// Err returns nil for success and the status itself otherwise.
func (s Status) Err() error {
	if s == StatusSuccess {
		return nil
	}
	return s
}
