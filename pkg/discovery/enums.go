// Package discovery resolves a (peer, service) pair to the bearer endpoint
// a GOEP session is opened on.
//
// This package provides:
//   - the asynchronous Resolver contract consumed by the session engine
//   - Static, a preconfigured lookup table
//   - DNSSD, a DNS-SD (mDNS) resolver for OBEX services on IP networks
//
// A query completes exactly once. A Result with Endpoint 0 means the peer
// exposes the service but no usable endpoint for it.
package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// ServiceID is a 16-bit service class identifier.
type ServiceID uint16

// Service class identifiers of the OBEX-based profiles.
const (
	ServiceIrMCSync            ServiceID = 0x1104
	ServiceObjectPush          ServiceID = 0x1105
	ServiceFileTransfer        ServiceID = 0x1106
	ServiceImagingResponder    ServiceID = 0x111B
	ServicePhonebookAccess     ServiceID = 0x112F
	ServiceMessageAccess       ServiceID = 0x1132
	ServiceMessageNotification ServiceID = 0x1133
)

var serviceNames = map[ServiceID]string{
	ServiceIrMCSync:            "IrMCSync",
	ServiceObjectPush:          "ObjectPush",
	ServiceFileTransfer:        "FileTransfer",
	ServiceImagingResponder:    "ImagingResponder",
	ServicePhonebookAccess:     "PhonebookAccess",
	ServiceMessageAccess:       "MessageAccess",
	ServiceMessageNotification: "MessageNotification",
}

// Short profile names accepted by ParseServiceID.
var serviceAliases = map[string]ServiceID{
	"irmc": ServiceIrMCSync,
	"opp":  ServiceObjectPush,
	"ftp":  ServiceFileTransfer,
	"bip":  ServiceImagingResponder,
	"pbap": ServicePhonebookAccess,
	"map":  ServiceMessageAccess,
	"mas":  ServiceMessageAccess,
	"mns":  ServiceMessageNotification,
}

// String returns the profile name, or the hex value for unknown services.
func (s ServiceID) String() string {
	if name, ok := serviceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Service(0x%04X)", uint16(s))
}

// Hex returns the 4-digit upper-case hex form used in TXT records.
func (s ServiceID) Hex() string {
	return fmt.Sprintf("%04X", uint16(s))
}

// IsValid returns true for any non-zero service id.
func (s ServiceID) IsValid() bool {
	return s != 0
}

// ParseServiceID parses a profile alias ("pbap"), a profile name
// ("PhonebookAccess") or a hex id ("0x112F", "112F").
func ParseServiceID(s string) (ServiceID, error) {
	if id, ok := serviceAliases[strings.ToLower(s)]; ok {
		return id, nil
	}
	for id, name := range serviceNames {
		if strings.EqualFold(name, s) {
			return id, nil
		}
	}

	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidService, s)
	}
	return ServiceID(v), nil
}

// DNS-SD names.
const (
	// DefaultServiceType is the DNS-SD service type OBEX servers announce.
	DefaultServiceType = "_obex._tcp"

	// DefaultDomain is the default mDNS domain.
	DefaultDomain = "local."
)

// TXT record keys of an OBEX service instance.
const (
	// TXTKeyServices lists the service ids the instance serves,
	// comma-separated hex ("112F,1105"). Absent means any service.
	TXTKeyServices = "uuid"

	// TXTKeyName is the human-readable service name.
	TXTKeyName = "name"
)
