package session

import (
	"strconv"
	"strings"
)

// DiscoveryDescriptor is the decoded form of a radio's discovery
// beacon. Attributes preserves every observed key, including ones this
// type does not name a field for.
type DiscoveryDescriptor struct {
	Raw string

	Model, Serial, Version, Nickname, Callsign, IP string
	Port                                           int
	Status                                         string
	InUseIP, InUseHost                             string
	MaxLicensedVersion                             string
	RadioLicenseID                                 string
	RequiresAdditionalLicense                      bool
	FPCMac                                         string
	WANConnected                                   bool
	LicensedClients, AvailableClients              int
	MaxPanadapters, AvailablePanadapters           int
	MaxSlices, AvailableSlices                     int
	GUIClientIPs, GUIClientHosts                   []string
	GUIClientPrograms, GUIClientStations           []string
	GUIClientHandles                               []string
	MinSoftwareVersion                             string
	DiscoveryProtocolVersion                       string
	ExternalPortLink                               bool

	Attributes map[string]string
}

// ParseDiscoveryBeacon decodes one discovery datagram: NUL and DEL
// bytes are stripped, the remainder is space-delimited k=v pairs.
// Unknown keys are preserved in Attributes only; known keys populate
// both Attributes and their typed field.
func ParseDiscoveryBeacon(raw []byte) (DiscoveryDescriptor, error) {
	text := stripControlBytes(raw)
	d := DiscoveryDescriptor{Raw: text, Attributes: map[string]string{}}

	for _, tok := range strings.Fields(text) {
		i := strings.IndexByte(tok, '=')
		if i < 0 {
			continue
		}
		key, value := tok[:i], tok[i+1:]
		d.Attributes[key] = value
		d.applyKnownKey(key, value)
	}
	return d, nil
}

func stripControlBytes(raw []byte) string {
	b := make([]byte, 0, len(raw))
	for _, c := range raw {
		if c == 0x00 || c == 0x7F {
			continue
		}
		b = append(b, c)
	}
	return string(b)
}

func (d *DiscoveryDescriptor) applyKnownKey(key, value string) {
	switch key {
	case "model":
		d.Model = value
	case "serial":
		d.Serial = value
	case "version":
		d.Version = value
	case "nickname":
		d.Nickname = value
	case "callsign":
		d.Callsign = value
	case "ip":
		d.IP = value
	case "port":
		d.Port = atoi(value)
	case "status":
		d.Status = value
	case "inuse_ip":
		d.InUseIP = value
	case "inuse_host":
		d.InUseHost = value
	case "max_licensed_version":
		d.MaxLicensedVersion = value
	case "radio_license_id":
		d.RadioLicenseID = value
	case "requires_additional_license":
		d.RequiresAdditionalLicense = atob(value)
	case "fpc_mac":
		d.FPCMac = value
	case "wan_connected":
		d.WANConnected = atob(value)
	case "licensed_clients":
		d.LicensedClients = atoi(value)
	case "available_clients":
		d.AvailableClients = atoi(value)
	case "max_panadapters":
		d.MaxPanadapters = atoi(value)
	case "available_panadapters":
		d.AvailablePanadapters = atoi(value)
	case "max_slices":
		d.MaxSlices = atoi(value)
	case "available_slices":
		d.AvailableSlices = atoi(value)
	case "gui_client_ips":
		d.GUIClientIPs = splitCSV(value)
	case "gui_client_hosts":
		d.GUIClientHosts = splitCSV(value)
	case "gui_client_programs":
		d.GUIClientPrograms = splitCSV(value)
	case "gui_client_stations":
		d.GUIClientStations = splitCSV(value)
	case "gui_client_handles":
		d.GUIClientHandles = splitCSV(value)
	case "min_software_version":
		d.MinSoftwareVersion = value
	case "discovery_protocol_version":
		d.DiscoveryProtocolVersion = value
	case "external_port_link":
		d.ExternalPortLink = atob(value)
	}
}

func atoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func atob(s string) bool {
	return s == "1" || strings.EqualFold(s, "true") || strings.EqualFold(s, "yes")
}

func splitCSV(s string) []string {
	var out []string
	for _, tok := range strings.Split(s, ",") {
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
