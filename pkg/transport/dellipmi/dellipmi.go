// Package dellipmi implements the Dell OEM Transport: BMC
// generation detection and the GET_DRIVE_MAP/SET_DRIVE_STATUS OEM commands
// that drive backplane LEDs on Dell PowerEdge servers, issued over IPMI.
//
// Grounded on github.com/gravwell/ipmigo for the request/response framing
// (netfn/command/data shape); the BDF-packing, generation-detection and
// skip-on-unchanged-write logic are this package's own, since no pack
// example exercises Dell's OEM sub-codes directly.
package dellipmi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gravwell/ipmigo"

	"github.com/intel/ledmon-sub002/pkg/ibpi"
	"github.com/intel/ledmon-sub002/pkg/ledstatus"
	"github.com/intel/ledmon-sub002/pkg/ledutils"
	"github.com/intel/ledmon-sub002/pkg/transport/api"
)

var log = ledutils.ComponentLogger("dellipmi")

const (
	netFnDellOEM  = 0x30
	netFnChassis  = 0x06
	cmdGetSysInfo = 0x59

	getSystemInfoParam    = 0xDD
	getSystemInfoSelector = 0x02
	generationByteIndex   = 9 // "tenth response byte"

	failSentinel = 0xFF
)

// Generation is one of the six 12G/13G/14G monolithic/modular BMC
// generations, each carrying its own OEM command sub-codes.
type Generation int

const (
	GenUnknown Generation = iota
	Gen12G
	Gen13G
	Gen14G
)

// subCodes holds {GET_DRIVE_MAP, SET_DRIVE_STATUS} for one generation.
type subCodes struct {
	getDriveMap    byte
	setDriveStatus byte
}

var generationSubCodes = map[Generation]subCodes{
	Gen12G: {getDriveMap: 0x07, setDriveStatus: 0x04},
	Gen13G: {getDriveMap: 0x17, setDriveStatus: 0x14},
	Gen14G: {getDriveMap: 0x37, setDriveStatus: 0x34},
}

// generationByCode maps the raw tenth-byte value GetSystemInfo returns to a
// Generation. The six monolithic/modular codes are vendor-assigned and
// opaque; this table is this package's own record of them.
var generationByCode = map[byte]Generation{
	0x0C: Gen12G, 0x0D: Gen12G,
	0x0E: Gen13G, 0x0F: Gen13G,
	0x10: Gen14G, 0x11: Gen14G,
}

// Executor abstracts the raw IPMI request/response exchange so the OEM
// command logic above can be tested without a real /dev/ipmi0. The default
// implementation adapts github.com/gravwell/ipmigo's Client.
type Executor interface {
	Execute(netFn, cmd byte, data []byte) ([]byte, error)
}

// ipmigoExecutor wraps an ipmigo.Client opened against the local in-band
// BMC interface.
type ipmigoExecutor struct {
	client *ipmigo.Client
}

// NewLocalExecutor opens an in-band IPMI session against /dev/ipmi0 via the
// kernel's ipmi driver.
func NewLocalExecutor() (Executor, error) {
	client, err := ipmigo.NewClient(ipmigo.Arguments{
		Interface: "open",
	})
	if err != nil {
		return nil, fmt.Errorf("open local IPMI interface: %w", err)
	}
	if err := client.Open(); err != nil {
		return nil, fmt.Errorf("open IPMI session: %w", err)
	}
	return &ipmigoExecutor{client: client}, nil
}

func (e *ipmigoExecutor) Execute(netFn, cmd byte, data []byte) ([]byte, error) {
	oemCmd := &rawOEMCommand{netFn: netFn, cmd: cmd, request: data}
	if err := e.client.Execute(oemCmd); err != nil {
		return nil, err
	}
	return oemCmd.response, nil
}

// rawOEMCommand is a minimal ipmigo.Command implementation carrying an
// opaque request/response payload for netFn/cmd pairs ipmigo has no
// built-in type for (GET_DRIVE_MAP, SET_DRIVE_STATUS, Dell's GetSystemInfo
// selector).
type rawOEMCommand struct {
	netFn    byte
	cmd      byte
	request  []byte
	response []byte
}

func (c *rawOEMCommand) Name() string                { return "Dell OEM" }
func (c *rawOEMCommand) Code() ipmigo.Code           { return ipmigo.Code(c.cmd) }
func (c *rawOEMCommand) NetFnRsLUN() ipmigo.NetFnRsLUN {
	return ipmigo.NetFnRsLUN(c.netFn << 2)
}
func (c *rawOEMCommand) Request() []byte { return c.request }
func (c *rawOEMCommand) Response() []byte { return c.response }
func (c *rawOEMCommand) UnmarshalResponse(res []byte) error {
	c.response = res
	return nil
}
func (c *rawOEMCommand) String() string { return c.Name() }

// DetectGeneration issues the GetSystemInfo(param=0xDD, sel=0x02) probe and
// maps the tenth response byte to a BMC generation.
func DetectGeneration(ex Executor) (Generation, error) {
	req := []byte{getSystemInfoParam, getSystemInfoSelector, 0x00, 0x00}
	resp, err := ex.Execute(netFnChassis, cmdGetSysInfo, req)
	if err != nil {
		return GenUnknown, fmt.Errorf("GetSystemInfo: %w", err)
	}
	if len(resp) <= generationByteIndex {
		return GenUnknown, ledstatus.New(ledstatus.DataError, "GetSystemInfo response too short")
	}
	gen, ok := generationByCode[resp[generationByteIndex]]
	if !ok {
		return GenUnknown, ledstatus.New(ledstatus.DataError, "unrecognized BMC generation code %#02x", resp[generationByteIndex])
	}
	return gen, nil
}

// parseBDF splits a PCI bus:device.function string ("0000:17:00.0") into
// its four numeric components.
func parseBDF(bdf string) (domain, bus, device, function byte, err error) {
	parts := strings.FieldsFunc(bdf, func(r rune) bool { return r == ':' || r == '.' })
	if len(parts) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("malformed BDF %q", bdf)
	}
	vals := make([]int64, 4)
	for i, p := range parts {
		v, perr := strconv.ParseInt(p, 16, 32)
		if perr != nil {
			return 0, 0, 0, 0, fmt.Errorf("malformed BDF component %q: %w", p, perr)
		}
		vals[i] = v
	}
	return byte(vals[0]), byte(vals[1]), byte(vals[2]), byte(vals[3]), nil
}

// getDriveMap packs the BDF into an 8-byte GET_DRIVE_MAP request and reads
// back {bay, slot} at offsets 7-8 of the response.
func getDriveMap(ex Executor, sub subCodes, bdf string) (bay, slot byte, err error) {
	domain, bus, device, function, err := parseBDF(bdf)
	if err != nil {
		return 0, 0, err
	}
	req := []byte{sub.getDriveMap, domain, bus, device, function, 0, 0, 0}
	resp, err := ex.Execute(netFnDellOEM, sub.getDriveMap, req)
	if err != nil {
		return 0, 0, fmt.Errorf("GET_DRIVE_MAP: %w", err)
	}
	if len(resp) <= 8 {
		return 0, 0, ledstatus.New(ledstatus.DataError, "GET_DRIVE_MAP response too short")
	}
	return resp[7], resp[8], nil
}

func setDriveStatus(ex Executor, sub subCodes, bay, slot byte, mask uint16) error {
	req := []byte{sub.setDriveStatus, bay, slot, byte(mask), byte(mask >> 8)}
	_, err := ex.Execute(netFnDellOEM, sub.setDriveStatus, req)
	return err
}

// Transport implements api.Transport for Dell OEM-addressed devices.
// Generation is detected once (by the caller, via DetectGeneration) and
// handed in; lastWritten caches the last IBPI successfully written per BDF
// so repeated writes of the same pattern skip the IPMI round trip entirely.
type Transport struct {
	Executor   Executor
	Generation Generation

	lastWritten map[string]ibpi.Indication
}

// Write sets the indication for dev. A bay/slot of 0xFF (either one) fails
// silently: logged and nil-returned so the monitor tick continues.
func (t *Transport) Write(dev api.Device, ind ibpi.Indication) error {
	sub, ok := generationSubCodes[t.Generation]
	if !ok {
		return ledstatus.New(ledstatus.InvalidController, "unknown Dell BMC generation")
	}

	if t.lastWritten == nil {
		t.lastWritten = make(map[string]ibpi.Indication)
	}
	if prev, ok := t.lastWritten[dev.BDF]; ok && prev == ind {
		return nil
	}

	bay, slot, err := getDriveMap(t.Executor, sub, dev.BDF)
	if err != nil {
		return err
	}
	if bay == failSentinel || slot == failSentinel {
		log.WithField("bdf", dev.BDF).Error("GET_DRIVE_MAP returned bay/slot 0xFF, skipping set")
		return nil
	}

	mask := ibpi.DellMask(ind)
	if err := setDriveStatus(t.Executor, sub, bay, slot, mask); err != nil {
		return fmt.Errorf("SET_DRIVE_STATUS: %w", err)
	}
	t.lastWritten[dev.BDF] = ind
	return nil
}
