// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ue9

import (
	"encoding/binary"
	"fmt"
	"net"
)

const commConfigLength = 38

// Comm config write mask bits.
const (
	commMaskLocalID byte = 1 << 0
	commMaskIP      byte = 1 << 2
	commMaskGateway byte = 1 << 3
	commMaskSubnet  byte = 1 << 4
	commMaskPorts   byte = 1 << 5
	commMaskDHCP    byte = 1 << 6
)

// CommSettings holds the comm processor settings to write. Only fields set
// through a setter are written; everything else keeps the device's current
// value.
type CommSettings struct {
	mask     byte
	portsSet byte // bit 0 PortA, bit 1 PortB
	localID  byte
	ip       net.IP
	gateway  net.IP
	subnet   net.IP
	portA    uint16
	portB    uint16
	dhcp     bool
}

// NewCommSettings returns an empty set of comm settings.
func NewCommSettings() *CommSettings {
	return &CommSettings{}
}

// SetLocalID sets the local ID.
func (c *CommSettings) SetLocalID(id byte) *CommSettings {
	c.mask |= commMaskLocalID
	c.localID = id
	return c
}

// SetIPAddress sets the static IPv4 address.
func (c *CommSettings) SetIPAddress(ip net.IP) *CommSettings {
	c.mask |= commMaskIP
	c.ip = ip
	return c
}

// SetGateway sets the IPv4 gateway.
func (c *CommSettings) SetGateway(ip net.IP) *CommSettings {
	c.mask |= commMaskGateway
	c.gateway = ip
	return c
}

// SetSubnet sets the IPv4 subnet mask.
func (c *CommSettings) SetSubnet(ip net.IP) *CommSettings {
	c.mask |= commMaskSubnet
	c.subnet = ip
	return c
}

// SetPortA sets the TCP data port.
func (c *CommSettings) SetPortA(port uint16) *CommSettings {
	c.mask |= commMaskPorts
	c.portsSet |= 1
	c.portA = port
	return c
}

// SetPortB sets the TCP stream port.
func (c *CommSettings) SetPortB(port uint16) *CommSettings {
	c.mask |= commMaskPorts
	c.portsSet |= 2
	c.portB = port
	return c
}

// SetDHCP enables or disables DHCP.
func (c *CommSettings) SetDHCP(enabled bool) *CommSettings {
	c.mask |= commMaskDHCP
	c.dhcp = enabled
	return c
}

// WriteMask returns the mask byte that will be sent.
func (c *CommSettings) WriteMask() byte {
	if c == nil {
		return 0
	}
	return c.mask
}

func putIP(dst []byte, ip net.IP) error {
	v4 := ip.To4()
	if v4 == nil {
		return fmt.Errorf("%v is not an IPv4 address", ip)
	}
	// The device stores addresses least significant octet first.
	for i := 0; i < 4; i++ {
		dst[i] = v4[3-i]
	}
	return nil
}

func parseIP(b []byte) net.IP {
	return net.IPv4(b[3], b[2], b[1], b[0]).To4()
}

// payload encodes the 32 payload bytes of a comm config command.
func (c *CommSettings) payload() ([]byte, error) {
	p := make([]byte, commConfigLength-extendedHeaderSize)
	if c == nil {
		return p, nil
	}
	// Offsets are relative to byte 6 of the frame.
	p[0] = c.mask
	if c.mask&commMaskLocalID != 0 {
		p[2] = c.localID
	}
	if c.mask&commMaskIP != 0 {
		if err := putIP(p[4:8], c.ip); err != nil {
			return nil, err
		}
	}
	if c.mask&commMaskGateway != 0 {
		if err := putIP(p[8:12], c.gateway); err != nil {
			return nil, err
		}
	}
	if c.mask&commMaskSubnet != 0 {
		if err := putIP(p[12:16], c.subnet); err != nil {
			return nil, err
		}
	}
	if c.mask&commMaskPorts != 0 {
		binary.LittleEndian.PutUint16(p[16:18], c.portA)
		binary.LittleEndian.PutUint16(p[18:20], c.portB)
	}
	if c.mask&commMaskDHCP != 0 && c.dhcp {
		p[20] = 1
	}
	return p, nil
}

// CommInfo is the comm processor configuration reported by the device.
type CommInfo struct {
	LocalID       byte
	PowerLevel    byte
	IPAddress     net.IP
	Gateway       net.IP
	Subnet        net.IP
	PortA         uint16
	PortB         uint16
	DHCPEnabled   bool
	ProductID     byte
	MACAddress    net.HardwareAddr
	SerialNumber  uint32
	HWVersion     string
	CommFWVersion string
}

// ParseCommInfo unpacks a validated 38-byte comm config response or
// discovery reply.
func ParseCommInfo(r []byte) (*CommInfo, error) {
	if len(r) < commConfigLength {
		return nil, &FramingError{Got: len(r), PacketSize: commConfigLength}
	}
	mac := make(net.HardwareAddr, 6)
	for i := 0; i < 6; i++ {
		mac[i] = r[33-i]
	}
	return &CommInfo{
		LocalID:       r[8],
		PowerLevel:    r[9],
		IPAddress:     parseIP(r[10:14]),
		Gateway:       parseIP(r[14:18]),
		Subnet:        parseIP(r[18:22]),
		PortA:         binary.LittleEndian.Uint16(r[22:24]),
		PortB:         binary.LittleEndian.Uint16(r[24:26]),
		DHCPEnabled:   r[26] != 0,
		ProductID:     r[27],
		MACAddress:    mac,
		SerialNumber:  binary.LittleEndian.Uint32([]byte{r[28], r[29], r[30], 0x10}),
		HWVersion:     fmt.Sprintf("%d.%02d", r[35], r[34]),
		CommFWVersion: fmt.Sprintf("%d.%02d", r[37], r[36]),
	}, nil
}

func commConfigEcho() Echo {
	return extendedEcho(commandCommConfig, commConfigLength)
}

// CommConfig writes the set fields of settings (nil writes nothing) and
// returns the configuration the device reports afterwards. When only one of
// PortA and PortB is set, the other is read from the device first so that
// it is preserved.
func (s *Session) CommConfig(settings *CommSettings) (*CommInfo, error) {
	if err := s.requireNotStreaming(commandCommConfig.String()); err != nil {
		return nil, err
	}
	if settings != nil && settings.portsSet != 0 && settings.portsSet != 3 {
		current, err := s.CommConfig(nil)
		if err != nil {
			return nil, err
		}
		completed := *settings
		if completed.portsSet&1 == 0 {
			completed.portA = current.PortA
		}
		if completed.portsSet&2 == 0 {
			completed.portB = current.PortB
		}
		completed.portsSet = 3
		settings = &completed
	}
	payload, err := settings.payload()
	if err != nil {
		return nil, err
	}
	resp, err := s.transact(commandCommConfig.String(), Encode(commandCommConfig, payload), commConfigEcho(), false)
	if err != nil {
		return nil, err
	}
	info, err := ParseCommInfo(resp)
	if err != nil {
		return nil, err
	}
	s.comm = info
	return info, nil
}
