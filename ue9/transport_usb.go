// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ue9

import (
	"fmt"
	"strings"
	"time"

	"github.com/gotmc/libusb"
	log "github.com/sirupsen/logrus"
)

const (
	endpointCommandOut byte = 0x01
	endpointCommandIn  byte = 0x81
	endpointStreamIn   byte = 0x82
)

// USBTransport talks to a UE9 over its bulk USB endpoints.
type USBTransport struct {
	Device           *libusb.Device
	DeviceDescriptor *libusb.DeviceDescriptor
	DeviceHandle     *libusb.DeviceHandle
	ConfigDescriptor *libusb.ConfigDescriptor
	CommandOut       *libusb.EndpointDescriptor
	CommandIn        *libusb.EndpointDescriptor
	StreamIn         *libusb.EndpointDescriptor
	SerialNumber     string
}

// InitUSB intializes a new libusb session/context.
func InitUSB() (*libusb.Context, error) {
	return libusb.NewContext()
}

// OpenUSBViaSN opens the UE9 with the given serial number by searching
// through the list of USB devices.
func OpenUSBViaSN(ctx *libusb.Context, sn string) (*USBTransport, error) {
	usbDevices, err := ctx.GetDeviceList()
	if err != nil {
		return nil, fmt.Errorf("error getting USB device list: %w", err)
	}
	for _, usbDevice := range usbDevices {
		usbDeviceDescriptor, err := usbDevice.GetDeviceDescriptor()
		if err != nil {
			return nil, fmt.Errorf("error getting device descriptor: %w", err)
		}
		// Only open devices that identify as a UE9.
		if usbDeviceDescriptor.VendorID != vendorID ||
			usbDeviceDescriptor.ProductID != productID {
			continue
		}
		usbDeviceHandle, err := usbDevice.Open()
		if err != nil {
			return nil, fmt.Errorf("error getting device handle: %w", err)
		}
		serialNum, err := usbDeviceHandle.GetStringDescriptorASCII(
			usbDeviceDescriptor.SerialNumberIndex)
		if err != nil {
			usbDeviceHandle.Close()
			return nil, fmt.Errorf("error reading S/N: %w", err)
		}
		if serialNum == sn {
			log.WithField("serial", sn).Debug("found UE9 on USB")
			return createUSB(usbDevice, usbDeviceHandle)
		}
		usbDeviceHandle.Close()
	}
	return nil, fmt.Errorf("couldn't find UE9 %s", sn)
}

// OpenFirstUSB opens the first UE9 found in the USB context.
func OpenFirstUSB(ctx *libusb.Context) (*USBTransport, error) {
	dev, dh, err := ctx.OpenDeviceWithVendorProduct(vendorID, productID)
	if err != nil {
		return nil, fmt.Errorf("error opening the UE9: %w", err)
	}
	return createUSB(dev, dh)
}

func createUSB(dev *libusb.Device, dh *libusb.DeviceHandle) (*USBTransport, error) {
	if err := dh.ClaimInterface(0); err != nil {
		dh.Close()
		return nil, fmt.Errorf("error claiming the bulk interface: %w", err)
	}
	t := USBTransport{Device: dev, DeviceHandle: dh}
	deviceDescriptor, err := dev.GetDeviceDescriptor()
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("error getting device descriptor: %w", err)
	}
	t.DeviceDescriptor = deviceDescriptor
	if sn, err := dh.GetStringDescriptorASCII(deviceDescriptor.SerialNumberIndex); err == nil {
		t.SerialNumber = sn
	}
	configDescriptor, err := dev.GetActiveConfigDescriptor()
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("error getting active config descriptor: %w", err)
	}
	t.ConfigDescriptor = configDescriptor
	firstDescriptor := configDescriptor.SupportedInterfaces[0].InterfaceDescriptors[0]
	for _, ep := range firstDescriptor.EndpointDescriptors {
		switch byte(ep.EndpointAddress) {
		case endpointCommandOut:
			t.CommandOut = ep
		case endpointCommandIn:
			t.CommandIn = ep
		case endpointStreamIn:
			t.StreamIn = ep
		}
	}
	if t.CommandOut == nil || t.CommandIn == nil || t.StreamIn == nil {
		t.Close()
		return nil, fmt.Errorf("UE9 is missing a bulk endpoint")
	}
	return &t, nil
}

// Write sends p to the command endpoint.
func (t *USBTransport) Write(p []byte) error {
	n, err := t.DeviceHandle.BulkTransfer(t.CommandOut.EndpointAddress, p, len(p), defaultTimeout)
	if err != nil {
		return fmt.Errorf("error writing to UE9: %w", err)
	}
	if n != len(p) {
		return fmt.Errorf("short write to UE9: %d of %d bytes", n, len(p))
	}
	return nil
}

// Read reads up to max bytes from the command response endpoint.
func (t *USBTransport) Read(max int, timeout time.Duration) ([]byte, error) {
	p, err := t.bulkRead(t.CommandIn, max, timeout)
	if err != nil {
		return nil, err
	}
	if len(p) == 0 {
		return nil, &TimeoutError{Op: "usb read", Want: max}
	}
	return p, nil
}

// ReadStream reads up to max bytes from the stream endpoint. A read that
// times out with no data returns (nil, nil).
func (t *USBTransport) ReadStream(max int, timeout time.Duration) ([]byte, error) {
	return t.bulkRead(t.StreamIn, max, timeout)
}

func (t *USBTransport) bulkRead(ep *libusb.EndpointDescriptor, max int, timeout time.Duration) ([]byte, error) {
	p := make([]byte, max)
	ms := int(timeout / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	n, err := t.DeviceHandle.BulkTransfer(ep.EndpointAddress, p, max, ms)
	if err != nil && !isUSBTimeout(err) {
		return nil, fmt.Errorf("error reading from UE9: %w", err)
	}
	if n <= 0 {
		return nil, nil
	}
	return p[:n], nil
}

func isUSBTimeout(err error) bool {
	return strings.Contains(strings.ToUpper(err.Error()), "TIMEOUT")
}

// Flush is a no-op: the USB stack holds no unread input on the host.
func (t *USBTransport) Flush() error {
	return nil
}

// Policy returns the USB stream policy. Each 46-byte stream packet arrives
// with two trailing zero bytes and packets are never split.
func (t *USBTransport) Policy() StreamPolicy {
	return StreamPolicy{Kind: KindUSB, PacketSize: usbStreamPacketSize}
}

// Close releases the interface and closes the device handle.
func (t *USBTransport) Close() error {
	if t.DeviceHandle == nil {
		return nil
	}
	err := t.DeviceHandle.ReleaseInterface(0)
	t.DeviceHandle.Close()
	t.DeviceHandle = nil
	if err != nil {
		return fmt.Errorf("error releasing interface: %w", err)
	}
	return nil
}
