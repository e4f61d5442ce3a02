// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"flag"

	"github.com/gotmc/labjack/ue9"
)

func main() {
	kind := flag.String("transport", "usb", "usb, tcp or serial")
	address := flag.String("address", "", "IP address for tcp, port name for serial")
	sn := flag.String("sn", "", "USB serial number, empty for the first UE9")
	dacVolts := flag.Float64("dac0", 2.5, "voltage to set on DAC0")
	flag.Parse()

	cfg := ue9.DefaultConfig()
	cfg.Transport.Kind = *kind
	cfg.Transport.Address = *address
	cfg.Transport.SerialPort = *address
	cfg.Transport.SerialNumber = *sn
	log := ue9.NewLogger(cfg.Log)

	daq, err := ue9.Connect(cfg, ue9.Options{Logger: log})
	if err != nil {
		log.Fatalf("Couldn't connect to the UE9: %s", err)
	}
	defer daq.Close()
	log.Printf("%s S/N %d", daq.DeviceName(), daq.SerialNumber())

	// Loop DAC0 back into AIN0 to check the calibration.
	if err := daq.SetDAC(0, *dacVolts); err != nil {
		log.Fatalf("Error setting DAC0: %s", err)
	}
	for ch := byte(0); ch < 4; ch++ {
		v, err := daq.ReadAnalogInput(ch, ue9.GainUni1, 12, 0)
		if err != nil {
			log.Fatalf("Error reading AIN%d: %s", ch, err)
		}
		log.Printf("AIN%d = %.4f V", ch, v)
	}
	kelvin, err := daq.Temperature()
	if err != nil {
		log.Fatalf("Error reading temperature: %s", err)
	}
	log.Printf("Internal temperature = %.2f K (%.2f C)", kelvin, kelvin-273.15)

	fb, err := daq.Feedback(ue9.FeedbackRequest{AINMask: 0x000F, Resolution: 12})
	if err != nil {
		log.Fatalf("Error in feedback: %s", err)
	}
	log.Printf("Feedback AIN0-3 = %.4f %.4f %.4f %.4f V, FIO = 0x%02x",
		fb.AIN[0], fb.AIN[1], fb.AIN[2], fb.AIN[3], fb.FIOState)

	tc, err := daq.TimerCounter(ue9.TimerCounterRequest{})
	if err != nil {
		log.Fatalf("Error reading counters: %s", err)
	}
	log.Printf("Counter0 = %d, Counter1 = %d", tc.Counters[0], tc.Counters[1])
}
