package serialport

import (
	"fmt"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes one serial device present on the host.
type PortInfo struct {
	// Name is the OS identifier used to open the device, e.g. COM3 or
	// /dev/ttyUSB0.
	Name string `json:"name"`
	// Description is the human-readable product name when the platform
	// exposes one.
	Description string `json:"description,omitempty"`
	// HardwareID identifies the underlying hardware, e.g. "USB VID:PID=0403:6001 SER=A6008isP".
	HardwareID string `json:"hardware_id,omitempty"`
}

// List returns the serial devices present on the host in enumeration order.
func List() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("serialport: enumerate: %w", err)
	}

	infos := make([]PortInfo, 0, len(details))
	for _, d := range details {
		info := PortInfo{
			Name:        d.Name,
			Description: d.Product,
		}
		if d.IsUSB {
			info.HardwareID = fmt.Sprintf("USB VID:PID=%s:%s", d.VID, d.PID)
			if d.SerialNumber != "" {
				info.HardwareID += " SER=" + d.SerialNumber
			}
		}
		infos = append(infos, info)
	}

	return infos, nil
}
