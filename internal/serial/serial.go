package serial

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Port wraps a serial port opened for passive listening.
type Port struct {
	port     serial.Port
	portName string
	baudRate int
}

// Open opens a serial port with the specified baud rate (8N1).
func Open(portName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	// Short read timeout so the read loop stays responsive to shutdown
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:     port,
		portName: portName,
		baudRate: baudRate,
	}, nil
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Read reads available data from the serial port. A zero-byte return
// means the read timed out with the line idle.
func (p *Port) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

// Flush discards any buffered input data.
func (p *Port) Flush() error {
	return p.port.ResetInputBuffer()
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// ListPorts returns a list of available serial ports.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}
