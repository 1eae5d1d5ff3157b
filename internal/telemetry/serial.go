package telemetry

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// OpenSerial opens the UART used as the production telemetry transport.
// A failure here disables telemetry only; the caller keeps running.
func OpenSerial(portName string, baudRate int) (io.ReadWriteCloser, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}
	return port, nil
}
