package camera

import "gocv.io/x/gocv"

// Info describes the negotiated capture parameters.
type Info struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
}

// Camera abstracts the frame source. Capture returning false means
// transient unavailability, not termination: callers back off briefly
// and retry.
type Camera interface {
	Capture() (gocv.Mat, bool)
	Info() Info
	Close() error
}
