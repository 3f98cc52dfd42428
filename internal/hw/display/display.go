// Package display shows the mount status: on the SH1106 OLED over I2C and on
// any other sink (web, MQTT) that implements Display.
package display

import (
	"errors"
	"fmt"
)

// Status is one refresh of the status screen.
type Status struct {
	TrackedAngleDeg float64 `json:"tracked_angle_deg"` // hinge angle above the closed position
	SecondsToDither uint32  `json:"seconds_to_dither"` // 0 when dithering is off
	DitherAngleDeg  float64 `json:"dither_angle_deg"`
	DitherPeriodMin int     `json:"dither_period_min"`
	RPS             float64 `json:"rps"`
	Forward         bool    `json:"forward"`
	RodLengthMm     float64 `json:"rod_length_mm"`
	Fault           bool    `json:"fault"`
	Tick            uint32  `json:"tick"`
}

// Display receives status refreshes. Refresh must not block for long;
// errors are reported to the caller, which logs and ignores them.
type Display interface {
	Refresh(s Status) error
}

// Welcomer is implemented by displays that can show a boot banner.
type Welcomer interface {
	Welcome(title string) error
}

// Lines formats s as the four text rows of the status screen.
func Lines(s Status) []string {
	last := fmt.Sprintf("Speed      : %.4f", s.RPS)
	if s.Fault {
		last = "FAULT: rod at zero"
	}
	return []string{
		fmt.Sprintf("Angle      : %.1f°", s.TrackedAngleDeg),
		fmt.Sprintf("Dither time: %d:%02d", s.SecondsToDither/60, s.SecondsToDither%60),
		fmt.Sprintf("Dither ang.: %.1f°", s.DitherAngleDeg),
		last,
	}
}

// Multi fans a refresh out to several displays. Every display is refreshed
// even when an earlier one fails.
type Multi []Display

func (m Multi) Refresh(s Status) error {
	var errs []error
	for _, d := range m {
		if err := d.Refresh(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Welcome(title string) error {
	var errs []error
	for _, d := range m {
		if w, ok := d.(Welcomer); ok {
			if err := w.Welcome(title); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Nop discards refreshes.
type Nop struct{}

func (Nop) Refresh(Status) error { return nil }

// Func adapts a function to Display.
type Func func(Status) error

func (f Func) Refresh(s Status) error { return f(s) }
