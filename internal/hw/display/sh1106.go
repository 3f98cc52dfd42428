package display

import (
	"fmt"
	"image"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	Width  = 128
	Height = 64

	pages = Height / 8
	// the controller has 132 columns of RAM; the glass starts at column 2
	columnOffset = 2

	ctrlCommand = 0x00
	ctrlData    = 0x40

	lineHeight = 16
)

// Writer sends one I2C transfer to the display controller.
type Writer interface {
	Write(p []byte) error
}

// SH1106 drives a 128×64 SH1106 OLED.
type SH1106 struct {
	dev      Writer
	contrast byte
	face     font.Face
}

// NewSH1106 initialises the controller and clears the screen.
func NewSH1106(dev Writer, contrast byte) (*SH1106, error) {
	d := &SH1106{dev: dev, contrast: contrast, face: basicfont.Face7x13}
	if err := d.command(
		0xAE,       // display off
		0xD5, 0x80, // clock divide
		0xA8, 0x3F, // multiplex 64
		0xD3, 0x00, // display offset
		0x40,       // start line 0
		0xAD, 0x8B, // DC-DC on
		0xA1,       // segment remap
		0xC8,       // COM scan descending
		0xDA, 0x12, // COM pins
		0x81, d.contrast,
		0xD9, 0x22, // pre-charge
		0xDB, 0x40, // VCOMH
		0xA4,       // resume from RAM
		0xA6,       // normal (not inverted)
	); err != nil {
		return nil, fmt.Errorf("sh1106 init: %w", err)
	}
	if err := d.Show(image.NewAlpha(image.Rect(0, 0, Width, Height))); err != nil {
		return nil, err
	}
	if err := d.command(0xAF); err != nil {
		return nil, fmt.Errorf("sh1106 display on: %w", err)
	}
	return d, nil
}

func (d *SH1106) command(cmds ...byte) error {
	return d.dev.Write(append([]byte{ctrlCommand}, cmds...))
}

// Refresh draws the status screen.
func (d *SH1106) Refresh(s Status) error {
	return d.Show(Render(d.face, Lines(s)))
}

// Welcome shows a one-line banner.
func (d *SH1106) Welcome(title string) error {
	return d.Show(Render(d.face, []string{title}))
}

// Show transfers a frame, page by page.
func (d *SH1106) Show(img *image.Alpha) error {
	buf := Pack(img)
	for p := 0; p < pages; p++ {
		if err := d.command(0xB0|byte(p), columnOffset&0x0F, 0x10|columnOffset>>4); err != nil {
			return fmt.Errorf("sh1106 page %d: %w", p, err)
		}
		data := make([]byte, 0, Width+1)
		data = append(data, ctrlData)
		data = append(data, buf[p*Width:(p+1)*Width]...)
		if err := d.dev.Write(data); err != nil {
			return fmt.Errorf("sh1106 page %d: %w", p, err)
		}
	}
	return nil
}

// Render draws text rows onto a blank frame.
func Render(face font.Face, lines []string) *image.Alpha {
	img := image.NewAlpha(image.Rect(0, 0, Width, Height))
	ascent := face.Metrics().Ascent.Ceil()
	dr := &font.Drawer{Dst: img, Src: image.Opaque, Face: face}
	for i, line := range lines {
		dr.Dot = fixed.P(0, ascent+i*lineHeight)
		dr.DrawString(line)
	}
	return img
}

// Pack converts a frame to controller page layout: one byte per column per
// 8-pixel page, least significant bit at the top.
func Pack(img *image.Alpha) []byte {
	buf := make([]byte, Width*pages)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y && y < Height; y++ {
		for x := b.Min.X; x < b.Max.X && x < Width; x++ {
			if img.AlphaAt(x, y).A >= 0x80 {
				buf[(y/8)*Width+x] |= 1 << (y % 8)
			}
		}
	}
	return buf
}
