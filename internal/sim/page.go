// Package sim provides in-process stand-ins for a browser tab and a mobile
// device so the capture pipeline can run without real drivers.
package sim

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"

	"github.com/GriffinCanCode/pagestitch/internal/geometry"
)

// BandColor is the fill of the i-th horizontal band drawn by RenderPage.
func BandColor(i int) color.RGBA {
	return color.RGBA{R: uint8(i * 37), G: uint8(255 - i*53), B: uint8(i * 91), A: 255}
}

// RenderPage draws a synthetic page of horizontal bands, band pixels tall,
// each labelled with its index when the page is wide enough. The left
// quarter of every band is a solid fill, so any row identifies its band.
func RenderPage(size geometry.Size, band int) image.Image {
	band = max(band, 1)
	dc := gg.NewContext(size.Width, size.Height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	for i, y := 0, 0; y < size.Height; i, y = i+1, y+band {
		dc.SetColor(BandColor(i))
		dc.DrawRectangle(0, float64(y), float64(size.Width), float64(band))
		dc.Fill()
		if size.Width >= 120 && band >= 16 {
			dc.SetRGB(0, 0, 0)
			dc.DrawStringAnchored(fmt.Sprintf("band %d", i), float64(size.Width)*0.6, float64(y)+float64(band)/2, 0, 0.5)
		}
	}
	return dc.Image()
}
