// Package overlay burns a camera name and timestamp caption into the
// corner of a preview frame before it is encoded, the same bitmap-font
// text-drawing idiom the teacher uses for bounding-box labels.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Caption burns "camera  2006-01-02 15:04:05" into the bottom-left
// corner of img in place. img must be an *image.RGBA or *image.NRGBA so
// font.Drawer can write directly into its pixel buffer.
func Caption(img draw.Image, camera string, at time.Time) {
	label := fmt.Sprintf("%s  %s", camera, at.Format("2006-01-02 15:04:05"))
	bounds := img.Bounds()
	x := bounds.Min.X + 4
	y := bounds.Max.Y - 6

	drawBackground(img, x-2, y-11, len(label)*7+4, 15)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{255, 255, 255, 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(label)
}

func drawBackground(img draw.Image, x, y, w, h int) {
	bounds := img.Bounds()
	bg := color.RGBA{0, 0, 0, 160}
	for dy := 0; dy < h; dy++ {
		for dx := 0; dx < w; dx++ {
			px, py := x+dx, y+dy
			if px >= bounds.Min.X && px < bounds.Max.X && py >= bounds.Min.Y && py < bounds.Max.Y {
				img.Set(px, py, bg)
			}
		}
	}
}
