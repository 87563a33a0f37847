package garment

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/vector"
)

const (
	silhouetteWidth  = 500
	silhouetteHeight = 600
)

// Silhouette rasterizes the default top outline: a dark fill with a gold rim.
func Silhouette() image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, silhouetteWidth, silhouetteHeight))

	rim := outline(1.0)
	rim.Draw(dst, dst.Bounds(), image.NewUniform(color.RGBA{R: 0xc9, G: 0xa2, B: 0x27, A: 0xff}), image.Point{})

	// inner fill shrunk about the garment center leaves the rim visible
	body := outline(0.96)
	body.Draw(dst, dst.Bounds(), image.NewUniform(color.RGBA{R: 0x11, G: 0x11, B: 0x11, A: 0xff}), image.Point{})
	return dst
}

func outline(k float32) *vector.Rasterizer {
	const cx, cy = 250, 320
	p := func(x, y float32) (float32, float32) {
		return cx + (x-cx)*k, cy + (y-cy)*k
	}
	r := vector.NewRasterizer(silhouetteWidth, silhouetteHeight)
	r.DrawOp = draw.Over
	r.MoveTo(p(150, 50))
	cube := func(x1, y1, x2, y2, x3, y3 float32) {
		ax, ay := p(x1, y1)
		bx, by := p(x2, y2)
		ex, ey := p(x3, y3)
		r.CubeTo(ax, ay, bx, by, ex, ey)
	}
	line := func(x, y float32) {
		r.LineTo(p(x, y))
	}
	cube(100, 50, 50, 100, 50, 150)
	line(80, 180)
	cube(80, 200, 100, 220, 120, 220)
	line(150, 220)
	line(150, 550)
	cube(150, 570, 170, 590, 190, 590)
	line(310, 590)
	cube(330, 590, 350, 570, 350, 550)
	line(350, 220)
	line(380, 220)
	cube(400, 220, 420, 200, 420, 180)
	line(450, 150)
	cube(450, 100, 400, 50, 350, 50)
	line(300, 80)
	cube(300, 80, 275, 70, 250, 70)
	cube(225, 70, 200, 80, 200, 80)
	line(150, 50)
	r.ClosePath()
	return r
}
