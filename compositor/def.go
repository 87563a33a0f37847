package compositor

import (
	iface "TryOnServer/interface"
	"TryOnServer/source"
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Surface is the reusable output canvas. The image returned by Compose is
// only valid until the next Compose call.
type Surface struct {
	dst     *image.RGBA
	quality int
}

func NewSurface(quality int) *Surface {
	return &Surface{quality: quality}
}

// Compose draws one cycle: clear, frame (mirrored when live), then the
// garment when a placement is given.
func (s *Surface) Compose(frame source.Frame, garment image.Image, p *iface.Placement) *image.RGBA {
	w, h := frame.Width, frame.Height
	if w <= 0 || h <= 0 {
		b := frame.Image.Bounds()
		w, h = b.Dx(), b.Dy()
	}
	if s.dst == nil || s.dst.Bounds().Dx() != w || s.dst.Bounds().Dy() != h {
		s.dst = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	draw.Draw(s.dst, s.dst.Bounds(), image.Transparent, image.Point{}, draw.Src)

	if frame.Image != nil {
		sb := frame.Image.Bounds()
		draw.ApproxBiLinear.Transform(s.dst, FrameMatrix(sb, w, h, frame.Live), frame.Image, sb, draw.Over, nil)
	}
	if p != nil && garment != nil && p.Width != 0 && p.Height != 0 {
		gb := garment.Bounds()
		if !gb.Empty() {
			draw.BiLinear.Transform(s.dst, GarmentMatrix(*p, gb), garment, gb, draw.Over, nil)
		}
	}
	return s.dst
}

func (s *Surface) Encode(img image.Image) ([]byte, error) {
	return iface.EncodeJPEG(img, s.quality)
}

// FrameMatrix maps source pixels onto a w x h surface, flipping x for live frames.
func FrameMatrix(src image.Rectangle, w, h int, mirror bool) f64.Aff3 {
	sx := float64(w) / float64(src.Dx())
	sy := float64(h) / float64(src.Dy())
	m := f64.Aff3{
		sx, 0, -sx * float64(src.Min.X),
		0, sy, -sy * float64(src.Min.Y),
	}
	if mirror {
		m = mul(f64.Aff3{-1, 0, float64(w), 0, 1, 0}, m)
	}
	return m
}

// GarmentMatrix is translate(center) * rotate * translate(localOffset) *
// scale(size/garment size), applied to garment pixel coordinates.
func GarmentMatrix(p iface.Placement, garment image.Rectangle) f64.Aff3 {
	kx := p.Width / float64(garment.Dx())
	ky := p.Height / float64(garment.Dy())
	sin, cos := math.Sincos(p.Rotation)

	m := f64.Aff3{1, 0, -float64(garment.Min.X), 0, 1, -float64(garment.Min.Y)}
	m = mul(f64.Aff3{kx, 0, 0, 0, ky, 0}, m)
	m = mul(f64.Aff3{1, 0, p.LocalOffsetX, 0, 1, p.LocalOffsetY}, m)
	m = mul(f64.Aff3{cos, -sin, 0, sin, cos, 0}, m)
	return mul(f64.Aff3{1, 0, p.CenterX, 0, 1, p.CenterY}, m)
}

// Apply maps (x, y) through m.
func Apply(m f64.Aff3, x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

// mul returns a*b, i.e. b is applied first.
func mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3], a[0]*b[1] + a[1]*b[4], a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3], a[3]*b[1] + a[4]*b[4], a[3]*b[2] + a[4]*b[5] + a[5],
	}
}
