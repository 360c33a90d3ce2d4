package captcha

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

const (
	noiseLines = 20
	noiseDots  = 100
)

var (
	borderColor = color.NRGBA{R: 211, G: 211, B: 211, A: 255}
	holeShade   = color.NRGBA{A: 100}
)

// puzzleImages renders the background with its hole and the matching slider
// piece cut from (x, y).
func puzzleImages(intn func(int) int, l layout, x, y int) (*image.RGBA, *image.NRGBA) {
	bg := image.NewRGBA(image.Rect(0, 0, l.width, l.height))
	paintGradient(bg, randomColor(intn), randomColor(intn))

	for i := 0; i < noiseLines; i++ {
		drawLine(bg, intn(l.width), intn(l.height), intn(l.width), intn(l.height), randomColor(intn))
	}
	for i := 0; i < noiseDots; i++ {
		drawDot(bg, intn(l.width), intn(l.height), randomColor(intn))
	}

	cut := image.Rect(x, y, x+l.sliderWidth, y+l.sliderHeight)
	slider := image.NewNRGBA(image.Rect(0, 0, l.sliderWidth, l.sliderHeight))
	draw.Draw(slider, slider.Bounds(), bg, cut.Min, draw.Src)
	strokeRect(slider, borderColor)

	draw.Draw(bg, cut, image.NewUniform(holeShade), image.Point{}, draw.Over)
	return bg, slider
}

func randomColor(intn func(int) int) color.RGBA {
	return color.RGBA{R: uint8(intn(255)), G: uint8(intn(255)), B: uint8(intn(255)), A: 255}
}

// paintGradient blends from the top-left corner to the bottom-right one.
func paintGradient(img *image.RGBA, from, to color.RGBA) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	span := w*w + h*h
	if span == 0 {
		return
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			t := x*w + y*h
			img.SetRGBA(x, y, color.RGBA{
				R: lerp(from.R, to.R, t, span),
				G: lerp(from.G, to.G, t, span),
				B: lerp(from.B, to.B, t, span),
				A: 255,
			})
		}
	}
}

func lerp(a, b uint8, t, span int) uint8 {
	return uint8(int(a) + (int(b)-int(a))*t/span)
}

// drawLine is Bresenham over integer coordinates.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.SetRGBA(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

// drawDot outlines a small ring at (x, y); pixels past the edge are clipped.
func drawDot(img *image.RGBA, x, y int, c color.RGBA) {
	for dy := 0; dy <= 2; dy++ {
		for dx := 0; dx <= 2; dx++ {
			if dx == 1 && dy == 1 {
				continue
			}
			img.SetRGBA(x+dx, y+dy, c)
		}
	}
}

func strokeRect(img *image.NRGBA, c color.NRGBA) {
	b := img.Bounds()
	for x := b.Min.X; x < b.Max.X; x++ {
		img.SetNRGBA(x, b.Min.Y, c)
		img.SetNRGBA(x, b.Max.Y-1, c)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		img.SetNRGBA(b.Min.X, y, c)
		img.SetNRGBA(b.Max.X-1, y, c)
	}
}

func pngDataURI(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
