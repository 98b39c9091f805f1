package model

// RasterPatch is a band-major pixel crop: Pix[b*Height*Width + y*Width + x].
type RasterPatch struct {
	Bands  int
	Height int
	Width  int
	Pix    []uint8
}

// At returns the sample of band b at column x, row y.
func (p RasterPatch) At(b, y, x int) uint8 {
	return p.Pix[b*p.Height*p.Width+y*p.Width+x]
}

// Empty reports whether the patch holds no pixels.
func (p RasterPatch) Empty() bool {
	return p.Bands == 0 || p.Height == 0 || p.Width == 0
}
