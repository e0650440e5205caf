package overlay

import (
	"image"

	"gonum.org/v1/gonum/stat"
)

// Stats summarises the area covered by a segmentation mask
type Stats struct {
	Pixels    int
	Coverage  float64 // fraction of the mask area in [0,1]
	CentroidX float64 // normalized
	CentroidY float64 // normalized
	SpreadX   float64 // normalized population standard deviation around CentroidX
	SpreadY   float64 // normalized population standard deviation around CentroidY
}

// MaskStats computes coverage, centroid and spread of a mask at its native resolution
func MaskStats(mask image.Image) Stats {
	b := mask.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return Stats{}
	}

	st := Stencil(mask, w, h)
	cols := make([]float64, w)
	rows := make([]float64, h)
	pixels := 0
	for y := 0; y < h; y++ {
		row := st.Pix[y*st.Stride : y*st.Stride+w]
		for x, a := range row {
			if a == 0 {
				continue
			}
			cols[x]++
			rows[y]++
			pixels++
		}
	}
	if pixels == 0 {
		return Stats{}
	}

	mx, sx := stat.PopMeanStdDev(centers(w), cols)
	my, sy := stat.PopMeanStdDev(centers(h), rows)
	return Stats{
		Pixels:    pixels,
		Coverage:  float64(pixels) / float64(w*h),
		CentroidX: mx / float64(w),
		CentroidY: my / float64(h),
		SpreadX:   sx / float64(w),
		SpreadY:   sy / float64(h),
	}
}

// centers returns pixel centre coordinates 0.5, 1.5, ...
func centers(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i) + 0.5
	}
	return out
}
