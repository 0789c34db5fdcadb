// Package motion implements frame-difference motion detection over grayscale
// frames. Detection is a pure function: same inputs always produce the same
// sample, which keeps the controller's state machine deterministic to test.
package motion

import (
	"image"

	"github.com/disintegration/gift"
	"github.com/harrydb/go/img/grayscale"

	"github.com/projectlend/lend/internal/types"
)

const (
	// DefaultThreshold is the per-pixel intensity delta that counts as change.
	DefaultThreshold = 30
	// DefaultMinArea is the minimum changed-region area (px²) that counts as
	// an item being placed.
	DefaultMinArea = 5000

	// blurSigma approximates the 21x21 Gaussian used to suppress sensor noise.
	blurSigma = 3.5
	// dilateKernel and dilatePasses merge fragmented change regions.
	dilateKernel = 3
	dilatePasses = 2
)

// Detector compares two prepared grayscale frames. Stateless; the zero value
// is not useful, use New.
type Detector struct {
	// Threshold is the intensity delta (0-255 scale) above which a pixel
	// counts as changed.
	Threshold uint8
	// MinArea is the minimum largest-region area in px² for IsMotion.
	MinArea int
}

// New returns a Detector, substituting defaults for zero values.
func New(threshold int, minArea int) Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if minArea <= 0 {
		minArea = DefaultMinArea
	}
	return Detector{Threshold: uint8(threshold), MinArea: minArea}
}

// Gray converts a frame to a noise-suppressed grayscale image ready for
// Detect. The blur happens here, once per frame, so Detect stays a cheap
// pure comparison.
func Gray(f *types.Frame) (*image.Gray, error) {
	raw, err := toGray(f)
	if err != nil {
		return nil, err
	}
	g := gift.New(gift.GaussianBlur(blurSigma))
	dst := image.NewGray(g.Bounds(raw.Bounds()))
	g.Draw(dst, raw)
	return dst, nil
}

// Detect compares two grayscale frames and returns a motion sample.
//
// Steps mirror the calibrated detection chain: absolute pixel difference,
// binary threshold at the intensity delta, dilation to merge fragments, then
// the largest 8-connected region's area.
func (d Detector) Detect(prev, curr *image.Gray) types.MotionSample {
	if prev == nil || curr == nil || prev.Bounds() != curr.Bounds() {
		return types.MotionSample{}
	}

	diff := absDiff(prev, curr)

	filters := []gift.Filter{gift.Threshold(float32(d.Threshold) / 255 * 100)}
	for i := 0; i < dilatePasses; i++ {
		filters = append(filters, gift.Maximum(dilateKernel, false))
	}
	g := gift.New(filters...)
	binary := image.NewGray(g.Bounds(diff.Bounds()))
	g.Draw(binary, diff)

	cocos := grayscale.CoCos(binary, 255, grayscale.NEIGHBOR8)
	maxArea := 0
	for i := range cocos {
		if len(cocos[i]) > maxArea {
			maxArea = len(cocos[i])
		}
	}

	return types.MotionSample{
		IsMotion: maxArea >= d.MinArea,
		Area:     maxArea,
	}
}

// absDiff computes the per-pixel absolute intensity difference.
func absDiff(a, b *image.Gray) *image.Gray {
	bounds := a.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		ai := a.PixOffset(bounds.Min.X, y)
		bi := b.PixOffset(bounds.Min.X, y)
		oi := out.PixOffset(bounds.Min.X, y)
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			av, bv := int(a.Pix[ai]), int(b.Pix[bi])
			dv := av - bv
			if dv < 0 {
				dv = -dv
			}
			out.Pix[oi] = uint8(dv)
			ai++
			bi++
			oi++
		}
	}
	return out
}

// toGray extracts luminance from the raw frame buffer without going through
// a full color image. YUYV frames already carry a Y plane; RGB24 uses the
// BT.601 luma weights.
func toGray(f *types.Frame) (*image.Gray, error) {
	img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))

	switch f.Format {
	case types.FormatYUYV:
		if len(f.Data) < f.Width*f.Height*2 {
			return frameImageGray(f)
		}
		for y := 0; y < f.Height; y++ {
			row := y * f.Width * 2
			oi := y * img.Stride
			for x := 0; x < f.Width; x++ {
				img.Pix[oi+x] = f.Data[row+x*2]
			}
		}
		return img, nil

	case types.FormatRGB24:
		if len(f.Data) < f.Width*f.Height*3 {
			return frameImageGray(f)
		}
		si := 0
		for y := 0; y < f.Height; y++ {
			oi := y * img.Stride
			for x := 0; x < f.Width; x++ {
				r := int(f.Data[si])
				g := int(f.Data[si+1])
				b := int(f.Data[si+2])
				img.Pix[oi+x] = uint8((299*r + 587*g + 114*b) / 1000)
				si += 3
			}
		}
		return img, nil

	default:
		return frameImageGray(f)
	}
}

// frameImageGray is the slow path for unexpected formats or short buffers.
func frameImageGray(f *types.Frame) (*image.Gray, error) {
	src, err := f.ToImage()
	if err != nil {
		return nil, err
	}
	bounds := src.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(x, y, src.At(x, y))
		}
	}
	return out, nil
}
