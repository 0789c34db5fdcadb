package types

import (
	"fmt"
	"image"
)

// ToImage converts the raw frame buffer into a standard library image.
// The returned image owns its own pixel storage; the frame's Data is not
// retained.
func (f Frame) ToImage() (image.Image, error) {
	switch f.Format {
	case FormatRGB24:
		return rgb24ToImage(f)
	case FormatYUYV:
		return yuyvToImage(f)
	default:
		return nil, fmt.Errorf("unsupported pixel format: %s", f.Format)
	}
}

func rgb24ToImage(f Frame) (image.Image, error) {
	want := f.Width * f.Height * 3
	if len(f.Data) < want {
		return nil, fmt.Errorf("short RGB24 buffer: got %d bytes, want %d", len(f.Data), want)
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	si := 0
	for y := 0; y < f.Height; y++ {
		di := img.PixOffset(0, y)
		for x := 0; x < f.Width; x++ {
			img.Pix[di] = f.Data[si]
			img.Pix[di+1] = f.Data[si+1]
			img.Pix[di+2] = f.Data[si+2]
			img.Pix[di+3] = 0xff
			si += 3
			di += 4
		}
	}
	return img, nil
}

func yuyvToImage(f Frame) (image.Image, error) {
	// YUYV packs two pixels per macropixel; an odd row would run off the
	// buffer on its last macropixel.
	if f.Width%2 != 0 {
		return nil, fmt.Errorf("YUYV requires even width, got %d", f.Width)
	}
	want := f.Width * f.Height * 2
	if len(f.Data) < want {
		return nil, fmt.Errorf("short YUYV buffer: got %d bytes, want %d", len(f.Data), want)
	}
	img := image.NewYCbCr(image.Rect(0, 0, f.Width, f.Height), image.YCbCrSubsampleRatio422)
	for y := 0; y < f.Height; y++ {
		row := y * f.Width * 2
		for x := 0; x < f.Width; x += 2 {
			i := row + x*2
			img.Y[y*img.YStride+x] = f.Data[i]
			img.Y[y*img.YStride+x+1] = f.Data[i+2]
			img.Cb[y*img.CStride+x/2] = f.Data[i+1]
			img.Cr[y*img.CStride+x/2] = f.Data[i+3]
		}
	}
	return img, nil
}
