// Package preprocess turns decoded images into the tensor buffers the
// inference models expect: channel-first float layouts at fixed square
// resolutions, with or without ImageNet statistics applied.
package preprocess

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageNet normalization statistics (per RGB channel).
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// LoadImage decodes an image file from disk. The second return value is the
// registered decoder name ("jpeg", "png", ...).
func LoadImage(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("decode image %s: %w", path, err)
	}
	return img, format, nil
}

// ResizeExact scales an image to exactly width x height, ignoring aspect
// ratio. CatmullRom is used as the quality-preserving filter.
func ResizeExact(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// ResizeExactFast scales an image to exactly width x height with a cheaper
// bilinear filter, used for detector inputs where throughput matters more
// than resampling quality.
func ResizeExactFast(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// RGBBytes returns the raw RGB8 pixel buffer of an image in row-major
// RGBRGB... order. The buffer is independent of the source encoding, so two
// files that decode to the same pixels yield the same bytes.
func RGBBytes(img image.Image) []byte {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	buf := make([]byte, 0, 3*width*height)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			buf = append(buf, byte(r>>8), byte(g>>8), byte(b>>8))
		}
	}
	return buf
}

// NormalizeCHW resizes an image to size x size and returns a channel-first
// float buffer with ImageNet mean/std normalization applied, laid out as
// [R plane][G plane][B plane].
func NormalizeCHW(img image.Image, size int) []float32 {
	resized := ResizeExact(img, size, size)
	pixels := size * size
	data := make([]float32, 3*pixels)

	i := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			data[i] = (float32(r>>8)/255.0 - imagenetMean[0]) / imagenetStd[0]
			data[pixels+i] = (float32(g>>8)/255.0 - imagenetMean[1]) / imagenetStd[1]
			data[2*pixels+i] = (float32(b>>8)/255.0 - imagenetMean[2]) / imagenetStd[2]
			i++
		}
	}
	return data
}

// RawCHW returns a channel-first [0,1] float buffer of an already-resized
// image, without normalization. Used for detector inputs.
func RawCHW(img image.Image) []float32 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	pixels := width * height
	data := make([]float32, 3*pixels)

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			data[i] = float32(r>>8) / 255.0
			data[pixels+i] = float32(g>>8) / 255.0
			data[2*pixels+i] = float32(b>>8) / 255.0
			i++
		}
	}
	return data
}
