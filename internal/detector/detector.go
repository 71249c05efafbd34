// Package detector decodes raw face-detection model output into bounding
// boxes: confidence thresholding, rescaling into source-image pixel space,
// non-maximum suppression and face cropping.
package detector

import (
	"context"
	"fmt"
	"image"

	"github.com/kozaktomas/photo-search/internal/preprocess"
)

const (
	// numAttrs is the per-anchor attribute count: cx, cy, w, h, confidence.
	numAttrs = 5

	// DefaultInputSize is the square detector input resolution.
	DefaultInputSize = 640

	// DefaultAnchors is the anchor count of the served YOLO face model.
	DefaultAnchors = 8400

	// DefaultConfThreshold discards low-confidence anchors before NMS.
	DefaultConfThreshold = 0.5

	// DefaultIoUThreshold is the NMS overlap cutoff.
	DefaultIoUThreshold = 0.45
)

// Model runs one face-detection forward pass on a raw channel-first [0,1]
// input tensor and returns the flat output tensor laid out as
// [attrs x anchors] for batch 0.
type Model interface {
	DetectRaw(ctx context.Context, input []float32, width, height int) ([]float32, error)
}

// Face is one surviving detection with its crop from the original image.
type Face struct {
	Box  Box
	Crop image.Image
}

// Detector turns raw model output into filtered, deduplicated face boxes.
type Detector struct {
	model         Model
	inputSize     int
	anchors       int
	confThreshold float32
	iouThreshold  float32
}

// New creates a face detector with the given input contract. Zero values
// fall back to the defaults of the served YOLO face model.
func New(model Model, inputSize, anchors int) *Detector {
	if inputSize <= 0 {
		inputSize = DefaultInputSize
	}
	if anchors <= 0 {
		anchors = DefaultAnchors
	}
	return &Detector{
		model:         model,
		inputSize:     inputSize,
		anchors:       anchors,
		confThreshold: DefaultConfThreshold,
		iouThreshold:  DefaultIoUThreshold,
	}
}

// Detect finds all faces in an image. Zero detections above the confidence
// threshold is a normal outcome and returns an empty slice.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]Face, error) {
	resized := preprocess.ResizeExactFast(img, d.inputSize, d.inputSize)
	sx := float32(img.Bounds().Dx()) / float32(d.inputSize)
	sy := float32(img.Bounds().Dy()) / float32(d.inputSize)

	input := preprocess.RawCHW(resized)
	output, err := d.model.DetectRaw(ctx, input, d.inputSize, d.inputSize)
	if err != nil {
		return nil, fmt.Errorf("face detection inference: %w", err)
	}
	if len(output) < numAttrs*d.anchors {
		return nil, fmt.Errorf("short detection output: got %d values, want %d", len(output), numAttrs*d.anchors)
	}

	boxes := d.decodeBoxes(output, sx, sy)
	kept := NMS(boxes, d.iouThreshold)

	faces := make([]Face, 0, len(kept))
	for _, b := range kept {
		faces = append(faces, Face{
			Box:  b,
			Crop: cropImage(img, b),
		})
	}
	return faces, nil
}

// decodeBoxes converts the flat [attrs x anchors] tensor into corner boxes
// in original-image pixel space, dropping anchors below the confidence
// threshold.
func (d *Detector) decodeBoxes(output []float32, sx, sy float32) []Box {
	strideAttr := d.anchors

	var boxes []Box
	for anchor := 0; anchor < d.anchors; anchor++ {
		conf := output[4*strideAttr+anchor]
		if conf < d.confThreshold {
			continue
		}

		cx := output[anchor]
		cy := output[strideAttr+anchor]
		w := output[2*strideAttr+anchor]
		h := output[3*strideAttr+anchor]

		boxes = append(boxes, Box{
			XMin:  (cx - w/2) * sx,
			YMin:  (cy - h/2) * sy,
			XMax:  (cx + w/2) * sx,
			YMax:  (cy + h/2) * sy,
			Score: conf,
		})
	}
	return boxes
}

// cropImage extracts the box region from the original image with integer
// pixel bounds, clamped to the image rectangle.
func cropImage(img image.Image, b Box) image.Image {
	bounds := img.Bounds()
	rect := image.Rect(int(b.XMin), int(b.YMin), int(b.XMax), int(b.YMax)).Intersect(bounds)
	if rect.Empty() {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}

	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			crop.Set(x, y, img.At(rect.Min.X+x, rect.Min.Y+y))
		}
	}
	return crop
}
