package detector

import "sort"

// iouEpsilon guards the IoU denominator against zero-area boxes.
const iouEpsilon = 1e-6

// Box is a face bounding box in source-image pixel coordinates.
type Box struct {
	XMin  float32
	YMin  float32
	XMax  float32
	YMax  float32
	Score float32
}

// IoU computes intersection-over-union between two boxes.
// Degenerate zero-area boxes yield 0 rather than NaN.
func IoU(a, b Box) float32 {
	interXMin := max(a.XMin, b.XMin)
	interYMin := max(a.YMin, b.YMin)
	interXMax := min(a.XMax, b.XMax)
	interYMax := min(a.YMax, b.YMax)

	interW := max(interXMax-interXMin, 0)
	interH := max(interYMax-interYMin, 0)
	interArea := interW * interH

	areaA := (a.XMax - a.XMin) * (a.YMax - a.YMin)
	areaB := (b.XMax - b.XMin) * (b.YMax - b.YMin)

	return interArea / (areaA + areaB - interArea + iouEpsilon)
}

// NMS applies non-maximum suppression: boxes are sorted by descending score
// (stable, so equal scores keep their input order), then the best remaining
// box is kept and every candidate overlapping it with IoU >= threshold is
// discarded.
func NMS(boxes []Box, iouThreshold float32) []Box {
	sorted := make([]Box, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	var keep []Box
	for len(sorted) > 0 {
		best := sorted[0]
		keep = append(keep, best)

		remaining := sorted[:0]
		for _, b := range sorted[1:] {
			if IoU(best, b) < iouThreshold {
				remaining = append(remaining, b)
			}
		}
		sorted = remaining
	}

	return keep
}
