package detector

import (
	"fmt"
	"image"
	"sort"
)

// candidate is a raw prediction before suppression, in model-input pixels.
type candidate struct {
	cx, cy, w, h float32
	score        float32
	class        int
}

// ParseYOLOv8 decodes the [1, 4+numClasses, numAnchors] output of a YOLOv8
// export and returns detections above opts.Confidence after class-aware
// non-maximum suppression.
func ParseYOLOv8(output []float32, numAnchors int, tf Transform, opts Options) ([]Detection, error) {
	numClasses := len(opts.Classes)
	if numAnchors <= 0 || numClasses == 0 {
		return nil, fmt.Errorf("detector: bad output layout anchors=%d classes=%d", numAnchors, numClasses)
	}
	if want := (4 + numClasses) * numAnchors; len(output) < want {
		return nil, fmt.Errorf("detector: output has %d values, want %d", len(output), want)
	}

	at := func(row, anchor int) float32 { return output[row*numAnchors+anchor] }

	var cands []candidate
	for i := 0; i < numAnchors; i++ {
		best, bestScore := -1, float32(0)
		for c := 0; c < numClasses; c++ {
			if s := at(4+c, i); s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || bestScore < opts.Confidence {
			continue
		}
		cands = append(cands, candidate{
			cx: at(0, i), cy: at(1, i), w: at(2, i), h: at(3, i),
			score: bestScore, class: best,
		})
	}

	kept := nonMaxSuppression(cands, opts.IoU)
	out := make([]Detection, 0, len(kept))
	for _, c := range kept {
		box := tf.Unletterbox(c.cx, c.cy, c.w, c.h)
		if box.Empty() {
			continue
		}
		out = append(out, Detection{
			Box:        box,
			Confidence: c.score,
			ClassID:    c.class,
			Label:      opts.Label(c.class),
		})
	}
	return out, nil
}

// nonMaxSuppression keeps the highest scoring box per overlapping cluster of
// the same class. Output is ordered by descending score.
func nonMaxSuppression(cands []candidate, iou float32) []candidate {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })

	suppressed := make([]bool, len(cands))
	var kept []candidate
	for i := range cands {
		if suppressed[i] {
			continue
		}
		kept = append(kept, cands[i])
		for j := i + 1; j < len(cands); j++ {
			if suppressed[j] || cands[j].class != cands[i].class {
				continue
			}
			if overlap(cands[i], cands[j]) > iou {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func overlap(a, b candidate) float32 {
	ar := boxOf(a)
	br := boxOf(b)
	inter := ar.Intersect(br)
	if inter.Empty() {
		return 0
	}
	ia := area(inter)
	return ia / (area(ar) + area(br) - ia)
}

// boxOf rounds to a tenth of a pixel; plenty for overlap ratios.
func boxOf(c candidate) image.Rectangle {
	return image.Rect(
		int((c.cx-c.w/2)*10), int((c.cy-c.h/2)*10),
		int((c.cx+c.w/2)*10), int((c.cy+c.h/2)*10),
	)
}

func area(r image.Rectangle) float32 {
	return float32(r.Dx()) * float32(r.Dy())
}
