// File: pkg/locator/imagehash.go
package locator

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/xkilldash9x/tagsentry/api/schemas"
	"github.com/xkilldash9x/tagsentry/internal/config"
)

const hashSide = 8

// imageMatchStrategy compares on-page images against a reference asset using
// an 8x8 average hash. The asset hash is computed in Go; candidate hashes are
// computed in-page on a canvas so image bytes never leave the browser.
type imageMatchStrategy struct {
	ev  Evaluator
	cfg config.LocatorConfig
}

func newImageMatchStrategy(ev Evaluator, cfg config.LocatorConfig) *imageMatchStrategy {
	return &imageMatchStrategy{ev: ev, cfg: cfg}
}

func (s *imageMatchStrategy) Name() string { return "image-match" }

func (s *imageMatchStrategy) Attempt(ctx context.Context, d schemas.Descriptor) ([]Candidate, error) {
	if d.ImageAsset == "" {
		// Nothing to compare against; fall through.
		return nil, nil
	}

	refHash, err := hashAsset(d.ImageAsset)
	if err != nil {
		return nil, fmt.Errorf("reference asset %s: %w", d.ImageAsset, err)
	}

	sel := s.cfg.RoleSelectors["image"]
	if sel == "" {
		sel = "img"
	}

	// Hash every visible image on the page. Cross-origin images taint the
	// canvas and are skipped.
	body := fmt.Sprintf(`
        const side = %d;
        const hashOf = (img) => {
            try {
                const c = document.createElement('canvas');
                c.width = side; c.height = side;
                const g = c.getContext('2d');
                g.drawImage(img, 0, 0, side, side);
                const px = g.getImageData(0, 0, side, side).data;
                const gray = [];
                for (let i = 0; i < px.length; i += 4) {
                    gray.push(0.299 * px[i] + 0.587 * px[i+1] + 0.114 * px[i+2]);
                }
                const mean = gray.reduce((a, b) => a + b, 0) / gray.length;
                return gray.map(v => v >= mean ? '1' : '0').join('');
            } catch (e) {
                return null;
            }
        };
        const found = [];
        const hashes = [];
        for (const img of Array.from(document.querySelectorAll(%s)).filter(visible)) {
            const h = hashOf(img);
            if (h) { found.push(img); hashes.push(h); }
        }
        const payload = emit(found);
        for (let i = 0; i < payload.length; i++) payload[i].text = hashes[i];
        return JSON.stringify(payload);`,
		hashSide, jsString(sel))

	expr := fmt.Sprintf("(() => {%s\n%s})()", jsHelpers, body)

	var raw string
	if err := s.ev.Evaluate(ctx, expr, &raw); err != nil {
		return nil, err
	}
	var hashed []Candidate
	if err := json.UnmarshalFromString(raw, &hashed); err != nil {
		return nil, fmt.Errorf("failed to decode image hashes: %w", err)
	}

	threshold := s.cfg.ImageMatchThreshold
	if threshold <= 0 {
		threshold = 10
	}

	var matched []Candidate
	for _, c := range hashed {
		if hammingDistance(refHash, c.Text) <= threshold {
			matched = append(matched, Candidate{Selector: c.Selector, Text: d.ImageAsset})
		}
	}
	return matched, nil
}

// hashAsset computes the 64-bit average hash of the reference image as a
// '0'/'1' string, mirroring the in-page computation.
func hashAsset(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	small := image.NewRGBA(image.Rect(0, 0, hashSide, hashSide))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	gray := make([]float64, 0, hashSide*hashSide)
	var sum float64
	for y := 0; y < hashSide; y++ {
		for x := 0; x < hashSide; x++ {
			r, g, b, _ := small.At(x, y).RGBA()
			v := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			gray = append(gray, v)
			sum += v
		}
	}
	mean := sum / float64(len(gray))

	bits := make([]byte, len(gray))
	for i, v := range gray {
		if v >= mean {
			bits[i] = '1'
		} else {
			bits[i] = '0'
		}
	}
	return string(bits), nil
}

// hammingDistance counts differing bit positions; mismatched lengths count as
// maximally distant.
func hammingDistance(a, b string) int {
	if len(a) != len(b) {
		return hashSide * hashSide
	}
	d := 0
	for i := range a {
		if a[i] != b[i] {
			d++
		}
	}
	return d
}
