package gifenc

import (
	"image"
	"image/color"
	"sort"
)

const (
	bucketBits  = 5
	bucketCount = 1 << (3 * bucketBits)

	// maxHistogramSamples caps how many pixels feed one palette.
	maxHistogramSamples = 2_000_000
)

// transparent is the palette entry reserved for unchanged pixels.
var transparent = color.RGBA{}

func bucketOf(r, g, b uint8) int {
	return int(r>>3)<<10 | int(g>>3)<<5 | int(b>>3)
}

type bucket struct {
	count   int
	r, g, b uint64
	index   int
}

// BuildPalette picks up to size colours from frames by popularity over 5-bit
// RGB buckets. Each colour is the mean of its bucket. Ties are broken by
// bucket index so the result is deterministic. With reserveTransparent the
// first entry is fully transparent and does not count towards size.
func BuildPalette(frames []*image.RGBA, size int, reserveTransparent bool) color.Palette {
	size = clampPaletteSize(size, reserveTransparent)

	total := 0
	for _, f := range frames {
		total += f.Rect.Dx() * f.Rect.Dy()
	}
	step := 1
	if total > maxHistogramSamples {
		step = total/maxHistogramSamples + 1
	}

	hist := make([]bucket, bucketCount)
	n := 0
	for _, f := range frames {
		pix := f.Pix
		w, h := f.Rect.Dx(), f.Rect.Dy()
		for y := 0; y < h; y++ {
			row := pix[y*f.Stride : y*f.Stride+w*4]
			for x := 0; x < w; x++ {
				if n%step == 0 {
					r, g, b := row[x*4], row[x*4+1], row[x*4+2]
					bk := &hist[bucketOf(r, g, b)]
					bk.count++
					bk.r += uint64(r)
					bk.g += uint64(g)
					bk.b += uint64(b)
				}
				n++
			}
		}
	}

	used := make([]bucket, 0, 1024)
	for i := range hist {
		if hist[i].count > 0 {
			hist[i].index = i
			used = append(used, hist[i])
		}
	}
	sort.Slice(used, func(i, j int) bool {
		if used[i].count != used[j].count {
			return used[i].count > used[j].count
		}
		return used[i].index < used[j].index
	})

	pal := make(color.Palette, 0, size+1)
	if reserveTransparent {
		pal = append(pal, transparent)
	}
	for i := 0; i < len(used) && i < size; i++ {
		bk := used[i]
		c := uint64(bk.count)
		pal = append(pal, color.RGBA{
			R: uint8(bk.r / c),
			G: uint8(bk.g / c),
			B: uint8(bk.b / c),
			A: 0xff,
		})
	}
	if len(pal) == 0 || (reserveTransparent && len(pal) == 1) {
		pal = append(pal, color.RGBA{A: 0xff})
	}
	return pal
}

func clampPaletteSize(size int, reserveTransparent bool) int {
	limit := 256
	if reserveTransparent {
		limit = 255
	}
	if size > limit {
		return limit
	}
	if size < 2 {
		return 2
	}
	return size
}

// PaletteSize maps quality 50..100 onto 32..255 colours.
func PaletteSize(quality int) int {
	q := min(max(quality, 50), 100)
	return 32 + (q-50)*(255-32)/50
}

// quantizer maps RGB values to the nearest opaque palette entry, memoised
// per 5-bit bucket.
type quantizer struct {
	palette color.Palette
	rgb     [][3]int32
	first   int
	lut     []uint16
}

func newQuantizer(pal color.Palette) *quantizer {
	q := &quantizer{
		palette: pal,
		rgb:     make([][3]int32, len(pal)),
		lut:     make([]uint16, bucketCount),
	}
	q.first = -1
	for i, c := range pal {
		r, g, b, a := c.RGBA()
		q.rgb[i] = [3]int32{int32(r >> 8), int32(g >> 8), int32(b >> 8)}
		if a == 0 {
			continue
		}
		if q.first < 0 {
			q.first = i
		}
	}
	return q
}

// index returns the palette index for r, g, b. Transparent entries are
// never returned.
func (q *quantizer) index(r, g, b uint8) uint8 {
	key := bucketOf(r, g, b)
	if v := q.lut[key]; v != 0 {
		return uint8(v - 1)
	}

	cr := int32(r&^7) + 4
	cg := int32(g&^7) + 4
	cb := int32(b&^7) + 4
	best, bestDist := q.first, int32(-1)
	for i, c := range q.palette {
		if _, _, _, a := c.RGBA(); a == 0 {
			continue
		}
		dr, dg, db := cr-q.rgb[i][0], cg-q.rgb[i][1], cb-q.rgb[i][2]
		d := dr*dr + dg*dg + db*db
		if bestDist < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	q.lut[key] = uint16(best + 1)
	return uint8(best)
}

// mapPlain writes the nearest palette index of every pixel into dst.
func (q *quantizer) mapPlain(img *image.RGBA, dst []uint8) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			dst[y*w+x] = q.index(row[x*4], row[x*4+1], row[x*4+2])
		}
	}
}

// mapDithered is mapPlain with Floyd-Steinberg error diffusion.
func (q *quantizer) mapDithered(img *image.RGBA, dst []uint8) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	cur := make([][3]int32, w+2)
	next := make([][3]int32, w+2)

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			var px [3]int32
			for c := 0; c < 3; c++ {
				px[c] = clamp8(int32(row[x*4+c]) + cur[x+1][c]/16)
			}
			idx := q.index(uint8(px[0]), uint8(px[1]), uint8(px[2]))
			dst[y*w+x] = idx

			for c := 0; c < 3; c++ {
				e := px[c] - q.rgb[idx][c]
				cur[x+2][c] += e * 7
				next[x][c] += e * 3
				next[x+1][c] += e * 5
				next[x+2][c] += e
			}
		}
		cur, next = next, cur
		for i := range next {
			next[i] = [3]int32{}
		}
	}
}

func clamp8(v int32) int32 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
