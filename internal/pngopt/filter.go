package pngopt

import "fmt"

type strategy int

const (
	strategyMinSum strategy = iota
	strategyNone
	strategySub
	strategyUp
	strategyAverage
	strategyPaeth
)

const (
	ftNone byte = iota
	ftSub
	ftUp
	ftAverage
	ftPaeth
	numFilters
)

// fixedFilter returns the filter type applied to every row by s.
func (s strategy) fixedFilter() byte {
	switch s {
	case strategySub:
		return ftSub
	case strategyUp:
		return ftUp
	case strategyAverage:
		return ftAverage
	case strategyPaeth:
		return ftPaeth
	default:
		return ftNone
	}
}

// unfilter reverses per-scanline filtering and returns the raw rows
// concatenated without filter type bytes.
func unfilter(filtered []byte, rowBytes, height, bpp int) ([]byte, error) {
	if len(filtered) != height*(rowBytes+1) {
		return nil, fmt.Errorf("%w: image data is %d bytes, want %d",
			ErrMalformed, len(filtered), height*(rowBytes+1))
	}

	raw := make([]byte, height*rowBytes)
	prev := make([]byte, rowBytes)
	for y := 0; y < height; y++ {
		in := filtered[y*(rowBytes+1):]
		ft := in[0]
		cur := raw[y*rowBytes : (y+1)*rowBytes]
		copy(cur, in[1:rowBytes+1])

		switch ft {
		case ftNone:
		case ftSub:
			for x := bpp; x < rowBytes; x++ {
				cur[x] += cur[x-bpp]
			}
		case ftUp:
			for x := 0; x < rowBytes; x++ {
				cur[x] += prev[x]
			}
		case ftAverage:
			for x := 0; x < rowBytes; x++ {
				var left int
				if x >= bpp {
					left = int(cur[x-bpp])
				}
				cur[x] += byte((left + int(prev[x])) / 2)
			}
		case ftPaeth:
			for x := 0; x < rowBytes; x++ {
				var left, upLeft byte
				if x >= bpp {
					left = cur[x-bpp]
					upLeft = prev[x-bpp]
				}
				cur[x] += paeth(left, prev[x], upLeft)
			}
		default:
			return nil, fmt.Errorf("%w: filter type %d on row %d", ErrMalformed, ft, y)
		}
		prev = cur
	}
	return raw, nil
}

// refilter applies a filtering strategy to raw rows and returns the
// filtered stream ready for compression.
func refilter(raw []byte, rowBytes, height, bpp int, s strategy) []byte {
	out := make([]byte, height*(rowBytes+1))
	prev := make([]byte, rowBytes)

	var candidates [numFilters][]byte
	if s == strategyMinSum {
		for i := range candidates {
			candidates[i] = make([]byte, rowBytes)
		}
	}

	for y := 0; y < height; y++ {
		cur := raw[y*rowBytes : (y+1)*rowBytes]
		dst := out[y*(rowBytes+1):]

		if s != strategyMinSum {
			ft := s.fixedFilter()
			dst[0] = ft
			applyFilter(ft, dst[1:rowBytes+1], cur, prev, bpp)
			prev = cur
			continue
		}

		best, bestSum := ftNone, -1
		for ft := ftNone; ft < numFilters; ft++ {
			applyFilter(ft, candidates[ft], cur, prev, bpp)
			sum := absSum(candidates[ft])
			if bestSum < 0 || sum < bestSum {
				best, bestSum = ft, sum
			}
		}
		dst[0] = best
		copy(dst[1:rowBytes+1], candidates[best])
		prev = cur
	}
	return out
}

func applyFilter(ft byte, dst, cur, prev []byte, bpp int) {
	n := len(cur)
	switch ft {
	case ftNone:
		copy(dst, cur)
	case ftSub:
		for x := 0; x < n; x++ {
			var left byte
			if x >= bpp {
				left = cur[x-bpp]
			}
			dst[x] = cur[x] - left
		}
	case ftUp:
		for x := 0; x < n; x++ {
			dst[x] = cur[x] - prev[x]
		}
	case ftAverage:
		for x := 0; x < n; x++ {
			var left int
			if x >= bpp {
				left = int(cur[x-bpp])
			}
			dst[x] = cur[x] - byte((left+int(prev[x]))/2)
		}
	case ftPaeth:
		for x := 0; x < n; x++ {
			var left, upLeft byte
			if x >= bpp {
				left = cur[x-bpp]
				upLeft = prev[x-bpp]
			}
			dst[x] = cur[x] - paeth(left, prev[x], upLeft)
		}
	}
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa := abs(p - int(a))
	pb := abs(p - int(b))
	pc := abs(p - int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

// absSum is the minimum sum of absolute differences heuristic, treating
// filtered bytes as signed.
func absSum(row []byte) int {
	sum := 0
	for _, v := range row {
		sum += abs(int(int8(v)))
	}
	return sum
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
