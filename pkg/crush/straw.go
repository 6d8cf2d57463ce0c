package crush

import "math"

// CalcStraws computes straw lengths for a straw bucket using the
// straw_calc_version 1 method. Zero-weight items get zero-length straws.
func CalcStraws(weights []uint32) []uint32 {
	size := len(weights)
	straws := make([]uint32, size)
	if size == 0 {
		return straws
	}

	// reverse holds item indexes in ascending weight order, ties keep input order.
	reverse := make([]int, size)
	for i := 1; i < size; i++ {
		j := 0
		for ; j < i; j++ {
			if weights[i] < weights[reverse[j]] {
				copy(reverse[j+1:i+1], reverse[j:i])
				reverse[j] = i
				break
			}
		}
		if j == i {
			reverse[i] = i
		}
	}

	numLeft := size
	straw := 1.0
	var wBelow, lastW float64

	for i := 0; i < size; {
		if weights[reverse[i]] == 0 {
			straws[reverse[i]] = 0
			i++
			continue
		}

		straws[reverse[i]] = uint32(straw * 0x10000)
		i++
		if i == size {
			break
		}

		prev := float64(weights[reverse[i-1]])
		wBelow += (prev - lastW) * float64(numLeft)
		numLeft--
		wNext := float64(numLeft) * (float64(weights[reverse[i]]) - prev)
		pBelow := wBelow / (wBelow + wNext)

		straw *= math.Pow(1.0/pBelow, 1.0/float64(numLeft))
		lastW = prev
	}
	return straws
}
