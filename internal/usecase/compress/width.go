package compress

// widthBand maps an input-size ceiling to a target output width. Bands are
// ordered by ascending MaxInputBytes; the first band whose ceiling covers the
// input wins. The final band is the catch-all for anything larger.
type widthBand struct {
	MaxInputBytes int
	Width         int
}

// widthBands is the monotonic step function from input size to target width.
// Small images keep more resolution; large ones are shrunk harder so the
// output stays within delivery budgets.
var widthBands = []widthBand{
	{MaxInputBytes: 256 << 10, Width: 1600},
	{MaxInputBytes: 1 << 20, Width: 1200},
	{MaxInputBytes: 5 << 20, Width: 800},
}

const fallbackWidth = 600

// targetWidth returns the output width for an input of the given size.
func targetWidth(inputBytes int) int {
	for _, band := range widthBands {
		if inputBytes <= band.MaxInputBytes {
			return band.Width
		}
	}
	return fallbackWidth
}
