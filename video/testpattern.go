package video

// GrayBars is the number of vertical bars in the test card.
const GrayBars = 8

// FillGrayBars fills a width x height grayscale buffer with vertical bars
// stepping from black on the left to white on the right.
func FillGrayBars(buf []byte, width, height int) {
	barWidth := width / GrayBars
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			barIdx := x / barWidth
			if barIdx >= GrayBars {
				barIdx = GrayBars - 1
			}
			buf[y*width+x] = byte(barIdx * 255 / (GrayBars - 1))
		}
	}
}
