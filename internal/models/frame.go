package models

// Frame is a packed BGR24 image, row-major, 3 bytes per pixel.
type Frame struct {
	Width  int
	Height int
	Data   []byte
}

// NewFrame allocates a black frame.
func NewFrame(width, height int) Frame {
	return Frame{Width: width, Height: height, Data: make([]byte, width*height*3)}
}

// Valid reports whether the dimensions are usable and match the buffer.
func (f Frame) Valid() bool {
	return f.Width >= 2 && f.Height >= 2 && len(f.Data) == f.Width*f.Height*3
}

func (f Frame) Clone() Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return Frame{Width: f.Width, Height: f.Height, Data: data}
}
