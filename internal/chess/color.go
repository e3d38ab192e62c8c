package chess

import chesslib "github.com/notnil/chess"

// Color of a side. The numeric values are the wire representation
// (resigned_color: 0=Black, 1=White).
type Color int

const (
	Black Color = 0
	White Color = 1
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) String() string {
	if c == White {
		return "White"
	}
	return "Black"
}

func fromLibColor(c chesslib.Color) Color {
	if c == chesslib.White {
		return White
	}
	return Black
}
