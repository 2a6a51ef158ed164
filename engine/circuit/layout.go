package circuit

// Point is a canvas coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NormalizeRotation snaps degrees to the nearest quarter turn in [0, 360).
func NormalizeRotation(deg int) int {
	r := ((deg % 360) + 360) % 360
	return (r + 45) / 90 * 90 % 360
}

// PinPosition derives the canvas position of a pin. Pins are spread evenly
// along the bottom edge of the footprint, then rotated about its centre.
func PinPosition(c Component, pinID string) (Point, error) {
	def, err := Lookup(c.Type)
	if err != nil {
		return Point{}, err
	}
	idx := -1
	for i, p := range c.Pins {
		if p.ID == pinID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Point{}, NewGraphError("pin position", c.ID+"/"+pinID, ErrPinNotFound)
	}

	spacing := def.Width / float64(len(c.Pins)+1)
	dx := spacing*float64(idx+1) - def.Width/2
	dy := def.Height / 2

	switch NormalizeRotation(c.Rotation) {
	case 90:
		dx, dy = -dy, dx
	case 180:
		dx, dy = -dx, -dy
	case 270:
		dx, dy = dy, -dx
	}
	return Point{
		X: c.X + def.Width/2 + dx,
		Y: c.Y + def.Height/2 + dy,
	}, nil
}
