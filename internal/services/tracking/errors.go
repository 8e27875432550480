package tracking

import (
	"errors"
	"fmt"
)

var errBoxValue = errors.New("bbox contains a non-finite coordinate")

func errBoxShape(n int) error {
	return fmt.Errorf("bbox must have 4 coordinates, got %d", n)
}
