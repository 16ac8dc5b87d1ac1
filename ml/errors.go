package ml

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	errEmptyInput   = eris.New("features or labels empty")
	errSizeMismatch = eris.New("features and labels size mismatch")
	errBadLabel     = eris.New("labels must be 0 or 1")
	errNotTrained   = eris.New("model not trained")
	errSingleClass  = eris.New("training labels contain a single class")
)

// NoRow marks an error raised for a single record rather than a table row.
const NoRow = -1

// UnseenCategoryError is returned when a value was not observed while fitting the encoder.
// Row is the zero-based table row, or NoRow for a single record.
type UnseenCategoryError struct {
	Column string
	Value  string
	Row    int
}

func (e *UnseenCategoryError) Error() string {
	msg := fmt.Sprintf("unseen category %q for column %q", e.Value, e.Column)
	if e.Row >= 0 {
		msg += fmt.Sprintf(" (row %d)", e.Row+1)
	}
	return msg
}
