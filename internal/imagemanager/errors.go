package imagemanager

import "fmt"

// NotFoundError maps to §7 NotFound: the source does not exist, or
// existed but is flagged deleted.
type NotFoundError struct{ Source string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found: %s", e.Source) }

// ImageError maps to §7 UnsupportedMedia: the codec could not decode or
// encode the source/derivative bytes.
type ImageError struct{ Message string }

func (e *ImageError) Error() string { return "image error: " + e.Message }
