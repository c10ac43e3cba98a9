package model

// Result is the normalized outcome of one dispatched request. Any subset of
// the fields may be set.
type Result struct {
	Text     string
	ImageURL string
	Sources  []*Source
}

// HasImage reports whether the result carries an image
func (r *Result) HasImage() bool {
	return r != nil && r.ImageURL != ""
}
