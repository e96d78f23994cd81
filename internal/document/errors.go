package document

import "fmt"

// UnsupportedFormatError means the file's family could not be determined.
// Fatal for the job; the operator must re-upload a supported format.
type UnsupportedFormatError struct {
	Filename  string
	MediaType string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported document format: filename=%q media_type=%q", e.Filename, e.MediaType)
}

// ParseError wraps a parse library failure. The underlying message is kept
// for operator diagnostics. Fatal, no retry.
type ParseError struct {
	Family Family
	Cause  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s document: %v", e.Family, e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// EmptyContentError means parsing succeeded but produced no translatable
// text. Fatal, no retry.
type EmptyContentError struct {
	Filename string
}

func (e *EmptyContentError) Error() string {
	return fmt.Sprintf("document %q contains no extractable text", e.Filename)
}
