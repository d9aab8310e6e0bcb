package classlist

import "fmt"

// FetchError is a transport, status or decoding failure while talking to the portal. A
// run that hits one must not build a snapshot out of the pages it did get.
type FetchError struct {
	Url    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Url, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Url, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ExtractError means the markup did not have the shape the extractor relies on, the
// portal changed or returned something that is not a class list.
type ExtractError struct {
	Reason string
	Err    error
}

func (e *ExtractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extract: %s", e.Reason)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}
