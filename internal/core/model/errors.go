package model

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInputKind         = errors.New("invalid input kind")
	ErrUnknownSource            = errors.New("unknown source")
	ErrMissingLocationParameter = errors.New("missing location parameter")
	ErrSourceNotConfigured      = errors.New("source not configured")
	ErrPartitionFetch           = errors.New("partition fetch failed")
	ErrPartitionParse           = errors.New("partition parse failed")
	ErrAllPartitionsFailed      = errors.New("all partitions failed")
)

// PartitionError records the failure of one partition. Kind is
// ErrPartitionFetch or ErrPartitionParse.
type PartitionError struct {
	Partition string
	Kind      error
	Err       error
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition %s: %v: %v", e.Partition, e.Kind, e.Err)
}

func (e *PartitionError) Unwrap() []error { return []error{e.Kind, e.Err} }

// Phase is "fetch" or "parse".
func (e *PartitionError) Phase() string {
	if errors.Is(e.Kind, ErrPartitionParse) {
		return "parse"
	}
	return "fetch"
}

func FetchError(partition string, err error) error {
	return &PartitionError{Partition: partition, Kind: ErrPartitionFetch, Err: err}
}

func ParseError(partition string, err error) error {
	return &PartitionError{Partition: partition, Kind: ErrPartitionParse, Err: err}
}

// AsPartitionError classifies err for partition. Errors not already
// classified by the adapter count as fetch failures.
func AsPartitionError(partition string, err error) *PartitionError {
	var pe *PartitionError
	if errors.As(err, &pe) {
		if pe.Partition == "" {
			pe.Partition = partition
		}
		return pe
	}
	return &PartitionError{Partition: partition, Kind: ErrPartitionFetch, Err: err}
}
