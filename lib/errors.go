package lib

import (
	"errors"
	"fmt"
	"time"
)

var ErrCollectionUnavailable = errors.New("collection unavailable")

type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed: %s: %s", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type FilterPathError struct {
	Path   string
	Reason string
}

func (e *FilterPathError) Error() string {
	return fmt.Sprintf("bad key path %q: %s", e.Path, e.Reason)
}

type CastError struct {
	ID    string
	Key   string
	Value any
	Err   error
}

func (e *CastError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("cast failed for %s key %s with value %#v: %s", e.ID, e.Key, e.Value, e.Err)
	}
	return fmt.Sprintf("cast failed for key %s with value %#v: %s", e.Key, e.Value, e.Err)
}

// SkippedIDs returns the ids of the records that failed their casts.
func SkippedIDs(errs []error) []string {
	var ids []string
	for _, err := range errs {
		var castErr *CastError
		if errors.As(err, &castErr) && castErr.ID != "" {
			ids = append(ids, castErr.ID)
		}
	}
	return ids
}

func (e *CastError) Unwrap() error {
	return e.Err
}

type TemplateError struct {
	Placeholder string
	Reason      string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("bad template placeholder %q: %s", e.Placeholder, e.Reason)
}

type CredentialNotFoundError struct {
	Name string
}

func (e *CredentialNotFoundError) Error() string {
	return fmt.Sprintf("could not find key file for %q", e.Name)
}

type UserDiscoveryError struct {
	Host string
	Err  error
}

func (e *UserDiscoveryError) Error() string {
	return fmt.Sprintf("could not determine ssh user for %s: %s", e.Host, e.Err)
}

func (e *UserDiscoveryError) Unwrap() error {
	return e.Err
}

type RemoteExecTimeoutError struct {
	Host    string
	Timeout time.Duration
}

func (e *RemoteExecTimeoutError) Error() string {
	return fmt.Sprintf("remote command on %s timed out after %s", e.Host, e.Timeout)
}

type RemoteExecError struct {
	Host string
	Err  error
}

func (e *RemoteExecError) Error() string {
	return fmt.Sprintf("remote command on %s failed: %s", e.Host, e.Err)
}

func (e *RemoteExecError) Unwrap() error {
	return e.Err
}
