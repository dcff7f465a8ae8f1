package resolve

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
)

// Kind names the entity an identifier refers to.
type Kind string

const (
	KindCourse     Kind = "course"
	KindForum      Kind = "forum"
	KindDiscussion Kind = "discussion"
	KindPost       Kind = "post"
)

// IdentifierReference is a raw id tagged with the kind the caller asserted
// it to be.
type IdentifierReference struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

func (r IdentifierReference) String() string {
	return fmt.Sprintf("%s_id=%d", r.Kind, r.ID)
}

// Validate checks the id is usable for a remote lookup.
func (r IdentifierReference) Validate() error {
	if r.ID <= 0 {
		return &InvalidArgumentError{Param: string(r.Kind) + "_id", Reason: fmt.Sprintf("must be a positive integer, got %d", r.ID)}
	}
	return nil
}

// InvalidArgumentError reports malformed or missing input.
type InvalidArgumentError struct {
	Param  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
}

func (e *InvalidArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

// NotFoundError is a valid empty resolution: the lookup succeeded but
// matched nothing.
type NotFoundError struct {
	Ref    IdentifierReference
	Query  string
	Detail string
}

func (e *NotFoundError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Query != "" {
		return fmt.Sprintf("no %s matches %q", e.Ref.Kind, e.Query)
	}
	return fmt.Sprintf("no %s found with id=%d", e.Ref.Kind, e.Ref.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// WrongIdentifierError reports that an id passed as one kind belongs to
// another kind. SuggestedCall names the tool to go back to; Hint spells out
// the full next step.
type WrongIdentifierError struct {
	Requested     IdentifierReference
	Detected      Kind
	SuggestedCall string
	Hint          string
}

func (e *WrongIdentifierError) Error() string {
	return fmt.Sprintf("%d looks like a %s id, not a %s id; %s",
		e.Requested.ID, e.Detected, e.Requested.Kind, e.Hint)
}
