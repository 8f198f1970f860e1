package cooke

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// Kind is the category of a calculation failure.
type Kind string

const (
	KindData             Kind = "data"
	KindInsufficientData Kind = "insufficient_data"
	KindConfiguration    Kind = "configuration"
	KindDegenerate       Kind = "degenerate"
)

var (
	// ErrData marks malformed or missing assessment data.
	ErrData = errors.New("data error")
	// ErrInsufficientData marks too few seed items or experts for scoring.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrConfiguration marks an invalid combination of calculation settings.
	ErrConfiguration = errors.New("configuration error")
	// ErrDegenerate marks a zero total weight at synthesis time.
	ErrDegenerate = errors.New("no valid experts")
)

func (k Kind) sentinel() error {
	switch k {
	case KindData:
		return ErrData
	case KindInsufficientData:
		return ErrInsufficientData
	case KindConfiguration:
		return ErrConfiguration
	case KindDegenerate:
		return ErrDegenerate
	default:
		return nil
	}
}

func (k Kind) code() errbuilder.ErrCode {
	switch k {
	case KindData, KindConfiguration:
		return errbuilder.CodeInvalidArgument
	case KindInsufficientData, KindDegenerate:
		return errbuilder.CodeFailedPrecondition
	default:
		return errbuilder.CodeInternal
	}
}

// Error is a typed calculation failure carrying the operation and,
// where known, the expert and item involved. The builder holds the
// message, the cause and the same context as error details.
type Error struct {
	*errbuilder.ErrBuilder
	Kind   Kind
	Op     string
	Expert string
	Item   string
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	if e.Expert != "" {
		fmt.Fprintf(&sb, " (expert %s)", e.Expert)
	}
	if e.Item != "" {
		fmt.Fprintf(&sb, " (item %s)", e.Item)
	}
	sb.WriteString(": ")
	if s := e.Kind.sentinel(); s != nil {
		sb.WriteString(s.Error())
	}
	if e.ErrBuilder != nil && e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	if e.ErrBuilder == nil {
		return nil
	}
	return e.ErrBuilder.Unwrap()
}

// Is matches the sentinel of the error kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func newError(kind Kind, op string, format string, args ...any) *Error {
	e := &Error{
		ErrBuilder: errbuilder.New().
			WithCode(kind.code()).
			WithMsg(fmt.Sprintf(format, args...)),
		Kind: kind,
		Op:   op,
	}
	return e.withDetails()
}

// wrapError keeps err as the cause so callers can still match it.
func wrapError(kind Kind, op string, err error) *Error {
	e := newError(kind, op, "%s", err.Error())
	e.ErrBuilder = e.WithCause(err)
	return e
}

func (e *Error) withDetails() *Error {
	m := errbuilder.ErrorMap{}
	m.Set("op", errors.New(e.Op))
	if e.Expert != "" {
		m.Set("expert", errors.New(e.Expert))
	}
	if e.Item != "" {
		m.Set("item", errors.New(e.Item))
	}
	e.ErrBuilder = e.WithDetails(errbuilder.NewErrDetails(m))
	return e
}

func (e *Error) withExpert(id string) *Error {
	e.Expert = id
	return e.withDetails()
}

func (e *Error) withItem(id string) *Error {
	e.Item = id
	return e.withDetails()
}

// KindOf returns the kind of a calculation error, or "" for other errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
