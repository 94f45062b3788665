// Package kvdaemon holds the small set of helpers shared by every package in this
// module: error wrapping, in the style the rest of the module follows throughout.
package kvdaemon

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"
)

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// WithStack wraps err with a stack trace the first time it crosses a package boundary,
// and is a no-op on an error that already carries one (or on nil). Every package in this
// module wraps errors with this function instead of returning them bare.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(stackTracer); !ok {
		return errors.WithStack(err)
	}
	return err
}

// StackTrace renders the stack trace attached by WithStack, or "" if err has none.
func StackTrace(err error) string {
	buf := &bytes.Buffer{}
	if err, ok := err.(stackTracer); ok {
		for _, f := range err.StackTrace() {
			fmt.Fprintf(buf, "%+v\n", f)
		}
	}
	return buf.String()
}
