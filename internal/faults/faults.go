// Package faults holds the error kinds surfaced by the region, the cluster
// lifecycle and the demonstration. Every kind wraps its cause, so errors.As
// finds the kind and errors.Cause / errors.Is reach the root. Formatting a
// fault with %+v prints the cause's stack trace the way pkg/errors does.
package faults

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// format prints "%+v" as the cause in detail followed by the fault's own
// message, and every other verb as err.Error().
func format(s fmt.State, verb rune, err error, msg string, causes ...error) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			for _, cause := range causes {
				if cause != nil {
					fmt.Fprintf(s, "%+v\n", cause)
				}
			}
			io.WriteString(s, msg)
			return
		}
		fallthrough
	case 's':
		io.WriteString(s, err.Error())
	case 'q':
		fmt.Fprintf(s, "%q", err.Error())
	}
}

// ConfigFault means the networked configuration is missing, unreadable or
// invalid.
type ConfigFault struct {
	Path  string
	Cause error
}

func (f *ConfigFault) Error() string {
	return fmt.Sprintf("%s: %v", f.message(), f.Cause)
}

func (f *ConfigFault) message() string {
	if f.Path == "" {
		return "config"
	}
	return "config " + f.Path
}

func (f *ConfigFault) Unwrap() error { return f.Cause }

func (f *ConfigFault) Format(s fmt.State, verb rune) { format(s, verb, f, f.message(), f.Cause) }

// ClusterInitFault means the cluster or its table could not be provisioned.
type ClusterInitFault struct {
	Mode  string
	Cause error
}

func (f *ClusterInitFault) Error() string {
	return fmt.Sprintf("%s cluster init: %v", f.Mode, f.Cause)
}

func (f *ClusterInitFault) Unwrap() error { return f.Cause }

func (f *ClusterInitFault) Format(s fmt.State, verb rune) {
	format(s, verb, f, f.Mode+" cluster init", f.Cause)
}

// TeardownFault means releasing cluster resources failed. Init is set when the
// teardown ran because initialization had already failed; both are reported.
type TeardownFault struct {
	Init  error
	Cause error
}

func (f *TeardownFault) Error() string {
	if f.Init != nil {
		return fmt.Sprintf("teardown after failed init (%v): %v", f.Init, f.Cause)
	}
	return fmt.Sprintf("teardown: %v", f.Cause)
}

func (f *TeardownFault) Unwrap() error { return f.Cause }

func (f *TeardownFault) Format(s fmt.State, verb rune) {
	if f.Init != nil {
		format(s, verb, f, "teardown after failed init", f.Init, f.Cause)
		return
	}
	format(s, verb, f, "teardown", f.Cause)
}

// StorageFault means a write inside a batch could not be applied. Operations
// of the batch before Index stay applied.
type StorageFault struct {
	Index int
	Key   []byte
	Cause error
}

func (f *StorageFault) Error() string {
	return fmt.Sprintf("%s: %v", f.message(), f.Cause)
}

func (f *StorageFault) message() string {
	return fmt.Sprintf("storage: operation %d (key %q)", f.Index, f.Key)
}

func (f *StorageFault) Unwrap() error { return f.Cause }

func (f *StorageFault) Format(s fmt.State, verb rune) { format(s, verb, f, f.message(), f.Cause) }

// AssertionFault means the demonstration observed counters other than the
// expected ones.
type AssertionFault struct {
	Step string
	Want string
	Got  string
}

func (f *AssertionFault) Error() string {
	return fmt.Sprintf("assertion failed after %s: want %s, got %s", f.Step, f.Want, f.Got)
}

// InitResult tells which faults surfaced from a failed cluster open.
type InitResult int

const (
	InitOK InitResult = iota
	InitFailure
	InitFailureThenTeardownFailure
)

func (r InitResult) String() string {
	switch r {
	case InitOK:
		return "ok"
	case InitFailure:
		return "init failure"
	case InitFailureThenTeardownFailure:
		return "init failure then teardown failure"
	default:
		return "unknown"
	}
}

// ClassifyInit reports which result kind an error from cluster open
// represents.
func ClassifyInit(err error) InitResult {
	if err == nil {
		return InitOK
	}
	var td *TeardownFault
	if errors.As(err, &td) && td.Init != nil {
		return InitFailureThenTeardownFailure
	}
	return InitFailure
}

// ExitCode maps any fault to the process exit status: 0 for nil, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
