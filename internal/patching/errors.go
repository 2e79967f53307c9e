// Package patching orchestrates one modding run: scratch-copy the APK,
// optionally downgrade it, mutate its manifest and native libraries, re-sign
// it, and reinstall it, per original_source/mbf-agent/src/patching.rs.
package patching

import "fmt"

// StepError names the pipeline step that failed, so callers can report
// which of the ordered steps broke without parsing error strings.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("patching: step %q: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

func stepErr(step string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}
