package utils

import "fmt"

// Wrap adds message as context to err, preserving it for errors.Is/As. It
// returns nil if err is nil so call sites can wrap unconditionally.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
