//go:build !linux

package lpc

import "errors"

func openOutputs(string, map[string]int) (outputs, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}
