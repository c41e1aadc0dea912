//go:build !linux && !darwin && !windows

package platform

import "errors"

func readNativeImage() []byte {
	return nil
}

func writeNativeImage([]byte) error {
	return errors.New("image clipboard not supported on this platform")
}
