//go:build linux || darwin

package platform

import (
	"sync"

	imageclip "golang.design/x/clipboard"
)

// the image clipboard needs cgo and a display; without them images are skipped
var initImageClipboard = sync.OnceValue(imageclip.Init)

func readNativeImage() []byte {
	if initImageClipboard() != nil {
		return nil
	}
	return imageclip.Read(imageclip.FmtImage)
}

func writeNativeImage(png []byte) error {
	if err := initImageClipboard(); err != nil {
		return err
	}
	imageclip.Write(imageclip.FmtImage, png)
	return nil
}
