package compress

import (
	"github.com/disintegration/imaging"
)

// compressImage re-encodes an image into the format implied by out's
// extension, applying the EXIF orientation.
func compressImage(in, out string) error {
	img, err := imaging.Open(in, imaging.AutoOrientation(true))
	if err != nil {
		return err
	}
	return imaging.Save(img, out)
}
