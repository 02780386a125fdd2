package yolo

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"

	"github.com/trackkit/yolo-detection-service/internal/domain/entity"
	"github.com/trackkit/yolo-detection-service/internal/domain/port"
)

// frameName returns the staged file name for a frame index.
func frameName(t int64) string {
	return fmt.Sprintf("%d.tif", t)
}

// ExportFrames resaves the cropped stack as one RGB TIFF per time
// point, named by absolute frame index, in the layout the external
// predictor expects (channel-last, three channels). Stacks without a
// time axis produce a single file for index 0. The first write
// failure aborts the export; cleanup of already-written frames is the
// workspace's concern.
func ExportFrames(ctx context.Context, stack *entity.ImageStack, crop entity.Interval, folder string, monitor port.RunMonitor) error {
	if err := stack.Validate(); err != nil {
		return err
	}
	if err := crop.ValidateWithin(stack.FullInterval()); err != nil {
		return fmt.Errorf("invalid crop: %w", err)
	}

	minT, maxT := crop.MinT, crop.MaxT
	if !stack.HasAxis(entity.AxisTime) {
		minT, maxT = 0, 0
	}
	total := maxT - minT + 1

	for t := minT; t <= maxT; t++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := renderFrame(stack, crop, t)
		if err != nil {
			return err
		}
		if err := writeTIFF(filepath.Join(folder, frameName(t)), img); err != nil {
			return err
		}
		monitor.Progress(float64(t+1-minT) / float64(total))
	}
	return nil
}

// renderFrame flattens one time point of the cropped stack into an
// RGB image. Z extents collapse by maximum-intensity projection.
// Single-channel data is replicated into three channels; three
// channels map to RGB directly.
func renderFrame(stack *entity.ImageStack, crop entity.Interval, t int64) (image.Image, error) {
	w := int(crop.Width())
	h := int(crop.Height())
	channels := stack.Dim(entity.AxisChannel)

	minZ, maxZ := crop.MinZ, crop.MaxZ
	if !stack.HasAxis(entity.AxisZ) {
		minZ, maxZ = 0, 0
	}

	sample := func(x, y, c int64) uint16 {
		var v uint16
		for z := minZ; z <= maxZ; z++ {
			if s := stack.At(x, y, z, c, t); s > v {
				v = s
			}
		}
		return v
	}

	shift := uint(0)
	if stack.BitDepth > 8 {
		shift = uint(stack.BitDepth - 8)
	}

	switch channels {
	case 1:
		gray := image.NewGray(image.Rect(0, 0, w, h))
		for y := int64(0); y < int64(h); y++ {
			for x := int64(0); x < int64(w); x++ {
				v := uint8(sample(crop.MinX+x, crop.MinY+y, 0) >> shift)
				gray.Pix[gray.PixOffset(int(x), int(y))] = v
			}
		}
		// Clone converts the grayscale plane into the three-channel
		// representation the predictor wants.
		return imaging.Clone(gray), nil
	case 3:
		rgb := image.NewNRGBA(image.Rect(0, 0, w, h))
		for y := int64(0); y < int64(h); y++ {
			for x := int64(0); x < int64(w); x++ {
				i := rgb.PixOffset(int(x), int(y))
				rgb.Pix[i] = uint8(sample(crop.MinX+x, crop.MinY+y, 0) >> shift)
				rgb.Pix[i+1] = uint8(sample(crop.MinX+x, crop.MinY+y, 1) >> shift)
				rgb.Pix[i+2] = uint8(sample(crop.MinX+x, crop.MinY+y, 2) >> shift)
				rgb.Pix[i+3] = 0xff
			}
		}
		return rgb, nil
	default:
		return nil, fmt.Errorf("unsupported channel count %d, want 1 or 3", channels)
	}
}

func writeTIFF(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create frame file %s: %w", path, err)
	}
	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Uncompressed}); err != nil {
		f.Close()
		return fmt.Errorf("encode frame file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close frame file %s: %w", path, err)
	}
	return nil
}
