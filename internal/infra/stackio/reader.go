package stackio

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/trackkit/yolo-detection-service/internal/domain/entity"
)

// Meta is the JSON sidecar describing a raw image stack object.
type Meta struct {
	Axes        []string           `json:"axes"`
	Dims        []int64            `json:"dims"`
	PixelType   string             `json:"pixel_type"`
	Calibration entity.Calibration `json:"calibration"`
}

// Read decodes a stack stored as a metadata sidecar plus a raw sample
// blob. Samples are little-endian, flattened in the metadata's axis
// order. uint8 samples are widened to uint16 in memory.
func Read(metaPath, rawPath string) (*entity.ImageStack, error) {
	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("read stack metadata: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("parse stack metadata: %w", err)
	}
	if len(meta.Axes) != len(meta.Dims) {
		return nil, fmt.Errorf("stack metadata has %d axes but %d dims", len(meta.Axes), len(meta.Dims))
	}

	axes := make([]entity.Axis, len(meta.Axes))
	for i, s := range meta.Axes {
		a, err := entity.ParseAxis(s)
		if err != nil {
			return nil, fmt.Errorf("stack metadata: %w", err)
		}
		axes[i] = a
	}

	total := int64(1)
	for i, d := range meta.Dims {
		if d <= 0 {
			return nil, fmt.Errorf("stack metadata: axis %s has non-positive extent %d", meta.Axes[i], d)
		}
		total *= d
	}

	raw, err := os.ReadFile(rawPath)
	if err != nil {
		return nil, fmt.Errorf("read stack samples: %w", err)
	}

	var (
		samples  []uint16
		bitDepth int
	)
	switch meta.PixelType {
	case "uint8":
		bitDepth = 8
		if int64(len(raw)) != total {
			return nil, fmt.Errorf("stack samples: have %d bytes, layout needs %d", len(raw), total)
		}
		samples = make([]uint16, total)
		for i, b := range raw {
			samples[i] = uint16(b)
		}
	case "uint16":
		bitDepth = 16
		if int64(len(raw)) != 2*total {
			return nil, fmt.Errorf("stack samples: have %d bytes, layout needs %d", len(raw), 2*total)
		}
		samples = make([]uint16, total)
		for i := range samples {
			samples[i] = binary.LittleEndian.Uint16(raw[2*i:])
		}
	default:
		return nil, fmt.Errorf("unsupported pixel type %q", meta.PixelType)
	}

	stack := &entity.ImageStack{
		Axes:        axes,
		Dims:        meta.Dims,
		BitDepth:    bitDepth,
		Calibration: meta.Calibration,
		Samples:     samples,
	}
	if err := stack.Validate(); err != nil {
		return nil, err
	}
	return stack, nil
}
