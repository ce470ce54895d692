package compressor

import (
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// Format is a concrete output codec.
type Format int

const (
	FormatUnknown Format = iota
	FormatJPEG
	FormatPNG
	FormatWebP
	FormatBMP
	FormatTIFF
	FormatGIF
)

var extensionFormats = map[string]Format{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".png":  FormatPNG,
	".webp": FormatWebP,
	".bmp":  FormatBMP,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
	".gif":  FormatGIF,
}

// SupportedFormats returns every output format in a stable order.
func SupportedFormats() []Format {
	return []Format{FormatJPEG, FormatPNG, FormatWebP, FormatBMP, FormatTIFF, FormatGIF}
}

// String returns the conventional name of the format.
func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "JPEG"
	case FormatPNG:
		return "PNG"
	case FormatWebP:
		return "WebP"
	case FormatBMP:
		return "BMP"
	case FormatTIFF:
		return "TIFF"
	case FormatGIF:
		return "GIF"
	default:
		return "Unknown"
	}
}

// Extension returns the file extension used for outputs of this format, without the dot.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatPNG:
		return "png"
	case FormatWebP:
		return "webp"
	case FormatBMP:
		return "bmp"
	case FormatTIFF:
		return "tiff"
	case FormatGIF:
		return "gif"
	default:
		return ""
	}
}

// SupportsQuality reports whether the quality parameter affects the encoding.
func (f Format) SupportsQuality() bool {
	return f == FormatJPEG || f == FormatPNG || f == FormatWebP
}

// MarshalText encodes the format as its lower-case extension name.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.Extension()), nil
}

// UnmarshalText parses a format name as accepted by ParseFormat.
func (f *Format) UnmarshalText(text []byte) error {
	parsed, err := ParseFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

func (f Format) imagingFormat() imaging.Format {
	switch f {
	case FormatJPEG:
		return imaging.JPEG
	case FormatPNG:
		return imaging.PNG
	case FormatBMP:
		return imaging.BMP
	case FormatTIFF:
		return imaging.TIFF
	case FormatGIF:
		return imaging.GIF
	default:
		return -1
	}
}

// ParseFormat parses a user supplied format name. An empty name yields
// FormatUnknown, meaning no override.
func ParseFormat(name string) (Format, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return FormatUnknown, nil
	}
	if f, ok := extensionFormats["."+strings.ToLower(name)]; ok {
		return f, nil
	}
	return FormatUnknown, errorf(KindUnsupportedFormat, "", "unknown output format %q", name)
}

// FormatFromPath infers a format from the path extension.
func FormatFromPath(path string) Format {
	return extensionFormats[strings.ToLower(filepath.Ext(path))]
}

// ResolveFormat determines the output codec. An explicit override always
// wins; otherwise the output path's extension decides.
func ResolveFormat(outputPath string, override Format) (Format, error) {
	if override != FormatUnknown {
		return override, nil
	}
	if f := FormatFromPath(outputPath); f != FormatUnknown {
		return f, nil
	}
	ext := filepath.Ext(outputPath)
	if ext == "" {
		return FormatUnknown, errorf(KindUnsupportedFormat, outputPath, "output path has no extension")
	}
	return FormatUnknown, errorf(KindUnsupportedFormat, outputPath, "unrecognized extension %q", ext)
}

// OutputPath returns the destination of input under outputRoot. When
// inputRoot contains input, the relative directory structure is kept.
// With an override the extension is replaced by the override's extension.
func OutputPath(input, outputRoot, inputRoot string, override Format) string {
	rel := filepath.Base(input)
	if inputRoot != "" {
		if r, err := filepath.Rel(inputRoot, input); err == nil && r != "." && !strings.HasPrefix(r, "..") {
			rel = r
		}
	}
	if override != FormatUnknown {
		rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + "." + override.Extension()
	}
	return filepath.Join(outputRoot, rel)
}
