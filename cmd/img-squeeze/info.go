package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/luojiyin1987/img-squeeze/internal/inspect"
)

var (
	infoDetailed bool
	infoExifTool bool
	infoJSON     bool
)

// infoCmd shows information about an image.
var infoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Get information about an image",
	Long: `Show dimensions, format, color model, size and EXIF metadata of an
image together with compression suggestions. --exiftool adds the full
metadata dump and requires exiftool to be installed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInfo(cmd, args[0])
	},
}

func init() {
	infoCmd.Flags().BoolVarP(&infoDetailed, "detailed", "d", false, "show calculated metrics")
	infoCmd.Flags().BoolVar(&infoExifTool, "exiftool", false, "include the full exiftool metadata dump")
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "print the result as JSON")
}

func runInfo(cmd *cobra.Command, path string) error {
	_, log, err := setup(cmd.Context())
	if err != nil {
		return err
	}

	if !fileExists(path) {
		return fmt.Errorf("file does not exist: %s", path)
	}

	in := inspect.NewInspector(log)
	if infoExifTool {
		et, err := inspect.NewExifTool()
		if err != nil {
			return err
		}
		defer et.Close()
		in.UseExifTool(et)
	}

	info, err := in.Inspect(path)
	if err != nil {
		return err
	}
	suggestions := inspect.Suggestions(info)

	if infoJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*inspect.ImageInfo
			Megapixels  float64  `json:"megapixels"`
			AspectRatio float64  `json:"aspect_ratio"`
			Suggestions []string `json:"suggestions"`
		}{info, info.Megapixels(), info.AspectRatio(), suggestions})
	}

	fmt.Printf("Analyzing image: %s\n\n", path)
	fmt.Println("Basic Information:")
	fmt.Printf("  File:        %s\n", info.Path)
	fmt.Printf("  Dimensions:  %dx%d pixels\n", info.Width, info.Height)
	fmt.Printf("  File size:   %s (%d bytes)\n", humanize.IBytes(uint64(info.FileSize)), info.FileSize)
	fmt.Printf("  Color model: %s\n", info.ColorModel)
	fmt.Printf("  Format:      %s\n", info.Format)
	fmt.Printf("  Aspect:      %.2f:1\n", info.AspectRatio())

	if infoDetailed {
		fmt.Println("\nCalculated Metrics:")
		fmt.Printf("  Total pixels:     %s\n", humanize.Comma(info.Pixels()))
		fmt.Printf("  Megapixels:       %.2f MP\n", info.Megapixels())
		fmt.Printf("  Decoded memory:   %s\n", humanize.IBytes(info.DecodedMemory()))
		fmt.Printf("  Modified:         %s\n", info.ModTime.Format("2006-01-02 15:04:05"))
	}

	if x := info.EXIF; x != nil {
		fmt.Println("\nEXIF:")
		printField("Camera", strings.TrimSpace(x.Make+" "+x.Model))
		printField("Software", x.Software)
		if x.Orientation > 0 {
			printField("Orientation", fmt.Sprint(x.Orientation))
		}
		if x.DateTime != nil {
			printField("Taken", x.DateTime.Format("2006-01-02 15:04:05"))
		}
	}

	if len(info.Metadata) > 0 {
		fmt.Println("\nMetadata (exiftool):")
		keys := make([]string, 0, len(info.Metadata))
		for k := range info.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-28s %v\n", k, info.Metadata[k])
		}
	}

	fmt.Println("\nCompression Suggestions:")
	for _, s := range suggestions {
		fmt.Printf("  - %s\n", s)
	}
	return nil
}

func printField(name, value string) {
	if value != "" {
		fmt.Printf("  %-12s %s\n", name+":", value)
	}
}
