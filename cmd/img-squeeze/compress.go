package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/luojiyin1987/img-squeeze/internal/compressor"
	"github.com/luojiyin1987/img-squeeze/internal/config"
	"github.com/luojiyin1987/img-squeeze/internal/discovery"
	"github.com/luojiyin1987/img-squeeze/internal/progress"
	"github.com/luojiyin1987/img-squeeze/internal/statistics"
	"github.com/luojiyin1987/img-squeeze/internal/upload"
)

// optionFlags are the compression flags shared by compress, batch, serve and watch.
type optionFlags struct {
	quality   int
	maxWidth  int
	maxHeight int
	format    string
	threads   int
}

func (o *optionFlags) register(fs *pflag.FlagSet) {
	fs.IntVarP(&o.quality, "quality", "q", compressor.DefaultQuality, "quality (1-100)")
	fs.IntVarP(&o.maxWidth, "width", "w", 0, "maximum width in pixels")
	fs.IntVarP(&o.maxHeight, "height", "H", 0, "maximum height in pixels")
	fs.StringVarP(&o.format, "format", "f", "", "output format (jpeg, png, webp, bmp, tiff, gif)")
	fs.IntVarP(&o.threads, "threads", "j", 0, "number of parallel workers (default: auto)")
}

// apply overrides configured defaults with explicitly set flags and
// returns validated options. An explicit zero dimension is rejected.
func (o *optionFlags) apply(cmd *cobra.Command, cfg *config.Config) (compressor.CompressionOptions, error) {
	fs := cmd.Flags()
	if fs.Changed("quality") {
		cfg.Compression.Quality = o.quality
	}
	if fs.Changed("width") {
		if o.maxWidth <= 0 {
			return compressor.CompressionOptions{}, invalidDimension("width", o.maxWidth)
		}
		cfg.Compression.MaxWidth = o.maxWidth
	}
	if fs.Changed("height") {
		if o.maxHeight <= 0 {
			return compressor.CompressionOptions{}, invalidDimension("height", o.maxHeight)
		}
		cfg.Compression.MaxHeight = o.maxHeight
	}
	if fs.Changed("format") {
		cfg.Compression.Format = o.format
	}
	if fs.Changed("threads") {
		cfg.Compression.Threads = o.threads
	}
	return cfg.Compression.Options()
}

func invalidDimension(name string, v int) error {
	return &compressor.Error{
		Kind: compressor.KindInvalidOption,
		Err:  fmt.Errorf("%s %d: %w", name, v, compressor.ErrInvalidDimension),
	}
}

var (
	compressOpts    optionFlags
	uploadAfter     bool
	batchOpts       optionFlags
	batchRecursive  bool
	batchShowErrors int
)

// compressCmd compresses a single image.
var compressCmd = &cobra.Command{
	Use:   "compress <input> <output>",
	Short: "Compress an image",
	Long: `Compress a single image. The output format follows the output file
extension unless --format is given. With --upload the compressed bytes are
also stored on the configured upload backend.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd, args[0], args[1])
	},
}

// batchCmd compresses many images in parallel.
var batchCmd = &cobra.Command{
	Use:   "batch <input> <output-dir>",
	Short: "Compress multiple images in parallel",
	Long: `Compress every image found in a directory, a single file or a glob
pattern into the output directory. Per-file failures do not stop the batch;
they are listed in the summary.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, args[0], args[1])
	},
}

func init() {
	compressOpts.register(compressCmd.Flags())
	compressCmd.Flags().BoolVar(&uploadAfter, "upload", false, "upload the compressed image to the configured backend")

	batchOpts.register(batchCmd.Flags())
	batchCmd.Flags().BoolVarP(&batchRecursive, "recursive", "r", false, "recurse into subdirectories")
	batchCmd.Flags().IntVar(&batchShowErrors, "show-errors", 10, "number of failures to list in the summary")
}

// runCompress compresses one file and optionally uploads the result.
func runCompress(cmd *cobra.Command, input, output string) error {
	ctx := cmd.Context()
	cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}

	opts, err := compressOpts.apply(cmd, cfg)
	if err != nil {
		return err
	}

	orch := newOrchestrator(cfg, log)
	started := time.Now()

	if !uploadAfter {
		res, err := orch.CompressFile(ctx, input, output, opts)
		if err != nil {
			return err
		}
		printf("Compressed %s -> %s\n", res.InputPath, res.OutputPath)
		printf("  %dx%d %s, %s -> %s (%.1f%% saved) in %s\n",
			res.Width, res.Height, res.Format,
			humanize.IBytes(uint64(res.OriginalSize)), humanize.IBytes(uint64(res.CompressedSize)),
			res.PercentageSaved(), res.Elapsed.Round(time.Millisecond))
		return nil
	}

	uploader, err := newUploader(cfg)
	if err != nil {
		return err
	}

	encoded, err := orch.Encode(ctx, compressor.ImageTask{InputPath: input, OutputPath: output, Options: opts})
	if err != nil {
		return err
	}
	if err := compressor.WriteOutput(output, encoded.Data); err != nil {
		return err
	}
	printf("Compressed %s -> %s (%s -> %s) in %s\n", input, output,
		humanize.IBytes(uint64(encoded.OriginalSize)), humanize.IBytes(uint64(len(encoded.Data))),
		time.Since(started).Round(time.Millisecond))

	receipt, err := uploader.Upload(ctx, encoded.Name, encoded.Data)
	if err != nil {
		return fmt.Errorf("%s upload failed: %w", uploader.Name(), err)
	}
	printReceipt(receipt)
	return nil
}

// runBatch discovers inputs and compresses them into outputDir.
func runBatch(cmd *cobra.Command, input, outputDir string) error {
	ctx := cmd.Context()
	cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}

	opts, err := batchOpts.apply(cmd, cfg)
	if err != nil {
		return err
	}

	recursive := cfg.Compression.Recursive || batchRecursive
	found, err := discovery.NewCollector(log, discovery.Options{Recursive: recursive}).Collect(input)
	if err != nil {
		if errors.Is(err, discovery.ErrNoImages) {
			printf("No supported images found in %s\n", input)
			return nil
		}
		return err
	}

	printf("Found %d images in %s\n", len(found.Files), input)

	bar := progress.ForTerminal(len(found.Files), "compressing", quiet)
	report, err := newOrchestrator(cfg, log).Run(ctx, found.Files, opts, outputDir,
		compressor.WithInputRoot(found.Root), compressor.WithProgress(bar.Observe))
	bar.Finish()
	if err != nil {
		return err
	}

	printBatchReport(report, outputDir)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if report.Summary.FilesFailed > 0 {
		return fmt.Errorf("%d of %d files failed", report.Summary.FilesFailed, report.Summary.FilesTotal)
	}
	return nil
}

func printBatchReport(report *compressor.BatchReport, outputDir string) {
	if quiet {
		return
	}
	fmt.Println("\n" + report.Summary.String())
	fmt.Printf("\nWorkers: %d\n", report.Workers)
	if len(report.Formats) > 0 {
		fmt.Print(statistics.FormatBreakdownString(report.Formats))
	}
	if len(report.Failures) > 0 {
		fmt.Print("\n" + statistics.FormatFailures(report.Failures, batchShowErrors))
	}
	abs, err := filepath.Abs(outputDir)
	if err != nil {
		abs = outputDir
	}
	fmt.Printf("\nOutput: %s\n", abs)
}

func printReceipt(r upload.Receipt) {
	printf("Uploaded to %s\n", r.Backend)
	printf("  ID:   %s\n", r.ID)
	printf("  URL:  %s\n", r.URL)
	printf("  Size: %s\n", humanize.IBytes(uint64(r.Size)))
}
