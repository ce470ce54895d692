package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luojiyin1987/img-squeeze/internal/config"
	"github.com/luojiyin1987/img-squeeze/internal/upload"
)

var (
	uploadBackend    string
	uploadAggregator string
	uploadPublisher  string
	uploadEpochs     int
	uploadTemp       bool
	uploadIPFSAPI    string
)

// uploadCmd uploads an image to decentralized storage.
var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload an image to Walrus or IPFS",
	Long: `Upload a file to the configured blob storage backend and print its
blob id and access URL. --temp stores the blob on Walrus for a single epoch.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUpload(cmd, args[0])
	},
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadBackend, "backend", "b", "", "upload backend: walrus or ipfs")
	uploadCmd.Flags().StringVarP(&uploadAggregator, "aggregator-url", "a", "", "Walrus aggregator URL")
	uploadCmd.Flags().StringVarP(&uploadPublisher, "publisher-url", "p", "", "Walrus publisher URL")
	uploadCmd.Flags().IntVarP(&uploadEpochs, "epochs", "e", 0, "number of epochs for Walrus storage")
	uploadCmd.Flags().BoolVarP(&uploadTemp, "temp", "t", false, "upload as temporary file (1 epoch storage)")
	uploadCmd.Flags().StringVar(&uploadIPFSAPI, "ipfs-api", "", "IPFS HTTP API address")
}

func runUpload(cmd *cobra.Command, path string) error {
	cfg, log, err := setup(cmd.Context())
	if err != nil {
		return err
	}

	if !fileExists(path) {
		return fmt.Errorf("file does not exist: %s", path)
	}

	applyUploadFlags(cfg)
	uploader, err := newUploader(cfg)
	if err != nil {
		return err
	}

	log.WithField("backend", uploader.Name()).Infof("Uploading %s", path)
	receipt, err := upload.UploadFile(cmd.Context(), uploader, path, cfg.Limits.MaxFileSize())
	if err != nil {
		return err
	}

	printReceipt(receipt)
	if uploadTemp && receipt.Backend == "walrus" {
		printf("Temporary blob: expires after %d epoch\n", upload.TempWalrusEpochs)
	}
	return nil
}

func applyUploadFlags(cfg *config.Config) {
	if uploadBackend != "" {
		cfg.Upload.Backend = uploadBackend
	}
	if uploadAggregator != "" {
		cfg.Upload.Walrus.AggregatorURL = uploadAggregator
	}
	if uploadPublisher != "" {
		cfg.Upload.Walrus.PublisherURL = uploadPublisher
	}
	if uploadEpochs > 0 {
		cfg.Upload.Walrus.Epochs = uploadEpochs
	}
	if uploadTemp {
		cfg.Upload.Walrus.Epochs = upload.TempWalrusEpochs
	}
	if uploadIPFSAPI != "" {
		cfg.Upload.IPFS.APIURL = uploadIPFSAPI
	}
}

// newUploader returns the uploader selected by configuration.
func newUploader(cfg *config.Config) (upload.Uploader, error) {
	switch cfg.Upload.Backend {
	case "walrus":
		return upload.NewWalrusClient(upload.WalrusOptions{
			AggregatorURL: cfg.Upload.Walrus.AggregatorURL,
			PublisherURL:  cfg.Upload.Walrus.PublisherURL,
			Epochs:        cfg.Upload.Walrus.Epochs,
			Deletable:     cfg.Upload.Walrus.Deletable,
			Timeout:       cfg.Upload.Walrus.Timeout,
		}), nil
	case "ipfs":
		return upload.NewIPFSClient(upload.IPFSOptions{
			APIURL:  cfg.Upload.IPFS.APIURL,
			Pin:     cfg.Upload.IPFS.Pin,
			Timeout: cfg.Upload.IPFS.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown upload backend: %s", cfg.Upload.Backend)
	}
}
