package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/giuseppe/atomic/internal/config"
)

var imagesQuiet bool

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "List images in the local store",
	RunE:  runImages,
}

func init() {
	imagesCmd.Flags().BoolVarP(&imagesQuiet, "quiet", "q", false, "only print image ids")
}

func runImages(cmd *cobra.Command, args []string) error {
	cfg := config.Load(userMode)
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	images, err := store.Enumerate()
	if err != nil {
		return fmt.Errorf("enumerate images: %w", err)
	}

	if imagesQuiet {
		for _, img := range images {
			fmt.Println(shortID(img.ImageID))
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tIMAGE ID\tSIZE")
	for _, img := range images {
		fmt.Fprintf(w, "%s\t%s\t%s\n", img.Name, shortID(img.ImageID), formatSize(img.Size))
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 19 && id[:7] == "sha256:" {
		return id[:19]
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func formatSize(size int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case size < KB:
		return fmt.Sprintf("%dB", size)
	case size < MB:
		return fmt.Sprintf("%.2fKB", float64(size)/KB)
	case size < GB:
		return fmt.Sprintf("%.2fMB", float64(size)/MB)
	default:
		return fmt.Sprintf("%.2fGB", float64(size)/GB)
	}
}
