package mode

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/pipeline"
)

// Recordings lists the recordings catalog.
func Recordings(_ context.Context, svcs pipeline.ServicesFactory) error {
	recordings, err := svcs.DataSvc.RetrieveRecordings()
	if err != nil {
		return err
	}

	printRecordings(os.Stdout, recordings)
	return nil
}

func printRecordings(w io.Writer, recordings []model.Recording) {
	if len(recordings) == 0 {
		fmt.Fprintln(w, color.YellowString("no recordings"))
		return
	}

	header := color.New(color.Bold, color.FgCyan)
	header.Fprintf(w, "%-36s  %-19s  %9s  %7s  %-9s  %s\n", "ID", "ENDED", "DURATION", "FRAMES", "SIZE", "PATH")

	for _, r := range recordings {
		fmt.Fprintf(w, "%-36s  %-19s  %8.2fs  %7d  %-9s  %s\n",
			color.GreenString(r.ID),
			time.Unix(r.EndedAt, 0).Format("2006-01-02 15:04:05"),
			r.Duration,
			r.Frames,
			fmt.Sprintf("%dx%d", r.Width, r.Height),
			r.Path,
		)
		if r.ShareURL != "" {
			fmt.Fprintf(w, "  %s %s\n", color.BlueString("shared:"), r.ShareURL)
		}
	}
}
