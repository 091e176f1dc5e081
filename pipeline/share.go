package pipeline

import (
	"log/slog"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

// Share exports a finished recording, catalogs it and notifies the webhook.
// It runs in the display context.
func Share(svcs ServicesFactory, rec model.Recording, errorStream chan interface{}) {
	if svcs.StorageSvc != nil {
		shareURL, err := svcs.StorageSvc.StoreFile(rec.Path)
		if err != nil {
			report(errorStream, model.GenError("share",
				err,
				map[string]interface{}{"recording": rec.ID},
				"error storing recording %s",
				rec.Path))
		} else {
			rec.ShareURL = shareURL
		}
	}

	if svcs.DataSvc != nil {
		if err := svcs.DataSvc.NewRecording(rec); err != nil {
			report(errorStream, model.GenError("share",
				err,
				map[string]interface{}{"recording": rec.ID},
				"error cataloging recording"))
		}
	}

	if svcs.WebhookSvc != nil {
		err := svcs.WebhookSvc.Post(map[string]interface{}{
			"id":       rec.ID,
			"path":     rec.Path,
			"url":      rec.ShareURL,
			"frames":   rec.Frames,
			"duration": rec.Duration,
			"width":    rec.Width,
			"height":   rec.Height,
		})
		if err != nil {
			report(errorStream, model.GenError("share",
				err,
				map[string]interface{}{"recording": rec.ID},
				"error posting recording webhook"))
		}
	}

	lgr.Logger.Info("recording shared",
		slog.String("id", rec.ID),
		slog.String("url", rec.ShareURL),
	)
}
