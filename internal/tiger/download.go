package tiger

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tract-rollup/internal/fetcher"
)

// Download fetches a zipped shapefile and extracts it under destDir. An
// existing non-empty ZIP is reused. Returns the path to the .shp file.
func Download(ctx context.Context, f fetcher.Fetcher, rawURL, destDir string) (string, error) {
	log := zap.L().With(
		zap.String("component", "tiger.download"),
		zap.String("url", rawURL),
	)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrap(err, "tiger: create dest dir")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrap(err, "tiger: parse url")
	}
	zipName := path.Base(u.Path)
	if zipName == "." || zipName == "/" || zipName == "" {
		zipName = "boundary.zip"
	}
	zipPath := filepath.Join(destDir, zipName)

	if info, err := os.Stat(zipPath); err == nil && info.Size() > 0 {
		log.Debug("zip already exists, skipping download", zap.String("path", zipPath))
	} else {
		log.Info("downloading boundary shapefile")
		if _, err := f.DownloadToFile(ctx, rawURL, zipPath); err != nil {
			return "", eris.Wrap(err, "tiger: download shapefile")
		}
	}

	extractDir := filepath.Join(destDir, strings.TrimSuffix(zipName, filepath.Ext(zipName)))
	files, err := fetcher.ExtractZIP(zipPath, extractDir, sidecarExts...)
	if err != nil {
		return "", eris.Wrap(err, "tiger: extract ZIP")
	}

	shpPath := fetcher.FindByExt(files, ".shp")
	if shpPath == "" {
		return "", eris.Errorf("tiger: no .shp file in %s", zipName)
	}
	return shpPath, nil
}
