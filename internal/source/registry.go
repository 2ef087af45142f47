package source

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/plextuner/iptv-catalog/internal/catalog"
	"github.com/plextuner/iptv-catalog/internal/config"
	"github.com/plextuner/iptv-catalog/internal/metrics"
)

// RegistrySource reads the manually curated asset registry:
//
//	# comment
//	category=Documentaries
//	name,content_hash,extension,icon_url
//
// Categories are resolved by name against Existing's movie categories; unknown
// names become new categories. Rows whose name already exists under the same
// resolved category (in Existing or earlier in the file) are skipped.
type RegistrySource struct {
	Registry config.Registry
	Existing *catalog.Catalog
	Log      logrus.FieldLogger
}

func (r *RegistrySource) Name() string { return "registry" }

// Fetch parses the registry file. An unreadable file yields an empty batch.
func (r *RegistrySource) Fetch(ctx context.Context) Batch {
	f, err := os.Open(r.Registry.File)
	if err != nil {
		metrics.RecordSourceError(r.Name(), "open")
		r.Log.WithError(err).Warn("registry unreadable; skipping source")
		return Batch{}
	}
	defer f.Close()

	byName := map[string]string{}
	have := map[[2]string]bool{}
	if r.Existing != nil {
		for _, c := range r.Existing.MovieCategories {
			if _, ok := byName[c.CategoryName]; !ok {
				byName[c.CategoryName] = c.CategoryID
			}
		}
		for _, m := range r.Existing.MovieStreams {
			have[[2]string{m.Name, m.CategoryID}] = true
		}
	}

	var (
		b       Batch
		newCats categoryIndex
	)
	active := r.Registry.Category
	sc := bufio.NewScanner(f)
	sc.Buffer(nil, maxLineSize)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if name, ok := strings.CutPrefix(line, "category="); ok {
			active = strings.TrimSpace(name)
			if active == "" {
				active = r.Registry.Category
			}
			r.Log.WithField("category", active).Debug("registry category switch")
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 4 || strings.TrimSpace(fields[0]) == "" || strings.TrimSpace(fields[1]) == "" {
			r.Log.WithField("line", lineNo).Warn("malformed registry row skipped")
			continue
		}
		name := strings.TrimSpace(fields[0])
		hash := strings.TrimSpace(fields[1])
		ext := strings.TrimPrefix(strings.TrimSpace(fields[2]), ".")
		icon := strings.TrimSpace(strings.Join(fields[3:], ","))

		catID, ok := byName[active]
		if !ok {
			catID = normalizeID(active)
			byName[active] = catID
			newCats.add(catID, active)
		}
		key := [2]string{name, catID}
		if have[key] {
			r.Log.WithFields(logrus.Fields{"name": name, "category": active}).Debug("already registered; skipping")
			continue
		}
		have[key] = true
		if ext == "" {
			ext = "mp4"
		}
		b.Movies = append(b.Movies, catalog.MovieStream{
			StreamBase: catalog.StreamBase{
				Name:         name,
				StreamType:   catalog.TypeMovie,
				StreamIcon:   icon,
				Added:        now().Unix(),
				CategoryID:   catID,
				DirectSource: strings.TrimSuffix(r.Registry.MediaBaseURL, "/") + "/" + hash,
			},
			ContainerExtension: ext,
		})
	}
	if err := sc.Err(); err != nil {
		r.Log.WithError(err).Warn("registry read stopped early")
	}
	b.MovieCategories = newCats.list
	return b
}
