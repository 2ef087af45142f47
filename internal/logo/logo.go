// Package logo resolves channel logos to local files served under /logos/.
//
// A logo is downloaded from its upstream URL when one is given and usable;
// otherwise a placeholder PNG showing the channel name is rendered. Files are
// named by content-independent hashes of the channel name, so the same name
// always maps to the same file and existing files are reused.
package logo

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/plextuner/iptv-catalog/internal/catalog"
	"github.com/plextuner/iptv-catalog/internal/httpclient"
	"github.com/plextuner/iptv-catalog/internal/metrics"
	"github.com/plextuner/iptv-catalog/internal/safeurl"
)

// MinAssetSize is the smallest downloaded file accepted as a real logo.
// Anything smaller is an error page or a tracking pixel.
const MinAssetSize = 96

// ValidFilename matches the only names the logo endpoint serves.
var ValidFilename = regexp.MustCompile(`^[a-f0-9]{32}\.[a-z]{3,4}$`)

// Resolver maps a display text and optional source URL to a logo filename.
// It returns "" when no logo could be produced.
type Resolver interface {
	Resolve(ctx context.Context, text, sourceURL string) string
}

// Provider is the file-backed Resolver.
type Provider struct {
	dir    string
	client *http.Client
	log    logrus.FieldLogger

	group singleflight.Group
	mu    sync.Mutex
	memo  map[string]string
}

// New returns a provider storing files in dir, creating it if needed.
func New(dir string, client *http.Client, log logrus.FieldLogger) (*Provider, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("logo dir: %w", err)
	}
	if client == nil {
		client = httpclient.Default()
	}
	return &Provider{dir: dir, client: client, log: log, memo: map[string]string{}}, nil
}

// Dir is the directory files are stored in.
func (p *Provider) Dir() string { return p.dir }

// FetchedName is the filename a downloaded logo for text is stored under.
func FetchedName(text string) string { return hashName(text) }

// PlaceholderName is the filename of the rendered placeholder for text.
func PlaceholderName(text string) string { return hashName("custom_" + text) }

func hashName(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:]) + ".png"
}

// Resolve returns the logo filename for text. Results are memoized per
// (text, sourceURL) and concurrent calls for the same pair share one attempt,
// so a pair is downloaded at most once per process.
func (p *Provider) Resolve(ctx context.Context, text, sourceURL string) string {
	key := text + "\x00" + sourceURL
	p.mu.Lock()
	name, ok := p.memo[key]
	p.mu.Unlock()
	if ok {
		return name
	}
	v, _, _ := p.group.Do(key, func() (any, error) {
		name := p.resolve(ctx, text, sourceURL)
		p.mu.Lock()
		p.memo[key] = name
		p.mu.Unlock()
		return name, nil
	})
	return v.(string)
}

func (p *Provider) resolve(ctx context.Context, text, sourceURL string) string {
	fetched := FetchedName(text)
	if p.usable(fetched) {
		metrics.RecordLogo("cached")
		return fetched
	}
	if safeurl.Fetchable(sourceURL) {
		body, err := httpclient.Get(ctx, p.client, sourceURL)
		switch {
		case err != nil:
			p.log.WithError(err).WithField("name", text).Debug("logo download failed; rendering placeholder")
		case len(body) < MinAssetSize:
			p.log.WithField("name", text).Debug("logo too small; rendering placeholder")
		default:
			if err := writeAtomic(filepath.Join(p.dir, fetched), body); err != nil {
				p.log.WithError(err).Warn("logo write failed")
				break
			}
			metrics.RecordLogo("fetched")
			return fetched
		}
	}

	placeholder := PlaceholderName(text)
	if _, err := os.Stat(filepath.Join(p.dir, placeholder)); err == nil {
		metrics.RecordLogo("cached")
		return placeholder
	}
	data, err := Render(text)
	if err == nil {
		err = writeAtomic(filepath.Join(p.dir, placeholder), data)
	}
	if err != nil {
		p.log.WithError(err).WithField("name", text).Warn("placeholder logo failed")
		return ""
	}
	metrics.RecordLogo("placeholder")
	return placeholder
}

// usable reports whether name exists and is big enough; undersized files are removed.
func (p *Provider) usable(name string) bool {
	path := filepath.Join(p.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.Size() < MinAssetSize {
		os.Remove(path)
		return false
	}
	return true
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".logo-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmpName)
		if werr != nil {
			return werr
		}
		return cerr
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// ApplyLive resolves a logo for every live stream and points stream_icon at
// baseURL/logos/<file>. Streams keep their icon when no logo can be produced.
func ApplyLive(ctx context.Context, r Resolver, streams []catalog.LiveStream, baseURL string) {
	var g errgroup.Group
	g.SetLimit(8)
	for i := range streams {
		s := &streams[i]
		g.Go(func() error {
			if name := r.Resolve(ctx, s.Name, s.StreamIcon); name != "" {
				s.StreamIcon = baseURL + "/logos/" + name
			}
			return nil
		})
	}
	_ = g.Wait()
}
