package anacrolix

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
)

const fetchTimeout = 30 * time.Second

// descriptor is a resolved TORRENT_URI: either a magnet link or a loaded
// metainfo.
type descriptor struct {
	magnet string
	meta   *metainfo.MetaInfo
}

func (e *Engine) resolve(ctx context.Context, uri string) (descriptor, error) {
	uri = strings.TrimSpace(uri)
	lower := strings.ToLower(uri)
	switch {
	case uri == "":
		return descriptor{}, fmt.Errorf("empty torrent uri")
	case strings.HasPrefix(lower, "magnet:"):
		return descriptor{magnet: uri}, nil
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		mi, err := e.fetchMetainfo(ctx, uri)
		if err != nil {
			return descriptor{}, err
		}
		return descriptor{meta: mi}, nil
	case strings.HasPrefix(lower, "file://"):
		u, err := url.Parse(uri)
		if err != nil {
			return descriptor{}, fmt.Errorf("parse torrent uri: %w", err)
		}
		return loadFile(u.Path)
	default:
		return loadFile(uri)
	}
}

func loadFile(path string) (descriptor, error) {
	mi, err := metainfo.LoadFromFile(path)
	if err != nil {
		return descriptor{}, fmt.Errorf("load torrent file: %w", err)
	}
	return descriptor{meta: mi}, nil
}

func (e *Engine) fetchMetainfo(ctx context.Context, uri string) (*metainfo.MetaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	if e.settings.UserAgent != "" {
		req.Header.Set("User-Agent", e.settings.UserAgent)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch torrent: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch torrent: unexpected status %d", resp.StatusCode)
	}
	mi, err := metainfo.Load(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse torrent: %w", err)
	}
	return mi, nil
}

func (d descriptor) spec() (*torrent.TorrentSpec, error) {
	if d.meta != nil {
		return torrent.TorrentSpecFromMetaInfoErr(d.meta)
	}
	return torrent.TorrentSpecFromMagnetUri(d.magnet)
}
