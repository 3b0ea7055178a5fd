// Package attachments implements the attachment importer of spec §4.7:
// enumerating the source's attachment index, downloading each file, and
// re-uploading it to the target, recording the resolved {hash, url,
// filename} in the mapping store keyed by source attachment id. Text bodies
// elsewhere reference attachments by an embedded id that this package
// resolves eagerly (bulk import) or lazily (failover, when a case body
// references an id the bulk pass never saw — spec §9).
//
// Grounded on original_source/entities/attachments.py's asyncio.TaskGroup
// fan-out, rebuilt on the bounded internal/pool.SourcePool so the
// concurrency cap is uniform with every other importer (spec §5).
package attachments

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vitaliisemenov/tr2qase/internal/httpclient"
	"github.com/vitaliisemenov/tr2qase/internal/mapping"
	"github.com/vitaliisemenov/tr2qase/internal/pool"
)

// sourceTagRE matches the embedded attachment reference the source renders
// into rich-text bodies: ![](index.php?/attachments/get/<uuid>).
var sourceTagRE = regexp.MustCompile(`!\[\]\(index\.php\?/attachments/get/([a-f0-9-]+)\)`)

// Importer drives attachment enumeration, download, and upload.
type Importer struct {
	source *httpclient.TestrailClient
	target *httpclient.QaseClient
	store  *mapping.Store
	pool   *pool.SourcePool
	cache  *lru.Cache[string, []byte]
	logger *slog.Logger

	cacheDir     string
	prefix       string
	contentCache *ContentCache
}

// Config carries the importer's tunables (spec §6's cache dir / prefix).
type Config struct {
	WorkerCount int    // spec §9: 24, matching the source's max_workers
	CacheSize   int    // in-memory LRU entries, <= 0 means 512
	CacheDir    string // disk cache directory, "" disables
	Prefix      string // artifact filename prefix (spec §6 "prefix")

	// ContentCache, if set, is consulted before every upload and populated
	// after every successful one (SPEC_FULL.md §C).
	ContentCache *ContentCache
}

// New builds an Importer. A nil or empty CacheDir disables the disk cache;
// hashicorp/golang-lru backs the in-memory tier so repeated references to the
// same attachment within one run skip a redundant download.
func New(source *httpclient.TestrailClient, target *httpclient.QaseClient, store *mapping.Store, cfg Config, logger *slog.Logger) (*Importer, error) {
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 24
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 512
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("attachments: building cache: %w", err)
	}
	return &Importer{
		source:       source,
		target:       target,
		store:        store,
		pool:         pool.NewSourcePool(workers),
		cache:        cache,
		logger:       logger,
		cacheDir:     cfg.CacheDir,
		prefix:       cfg.Prefix,
		contentCache: cfg.ContentCache,
	}, nil
}

// ImportAll enumerates the source's attachment index and imports everything
// found, up to the 120000-record cap the source API enforces (spec §9).
func (imp *Importer) ImportAll(ctx context.Context) error {
	const pageSize = 30
	const totalCap = 120000

	futures := make([]*pool.Future, 0, 256)
	seen := 0

	for page := 0; ; page++ {
		records, err := imp.source.GetAttachmentsListPage(ctx, page)
		if err != nil {
			return fmt.Errorf("attachments: listing page %d: %w", page, err)
		}
		if len(records) == 0 {
			break
		}
		for _, rec := range records {
			rec := rec
			seen++
			if seen > totalCap {
				imp.logger.Warn("attachment index exceeded the supported cap; remaining records are dropped",
					slog.Int("cap", totalCap))
				break
			}
			f, err := imp.pool.Submit(ctx, func(ctx context.Context) error {
				return imp.importOne(ctx, rec)
			})
			if err != nil {
				return err
			}
			futures = append(futures, f)
		}
		if len(records) < pageSize || seen > totalCap {
			break
		}
	}

	var firstErr error
	for _, f := range futures {
		if err := f.Wait(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if imp.cacheDir != "" {
		if err := imp.saveCache(); err != nil {
			imp.logger.Warn("failed writing attachment cache", slog.Any("error", err))
		}
	}
	return firstErr
}

func (imp *Importer) importOne(ctx context.Context, rec httpclient.TestrailAttachmentRecord) error {
	projectCode, ok := imp.resolveProjectCode(rec.ProjectID)
	if !ok {
		imp.logger.Warn("attachment references unknown project, dropping", slog.String("attachment_id", rec.ID))
		return nil
	}

	data, err := imp.downloadCached(ctx, rec.ID)
	if err != nil {
		imp.logger.Warn("attachment download failed, skipping", slog.String("attachment_id", rec.ID), slog.Any("error", err))
		return nil
	}

	hash, err := imp.uploadDeduped(ctx, projectCode, data)
	if err != nil {
		imp.logger.Warn("attachment upload failed, skipping", slog.String("attachment_id", rec.ID), slog.Any("error", err))
		return nil
	}

	imp.store.SetAttachment(rec.ID, mapping.Attachment{
		Hash:     hash,
		URL:      hash,
		Filename: data.Filename,
	})
	return nil
}

// uploadDeduped checks the content cache before uploading, and populates it
// after a successful upload, so byte-identical attachments are uploaded to
// the target exactly once across the whole run (SPEC_FULL.md §C).
func (imp *Importer) uploadDeduped(ctx context.Context, projectCode string, data *httpclient.AttachmentData) (string, error) {
	if imp.contentCache != nil {
		if hash, ok, err := imp.contentCache.Lookup(ctx, data.Content); err == nil && ok {
			return hash, nil
		}
	}

	hash, err := imp.target.UploadAttachment(ctx, projectCode, data.Filename, data.Content)
	if err != nil {
		return "", err
	}

	if imp.contentCache != nil {
		if err := imp.contentCache.Store(ctx, data.Content, hash); err != nil {
			imp.logger.Warn("failed populating content cache", slog.Any("error", err))
		}
	}
	return hash, nil
}

func (imp *Importer) downloadCached(ctx context.Context, attachmentID string) (*httpclient.AttachmentData, error) {
	if content, ok := imp.cache.Get(attachmentID); ok {
		return &httpclient.AttachmentData{Filename: attachmentID, Content: content}, nil
	}
	data, err := imp.source.GetAttachment(ctx, attachmentID)
	if err != nil {
		return nil, err
	}
	imp.cache.Add(attachmentID, data.Content)
	return data, nil
}

// resolveProjectCode mirrors original_source/entities/attachments.py's
// import_raw_attachment: project_id may be a JSON scalar or a list, and the
// first element is used when it is a list.
func (imp *Importer) resolveProjectCode(projectID any) (string, bool) {
	var id int
	switch v := projectID.(type) {
	case float64:
		id = int(v)
	case []any:
		if len(v) == 0 {
			return "", false
		}
		f, ok := v[0].(float64)
		if !ok {
			return "", false
		}
		id = int(f)
	default:
		return "", false
	}
	code, ok := imp.store.ProjectMap[id]
	return code, ok
}

// Failover resolves a single attachment id referenced from a case or result
// body that the bulk pass never saw, downloading and uploading it on demand
// (spec §4.7/§9). The id may carry an "E_" prefix the source uses to mark
// embedded references, which is stripped before lookup.
func (imp *Importer) Failover(ctx context.Context, rawID string, projectCode string) (mapping.Attachment, error) {
	id := strings.TrimPrefix(rawID, "E_")
	if a, ok := imp.store.Attachment(id); ok {
		return a, nil
	}

	data, err := imp.downloadCached(ctx, id)
	if err != nil {
		return mapping.Attachment{}, fmt.Errorf("attachments: failover download of %s: %w", id, err)
	}
	hash, err := imp.uploadDeduped(ctx, projectCode, data)
	if err != nil {
		return mapping.Attachment{}, fmt.Errorf("attachments: failover upload of %s: %w", id, err)
	}
	a := mapping.Attachment{Hash: hash, URL: hash, Filename: data.Filename}
	imp.store.SetAttachment(id, a)
	return a, nil
}

// ReplaceInText rewrites every embedded attachment reference in body with its
// resolved Qase markdown image/link form, falling back to Failover for
// references the bulk pass has not resolved yet (spec §4.7).
func (imp *Importer) ReplaceInText(ctx context.Context, body, projectCode string) string {
	return sourceTagRE.ReplaceAllStringFunc(body, func(match string) string {
		m := sourceTagRE.FindStringSubmatch(match)
		id := m[1]

		a, ok := imp.store.Attachment(id)
		if !ok {
			resolved, err := imp.Failover(ctx, id, projectCode)
			if err != nil {
				imp.logger.Warn("dropping unresolved attachment reference", slog.String("attachment_id", id), slog.Any("error", err))
				return ""
			}
			a = resolved
		}
		return fmt.Sprintf("![%s](%s)", a.Filename, a.URL)
	})
}

type cacheEntry struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Hash     string `json:"hash"`
}

func (imp *Importer) saveCache() error {
	if err := os.MkdirAll(imp.cacheDir, 0o755); err != nil {
		return err
	}
	entries := make([]cacheEntry, 0)
	for _, k := range imp.cache.Keys() {
		content, ok := imp.cache.Peek(k)
		if !ok {
			continue
		}
		a, ok := imp.store.Attachment(k)
		if !ok {
			continue
		}
		entries = append(entries, cacheEntry{ID: k, Filename: a.Filename, Hash: a.Hash})
		_ = content
	}

	path := filepath.Join(imp.cacheDir, fmt.Sprintf("%s_attachments.json", imp.prefix))
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// contentHash is used by the optional Redis second tier (spec §C) to key
// content rather than source id, so identical attachments uploaded under
// different ids are only uploaded once.
func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
