// Package preview produces previews for directory entries. Archives and
// images are summarized in-process; everything else is delegated to the
// plugin registry. Results go through the preview cache.
package preview

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/kiorg/kiorg/internal/cache"
	"github.com/kiorg/kiorg/internal/entry"
	"github.com/kiorg/kiorg/internal/plugin/manager"
	"github.com/kiorg/kiorg/pkg/plugin"
)

// ErrNoPreview is returned when neither a built-in renderer nor a plugin
// can preview an entry.
var ErrNoPreview = errors.New("no preview available")

// Builtin computes preview content in-process.
type Builtin func(path string) (cache.Content, error)

type builtinRule struct {
	suffix string
	fn     Builtin
}

// Longer suffixes come first so .tar.gz is not taken for .gz.
var builtinRules = []builtinRule{
	{".tar.gz", tarWith(CompressionGzip)},
	{".tar.bz2", tarWith(CompressionBzip2)},
	{".tar.xz", tarWith(CompressionXz)},
	{".tgz", tarWith(CompressionGzip)},
	{".tbz2", tarWith(CompressionBzip2)},
	{".txz", tarWith(CompressionXz)},
	{".tar", tarWith(CompressionNone)},
	{".zip", func(path string) (cache.Content, error) { return ListZip(path) }},
	{".png", imageInfo},
	{".jpg", imageInfo},
	{".jpeg", imageInfo},
	{".gif", imageInfo},
	{".webp", imageInfo},
}

func tarWith(compression string) Builtin {
	return func(path string) (cache.Content, error) {
		return ListTar(path, compression)
	}
}

func imageInfo(path string) (cache.Content, error) {
	return ReadImageInfo(path)
}

// BuiltinFor returns the in-process renderer for a file name.
func BuiltinFor(path string) (Builtin, bool) {
	name := strings.ToLower(path)
	for _, rule := range builtinRules {
		if strings.HasSuffix(name, rule.suffix) {
			return rule.fn, true
		}
	}
	return nil, false
}

// Registry is the part of the plugin registry the service drives.
type Registry interface {
	RequestPreview(path string) (plugin.CallID, error)
	PollAll() []manager.Result
}

// Options configures a Service.
type Options struct {
	// Cache may be nil, in which case nothing is cached.
	Cache *cache.Cache
	// Registry may be nil, in which case only built-in previews exist.
	Registry Registry
	// CachePluginPreviews stores plugin results in the cache.
	CachePluginPreviews bool
	Logger              hclog.Logger
}

// Response is the immediate answer to a request. Either Content is set, or
// the preview is pending under ID and arrives through Poll.
type Response struct {
	Content cache.Content
	ID      plugin.CallID
}

// Ready reports whether the content is available now.
func (r Response) Ready() bool {
	return r.Content != nil
}

// Outcome is a resolved plugin preview.
type Outcome struct {
	ID      plugin.CallID
	Meta    *entry.Meta
	Plugin  string
	Content cache.Content
	Err     error
}

// Service answers preview requests for the UI.
type Service struct {
	cache        *cache.Cache
	registry     Registry
	cachePlugins bool
	logger       hclog.Logger

	mu      sync.Mutex
	pending map[plugin.CallID]*entry.Meta
	byPath  map[string]plugin.CallID
}

// NewService creates a preview service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Service{
		cache:        opts.Cache,
		registry:     opts.Registry,
		cachePlugins: opts.CachePluginPreviews,
		logger:       logger.Named("preview"),
		pending:      make(map[plugin.CallID]*entry.Meta),
		byPath:       make(map[string]plugin.CallID),
	}
}

// Request previews meta. Cached and built-in content is returned at once;
// plugin previews are pending until Poll reports them.
func (s *Service) Request(meta *entry.Meta) (Response, error) {
	key := cache.CalculateKey(meta)
	if s.cache != nil {
		if content, ok := s.cache.Load(key); ok {
			return Response{Content: content}, nil
		}
	}

	if fn, ok := BuiltinFor(meta.Path); ok {
		content, err := fn(meta.Path)
		if err != nil {
			return Response{}, err
		}
		s.save(key, content)
		return Response{Content: content}, nil
	}

	if s.registry == nil {
		return Response{}, fmt.Errorf("%w: %s", ErrNoPreview, meta.Path)
	}
	id, err := s.registry.RequestPreview(meta.Path)
	if errors.Is(err, manager.ErrNoMatchingPlugin) {
		return Response{}, fmt.Errorf("%w: %s", ErrNoPreview, meta.Path)
	}
	if err != nil {
		return Response{}, err
	}

	s.mu.Lock()
	// The registry supersedes the earlier call for this path.
	if prev, ok := s.byPath[meta.Path]; ok {
		delete(s.pending, prev)
	}
	s.pending[id] = meta
	s.byPath[meta.Path] = id
	s.mu.Unlock()

	return Response{ID: id}, nil
}

// Poll collects resolved plugin previews.
func (s *Service) Poll() []Outcome {
	if s.registry == nil {
		return nil
	}
	return s.Consume(s.registry.PollAll())
}

// Consume turns registry results into outcomes. It is for callers that
// drive the registry themselves. Results for calls the service did not
// issue are ignored.
func (s *Service) Consume(results []manager.Result) []Outcome {
	var out []Outcome
	for _, res := range results {
		s.mu.Lock()
		meta, ok := s.pending[res.ID]
		if ok {
			delete(s.pending, res.ID)
			if s.byPath[meta.Path] == res.ID {
				delete(s.byPath, meta.Path)
			}
		}
		s.mu.Unlock()
		if !ok {
			continue
		}

		o := Outcome{ID: res.ID, Meta: meta, Plugin: res.Plugin, Err: res.Err}
		if res.Err == nil {
			content := cache.PluginPreview{Plugin: res.Plugin, Components: res.Components}
			o.Content = content
			if s.cachePlugins {
				s.save(cache.CalculateKey(meta), content)
			}
		}
		out = append(out, o)
	}
	return out
}

// Pending returns the number of plugin previews not yet resolved.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Service) save(key string, content cache.Content) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Save(key, content); err != nil {
		s.logger.Debug("failed to cache preview", "key", key, "error", err)
	}
}
