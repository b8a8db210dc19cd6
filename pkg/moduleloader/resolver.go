package moduleloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chazu/modport/pkg/metrics"
)

const (
	// TracerName is the instrumentation name used for resolver spans
	TracerName = "github.com/chazu/modport/pkg/moduleloader"

	notFoundMessage      = "Module file not found"
	canonicalizeMessage  = "Cannot resolve module path"
	attrModuleSpecifier  = "module.specifier"
	attrModulePath       = "module.path"
	attrModuleRealm      = "module.realm"
	attrModuleCacheState = "module.cache"
)

// ResolverConfig holds configuration for a Resolver
type ResolverConfig struct {
	// Registry receives every successfully parsed module. Required.
	Registry *Registry

	// Engine parses module source. Required.
	Engine Engine

	// Reader reads module source. Defaults to FileReader.
	Reader SourceReader

	// Getwd reports the working directory used when a specifier has no
	// referrer. Defaults to os.Getwd.
	Getwd func() (string, error)

	// StrictNotFound reports missing modules as KindNotFound instead of
	// KindSyntax
	StrictNotFound bool
}

// Resolver maps (specifier, referrer, realm) to a parsed module
type Resolver struct {
	registry       *Registry
	engine         Engine
	reader         SourceReader
	getwd          func() (string, error)
	strictNotFound bool
	tracer         trace.Tracer
}

// NewResolver creates a resolver from cfg
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Reader == nil {
		cfg.Reader = FileReader{}
	}
	return &Resolver{
		registry:       cfg.Registry,
		engine:         cfg.Engine,
		reader:         cfg.Reader,
		getwd:          cfg.Getwd,
		strictNotFound: cfg.StrictNotFound,
		tracer:         otel.Tracer(TracerName),
	}
}

// Registry returns the registry backing the resolver
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// Resolve returns the module that specifier names when imported from
// referrer inside realm. A nil referrer, or one whose record has been
// released, resolves against the working directory.
//
// A module already registered for the canonical path in realm is returned
// without reading or parsing. Otherwise the source is read, parsed with
// specifier as its resource name and registered. Failures leave the registry
// unchanged.
//
// realm must not be nil; a nil realm fails with KindCommon wrapping
// ErrNilRealm. ctx carries the logger and trace span only.
func (r *Resolver) Resolve(ctx context.Context, specifier string, referrer *Module, realm Realm) (*Module, error) {
	if realm == nil {
		return nil, &Error{Kind: KindCommon, Message: "Module realm is required", Specifier: specifier, Err: ErrNilRealm}
	}

	ctx, span := r.tracer.Start(ctx, "moduleloader.Resolve",
		trace.WithAttributes(
			attribute.String(attrModuleSpecifier, specifier),
			attribute.String(attrModuleRealm, realm.ID()),
		))
	defer span.End()

	logger := logr.FromContextOrDiscard(ctx).WithValues("specifier", specifier, "realm", realm.ID())

	var baseDir string
	if rec, ok := r.registry.Record(referrer); ok {
		baseDir = rec.BaseDir()
	}

	path, err := Canonicalize(specifier, baseDir, r.getwd)
	if err != nil {
		metrics.RecordResolve(metrics.ResultCanonicalizeError)
		resolveErr := &Error{
			Kind:      KindCommon,
			Message:   canonicalizeMessage,
			Specifier: specifier,
			Err:       err,
		}
		span.RecordError(resolveErr)
		span.SetStatus(codes.Error, resolveErr.Error())
		logger.Error(err, "Failed to canonicalize module specifier")
		return nil, resolveErr
	}
	span.SetAttributes(attribute.String(attrModulePath, path))
	logger = logger.WithValues("path", path)

	if module, ok := r.registry.Lookup(realm, path); ok {
		metrics.RecordResolve(metrics.ResultHit)
		span.SetAttributes(attribute.String(attrModuleCacheState, metrics.ResultHit))
		span.SetStatus(codes.Ok, "")
		logger.V(1).Info("Module cache hit")
		return module, nil
	}

	source, err := r.reader.ReadSource(path)
	if err != nil {
		metrics.RecordResolve(metrics.ResultNotFound)
		kind := KindSyntax
		if r.strictNotFound {
			kind = KindNotFound
		}
		resolveErr := &Error{
			Kind:      kind,
			Message:   notFoundMessage,
			Specifier: specifier,
			Path:      path,
			Err:       err,
		}
		span.RecordError(resolveErr)
		span.SetStatus(codes.Error, resolveErr.Error())
		if errors.Is(err, ErrModuleNotFound) {
			logger.V(1).Info("Module file not found")
		} else {
			logger.Error(err, "Failed to read module source")
		}
		return nil, resolveErr
	}

	start := time.Now()
	unit, err := r.engine.Parse(realm, source, specifier)
	metrics.RecordParse(time.Since(start).Seconds())
	if err != nil {
		metrics.RecordResolve(metrics.ResultParseError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.V(1).Info("Module failed to parse", "error", err.Error())
		return nil, err
	}

	module := &Module{
		unit: unit,
		key:  recordKey{realm: realm, path: path},
	}
	rec := &Record{
		Path:         path,
		BaseDirLen:   DirectoryEnd(path),
		ResourceName: specifier,
		Digest:       digest(source),
		Size:         len(source),
		LoadedAt:     time.Now(),
		module:       module,
		realm:        newLease(realm),
		unit:         newLease(unit),
	}
	r.registry.Insert(rec)

	metrics.RecordResolve(metrics.ResultLoaded)
	span.SetAttributes(attribute.String(attrModuleCacheState, metrics.ResultLoaded))
	span.SetStatus(codes.Ok, "")
	logger.V(1).Info("Module loaded", "digest", rec.Digest, "size", rec.Size)

	return module, nil
}

func digest(source []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(source))
}
