package service

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"path"

	"gradebox/internal/check/checker"
	"gradebox/internal/check/model"
	appErr "gradebox/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

// fetchSources downloads the bundle (if any) and the listed sources, in that order.
func (s *Service) fetchSources(ctx context.Context, payload model.CheckMessage) ([]checker.Source, error) {
	var sources []checker.Source
	budget := s.maxSourceBytes
	if payload.SourceBundleKey != "" {
		bundled, err := s.fetchBundle(ctx, payload.SourceBundleKey, budget)
		if err != nil {
			return nil, err
		}
		sources = append(sources, bundled...)
	}
	for _, ref := range payload.Sources {
		if ref.Name == "" || ref.ObjectKey == "" {
			return nil, appErr.ValidationError("sources", "name and object_key are required")
		}
		data, err := s.fetchObject(ctx, ref.ObjectKey, remaining(budget, sources))
		if err != nil {
			return nil, err
		}
		sources = append(sources, checker.Source{Name: ref.Name, Content: data})
	}
	return sources, nil
}

func (s *Service) fetchObject(ctx context.Context, key string, limit int64) ([]byte, error) {
	ctxStorage, cancel := s.withStorageTimeout(ctx)
	defer cancel()
	if limit != 0 {
		stat, err := s.storage.StatObject(ctxStorage, s.sourceBucket, key)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.SourceFetchFailed, "stat %s failed", key)
		}
		if limit < 0 || stat.SizeBytes > limit {
			return nil, appErr.Newf(appErr.SourceTooLarge, "sources exceed the size limit at %s", key)
		}
	}
	reader, err := s.storage.GetObject(ctxStorage, s.sourceBucket, key)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SourceFetchFailed, "download %s failed", key)
	}
	defer reader.Close()
	return readLimited(reader, limit, key)
}

// fetchBundle reads a .tar.zst archive of flat source files.
func (s *Service) fetchBundle(ctx context.Context, key string, limit int64) ([]checker.Source, error) {
	ctxStorage, cancel := s.withStorageTimeout(ctx)
	defer cancel()
	reader, err := s.storage.GetObject(ctxStorage, s.sourceBucket, key)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SourceFetchFailed, "download bundle %s failed", key)
	}
	defer reader.Close()
	return readBundle(reader, limit)
}

func readBundle(r io.Reader, limit int64) ([]checker.Source, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SourceFetchFailed, "create zstd reader failed")
	}
	defer zr.Close()

	var sources []checker.Source
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.SourceFetchFailed, "read bundle entry failed")
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		if hdr.Typeflag != tar.TypeReg {
			return nil, appErr.Newf(appErr.SourceNameInvalid, "bundle entry %q is not a regular file", hdr.Name)
		}
		name := path.Clean(hdr.Name)
		if name != path.Base(name) {
			return nil, appErr.Newf(appErr.SourceNameInvalid, "bundle entry %q must be at the top level", hdr.Name)
		}
		data, err := readLimited(tr, remaining(limit, sources), hdr.Name)
		if err != nil {
			return nil, err
		}
		sources = append(sources, checker.Source{Name: name, Content: data})
	}
	return sources, nil
}

func readLimited(r io.Reader, limit int64, name string) ([]byte, error) {
	if limit < 0 {
		return nil, appErr.Newf(appErr.SourceTooLarge, "sources exceed the size limit at %s", name)
	}
	if limit == 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.SourceFetchFailed, "read %s failed", name)
		}
		return data, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SourceFetchFailed, "read %s failed", name)
	}
	if int64(len(data)) > limit {
		return nil, appErr.Newf(appErr.SourceTooLarge, "sources exceed the size limit at %s", name)
	}
	return data, nil
}

// remaining is the byte budget left after sources. Zero means unlimited; negative means spent.
func remaining(limit int64, sources []checker.Source) int64 {
	if limit <= 0 {
		return 0
	}
	left := limit
	for _, src := range sources {
		left -= int64(len(src.Content))
	}
	if left <= 0 {
		return -1
	}
	return left
}

// resolveScripts loads script checkers that reference object storage.
func (s *Service) resolveScripts(ctx context.Context, defs []checker.Definition) ([]checker.Definition, error) {
	out := make([]checker.Definition, len(defs))
	copy(out, defs)
	for i := range out {
		def := &out[i]
		if def.Kind != checker.KindScript || def.Script != "" || def.ScriptKey == "" {
			continue
		}
		ctxStorage, cancel := s.withStorageTimeout(ctx)
		reader, err := s.storage.GetObject(ctxStorage, s.scriptBucket, def.ScriptKey)
		if err != nil {
			cancel()
			return nil, appErr.Wrapf(err, appErr.SourceFetchFailed, "download script %s failed", def.ScriptKey)
		}
		data, err := readLimited(reader, maxScriptBytes, def.ScriptKey)
		_ = reader.Close()
		cancel()
		if err != nil {
			return nil, err
		}
		def.Script = string(data)
		if def.ScriptName == "" {
			def.ScriptName = path.Base(def.ScriptKey)
		}
	}
	return out, nil
}

func (s *Service) withStorageTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storageTimeout > 0 {
		return context.WithTimeout(ctx, s.storageTimeout)
	}
	return context.WithCancel(ctx)
}

const maxScriptBytes = 1 << 20

