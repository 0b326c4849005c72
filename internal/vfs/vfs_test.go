package vfs

import (
	"context"
	"io"
	"os"
	"testing"
	"time"
)

type fakeFileInfo struct {
	name  string
	size  int64
	isDir bool
}

func (f fakeFileInfo) Name() string       { return f.name }
func (f fakeFileInfo) Size() int64        { return f.size }
func (f fakeFileInfo) Mode() os.FileMode  { return 0 }
func (f fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (f fakeFileInfo) IsDir() bool        { return f.isDir }
func (f fakeFileInfo) Sys() any           { return nil }

type fakeBackend struct {
	files map[string]fakeFileInfo
	mkdir []string
	unlink []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{files: make(map[string]fakeFileInfo)}
}

func (b *fakeBackend) OpenRead(path string) (io.ReadCloser, error)  { return nil, nil }
func (b *fakeBackend) OpenWrite(path string) (io.WriteCloser, error) { return nil, nil }
func (b *fakeBackend) Stat(path string) (os.FileInfo, error) {
	if fi, ok := b.files[path]; ok {
		return fi, nil
	}
	return nil, os.ErrNotExist
}
func (b *fakeBackend) Unlink(path string) error {
	b.unlink = append(b.unlink, path)
	delete(b.files, path)
	return nil
}
func (b *fakeBackend) Mkdir(path string) error {
	b.mkdir = append(b.mkdir, path)
	b.files[path] = fakeFileInfo{name: path, isDir: true}
	return nil
}
func (b *fakeBackend) Listdir(path string) ([]os.FileInfo, error) { return nil, nil }
func (b *fakeBackend) Statvfs(path string) (uint64, uint64, error) { return 500, 1000, nil }

func TestMountAndSpaceInfo(t *testing.T) {
	tree := New(nil, nil)
	backend := newFakeBackend()
	if err := tree.Mount("sdcard", backend); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	free, total, err := tree.SpaceInfo("sdcard")
	if err != nil || free != 500 || total != 1000 {
		t.Fatalf("unexpected space info: %d %d %v", free, total, err)
	}
}

func TestMountRejectsDuplicateOrInvalidName(t *testing.T) {
	tree := New(nil, nil)
	backend := newFakeBackend()
	if err := tree.Mount("sdcard", backend); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tree.Mount("sdcard", backend); err == nil {
		t.Fatal("expected error mounting duplicate name")
	}
	if err := tree.Mount("bad/name", backend); err == nil {
		t.Fatal("expected error mounting invalid name")
	}
}

func TestCreateFolderAndGet(t *testing.T) {
	tree := New(nil, nil)
	backend := newFakeBackend()
	tree.Mount("sdcard", backend)

	if err := tree.CreateFolder("sdcard/prints"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := tree.Get("sdcard/prints")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Kind != KindFolder {
		t.Fatalf("expected folder node")
	}
}

func TestGetResolvesFileViaBackendStat(t *testing.T) {
	tree := New(nil, nil)
	backend := newFakeBackend()
	backend.files["model.gcode"] = fakeFileInfo{name: "model.gcode", size: 42}
	tree.Mount("sdcard", backend)

	n, err := tree.Get("sdcard/model.gcode")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Kind != KindFile || n.Size != 42 {
		t.Fatalf("unexpected node: %+v", n)
	}
}

func TestListExcludesHiddenNodes(t *testing.T) {
	tree := New(nil, nil)
	backend := newFakeBackend()
	tree.Mount("sdcard", backend)
	tree.CreateFolder("sdcard/visible")

	storage := tree.storages["sdcard"]
	storage.root.Children[".hidden"] = &Node{Name: ".hidden", Kind: KindFolder, Children: map[string]*Node{}}

	nodes, err := tree.List("sdcard")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, n := range nodes {
		if n.IsHidden() {
			t.Fatalf("expected hidden node excluded, found %q", n.Name)
		}
	}
	if len(nodes) != 1 || nodes[0].Name != "visible" {
		t.Fatalf("unexpected listing: %+v", nodes)
	}
}

func TestDeleteRemovesFromTreeAndBackend(t *testing.T) {
	tree := New(nil, nil)
	backend := newFakeBackend()
	tree.Mount("sdcard", backend)
	tree.CreateFolder("sdcard/prints")

	if err := tree.Delete("sdcard/prints"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(backend.unlink) != 1 {
		t.Fatalf("expected backend Unlink called once, got %d", len(backend.unlink))
	}
}

func TestValidateNameRejectsForbiddenChars(t *testing.T) {
	if err := ValidateName("good_name.gcode"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateName("bad:name"); err == nil {
		t.Fatal("expected error for forbidden character")
	}
	if err := ValidateName(""); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestMetadataCacheHitAndInvalidate(t *testing.T) {
	var calls int
	extractor := extractorFunc(func(ctx context.Context, path string) (map[string]any, error) {
		calls++
		return map[string]any{"path": path}, nil
	})
	cache, err := NewMetadataCache(10, extractor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := cache.Get(context.Background(), "sdcard", "model.gcode", 1, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cache.Get(context.Background(), "sdcard", "model.gcode", 1, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 extraction call, got %d", calls)
	}

	cache.Invalidate("sdcard", "model.gcode")
	if _, err := cache.Get(context.Background(), "sdcard", "model.gcode", 1, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2nd extraction after invalidate, got %d", calls)
	}
}

type extractorFunc func(ctx context.Context, path string) (map[string]any, error)

func (f extractorFunc) Extract(ctx context.Context, path string) (map[string]any, error) {
	return f(ctx, path)
}
