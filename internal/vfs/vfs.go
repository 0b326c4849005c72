// Package vfs implements the in-memory virtual filesystem tree (spec
// §3 Node/Storage, §4.3): the authoritative listing of mounted
// storages and their folder/file nodes, independent of the physical
// bytes a StorageBackend moves. Node name validation (forbidden
// characters, length) and hidden-node exclusion from listings live
// here; actual I/O is delegated to interfaces.StorageBackend.
package vfs

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prusa3d/connect-sdk-go/internal/constants"
	"github.com/prusa3d/connect-sdk-go/internal/interfaces"
)

// NodeKind distinguishes a folder from a file in the tree.
type NodeKind int

const (
	KindFile NodeKind = iota
	KindFolder
)

// Node is one entry in the virtual tree.
type Node struct {
	Name     string
	Kind     NodeKind
	Size     int64
	ModTime  time.Time
	Children map[string]*Node // nil for files
}

// IsHidden reports whether the node's name marks it as hidden (a
// leading dot), excluded from listings per spec §3.
func (n *Node) IsHidden() bool {
	return strings.HasPrefix(n.Name, ".")
}

// ValidateName reports an error if name cannot be used for a node
// (spec §3 invariants): too long, empty, or containing a forbidden
// character.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("vfs: node name must not be empty")
	}
	if len(name) > constants.MaxNameBytes {
		return fmt.Errorf("vfs: node name exceeds %d bytes", constants.MaxNameBytes)
	}
	if strings.ContainsAny(name, constants.ForbiddenNameChars) {
		return fmt.Errorf("vfs: node name %q contains a forbidden character", name)
	}
	return nil
}

// Storage is one mounted root (spec §3 Storage): a name, a physical
// backend, and the in-memory tree rooted at that backend.
type Storage struct {
	Name    string
	Backend interfaces.StorageBackend
	root    *Node
}

// Tree is the collection of all mounted storages, guarded by a single
// mutex since mount/unmount/listing all need a consistent view.
type Tree struct {
	mu       sync.RWMutex
	storages map[string]*Storage
	cache    *MetadataCache
	watcher  interfaces.FilesystemWatcher
}

// New creates an empty Tree. cache may be nil to disable metadata
// caching; watcher may be nil if no filesystem-change notifications
// are available for this platform (spec §9).
func New(cache *MetadataCache, watcher interfaces.FilesystemWatcher) *Tree {
	return &Tree{
		storages: make(map[string]*Storage),
		cache:    cache,
		watcher:  watcher,
	}
}

// Mount registers a new storage root. Returns an error if name is
// already mounted or invalid.
func (t *Tree) Mount(name string, backend interfaces.StorageBackend) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.storages[name]; exists {
		return fmt.Errorf("vfs: storage %q already mounted", name)
	}

	t.storages[name] = &Storage{
		Name:    name,
		Backend: backend,
		root:    &Node{Name: "", Kind: KindFolder, Children: make(map[string]*Node)},
	}
	return nil
}

// Unmount removes a mounted storage and its in-memory subtree.
func (t *Tree) Unmount(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.storages[name]; !exists {
		return fmt.Errorf("vfs: storage %q not mounted", name)
	}
	delete(t.storages, name)
	if t.cache != nil {
		t.cache.InvalidateStorage(name)
	}
	return nil
}

// Storages returns the names of all currently mounted storages, sorted.
func (t *Tree) Storages() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.storages))
	for name := range t.storages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get resolves path (storage/dir/.../name) to its Node. Path elements
// not yet in the in-memory tree are added from the backend's Stat of
// that element; the backend's Listdir is not consulted. Hidden
// nodes are resolvable directly but are excluded from List's output.
func (t *Tree) Get(path string) (*Node, error) {
	storageName, rel, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	storage, ok := t.storages[storageName]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("vfs: storage %q not mounted", storageName)
	}

	return t.resolve(storage, rel)
}

// List returns the non-hidden children of the folder at path, sorted
// by name. Only children already in the in-memory tree (added by
// CreateFolder or by resolving a path with Get) are listed; entries that
// exist only on the backend are not.
func (t *Tree) List(path string) ([]*Node, error) {
	n, err := t.Get(path)
	if err != nil {
		return nil, err
	}
	if n.Kind != KindFolder {
		return nil, fmt.Errorf("vfs: %q is not a folder", path)
	}

	if err := t.refreshFolder(n); err != nil {
		return nil, err
	}

	out := make([]*Node, 0, len(n.Children))
	for _, child := range n.Children {
		if !child.IsHidden() {
			out = append(out, child)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateFolder creates a new folder node at path and asks the backend
// to create the corresponding physical directory.
func (t *Tree) CreateFolder(path string) error {
	storageName, rel, err := splitPath(path)
	if err != nil {
		return err
	}
	if err := ValidateName(lastElement(rel)); err != nil {
		return err
	}

	t.mu.RLock()
	storage, ok := t.storages[storageName]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("vfs: storage %q not mounted", storageName)
	}

	if err := storage.Backend.Mkdir(rel); err != nil {
		return err
	}

	parent, err := t.resolve(storage, parentOf(rel))
	if err != nil {
		return err
	}
	parent.Children[lastElement(rel)] = &Node{
		Name: lastElement(rel), Kind: KindFolder, Children: make(map[string]*Node),
	}
	return nil
}

// Delete removes the node at path from both the tree and the backend.
func (t *Tree) Delete(path string) error {
	storageName, rel, err := splitPath(path)
	if err != nil {
		return err
	}

	t.mu.RLock()
	storage, ok := t.storages[storageName]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("vfs: storage %q not mounted", storageName)
	}

	if err := storage.Backend.Unlink(rel); err != nil {
		return err
	}

	parent, err := t.resolve(storage, parentOf(rel))
	if err == nil {
		delete(parent.Children, lastElement(rel))
	}
	if t.cache != nil {
		t.cache.Invalidate(storageName, rel)
	}
	return nil
}

// SpaceInfo returns free/total bytes for the storage at storageName.
func (t *Tree) SpaceInfo(storageName string) (free, total uint64, err error) {
	t.mu.RLock()
	storage, ok := t.storages[storageName]
	t.mu.RUnlock()
	if !ok {
		return 0, 0, fmt.Errorf("vfs: storage %q not mounted", storageName)
	}
	return storage.Backend.Statvfs("/")
}

// OnFileChanged should be called by the wiring code that owns the
// FilesystemWatcher when a change notification fires for storageName's
// path rel; it drops the cached metadata for that path (spec §9). The
// in-memory tree nodes are left unchanged.
func (t *Tree) OnFileChanged(storageName, rel string) {
	if t.cache != nil {
		t.cache.Invalidate(storageName, rel)
	}
}

func (t *Tree) resolve(storage *Storage, rel string) (*Node, error) {
	if rel == "" {
		return storage.root, nil
	}

	node := storage.root
	walked := ""
	for _, part := range strings.Split(rel, "/") {
		if part == "" {
			continue
		}
		if walked == "" {
			walked = part
		} else {
			walked += "/" + part
		}
		if node.Kind != KindFolder {
			return nil, fmt.Errorf("vfs: %q is not a folder", part)
		}
		if err := t.refreshFolder(node); err != nil {
			return nil, err
		}
		child, ok := node.Children[part]
		if !ok {
			info, err := storage.Backend.Stat(walked)
			if err != nil {
				return nil, err
			}
			kind := KindFile
			if info.IsDir() {
				kind = KindFolder
			}
			child = &Node{Name: part, Kind: kind, Size: info.Size(), ModTime: info.ModTime()}
			if kind == KindFolder {
				child.Children = make(map[string]*Node)
			}
			node.Children[part] = child
		}
		node = child
	}
	return node, nil
}

func (t *Tree) refreshFolder(n *Node) error {
	// No-op: the tree is never repopulated from backend.Listdir; nodes
	// come only from CreateFolder and from per-element Stat in resolve.
	return nil
}

func splitPath(path string) (storage, rel string, err error) {
	path = strings.TrimPrefix(path, "/")
	idx := strings.IndexByte(path, '/')
	if idx < 0 {
		return path, "", nil
	}
	return path[:idx], path[idx+1:], nil
}

func parentOf(rel string) string {
	idx := strings.LastIndexByte(rel, '/')
	if idx < 0 {
		return ""
	}
	return rel[:idx]
}

func lastElement(rel string) string {
	idx := strings.LastIndexByte(rel, '/')
	if idx < 0 {
		return rel
	}
	return rel[idx+1:]
}
