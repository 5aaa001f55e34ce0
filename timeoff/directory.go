package timeoff

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// DIRECTORY - Employee metadata lookups
// =============================================================================

// Person is a directory entry.
type Person struct {
	UID          string `json:"uid"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name"`
	Role         Role   `json:"role"`
	DepartmentID string `json:"department_id"`
}

// Directory resolves employee metadata. Lookups of unknown people return
// (nil, nil). Email matching is case-insensitive.
type Directory interface {
	ByEmail(ctx context.Context, email string) (*Person, error)
	ByUID(ctx context.Context, uid string) (*Person, error)
	List(ctx context.Context) ([]Person, error)
}

// StaticDirectory serves a fixed list of people.
type StaticDirectory struct {
	people  []Person
	byEmail map[string]int
	byUID   map[string]int
}

func NewStaticDirectory(people ...Person) *StaticDirectory {
	d := &StaticDirectory{
		byEmail: make(map[string]int, len(people)),
		byUID:   make(map[string]int, len(people)),
	}
	for _, p := range people {
		p.Email = normalizeEmail(p.Email)
		p.UID = strings.TrimSpace(p.UID)
		if p.Email == "" {
			continue
		}
		d.people = append(d.people, p)
		i := len(d.people) - 1
		d.byEmail[p.Email] = i
		if p.UID != "" {
			d.byUID[p.UID] = i
		}
	}
	return d
}

func (d *StaticDirectory) ByEmail(_ context.Context, email string) (*Person, error) {
	i, ok := d.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	p := d.people[i]
	return &p, nil
}

func (d *StaticDirectory) ByUID(_ context.Context, uid string) (*Person, error) {
	i, ok := d.byUID[uid]
	if !ok {
		return nil, nil
	}
	p := d.people[i]
	return &p, nil
}

func (d *StaticDirectory) List(_ context.Context) ([]Person, error) {
	return append([]Person(nil), d.people...), nil
}

// FileDirectory reads a JSON array of people from Path on every call, so
// edits to the file take effect without a restart. Wrap it in a
// CachedDirectory to bound the reads.
type FileDirectory struct {
	Path string
}

func (f FileDirectory) load() (*StaticDirectory, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", f.Path, err)
	}
	var people []Person
	if err := json.Unmarshal(raw, &people); err != nil {
		return nil, fmt.Errorf("parse directory %s: %w", f.Path, err)
	}
	return NewStaticDirectory(people...), nil
}

func (f FileDirectory) ByEmail(ctx context.Context, email string) (*Person, error) {
	d, err := f.load()
	if err != nil {
		return nil, err
	}
	return d.ByEmail(ctx, email)
}

func (f FileDirectory) ByUID(ctx context.Context, uid string) (*Person, error) {
	d, err := f.load()
	if err != nil {
		return nil, err
	}
	return d.ByUID(ctx, uid)
}

func (f FileDirectory) List(ctx context.Context) ([]Person, error) {
	d, err := f.load()
	if err != nil {
		return nil, err
	}
	return d.List(ctx)
}

// =============================================================================
// CACHED DIRECTORY - Caller-controlled staleness
// =============================================================================

// CachedDirectory snapshots the inner directory's List for TTL and answers
// every lookup from that snapshot. A TTL of zero disables caching.
type CachedDirectory struct {
	inner Directory
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	snapshot *StaticDirectory
	loadedAt time.Time
}

func NewCachedDirectory(inner Directory, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{inner: inner, ttl: ttl, now: time.Now}
}

func (c *CachedDirectory) current(ctx context.Context) (*StaticDirectory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot != nil && c.ttl > 0 && c.now().Sub(c.loadedAt) < c.ttl {
		return c.snapshot, nil
	}
	people, err := c.inner.List(ctx)
	if err != nil {
		return nil, err
	}
	c.snapshot = NewStaticDirectory(people...)
	c.loadedAt = c.now()
	return c.snapshot, nil
}

// Invalidate drops the snapshot; the next lookup reloads.
func (c *CachedDirectory) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = nil
}

func (c *CachedDirectory) ByEmail(ctx context.Context, email string) (*Person, error) {
	d, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return d.ByEmail(ctx, email)
}

func (c *CachedDirectory) ByUID(ctx context.Context, uid string) (*Person, error) {
	d, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return d.ByUID(ctx, uid)
}

func (c *CachedDirectory) List(ctx context.Context) ([]Person, error) {
	d, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return d.List(ctx)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var (
	_ Directory = (*StaticDirectory)(nil)
	_ Directory = FileDirectory{}
	_ Directory = (*CachedDirectory)(nil)
)
