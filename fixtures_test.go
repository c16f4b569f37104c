package manytomorph

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

type Page struct {
	Slots
	ID    int
	Title string
}

type HeroSection struct {
	Slots
	ID      int
	Heading string
}

type DemoSection struct {
	Slots
	ID    int
	Title string
	Video string
}

type FaqSection struct {
	Slots
	ID         int
	Title      string
	Items      []FaqSectionItem `morph:"-"`
	ItemsCount int              `morph:"-"`
}

func (FaqSection) ItemsRelation() HasMany[FaqSectionItem] {
	return HasMany[FaqSectionItem]{}
}

type FaqSectionItem struct {
	ID           int
	FaqSectionID int
	AuthorID     int
	Question     string
	Author       *Author `morph:"-"`
}

func (FaqSectionItem) AuthorRelation() BelongsTo[Author] {
	return BelongsTo[Author]{}
}

type Author struct {
	ID   int
	Name string
}

// Banner is keyed by a string code.
type Banner struct {
	Slots
	Code string `morph:"primary"`
	Text string
}

// plainPage has no Slots; loaded relations land in its exported field.
type plainPage struct {
	ID             int
	PageComponents Collection `morph:"-"`
}

func (plainPage) TableName() string { return "pages" }

// plainHero has no Slots; the pivot lands in its exported Pivot field.
type plainHero struct {
	ID      int
	Heading string
	Pivot   *PivotRecord `morph:"-"`
}

func (plainHero) TableName() string { return "hero_sections" }

const testSchema = `
CREATE TABLE pages (id INTEGER PRIMARY KEY, title TEXT);
CREATE TABLE page_components (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	page_id INTEGER NOT NULL,
	page_component_type TEXT NOT NULL,
	page_component_id INTEGER NOT NULL,
	position INTEGER,
	score INTEGER,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE TABLE hero_sections (id INTEGER PRIMARY KEY, heading TEXT);
CREATE TABLE demo_sections (id INTEGER PRIMARY KEY, title TEXT, video TEXT);
CREATE TABLE faq_sections (id INTEGER PRIMARY KEY, title TEXT);
CREATE TABLE faq_section_items (id INTEGER PRIMARY KEY, faq_section_id INTEGER, author_id INTEGER, question TEXT);
CREATE TABLE authors (id INTEGER PRIMARY KEY, name TEXT);
CREATE TABLE banners (code TEXT PRIMARY KEY, text TEXT);
`

const testSeed = `
INSERT INTO pages (id, title) VALUES (1, 'Home'), (2, 'About'), (3, 'Empty');
INSERT INTO hero_sections (id, heading) VALUES (10, 'Welcome'), (11, 'Hello again');
INSERT INTO demo_sections (id, title, video) VALUES (20, 'Demo', 'demo.mp4'), (21, 'Tour', 'tour.mp4');
INSERT INTO faq_sections (id, title) VALUES (30, 'FAQ'), (31, 'Support');
INSERT INTO authors (id, name) VALUES (1, 'Ada'), (2, 'Grace');
INSERT INTO faq_section_items (id, faq_section_id, author_id, question) VALUES
	(1, 30, 1, 'How?'), (2, 30, 2, 'Why?'), (3, 31, 1, 'Where?');
INSERT INTO banners (code, text) VALUES ('promo', 'Sale'), ('news', 'Fresh');
`

// countingDB records every statement sent to the database.
type countingDB struct {
	*sql.DB
	mu     sync.Mutex
	reads  []string
	writes []string
}

func (c *countingDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	c.mu.Lock()
	c.reads = append(c.reads, query)
	c.mu.Unlock()
	return c.DB.QueryContext(ctx, query, args...)
}

func (c *countingDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.mu.Lock()
	c.writes = append(c.writes, query)
	c.mu.Unlock()
	return c.DB.ExecContext(ctx, query, args...)
}

func (c *countingDB) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads, c.writes = nil, nil
}

func (c *countingDB) readCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reads)
}

// readsFrom counts select statements whose FROM clause names table.
func (c *countingDB) readsFrom(table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, q := range c.reads {
		if strings.Contains(q, "FROM "+table+" ") || strings.HasSuffix(q, "FROM "+table) {
			n++
		}
	}
	return n
}

func setupDB(t *testing.T) *countingDB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	if _, err := db.Exec(testSeed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return &countingDB{DB: db}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	reg := NewRegistry()
	for name, proto := range map[string]any{
		"hero_section": &HeroSection{},
		"demo_section": &DemoSection{},
		"faq_section":  &FaqSection{},
		"banner":       &Banner{},
	} {
		if err := reg.Register(name, proto); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	return reg
}

func newRelation(t *testing.T, db Queryer, reg *Registry, parent any, opts ...Option) *ManyToMorph {
	t.Helper()

	opts = append([]Option{WithRegistry(reg), WithDB(db)}, opts...)
	rel, err := NewManyToMorph(parent, "page_component", opts...)
	if err != nil {
		t.Fatalf("NewManyToMorph: %v", err)
	}
	return rel
}

// attachPage links the standard page scenario: Hero#10, Demo#20, Faq#30.
func attachPage(t *testing.T, rel *ManyToMorph) {
	t.Helper()

	ctx := context.Background()
	targets := []any{&HeroSection{ID: 10}, &DemoSection{ID: 20}, &FaqSection{ID: 30}}
	for i, target := range targets {
		if err := rel.Attach(ctx, target, map[string]any{"position": i + 1}); err != nil {
			t.Fatalf("attach %T: %v", target, err)
		}
	}
}

// insertPivot writes a pivot row directly, bypassing the registry.
func insertPivot(t *testing.T, db *countingDB, pageID int, morphType string, key any, position int) {
	t.Helper()

	_, err := db.DB.Exec(
		"INSERT INTO page_components (page_id, page_component_type, page_component_id, position) VALUES (?, ?, ?, ?)",
		pageID, morphType, key, position)
	if err != nil {
		t.Fatalf("insert pivot: %v", err)
	}
}

func describe(c Collection) []string {
	out := make([]string, 0, c.Len())
	for _, item := range c.All() {
		switch v := item.(type) {
		case *HeroSection:
			out = append(out, "hero:"+v.Heading)
		case *DemoSection:
			out = append(out, "demo:"+v.Title)
		case *FaqSection:
			out = append(out, "faq:"+v.Title)
		case *Banner:
			out = append(out, "banner:"+v.Code)
		default:
			out = append(out, "?")
		}
	}
	return out
}
