package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirdesai22/leadsync/internal/notion"
)

// FakeCRM is an in-memory CRM keyed by database id.
type FakeCRM struct {
	mu      sync.Mutex
	seq     int
	pages   map[string]notion.Page
	dbOf    map[string]string
	order   []string
	creates int
	updates int
	calls   []time.Time

	createErr    error
	updateErr    error
	blockCreates bool
	lastUpdate   notion.Properties
}

func NewFakeCRM() *FakeCRM {
	return &FakeCRM{
		pages: make(map[string]notion.Page),
		dbOf:  make(map[string]string),
	}
}

// FailCreates makes every CreatePage return err until reset with nil.
func (f *FakeCRM) FailCreates(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

func (f *FakeCRM) FailUpdates(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateErr = err
}

// BlockCreates makes CreatePage hang until the caller's context expires.
func (f *FakeCRM) BlockCreates(block bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockCreates = block
}

func (f *FakeCRM) CreatePage(ctx context.Context, databaseID string, props notion.Properties) (notion.Page, error) {
	f.mu.Lock()
	f.creates++
	f.calls = append(f.calls, time.Now())
	block, err := f.blockCreates, f.createErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return notion.Page{}, ctx.Err()
	}
	if err != nil {
		return notion.Page{}, err
	}
	return f.AddPage(databaseID, props), nil
}

func (f *FakeCRM) UpdatePage(ctx context.Context, pageID string, props notion.Properties) (notion.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	f.calls = append(f.calls, time.Now())
	if f.updateErr != nil {
		return notion.Page{}, f.updateErr
	}
	page, ok := f.pages[pageID]
	if !ok {
		return notion.Page{}, &notion.APIError{Status: 404, Code: "object_not_found", Message: pageID}
	}
	for label, prop := range props {
		page.Properties[label] = prop
	}
	f.pages[pageID] = page
	f.lastUpdate = copyProps(props)
	return page, nil
}

func (f *FakeCRM) QueryAll(ctx context.Context, databaseID string) ([]notion.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notion.Page
	for _, id := range f.order {
		if f.dbOf[id] == databaseID {
			page := f.pages[id]
			page.Properties = copyProps(page.Properties)
			out = append(out, page)
		}
	}
	return out, nil
}

// AddPage stores a page as if an operator created it in the CRM directly.
func (f *FakeCRM) AddPage(databaseID string, props notion.Properties) notion.Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("page-%03d", f.seq)
	page := notion.Page{ID: id, Properties: copyProps(props)}
	f.pages[id] = page
	f.dbOf[id] = databaseID
	f.order = append(f.order, id)
	return page
}

// SetProperty simulates an operator edit.
func (f *FakeCRM) SetProperty(pageID, label string, prop notion.Property) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := f.pages[pageID]
	page.Properties[label] = prop
	f.pages[pageID] = page
}

func (f *FakeCRM) Page(id string) (notion.Page, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[id]
	if ok {
		page.Properties = copyProps(page.Properties)
	}
	return page, ok
}

func (f *FakeCRM) PageIDs(databaseID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, db := range f.dbOf {
		if db == databaseID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (f *FakeCRM) Creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

func (f *FakeCRM) Updates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

// MaxCallsWithin returns the largest number of page writes that started
// inside any window of length d.
func (f *FakeCRM) MaxCallsWithin(d time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	most := 0
	for i, start := range f.calls {
		n := 0
		for _, at := range f.calls[i:] {
			if at.Sub(start) < d {
				n++
			}
		}
		most = max(most, n)
	}
	return most
}

func (f *FakeCRM) LastUpdate() notion.Properties {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyProps(f.lastUpdate)
}

func copyProps(in notion.Properties) notion.Properties {
	if in == nil {
		return nil
	}
	out := make(notion.Properties, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Text builds a rich text property.
func Text(s string) notion.Property {
	return notion.Property{Type: notion.TypeRichText, RichText: []notion.RichText{{Text: &notion.TextContent{Content: s}}}}
}

func Title(s string) notion.Property {
	return notion.Property{Type: notion.TypeTitle, Title: []notion.RichText{{Text: &notion.TextContent{Content: s}}}}
}

func Number(n float64) notion.Property {
	return notion.Property{Type: notion.TypeNumber, Number: &n}
}

func Checkbox(b bool) notion.Property {
	return notion.Property{Type: notion.TypeCheckbox, Checkbox: b}
}
