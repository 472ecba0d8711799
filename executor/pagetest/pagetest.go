// Package pagetest provides an in-memory Page implementation for unit
// testing step execution and for dry runs without a browser backend.
package pagetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orderout/nightglow/executor"
)

// Element is a scripted DOM element: attribute values plus inner text.
type Element struct {
	Attributes map[string]string
	InnerText  string
}

func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, ok := e.Attributes[name]
	return v, ok, nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	return e.InnerText, nil
}

// Page is a scriptable Page. Zero value succeeds every operation;
// Elements and the Fail* hooks script specific behavior. Page records
// every call for assertions and is safe for concurrent use.
type Page struct {
	mu sync.Mutex

	// Elements maps selectors to scripted elements for Query/Extract.
	Elements map[string]*Element

	// FailNavigate, FailClick and MissingSelectors make the respective
	// operations fail.
	FailNavigate     bool
	FailClick        bool
	MissingSelectors map[string]bool

	// FailFirstN makes every operation fail until n calls were made.
	FailFirstN int

	calls []string
}

var _ executor.Page = (*Page)(nil)

// Calls returns the recorded operations in order, formatted as
// "op(arg)".
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.calls...)
}

func (p *Page) record(format string, args ...any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, fmt.Sprintf(format, args...))

	if p.FailFirstN > 0 {
		p.FailFirstN--
		return true
	}

	return false
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	failing := p.record("navigate(%s)", url)
	if err := ctx.Err(); err != nil {
		return err
	}

	if failing || p.FailNavigate {
		return fmt.Errorf("navigation to %s failed", url)
	}

	return nil
}

func (p *Page) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	failing := p.record("waitFor(%s)", selector)
	if err := ctx.Err(); err != nil {
		return err
	}

	if failing || p.MissingSelectors[selector] {
		return executor.ErrWaitTimeout
	}

	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	failing := p.record("click(%s)", selector)
	if err := ctx.Err(); err != nil {
		return err
	}

	if failing || p.FailClick || p.MissingSelectors[selector] {
		return fmt.Errorf("element %q not found", selector)
	}

	return nil
}

func (p *Page) Query(ctx context.Context, selector string) (executor.Element, error) {
	failing := p.record("query(%s)", selector)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if failing || p.MissingSelectors[selector] {
		return nil, fmt.Errorf("element %q not found", selector)
	}

	if el, ok := p.Elements[selector]; ok {
		return el, nil
	}

	return &Element{}, nil
}
