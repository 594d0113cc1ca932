package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/okian/lunchvote/internal/domain/model"
)

// DefaultOptions is the catalog used when none is configured.
var DefaultOptions = []model.Option{
	{ID: 1, Name: "First option", URL: "https://example.com/first", PriceTier: 2},
	{ID: 2, Name: "Second option", URL: "https://example.com/second", PriceTier: 2},
	{ID: 3, Name: "Third option", URL: "https://example.com/third", PriceTier: 4},
	{ID: 4, Name: "Fourth option", URL: "https://example.com/fourth", PriceTier: 4},
}

// Catalog is the immutable set of options for a deployment.
type Catalog struct {
	options []model.Option
	byID    map[int]model.Option
	filter  string
	loc     *time.Location
}

// Option applies a configuration option to the Catalog.
type Option func(*catalogConfig)

type catalogConfig struct {
	filter string
	loc    *time.Location
}

// WithFilter keeps only options for which the expression evaluates to true.
// The expression sees id, name, url and price.
func WithFilter(expression string) Option {
	return func(c *catalogConfig) {
		c.filter = strings.TrimSpace(expression)
	}
}

// WithLocation sets the timezone of the daily boundary.
func WithLocation(loc *time.Location) Option {
	return func(c *catalogConfig) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// New validates options, applies the filter and returns the catalog.
func New(options []model.Option, opts ...Option) (*Catalog, error) {
	cfg := catalogConfig{loc: time.UTC}
	for _, opt := range opts {
		opt(&cfg)
	}

	var program *vm.Program
	if cfg.filter != "" {
		p, err := expr.Compile(cfg.filter, expr.Env(filterEnv(model.Option{})), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
		}
		program = p
	}

	c := &Catalog{
		byID:   make(map[int]model.Option, len(options)),
		filter: cfg.filter,
		loc:    cfg.loc,
	}
	for _, o := range options {
		if o.ID == 0 {
			return nil, fmt.Errorf("%w: option %q has no id", ErrInvalidOption, o.Name)
		}
		if _, dup := c.byID[o.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %d", ErrInvalidOption, o.ID)
		}
		if program != nil {
			keep, err := expr.Run(program, filterEnv(o))
			if err != nil {
				return nil, fmt.Errorf("%w: option %d: %w", ErrInvalidFilter, o.ID, err)
			}
			if b, _ := keep.(bool); !b {
				continue
			}
		}
		c.byID[o.ID] = o
		c.options = append(c.options, o)
	}
	return c, nil
}

func filterEnv(o model.Option) map[string]any {
	return map[string]any{
		"id":    o.ID,
		"name":  o.Name,
		"url":   o.URL,
		"price": o.PriceTier,
	}
}

// Options returns the catalog in configured order.
func (c *Catalog) Options() []model.Option {
	out := make([]model.Option, len(c.options))
	copy(out, c.options)
	return out
}

// Lookup returns the option with the given id.
func (c *Catalog) Lookup(id int) (model.Option, bool) {
	o, ok := c.byID[id]
	return o, ok
}

// Len returns the number of options.
func (c *Catalog) Len() int { return len(c.options) }

// Location returns the timezone of the daily boundary.
func (c *Catalog) Location() *time.Location { return c.loc }

// Daily returns the start of the day containing now and the day's ordering.
func (c *Catalog) Daily(now time.Time) (time.Time, []model.Option) {
	start := StartOfDay(now, c.loc)
	return start, Order(Seed(start), c.options)
}
