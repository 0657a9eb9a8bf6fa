// Package condition parses and evaluates threshold comparisons such as "> 80".
package condition

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// ErrInvalidCondition is returned for conditions with an unknown operator or
// a non-numeric threshold.
var ErrInvalidCondition = errors.New("invalid condition")

// Operator is a comparison operator.
type Operator int

const (
	OpInvalid Operator = iota
	OpGE
	OpLE
	OpGT
	OpLT
	OpEQ
	OpNE
)

var operatorSymbols = map[Operator]string{
	OpGE: ">=",
	OpLE: "<=",
	OpGT: ">",
	OpLT: "<",
	OpEQ: "==",
	OpNE: "!=",
}

func (o Operator) String() string {
	if s, ok := operatorSymbols[o]; ok {
		return s
	}
	return "invalid"
}

// The operator pattern lists two-character operators first so that ">=" is
// never lexed as ">" followed by "=".
var conditionLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\n\r]+`},
	{Name: "Operator", Pattern: `>=|<=|==|!=|[><=]`},
	{Name: "Number", Pattern: `[-+]?(?:[0-9]+\.?[0-9]*|\.[0-9]+)(?:[eE][-+]?[0-9]+)?`},
})

type pCondition struct {
	Operator  string  `parser:"@Operator"`
	Threshold float64 `parser:"@Number"`
}

var conditionParser = participle.MustBuild[pCondition](
	participle.Lexer(conditionLexer),
	participle.Elide("Whitespace"),
)

// Condition is a parsed comparison against a fixed threshold.
type Condition struct {
	Op        Operator
	Threshold float64
}

// Parse parses a condition string like ">= 0.5".
func Parse(s string) (Condition, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Condition{}, fmt.Errorf("%w: empty condition", ErrInvalidCondition)
	}

	pc, err := conditionParser.ParseString("", s)
	if err != nil {
		return Condition{}, fmt.Errorf("%w: %q: %s", ErrInvalidCondition, s, err)
	}
	if math.IsNaN(pc.Threshold) || math.IsInf(pc.Threshold, 0) {
		return Condition{}, fmt.Errorf("%w: %q: threshold is not finite", ErrInvalidCondition, s)
	}

	var op Operator
	switch pc.Operator {
	case ">=":
		op = OpGE
	case "<=":
		op = OpLE
	case ">":
		op = OpGT
	case "<":
		op = OpLT
	case "==", "=":
		op = OpEQ
	case "!=":
		op = OpNE
	default:
		return Condition{}, fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, pc.Operator)
	}
	return Condition{Op: op, Threshold: pc.Threshold}, nil
}

// Eval reports whether value satisfies the condition.
func (c Condition) Eval(value float64) bool {
	switch c.Op {
	case OpGE:
		return value >= c.Threshold
	case OpLE:
		return value <= c.Threshold
	case OpGT:
		return value > c.Threshold
	case OpLT:
		return value < c.Threshold
	case OpEQ:
		return value == c.Threshold
	case OpNE:
		return value != c.Threshold
	default:
		return false
	}
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %g", c.Op, c.Threshold)
}

// Cache holds parsed conditions keyed by rule so each condition string is
// parsed once per rule and re-parsed only when its text changes.
type Cache struct {
	mu      sync.Mutex
	entries map[int64]cacheEntry
}

type cacheEntry struct {
	raw  string
	cond Condition
	err  error
}

// NewCache returns an empty condition cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[int64]cacheEntry)}
}

// Get returns the parsed condition for a rule, parsing raw on a miss.
func (c *Cache) Get(ruleID int64, raw string) (Condition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[ruleID]; ok && e.raw == raw {
		return e.cond, e.err
	}
	cond, err := Parse(raw)
	c.entries[ruleID] = cacheEntry{raw: raw, cond: cond, err: err}
	return cond, err
}

// Retain drops cached entries for rules not in ids.
func (c *Cache) Retain(ids map[int64]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		if _, ok := ids[id]; !ok {
			delete(c.entries, id)
		}
	}
}
