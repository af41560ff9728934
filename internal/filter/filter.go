// Package filter compiles CEL expressions that select elements, as used by
// status queries and the admin surfaces.
//
// Expressions see these variables:
//
//	request, task, status, team, child_queue, parent_queue, dataset  string
//	priority, jobs, percent_complete, age_s                          int
//	sites                                                            list(string)
//
// For example: status == "Acquired" && priority > 10 && "SiteA" in sites.
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/dmwm/workqueue/internal/element"
)

// Filter is a compiled expression. The zero value matches everything.
type Filter struct {
	prog    cel.Program
	enabled bool
	expr    string
}

// Compile parses and type-checks expr. An empty expression matches every
// element.
func Compile(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("request", cel.StringType),
		cel.Variable("task", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("team", cel.StringType),
		cel.Variable("child_queue", cel.StringType),
		cel.Variable("parent_queue", cel.StringType),
		cel.Variable("dataset", cel.StringType),
		cel.Variable("priority", cel.IntType),
		cel.Variable("jobs", cel.IntType),
		cel.Variable("percent_complete", cel.IntType),
		cel.Variable("age_s", cel.IntType),
		cel.Variable("sites", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, fmt.Errorf("filter %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return Filter{}, fmt.Errorf("filter %q: result must be bool, got %s", expr, ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true, expr: expr}, nil
}

func (f Filter) String() string { return f.expr }

// Match evaluates the expression against el. Evaluation errors count as no
// match.
func (f Filter) Match(el *element.Element, now time.Time) bool {
	if !f.enabled {
		return true
	}
	sites := el.PossibleSites()
	if sites == nil {
		sites = []string{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"request":          el.RequestName,
		"task":             el.TaskName,
		"status":           string(el.Status),
		"team":             el.Team,
		"child_queue":      el.ChildQueue,
		"parent_queue":     el.ParentQueueURL,
		"dataset":          el.InputDataset,
		"priority":         int64(el.Priority),
		"jobs":             int64(el.Jobs),
		"percent_complete": int64(el.PercentComplete),
		"age_s":            int64(now.Sub(el.UpdateTime) / time.Second),
		"sites":            sites,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Apply returns the elements of els that match.
func (f Filter) Apply(els []*element.Element, now time.Time) []*element.Element {
	if !f.enabled {
		return els
	}
	out := els[:0:0]
	for _, el := range els {
		if f.Match(el, now) {
			out = append(out, el)
		}
	}
	return out
}
