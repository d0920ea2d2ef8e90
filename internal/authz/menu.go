package authz

import (
	"context"
	"fmt"
	"slices"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const menuQuery = "data.edusekai.menu.sections"

// menuPolicy decides which navigation sections the active role sees.
const menuPolicy = `package edusekai.menu

management_roles := {"owner", "staff"}

default management := false

management if {
	input.active_role in management_roles
}

default manage_roles := false

manage_roles if {
	input.active_role == "owner"
}

manage_roles if {
	"*" in input.permissions
}

manage_roles if {
	"view_role" in input.permissions
}

sections contains "dashboard"

sections contains "academic"

sections contains "profile"

sections contains "institution" if {
	management
}

sections contains "roles" if {
	manage_roles
}
`

// MenuItem is one navigation entry.
type MenuItem struct {
	Key      string     `json:"key"`
	Label    string     `json:"label"`
	Href     string     `json:"href,omitempty"`
	Children []MenuItem `json:"children,omitempty"`
}

// menuCatalogue is the full navigation in display order.
var menuCatalogue = []MenuItem{
	{Key: "dashboard", Label: "Dashboard", Href: "/dashboard"},
	{Key: "academic", Label: "Academic Management", Children: []MenuItem{
		{Key: "students", Label: "Students", Href: "/dashboard/students", Children: []MenuItem{
			{Key: "students_active", Label: "Active Students", Href: "/dashboard/students/active"},
			{Key: "admissions", Label: "Admissions", Href: "/dashboard/students/admissions"},
		}},
		{Key: "courses", Label: "Courses", Href: "/dashboard/courses"},
		{Key: "exams", Label: "Examinations", Href: "/dashboard/exams"},
	}},
	{Key: "profile", Label: "User Profile", Href: "/dashboard/profile"},
	{Key: "institution", Label: "Institution", Children: []MenuItem{
		{Key: "settings", Label: "Settings", Href: "/dashboard/institution/settings"},
		{Key: "staff", Label: "Staff Directory", Href: "/dashboard/institution/staff"},
		{Key: "security", Label: "Security", Href: "/dashboard/institution/security"},
	}},
	{Key: "roles", Label: "Roles & Permissions", Href: "/dashboard/institution/roles"},
}

// MenuPolicy evaluates navigation visibility with an in-process Rego policy
// compiled once.
type MenuPolicy struct {
	query rego.PreparedEvalQuery
}

// NewMenuPolicy compiles the navigation policy.
func NewMenuPolicy(ctx context.Context) (*MenuPolicy, error) {
	compiler, err := ast.CompileModules(map[string]string{"menu.rego": menuPolicy})
	if err != nil {
		return nil, fmt.Errorf("compile menu policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(menuQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare menu policy: %w", err)
	}
	return &MenuPolicy{query: q}, nil
}

// Sections returns the visible section keys for the gate's session.
func (p *MenuPolicy) Sections(ctx context.Context, g Gate) ([]string, error) {
	if !g.Loaded() {
		return nil, ErrSessionPending
	}

	perms := []string{}
	if s := g.Session(); s != nil && s.Permissions != nil {
		perms = s.Permissions
	}
	input := map[string]any{
		"active_role": g.ActiveRole(),
		"permissions": perms,
	}

	rs, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("eval menu policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, fmt.Errorf("menu policy returned no result")
	}

	raw, ok := rs[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, fmt.Errorf("menu policy returned %T", rs[0].Expressions[0].Value)
	}
	sections := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			sections = append(sections, s)
		}
	}
	slices.Sort(sections)
	return sections, nil
}

// Menu returns the navigation items visible to the gate's session, in
// display order.
func (p *MenuPolicy) Menu(ctx context.Context, g Gate) ([]MenuItem, error) {
	sections, err := p.Sections(ctx, g)
	if err != nil {
		return nil, err
	}
	items := make([]MenuItem, 0, len(sections))
	for _, item := range menuCatalogue {
		if slices.Contains(sections, item.Key) {
			items = append(items, item)
		}
	}
	return items, nil
}
