// Package identity resolves people of the organization from the configured directory.
package identity

import (
	"strings"

	"signoff/internal/domain"
)

type Department struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	Head string `yaml:"head" json:"head"`
}

// Directory is an in-memory lookup over the configured people and departments.
type Directory struct {
	people      map[string]domain.Identity
	order       []string
	departments map[string]Department
}

func NewDirectory(people []domain.Identity, departments []Department) *Directory {
	d := &Directory{
		people:      make(map[string]domain.Identity, len(people)),
		departments: make(map[string]Department, len(departments)),
	}
	for _, p := range people {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			continue
		}
		if _, dup := d.people[id]; !dup {
			d.order = append(d.order, id)
		}
		p.ID = id
		d.people[id] = p
	}
	for _, dep := range departments {
		d.departments[dep.ID] = dep
	}
	return d
}

func (d *Directory) Lookup(id string) (domain.Identity, bool) {
	if d == nil {
		return domain.Identity{}, false
	}
	p, ok := d.people[strings.TrimSpace(id)]
	return p, ok
}

// People returns every member in configuration order.
func (d *Directory) People() []domain.Identity {
	if d == nil {
		return nil
	}
	out := make([]domain.Identity, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.people[id])
	}
	return out
}

func (d *Directory) Department(id string) (Department, bool) {
	if d == nil {
		return Department{}, false
	}
	dep, ok := d.departments[id]
	return dep, ok
}

// Manager returns the direct manager of p.
func (d *Directory) Manager(p domain.Identity) (domain.Identity, bool) {
	if p.ManagerID == "" {
		return domain.Identity{}, false
	}
	return d.Lookup(p.ManagerID)
}

// DepartmentHead returns the head of the given department.
func (d *Directory) DepartmentHead(departmentID string) (domain.Identity, bool) {
	dep, ok := d.Department(departmentID)
	if !ok || dep.Head == "" {
		return domain.Identity{}, false
	}
	return d.Lookup(dep.Head)
}

// FirstWithRole returns the first member holding role, preferring members of
// preferDept and never returning exclude.
func (d *Directory) FirstWithRole(role, preferDept, exclude string) (domain.Identity, bool) {
	if d == nil {
		return domain.Identity{}, false
	}
	var fallback *domain.Identity
	for _, id := range d.order {
		p := d.people[id]
		if p.ID == exclude || !strings.EqualFold(p.Role, role) {
			continue
		}
		if preferDept == "" || p.DepartmentID == preferDept {
			return p, true
		}
		if fallback == nil {
			cp := p
			fallback = &cp
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return domain.Identity{}, false
}

// Approver converts a member into a chain position.
func Approver(p domain.Identity) domain.Approver {
	return domain.Approver{ID: p.ID, Name: p.Name, Role: p.Role, Department: p.DepartmentID}
}
