// Package rbac — статическая таблица прав ролей и чистые проверки над ней.
// Таблица не меняется во время работы и безопасно читается из любых горутин.
package rbac

import (
	"sort"

	"github.com/codeblock102/addin-darululum-sub004/internal/models"
)

type Permission string

const (
	ViewReports     Permission = "view_reports"
	ExportReports   Permission = "export_reports"
	ManageStudents  Permission = "manage_students"
	ManageTeachers  Permission = "manage_teachers"
	ManageSchedules Permission = "manage_schedules"
	ManageRoles     Permission = "manage_roles"
	BulkActions     Permission = "bulk_actions"
	ManageClasses   Permission = "manage_classes"
)

// allPermissions — закрытый набор токенов, в порядке объявления.
var allPermissions = []Permission{
	ViewReports,
	ExportReports,
	ManageStudents,
	ManageTeachers,
	ManageSchedules,
	ManageRoles,
	BulkActions,
	ManageClasses,
}

// admin отдельно не описан: ему принадлежит весь закрытый набор.
var rolePermissions = map[models.Role]map[Permission]struct{}{
	models.Teacher: setOf(ViewReports, ManageStudents, ManageSchedules, ManageClasses),
}

func setOf(ps ...Permission) map[Permission]struct{} {
	m := make(map[Permission]struct{}, len(ps))
	for _, p := range ps {
		m[p] = struct{}{}
	}
	return m
}

func (p Permission) Valid() bool {
	for _, known := range allPermissions {
		if p == known {
			return true
		}
	}
	return false
}

// ParsePermission — токен из URL/запроса. Неизвестный токен → false.
func ParsePermission(s string) (Permission, bool) {
	p := Permission(s)
	return p, p.Valid()
}

// AllPermissions возвращает копию закрытого набора.
func AllPermissions() []Permission {
	out := make([]Permission, len(allPermissions))
	copy(out, allPermissions)
	return out
}

// HasPermission — даёт ли роль токен. Неизвестные роль или токен → false.
func HasPermission(role models.Role, p Permission) bool {
	if !p.Valid() {
		return false
	}
	if role == models.Admin {
		return true
	}
	_, ok := rolePermissions[role][p]
	return ok
}

// Permissions — все токены роли, отсортированные по имени. Для роли без прав — пустой срез.
func Permissions(role models.Role) []Permission {
	if role == models.Admin {
		out := AllPermissions()
		sortPermissions(out)
		return out
	}
	set := rolePermissions[role]
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sortPermissions(out)
	return out
}

// Matrix — роль × токен, для отчёта о доступах.
func Matrix() map[models.Role][]Permission {
	roles := []models.Role{models.Admin, models.Teacher, models.Student, models.Parent}
	m := make(map[models.Role][]Permission, len(roles))
	for _, r := range roles {
		m[r] = Permissions(r)
	}
	return m
}

func sortPermissions(ps []Permission) {
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
}
