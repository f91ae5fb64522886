package export

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/codeblock102/addin-darululum-sub004/internal/models"
	"github.com/codeblock102/addin-darululum-sub004/internal/rbac"
)

const (
	UsersSheet  = "Users"
	MatrixSheet = "Permissions"
)

var matrixRoles = []models.Role{models.Admin, models.Teacher, models.Student, models.Parent}

// AccessWorkbook — отчёт о доступах: пользователи с ролью и токенами,
// плюс матрица роль × токен.
func AccessWorkbook(profiles []models.Profile) (*Workbook, error) {
	sorted := append([]models.Profile(nil), profiles...)
	roleOf := func(p models.Profile) models.Role {
		r, _ := models.ParseRole(p.Role)
		return r
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := roleOf(sorted[i]), roleOf(sorted[j])
		if ri != rj {
			return ri < rj
		}
		return strings.ToLower(sorted[i].Name) < strings.ToLower(sorted[j].Name)
	})

	users := SheetSpec{
		Title:  UsersSheet,
		Header: []string{"Name", "Email", "Role", "Permissions"},
	}
	for _, p := range sorted {
		role := roleOf(p)
		perms := rbac.Permissions(role)
		tokens := make([]string, len(perms))
		for i, pm := range perms {
			tokens[i] = string(pm)
		}
		users.Rows = append(users.Rows, []string{p.Name, p.Email, role.String(), strings.Join(tokens, ", ")})
	}

	matrix := SheetSpec{Title: MatrixSheet, Header: []string{"Permission"}}
	for _, r := range matrixRoles {
		matrix.Header = append(matrix.Header, string(r))
	}
	for _, pm := range rbac.AllPermissions() {
		row := []string{string(pm)}
		for _, r := range matrixRoles {
			mark := ""
			if rbac.HasPermission(r, pm) {
				mark = "yes"
			}
			row = append(row, mark)
		}
		matrix.Rows = append(matrix.Rows, row)
	}

	return NewWorkbook([]SheetSpec{users, matrix})
}

func AccessReportFilename(now time.Time) string {
	return fmt.Sprintf("access_report_%s.xlsx", now.Format("2006-01-02"))
}
