package rbac

import "github.com/codeblock102/addin-darululum-sub004/internal/models"

type ThemePreference string

const (
	ThemeSystem ThemePreference = "system"
	ThemeLight  ThemePreference = "light"
	ThemeDark   ThemePreference = "dark"
)

type Theme struct {
	Mode    string   `json:"mode"`
	Classes []string `json:"classes"`
}

// DeriveTheme считает классы темы из явных входов: роли и выбора пользователя.
// Неизвестный выбор трактуется как system.
func DeriveTheme(role models.Role, pref ThemePreference) Theme {
	mode := string(pref)
	switch pref {
	case ThemeLight, ThemeDark, ThemeSystem:
	default:
		mode = string(ThemeSystem)
	}

	classes := []string{"theme-" + mode}
	switch role {
	case models.Admin:
		classes = append(classes, "admin-theme")
	case models.Teacher:
		classes = append(classes, "teacher-theme")
	case models.Student, models.Parent:
		classes = append(classes, "family-theme")
	}
	return Theme{Mode: mode, Classes: classes}
}
