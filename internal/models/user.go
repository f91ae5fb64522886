package models

type Role string

const (
	RoleNone Role = ""
	Student  Role = "student"
	Teacher  Role = "teacher"
	Parent   Role = "parent"
	Admin    Role = "admin"
)

// ParseRole — строка из БД/метаданных сессии в Role. Неизвестное значение → RoleNone, false.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	if r.Valid() {
		return r, true
	}
	return RoleNone, false
}

func (r Role) Valid() bool {
	switch r {
	case Student, Teacher, Parent, Admin:
		return true
	}
	return false
}

func (r Role) String() string {
	if r == RoleNone {
		return "none"
	}
	return string(r)
}

// TeacherRecord — строка внешней таблицы teachers (только чтение).
type TeacherRecord struct {
	ID          string
	Email       string
	Name        string
	Role        string
	MadrassahID *string
}

// Profile — строка внешней таблицы profiles (только чтение).
type Profile struct {
	ID             string
	Email          string
	Name           string
	Role           string
	TelegramChatID *int64
}
