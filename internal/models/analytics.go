package models

import "time"

// Read-модели предагрегированных таблиц *_summary. Сами таблицы наполняет бэкенд.

type AnalyticsSummary struct {
	TotalStudents    int       `json:"total_students"`
	TotalTeachers    int       `json:"total_teachers"`
	TotalClasses     int       `json:"total_classes"`
	AttendanceRate   float64   `json:"attendance_rate"`
	AvgProgressScore float64   `json:"avg_progress_score"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type StudentMetrics struct {
	StudentID       string    `json:"student_id"`
	StudentName     string    `json:"student_name"`
	AttendanceRate  float64   `json:"attendance_rate"`
	JuzCompleted    int       `json:"juz_completed"`
	AvgQuality      float64   `json:"avg_quality"`
	LastProgressDay time.Time `json:"last_progress_day"`
}

type TeacherMetrics struct {
	TeacherID      string  `json:"teacher_id"`
	TeacherName    string  `json:"teacher_name"`
	StudentCount   int     `json:"student_count"`
	ClassCount     int     `json:"class_count"`
	EntriesPerWeek float64 `json:"entries_per_week"`
}

type ClassMetrics struct {
	ClassID        string  `json:"class_id"`
	ClassName      string  `json:"class_name"`
	Enrolled       int     `json:"enrolled"`
	Capacity       int     `json:"capacity"`
	AttendanceRate float64 `json:"attendance_rate"`
}

type AnalyticsAlert struct {
	ID          string    `json:"id"`
	Severity    string    `json:"severity"` // critical|warning|info
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	TriggeredAt time.Time `json:"triggered_at"`
}
