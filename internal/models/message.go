package models

import "time"

// Message — строка таблицы communications.
type Message struct {
	ID          string
	SenderID    string
	RecipientID *string // nil — сообщение в общий ящик администрации
	Subject     string
	Body        string
	Read        bool
	CreatedAt   time.Time
}
