package reminder

// Status of a reminder.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
)

// Reminder is one entry of the reminders log. ID is the Unix second of creation and is
// not guaranteed unique when two reminders arrive within the same second.
type Reminder struct {
	ID        int64  `json:"id"`
	Reminder  string `json:"reminder"`
	DueDate   string `json:"due_date"`
	Status    Status `json:"status"`
	Created   string `json:"created"`
	Completed string `json:"completed,omitempty"`
}

type AddDTO struct {
	Reminder string `json:"reminder" binding:"required"`
	DueDate  string `json:"due_date"`
}

const dueDateLayout = "2006-01-02"
