package tasks

// DefineTasks registers all available tasks
func DefineTasks() {
	RegisterHandler(SendInvoiceTask.TaskID(), SendInvoiceTask.HandleExecution)
	RegisterHandler(DueDateReminderTask.TaskID(), DueDateReminderTask.HandleExecution)
	RegisterHandler(PreDueReminderTask.TaskID(), PreDueReminderTask.HandleExecution)
}
